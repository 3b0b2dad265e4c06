package model

import (
	"time"
)

// Supported signature algorithm. ES384 is ECDSA over P-384 with SHA-384.
const SignatureAlgorithmES384 = "ES384"

// Overall verdict states produced by verification.
const (
	StatusVerified = "verified"
	StatusFailed   = "failed"
	StatusError    = "error"
)

// DistinguishedName is the ordered subject/issuer identity record.
// CommonName is the only required field; Canonical carries the derived
// "CN=..., O=..., ..." string built from the fields that are present.
type DistinguishedName struct {
	CommonName          string `json:"commonName"`
	OrganizationName    string `json:"organizationName,omitempty"`
	OrganizationalUnit  string `json:"organizationalUnitName,omitempty"`
	LocalityName        string `json:"localityName,omitempty"`
	StateOrProvinceName string `json:"stateOrProvinceName,omitempty"`
	CountryName         string `json:"countryName,omitempty"`
	EmailAddress        string `json:"emailAddress,omitempty"`
	Canonical           string `json:"canonical,omitempty"`
}

// Validity is the certificate validity window. NotBefore must precede NotAfter.
type Validity struct {
	NotBefore time.Time `json:"notBefore"`
	NotAfter  time.Time `json:"notAfter"`
}

// Fingerprint holds content-addressed digests of the canonical TBS
// serialization, hex encoded. SHA256 is the primary trust-store key.
type Fingerprint struct {
	SHA256 string `json:"sha256"`
	SHA384 string `json:"sha384"`
}

// Extension is a certificate extension triple. Consumers must not fail on
// unknown extension ids.
type Extension struct {
	ID       string `json:"id"`
	Critical bool   `json:"critical"`
	Value    string `json:"value"`
}

// PublicKeyInfo describes the subject public key carried in the TBS structure.
type PublicKeyInfo struct {
	Algorithm string `json:"algorithm"` // e.g. "ECDSA"
	Curve     string `json:"curve"`     // e.g. "P-384"
	PublicKey []byte `json:"publicKey"` // PKIX/SPKI DER
}

// TBSCertificate is the to-be-signed portion of a certificate. The canonical
// JSON serialization of this struct is what gets fingerprinted and signed;
// field order is fixed by declaration order.
type TBSCertificate struct {
	Version            int               `json:"version"`
	SerialNumber       string            `json:"serialNumber"`
	SignatureAlgorithm string            `json:"signatureAlgorithm"`
	Issuer             DistinguishedName `json:"issuer"`
	Validity           Validity          `json:"validity"`
	Subject            DistinguishedName `json:"subject"`
	PublicKeyInfo      PublicKeyInfo     `json:"publicKeyInfo"`
	Extensions         []Extension       `json:"extensions"`
}

// Certificate is the simplified X.509-like structure this system issues and
// trusts. It is immutable after generation. PrivateKey is only ever held
// locally and never serialized into a certification payload.
type Certificate struct {
	ID                 string            `json:"id" db:"id"`
	SerialNumber       string            `json:"serialNumber" db:"serial_number"`
	Subject            DistinguishedName `json:"subject" db:"-"`
	Issuer             DistinguishedName `json:"issuer" db:"-"`
	Validity           Validity          `json:"validity" db:"-"`
	PublicKey          []byte            `json:"publicKey" db:"public_key"`
	PrivateKey         []byte            `json:"-" db:"private_key"` // EC DER, local only
	SignatureAlgorithm string            `json:"signatureAlgorithm" db:"signature_algorithm"`
	Signature          []byte            `json:"signatureValue" db:"signature"`
	Fingerprint        Fingerprint       `json:"fingerprint" db:"-"`
	Extensions         []Extension       `json:"extensions,omitempty" db:"-"`
	IsSelfSigned       bool              `json:"isSelfSigned" db:"is_self_signed"`
}

// Expired reports whether the certificate validity window has passed at t.
func (c *Certificate) Expired(t time.Time) bool {
	return t.After(c.Validity.NotAfter)
}

// NotYetValid reports whether the certificate is not yet valid at t.
func (c *Certificate) NotYetValid(t time.Time) bool {
	return t.Before(c.Validity.NotBefore)
}

// TrustedCertificate is a certificate imported into the trusted namespace.
// ImportedAt and TrustLevel are storage-layer annotations added only to
// trusted copies; the embedded certificate itself is never mutated.
type TrustedCertificate struct {
	Certificate
	ImportedAt time.Time `json:"importedAt" db:"imported_at"`
	TrustLevel string    `json:"trustLevel" db:"trust_level"` // e.g. "direct", "chain"
}

// ExifData is the opaque camera metadata value embedded into a signed
// payload. Extraction itself is an external collaborator's concern.
type ExifData struct {
	Make         string  `json:"make,omitempty"`
	Model        string  `json:"model,omitempty"`
	Software     string  `json:"software,omitempty"`
	DateTime     string  `json:"dateTime,omitempty"`
	GPSLatitude  float64 `json:"gpsLatitude,omitempty"`
	GPSLongitude float64 `json:"gpsLongitude,omitempty"`
}

// SignedPayload is the structure whose canonical JSON serialization the
// certification signature covers. Any reserialization with different key
// order or whitespace breaks verification, so the struct declaration order
// is the canonical order and must not change.
type SignedPayload struct {
	ImageHash        string    `json:"imageHash"` // SHA-256 hex of the stripped image
	Description      string    `json:"description"`
	ExifData         *ExifData `json:"exifData,omitempty"`
	ProcessingType   string    `json:"processingType,omitempty"`
	Timestamp        string    `json:"timestamp"` // RFC 3339
	Photographer     string    `json:"photographer,omitempty"`
	CertFingerprint  string    `json:"certFingerprint"` // issuing cert sha256
	OriginalFilename string    `json:"originalFilename,omitempty"`
	FileSize         int64     `json:"fileSize,omitempty"`
}

// CertificationPayload is what gets embedded into an image container.
// A new certification replaces rather than amends a prior one.
type CertificationPayload struct {
	Signature []byte        `json:"signature"` // over canonical Payload JSON
	Payload   SignedPayload `json:"payload"`
}

// TrustVerdict is the derived outcome of a verification run. It is never
// persisted. OverallStatus is StatusVerified iff all four booleans are true.
// TrustIssues accumulates every detected problem, not just the first.
type TrustVerdict struct {
	Trusted          bool                  `json:"trusted"`
	CertificateValid bool                  `json:"certificateValid"`
	SignatureValid   bool                  `json:"signatureValid"`
	ImageHashValid   bool                  `json:"imageHashValid"`
	OverallStatus    string                `json:"overallStatus"`
	TrustIssues      []string              `json:"trustIssues"`
	Payload          *CertificationPayload `json:"payload,omitempty"`
}
