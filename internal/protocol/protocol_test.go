package protocol_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgtrust/imgtrust/internal/cert"
	"github.com/imgtrust/imgtrust/internal/imgcodec"
	"github.com/imgtrust/imgtrust/internal/model"
	"github.com/imgtrust/imgtrust/internal/protocol"
	"github.com/imgtrust/imgtrust/internal/storage"
)

// testJPEG builds a minimal JPEG with one quantization table segment.
func testJPEG() []byte {
	img := []byte{0xFF, 0xD8}
	seg := []byte{0xFF, 0xDB}
	seg = binary.BigEndian.AppendUint16(seg, 4)
	seg = append(seg, 0x00, 0x01)
	img = append(img, seg...)
	img = append(img, 0xFF, 0xDA, 0x00, 0x04, 0x01, 0x00) // SOS
	img = append(img, 0xAB, 0xCD)
	return append(img, 0xFF, 0xD9)
}

// issueCert generates a certificate, saves it, and optionally trusts it.
func issueCert(t *testing.T, store storage.Storage, trusted bool, opts cert.Options) *model.Certificate {
	t.Helper()
	g := cert.NewGenerator(cert.ES384{})
	c, err := g.Generate(cert.SubjectInfo{Name: "Jane Doe", Organization: "Acme"}, nil, opts)
	require.NoError(t, err)
	require.NoError(t, store.SaveCertificate(context.Background(), c))
	if trusted {
		tc := &model.TrustedCertificate{Certificate: *c, ImportedAt: time.Now(), TrustLevel: "direct"}
		require.NoError(t, store.SaveTrustedCertificate(context.Background(), tc))
	}
	return c
}

// testJPEGWithMetadata builds a JPEG carrying JFIF APP0 and Exif APP1
// segments ahead of the quantization table.
func testJPEGWithMetadata() []byte {
	img := []byte{0xFF, 0xD8}
	app0 := append([]byte("JFIF\x00"), 0x01, 0x02)
	img = append(img, 0xFF, 0xE0)
	img = binary.BigEndian.AppendUint16(img, uint16(2+len(app0)))
	img = append(img, app0...)
	app1 := []byte("Exif\x00\x00MM")
	img = append(img, 0xFF, 0xE1)
	img = binary.BigEndian.AppendUint16(img, uint16(2+len(app1)))
	img = append(img, app1...)
	img = append(img, 0xFF, 0xDB, 0x00, 0x04, 0x00, 0x01)
	img = append(img, 0xFF, 0xDA, 0x00, 0x04, 0x01, 0x00)
	img = append(img, 0xAB, 0xCD)
	return append(img, 0xFF, 0xD9)
}

func TestCertifyThenVerifyTrusted(t *testing.T) {
	store := storage.NewMemoryStorage()
	signer := cert.ES384{}
	c := issueCert(t, store, true, cert.Options{})

	certifier := protocol.NewCertifier(store, signer, nil)
	certified, payload, err := certifier.Certify(context.Background(), protocol.CertifyRequest{
		Image:            testJPEG(),
		MIMEType:         "image/jpeg",
		CertificateID:    c.ID,
		Description:      "sunset over the harbor",
		OriginalFilename: "sunset.jpg",
	})
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", payload.Payload.Photographer)
	assert.Equal(t, c.Fingerprint.SHA256, payload.Payload.CertFingerprint)
	assert.Equal(t, "sunset over the harbor", payload.Payload.Description)
	assert.Equal(t, int64(len(testJPEG())), payload.Payload.FileSize)

	// The payload hash covers the stripped image bytes.
	stripped, err := imgcodec.Strip(certified)
	require.NoError(t, err)
	digest := sha256.Sum256(stripped)
	assert.Equal(t, hex.EncodeToString(digest[:]), payload.Payload.ImageHash)

	ts, err := time.Parse(time.RFC3339, payload.Payload.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)

	verifier := protocol.NewVerifier(store, signer, 0)
	verdict, err := verifier.Verify(context.Background(), certified)
	require.NoError(t, err)
	assert.True(t, verdict.Trusted)
	assert.True(t, verdict.CertificateValid)
	assert.True(t, verdict.SignatureValid)
	assert.True(t, verdict.ImageHashValid)
	assert.Equal(t, model.StatusVerified, verdict.OverallStatus)
	assert.Empty(t, verdict.TrustIssues)
	require.NotNil(t, verdict.Payload)
	assert.Equal(t, payload.Payload, verdict.Payload.Payload)
}

func TestCertifyPreservesViewerMetadata(t *testing.T) {
	store := storage.NewMemoryStorage()
	signer := cert.ES384{}
	c := issueCert(t, store, true, cert.Options{})

	certifier := protocol.NewCertifier(store, signer, nil)
	certified, _, err := certifier.Certify(context.Background(), protocol.CertifyRequest{
		Image:         testJPEGWithMetadata(),
		CertificateID: c.ID,
	})
	require.NoError(t, err)

	// Certification stamps the image; it must not scrub what viewers read.
	assert.True(t, bytes.Contains(certified, []byte("JFIF\x00")),
		"certified image should still carry its JFIF APP0 segment")
	assert.True(t, bytes.Contains(certified, []byte("Exif\x00\x00MM")),
		"certified image should still carry its Exif APP1 segment")

	verifier := protocol.NewVerifier(store, signer, 0)
	verdict, err := verifier.Verify(context.Background(), certified)
	require.NoError(t, err)
	assert.True(t, verdict.Trusted)
	assert.True(t, verdict.ImageHashValid)
}

func TestCertifyUnknownCertificate(t *testing.T) {
	store := storage.NewMemoryStorage()
	certifier := protocol.NewCertifier(store, cert.ES384{}, nil)

	_, _, err := certifier.Certify(context.Background(), protocol.CertifyRequest{
		Image:         testJPEG(),
		CertificateID: "missing",
	})
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestCertifyUnsupportedFormat(t *testing.T) {
	store := storage.NewMemoryStorage()
	c := issueCert(t, store, false, cert.Options{})
	certifier := protocol.NewCertifier(store, cert.ES384{}, nil)

	_, _, err := certifier.Certify(context.Background(), protocol.CertifyRequest{
		Image:         []byte("GIF89a not really an image"),
		CertificateID: c.ID,
	})
	assert.ErrorIs(t, err, imgcodec.ErrUnknownFormat)
}

func TestCertifyWithoutPrivateKey(t *testing.T) {
	store := storage.NewMemoryStorage()
	c := issueCert(t, store, false, cert.Options{})
	c.PrivateKey = nil
	require.NoError(t, store.SaveCertificate(context.Background(), c))

	certifier := protocol.NewCertifier(store, cert.ES384{}, nil)
	_, _, err := certifier.Certify(context.Background(), protocol.CertifyRequest{
		Image:         testJPEG(),
		CertificateID: c.ID,
	})
	assert.ErrorIs(t, err, protocol.ErrNoPrivateKey)
}

func TestRecertifyReplacesPayload(t *testing.T) {
	store := storage.NewMemoryStorage()
	signer := cert.ES384{}
	first := issueCert(t, store, true, cert.Options{})
	second := issueCert(t, store, true, cert.Options{})

	certifier := protocol.NewCertifier(store, signer, nil)
	once, _, err := certifier.Certify(context.Background(), protocol.CertifyRequest{
		Image: testJPEG(), CertificateID: first.ID,
	})
	require.NoError(t, err)
	twice, payload, err := certifier.Certify(context.Background(), protocol.CertifyRequest{
		Image: once, CertificateID: second.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, second.Fingerprint.SHA256, payload.Payload.CertFingerprint)

	verifier := protocol.NewVerifier(store, signer, 0)
	verdict, err := verifier.Verify(context.Background(), twice)
	require.NoError(t, err)
	assert.True(t, verdict.Trusted)
	assert.Equal(t, second.Fingerprint.SHA256, verdict.Payload.Payload.CertFingerprint)
}

func TestVerifyUncertifiedImage(t *testing.T) {
	store := storage.NewMemoryStorage()
	verifier := protocol.NewVerifier(store, cert.ES384{}, 0)

	verdict, err := verifier.Verify(context.Background(), testJPEG())
	require.NoError(t, err)
	assert.False(t, verdict.Trusted)
	assert.Equal(t, model.StatusFailed, verdict.OverallStatus)
	assert.Equal(t, []string{"No certification data found in image"}, verdict.TrustIssues)
	assert.Nil(t, verdict.Payload)
}

func TestVerifyUntrustedCertificate(t *testing.T) {
	store := storage.NewMemoryStorage()
	signer := cert.ES384{}
	c := issueCert(t, store, false, cert.Options{}) // never imported into the trust store

	certifier := protocol.NewCertifier(store, signer, nil)
	certified, _, err := certifier.Certify(context.Background(), protocol.CertifyRequest{
		Image: testJPEG(), CertificateID: c.ID,
	})
	require.NoError(t, err)

	verifier := protocol.NewVerifier(store, signer, 0)
	verdict, err := verifier.Verify(context.Background(), certified)
	require.NoError(t, err)
	assert.False(t, verdict.Trusted)
	assert.False(t, verdict.CertificateValid)
	assert.Contains(t, verdict.TrustIssues, "Certificate not in trust store")
	assert.True(t, verdict.ImageHashValid, "hash check still runs and passes")
}

func TestVerifyAccumulatesAllIssues(t *testing.T) {
	store := storage.NewMemoryStorage()
	signer := cert.ES384{}
	c := issueCert(t, store, false, cert.Options{})

	certifier := protocol.NewCertifier(store, signer, nil)
	certified, _, err := certifier.Certify(context.Background(), protocol.CertifyRequest{
		Image: testJPEG(), CertificateID: c.ID,
	})
	require.NoError(t, err)

	// Tamper with the scan data so the content hash no longer matches.
	tampered := append(append([]byte{}, certified...), 0xDE, 0xAD)

	verifier := protocol.NewVerifier(store, signer, 0)
	verdict, err := verifier.Verify(context.Background(), tampered)
	require.NoError(t, err)
	assert.False(t, verdict.Trusted)
	assert.Contains(t, verdict.TrustIssues, "Certificate not in trust store")
	assert.Contains(t, verdict.TrustIssues, "Image content does not match certified hash")
	assert.Len(t, verdict.TrustIssues, 2, "all issues reported at once")
}

func TestVerifyExpiredCertificate(t *testing.T) {
	store := storage.NewMemoryStorage()
	signer := cert.ES384{}
	c := issueCert(t, store, true, cert.Options{
		ValidityDays: 1,
		NotBefore:    time.Now().Add(-72 * time.Hour),
	})

	certifier := protocol.NewCertifier(store, signer, nil)
	certified, _, err := certifier.Certify(context.Background(), protocol.CertifyRequest{
		Image: testJPEG(), CertificateID: c.ID,
	})
	require.NoError(t, err)

	verifier := protocol.NewVerifier(store, signer, 0)
	verdict, err := verifier.Verify(context.Background(), certified)
	require.NoError(t, err)
	assert.False(t, verdict.Trusted)
	assert.False(t, verdict.CertificateValid)
	assert.True(t, verdict.SignatureValid, "expired key still verifies the signature")
	assert.True(t, verdict.ImageHashValid)
	assert.Equal(t, []string{"Certificate has expired"}, verdict.TrustIssues)
}

func TestVerifyTamperedSignature(t *testing.T) {
	store := storage.NewMemoryStorage()
	signer := cert.ES384{}
	c := issueCert(t, store, true, cert.Options{})
	other := issueCert(t, store, true, cert.Options{})

	certifier := protocol.NewCertifier(store, signer, nil)
	certified, payload, err := certifier.Certify(context.Background(), protocol.CertifyRequest{
		Image: testJPEG(), CertificateID: c.ID,
	})
	require.NoError(t, err)

	// Re-point the payload at another trusted certificate without re-signing.
	forged := payload.Payload
	forged.CertFingerprint = other.Fingerprint.SHA256
	forgedEnvelope := model.CertificationPayload{Signature: payload.Signature, Payload: forged}
	raw, err := json.Marshal(forgedEnvelope)
	require.NoError(t, err)
	reembedded, err := imgcodec.Embed(certified, raw)
	require.NoError(t, err)

	verifier := protocol.NewVerifier(store, signer, 0)
	verdict, err := verifier.Verify(context.Background(), reembedded)
	require.NoError(t, err)
	assert.False(t, verdict.Trusted)
	assert.False(t, verdict.SignatureValid)
	assert.Contains(t, verdict.TrustIssues, "Payload signature is invalid")
}

func TestVerifyVerdictCache(t *testing.T) {
	store := storage.NewMemoryStorage()
	signer := cert.ES384{}
	c := issueCert(t, store, true, cert.Options{})

	certifier := protocol.NewCertifier(store, signer, nil)
	certified, _, err := certifier.Certify(context.Background(), protocol.CertifyRequest{
		Image: testJPEG(), CertificateID: c.ID,
	})
	require.NoError(t, err)

	verifier := protocol.NewVerifier(store, signer, time.Minute)
	verdict, err := verifier.Verify(context.Background(), certified)
	require.NoError(t, err)
	require.True(t, verdict.Trusted)

	// Removing trust does not show up until the cached verdict expires.
	require.NoError(t, store.DeleteTrustedCertificate(context.Background(), c.Fingerprint.SHA256))
	cached, err := verifier.Verify(context.Background(), certified)
	require.NoError(t, err)
	assert.True(t, cached.Trusted)

	uncached := protocol.NewVerifier(store, signer, 0)
	fresh, err := uncached.Verify(context.Background(), certified)
	require.NoError(t, err)
	assert.False(t, fresh.Trusted)
}
