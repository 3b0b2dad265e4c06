package cert

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/imgtrust/imgtrust/internal/model"
)

// certBlockPattern matches one whole certificate block, lazily, so chains
// can be split block by block.
var certBlockPattern = regexp.MustCompile(`-----BEGIN CERTIFICATE-----[\s\S]*?-----END CERTIFICATE-----`)

// Parse decodes the PEM-shaped certificate container back into the
// certificate model: marker lines and whitespace stripped, base64 decoded,
// JSON parsed, structural invariants validated. It never returns a
// partially valid structure.
func Parse(pemText string) (*model.Certificate, error) {
	body := stripPEMEnvelope(pemText)
	if body == "" {
		return nil, fmt.Errorf("%w: empty certificate body", ErrParse)
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrParse, err)
	}

	var env certificateJSON
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: JSON decode: %v", ErrParse, err)
	}
	return certificateFromEnvelope(&env)
}

// ParseChain finds every certificate block in pemText and parses each one
// independently. A malformed block is skipped and logged rather than
// aborting the whole chain.
func ParseChain(pemText string) []*model.Certificate {
	blocks := certBlockPattern.FindAllString(pemText, -1)
	certs := make([]*model.Certificate, 0, len(blocks))
	for i, block := range blocks {
		c, err := Parse(block)
		if err != nil {
			logger.Warn("skipping malformed certificate block in chain",
				zap.Int("index", i), zap.Error(err))
			continue
		}
		certs = append(certs, c)
	}
	return certs
}

func stripPEMEnvelope(pemText string) string {
	var b strings.Builder
	for _, line := range strings.Split(pemText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

// certificateFromEnvelope validates the structural invariants and assembles
// the certificate. The envelope must carry either a tbsCertificate or the
// legacy flat form marked by a version field, and a signature either way.
func certificateFromEnvelope(env *certificateJSON) (*model.Certificate, error) {
	signature := env.SignatureValue
	if len(signature) == 0 {
		signature = env.Signature
	}
	if len(signature) == 0 {
		return nil, fmt.Errorf("%w: missing signatureValue", ErrParse)
	}

	var c *model.Certificate
	switch {
	case env.TBSCertificate != nil:
		tbs := env.TBSCertificate
		if tbs.SerialNumber == "" {
			return nil, fmt.Errorf("%w: tbsCertificate missing serialNumber", ErrParse)
		}
		if tbs.Subject.CommonName == "" || tbs.Issuer.CommonName == "" {
			return nil, fmt.Errorf("%w: tbsCertificate missing subject or issuer", ErrParse)
		}
		if tbs.Validity.NotBefore.IsZero() || tbs.Validity.NotAfter.IsZero() {
			return nil, fmt.Errorf("%w: tbsCertificate missing validity window", ErrParse)
		}
		c = &model.Certificate{
			ID:                 env.ID,
			SerialNumber:       tbs.SerialNumber,
			Subject:            tbs.Subject,
			Issuer:             tbs.Issuer,
			Validity:           tbs.Validity,
			PublicKey:          tbs.PublicKeyInfo.PublicKey,
			SignatureAlgorithm: tbs.SignatureAlgorithm,
			Signature:          signature,
			Fingerprint:        env.Fingerprint,
			Extensions:         tbs.Extensions,
			IsSelfSigned:       env.IsSelfSigned,
		}
	case env.Version != nil:
		if env.SerialNumber == "" || env.Subject == nil || env.Issuer == nil || env.Validity == nil {
			return nil, fmt.Errorf("%w: legacy certificate missing required fields", ErrParse)
		}
		c = &model.Certificate{
			ID:                 env.ID,
			SerialNumber:       env.SerialNumber,
			Subject:            *env.Subject,
			Issuer:             *env.Issuer,
			Validity:           *env.Validity,
			PublicKey:          env.PublicKey,
			SignatureAlgorithm: env.SignatureAlgorithm,
			Signature:          signature,
			Fingerprint:        env.Fingerprint,
			IsSelfSigned:       env.IsSelfSigned,
		}
	default:
		return nil, fmt.Errorf("%w: neither tbsCertificate nor legacy version present", ErrParse)
	}

	if c.Fingerprint.SHA256 == "" {
		fp, err := Fingerprint(c)
		if err != nil {
			return nil, fmt.Errorf("%w: recompute fingerprint: %v", ErrParse, err)
		}
		c.Fingerprint = fp
	}
	return c, nil
}

// Trust match kinds.
const (
	MatchChain  = "chain"
	MatchDirect = "direct"
)

// TrustResult describes how (and whether) a certificate matched the trusted
// set, plus any validity-period findings. Period issues and trust are
// reported independently so callers can surface every problem at once.
type TrustResult struct {
	Trusted     bool     `json:"trusted"`
	Expired     bool     `json:"expired"`
	NotYetValid bool     `json:"notYetValid"`
	MatchedBy   string   `json:"matchedBy,omitempty"`
	Issues      []string `json:"issues"`
}

// ValidateAgainstTrustStore checks c's validity period at now, then searches
// the trusted set for either an entry whose subject equals c's issuer (chain
// match) or an entry with identical serial number and sha256 fingerprint
// (direct self-signed trust). No match yields an untrusted result.
func ValidateAgainstTrustStore(c *model.Certificate, trusted []*model.TrustedCertificate, now time.Time) TrustResult {
	var res TrustResult
	if c == nil {
		res.Issues = append(res.Issues, "No certificate supplied")
		return res
	}

	if c.Expired(now) {
		res.Expired = true
		res.Issues = append(res.Issues, "Certificate has expired")
	}
	if c.NotYetValid(now) {
		res.NotYetValid = true
		res.Issues = append(res.Issues, "Certificate is not yet valid")
	}

	for _, t := range trusted {
		if t == nil {
			continue
		}
		if t.Subject.Canonical != "" && t.Subject.Canonical == c.Issuer.Canonical {
			res.Trusted = true
			res.MatchedBy = MatchChain
			break
		}
		if t.SerialNumber == c.SerialNumber && t.Fingerprint.SHA256 == c.Fingerprint.SHA256 {
			res.Trusted = true
			res.MatchedBy = MatchDirect
			break
		}
	}
	if !res.Trusted {
		res.Issues = append(res.Issues, "Certificate not in trust store")
	}
	return res
}
