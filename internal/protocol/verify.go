package protocol

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/imgtrust/imgtrust/internal/cert"
	"github.com/imgtrust/imgtrust/internal/imgcodec"
	"github.com/imgtrust/imgtrust/internal/model"
	"github.com/imgtrust/imgtrust/internal/storage"
)

// Verifier derives trust verdicts for images. Verdicts are cached by image
// digest for a short window since verification re-hashes the whole image.
type Verifier struct {
	store  storage.Storage
	signer cert.Signer
	cache  *gocache.Cache
	now    func() time.Time
}

// NewVerifier creates a Verifier. A zero cacheTTL disables the verdict cache.
func NewVerifier(store storage.Storage, signer cert.Signer, cacheTTL time.Duration) *Verifier {
	var c *gocache.Cache
	if cacheTTL > 0 {
		c = gocache.New(cacheTTL, 2*cacheTTL)
	}
	return &Verifier{store: store, signer: signer, cache: c, now: time.Now}
}

// Verify extracts the certification payload from image and checks it against
// the trust store. It runs every check and accumulates every issue; a verdict
// is Trusted only when all checks pass. The returned error is non-nil only
// for context cancellation; all domain failures land in the verdict itself.
func (v *Verifier) Verify(ctx context.Context, image []byte) (*model.TrustVerdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cacheKey string
	if v.cache != nil {
		digest := sha256.Sum256(image)
		cacheKey = hex.EncodeToString(digest[:])
		if cached, ok := v.cache.Get(cacheKey); ok {
			verdict := cached.(model.TrustVerdict)
			return &verdict, nil
		}
	}

	verdict := v.verify(ctx, image)

	// Transient store failures are not cacheable.
	if v.cache != nil && verdict.OverallStatus != model.StatusError {
		v.cache.Set(cacheKey, *verdict, gocache.DefaultExpiration)
	}
	return verdict, nil
}

func (v *Verifier) verify(ctx context.Context, image []byte) *model.TrustVerdict {
	verdict := &model.TrustVerdict{
		OverallStatus: model.StatusFailed,
		TrustIssues:   []string{},
	}

	raw := imgcodec.Extract(image)
	if raw == nil {
		verdict.TrustIssues = append(verdict.TrustIssues, issueNoCertification)
		return verdict
	}

	var payload model.CertificationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		logger.Debug("embedded payload failed to decode", zap.Error(err))
		verdict.TrustIssues = append(verdict.TrustIssues, issueMalformedPayload)
		return verdict
	}
	verdict.Payload = &payload

	trusted, err := v.store.ListTrustedCertificates(ctx)
	if err != nil {
		logger.Error("trust store lookup failed", zap.Error(err))
		verdict.OverallStatus = model.StatusError
		verdict.TrustIssues = append(verdict.TrustIssues, issueTrustStoreError)
		return verdict
	}

	var signing *model.TrustedCertificate
	for _, t := range trusted {
		if t.Fingerprint.SHA256 == payload.Payload.CertFingerprint {
			signing = t
			break
		}
	}

	// Every remaining check runs regardless of earlier failures so the
	// verdict lists all problems at once.
	if signing == nil {
		verdict.TrustIssues = append(verdict.TrustIssues, issueCertNotTrusted)
	} else {
		now := v.now()
		verdict.CertificateValid = true
		if signing.Expired(now) {
			verdict.CertificateValid = false
			verdict.TrustIssues = append(verdict.TrustIssues, issueCertExpired)
		}
		if signing.NotYetValid(now) {
			verdict.CertificateValid = false
			verdict.TrustIssues = append(verdict.TrustIssues, issueCertNotYetValid)
		}

		canonical, err := json.Marshal(payload.Payload)
		if err == nil {
			ok, verr := v.signer.Verify(signing.PublicKey, canonical, payload.Signature)
			verdict.SignatureValid = verr == nil && ok
		}
		if !verdict.SignatureValid {
			verdict.TrustIssues = append(verdict.TrustIssues, issueSignatureInvalid)
		}
	}

	stripped, err := imgcodec.Strip(image)
	if err == nil {
		digest := sha256.Sum256(stripped)
		verdict.ImageHashValid = hex.EncodeToString(digest[:]) == payload.Payload.ImageHash
	}
	if !verdict.ImageHashValid {
		verdict.TrustIssues = append(verdict.TrustIssues, issueImageHashMismatch)
	}

	verdict.Trusted = signing != nil && verdict.CertificateValid && verdict.SignatureValid && verdict.ImageHashValid
	if verdict.Trusted {
		verdict.OverallStatus = model.StatusVerified
	}

	logger.Info("verification complete",
		zap.Bool("trusted", verdict.Trusted),
		zap.String("status", verdict.OverallStatus),
		zap.Strings("issues", verdict.TrustIssues))
	return verdict
}
