package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/imgtrust/imgtrust/internal/model"
)

// Bucket names for the embedded store.
var (
	bucketCertificates = []byte("certificates")
	bucketTrusted      = []byte("trusted")
	bucketAPIKeys      = []byte("api_keys")
)

// BoltStorage is the embedded single-file Storage backend.
type BoltStorage struct {
	db *bbolt.DB
}

var _ Storage = (*BoltStorage)(nil)

// NewBoltStorage opens (or creates) the database file at path and ensures
// the buckets exist.
func NewBoltStorage(path string) (*BoltStorage, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open bolt database %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketCertificates, bucketTrusted, bucketAPIKeys} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: failed to create buckets: %w", err)
	}

	logger.Info("BoltStorage initialized", zap.String("path", path))
	return &BoltStorage{db: db}, nil
}

func (b *BoltStorage) SaveCertificate(_ context.Context, c *model.Certificate) error {
	raw, err := json.Marshal(toStored(c))
	if err != nil {
		return fmt.Errorf("storage: failed to encode certificate: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCertificates).Put([]byte(c.ID), raw)
	})
}

func (b *BoltStorage) GetCertificate(_ context.Context, id string) (*model.Certificate, error) {
	var c *model.Certificate
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketCertificates).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var sc storedCertificate
		if err := json.Unmarshal(raw, &sc); err != nil {
			return fmt.Errorf("storage: failed to decode certificate %s: %w", id, err)
		}
		c = fromStored(&sc)
		return nil
	})
	return c, err
}

func (b *BoltStorage) ListCertificates(_ context.Context) ([]*model.Certificate, error) {
	var out []*model.Certificate
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCertificates).ForEach(func(k, v []byte) error {
			var sc storedCertificate
			if err := json.Unmarshal(v, &sc); err != nil {
				return fmt.Errorf("storage: failed to decode certificate %s: %w", k, err)
			}
			out = append(out, fromStored(&sc))
			return nil
		})
	})
	return out, err
}

func (b *BoltStorage) DeleteCertificate(_ context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCertificates).Delete([]byte(id))
	})
}

func (b *BoltStorage) SaveTrustedCertificate(_ context.Context, tc *model.TrustedCertificate) error {
	clone := *tc
	clone.PrivateKey = nil // trusted copies never carry key material
	raw, err := json.Marshal(&clone)
	if err != nil {
		return fmt.Errorf("storage: failed to encode trusted certificate: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTrusted).Put([]byte(tc.Fingerprint.SHA256), raw)
	})
}

func (b *BoltStorage) GetTrustedCertificate(_ context.Context, fingerprint string) (*model.TrustedCertificate, error) {
	var tc *model.TrustedCertificate
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketTrusted).Get([]byte(fingerprint))
		if raw == nil {
			return nil
		}
		var decoded model.TrustedCertificate
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("storage: failed to decode trusted certificate %s: %w", fingerprint, err)
		}
		tc = &decoded
		return nil
	})
	return tc, err
}

func (b *BoltStorage) ListTrustedCertificates(_ context.Context) ([]*model.TrustedCertificate, error) {
	var out []*model.TrustedCertificate
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTrusted).ForEach(func(k, v []byte) error {
			var tc model.TrustedCertificate
			if err := json.Unmarshal(v, &tc); err != nil {
				return fmt.Errorf("storage: failed to decode trusted certificate %s: %w", k, err)
			}
			out = append(out, &tc)
			return nil
		})
	})
	return out, err
}

func (b *BoltStorage) DeleteTrustedCertificate(_ context.Context, fingerprint string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTrusted).Delete([]byte(fingerprint))
	})
}

func (b *BoltStorage) IsTrusted(_ context.Context, c *model.Certificate) (bool, error) {
	var trusted bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		trusted = tx.Bucket(bucketTrusted).Get([]byte(c.Fingerprint.SHA256)) != nil
		return nil
	})
	return trusted, err
}

func (b *BoltStorage) SaveAPIKey(_ context.Context, apiKey string, roles []string) error {
	raw, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("storage: failed to encode roles: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).Put([]byte(apiKey), raw)
	})
}

func (b *BoltStorage) GetAPIKey(_ context.Context, apiKey string) ([]string, error) {
	var roles []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketAPIKeys).Get([]byte(apiKey))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &roles)
	})
	return roles, err
}

func (b *BoltStorage) Close() error {
	return b.db.Close()
}
