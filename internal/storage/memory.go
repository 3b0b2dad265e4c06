package storage

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/imgtrust/imgtrust/internal/model"
)

// MemoryStorage is an in-process Storage used by tests and throwaway runs.
type MemoryStorage struct {
	mu           sync.RWMutex
	certificates map[string]*model.Certificate
	trusted      map[string]*model.TrustedCertificate
	apiKeys      map[string][]string
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		certificates: make(map[string]*model.Certificate),
		trusted:      make(map[string]*model.TrustedCertificate),
		apiKeys:      make(map[string][]string),
	}
}

func (m *MemoryStorage) SaveCertificate(_ context.Context, c *model.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *c
	m.certificates[c.ID] = &clone
	return nil
}

func (m *MemoryStorage) GetCertificate(_ context.Context, id string) (*model.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.certificates[id]
	if !ok {
		return nil, nil
	}
	clone := *c
	return &clone, nil
}

func (m *MemoryStorage) ListCertificates(_ context.Context) ([]*model.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Certificate, 0, len(m.certificates))
	for _, c := range m.certificates {
		clone := *c
		out = append(out, &clone)
	}
	slices.SortFunc(out, func(a, b *model.Certificate) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *MemoryStorage) DeleteCertificate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.certificates, id)
	return nil
}

func (m *MemoryStorage) SaveTrustedCertificate(_ context.Context, tc *model.TrustedCertificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *tc
	clone.PrivateKey = nil // trusted copies never carry key material
	m.trusted[tc.Fingerprint.SHA256] = &clone
	return nil
}

func (m *MemoryStorage) GetTrustedCertificate(_ context.Context, fingerprint string) (*model.TrustedCertificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tc, ok := m.trusted[fingerprint]
	if !ok {
		return nil, nil
	}
	clone := *tc
	return &clone, nil
}

func (m *MemoryStorage) ListTrustedCertificates(_ context.Context) ([]*model.TrustedCertificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.TrustedCertificate, 0, len(m.trusted))
	for _, tc := range m.trusted {
		clone := *tc
		out = append(out, &clone)
	}
	slices.SortFunc(out, func(a, b *model.TrustedCertificate) int {
		return strings.Compare(a.Fingerprint.SHA256, b.Fingerprint.SHA256)
	})
	return out, nil
}

func (m *MemoryStorage) DeleteTrustedCertificate(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trusted, fingerprint)
	return nil
}

func (m *MemoryStorage) IsTrusted(_ context.Context, c *model.Certificate) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.trusted[c.Fingerprint.SHA256]
	return ok, nil
}

func (m *MemoryStorage) SaveAPIKey(_ context.Context, apiKey string, roles []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKeys[apiKey] = slices.Clone(roles)
	return nil
}

func (m *MemoryStorage) GetAPIKey(_ context.Context, apiKey string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roles, ok := m.apiKeys[apiKey]
	if !ok {
		return nil, nil
	}
	return slices.Clone(roles), nil
}

func (m *MemoryStorage) Close() error { return nil }
