package server_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgtrust/imgtrust/internal/model"
	"github.com/imgtrust/imgtrust/internal/storage"
	"github.com/imgtrust/imgtrust/internal/testutils"
)

const (
	adminKey     = "test-admin-key"
	certifierKey = "test-certifier-key"
)

// setup starts a test server with seeded API keys.
func setup(t *testing.T) (*httptest.Server, storage.Storage) {
	t.Helper()
	e, store := testutils.SetupTestServer(t)
	require.NoError(t, store.SaveAPIKey(context.Background(), adminKey, []string{"admin"}))
	require.NoError(t, store.SaveAPIKey(context.Background(), certifierKey, []string{"certifier"}))
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts, store
}

// minimalJPEG builds the smallest marker stream the codecs accept.
func minimalJPEG() []byte {
	img := []byte{0xFF, 0xD8}
	seg := []byte{0xFF, 0xDB}
	seg = binary.BigEndian.AppendUint16(seg, 4)
	seg = append(seg, 0x00, 0x01)
	img = append(img, seg...)
	img = append(img, 0xFF, 0xDA, 0x00, 0x04, 0x01, 0x00)
	img = append(img, 0xAB, 0xCD)
	return append(img, 0xFF, 0xD9)
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, apiKey string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func doMultipart(t *testing.T, ts *httptest.Server, path, apiKey string, image []byte, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "test.jpg")
	require.NoError(t, err)
	_, err = part.Write(image)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setup(t)
	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIKeyAuthEnforced(t *testing.T) {
	ts, _ := setup(t)

	// No key at all.
	resp := doJSON(t, ts, http.MethodGet, "/api/v1/certificates", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Unknown key.
	resp = doJSON(t, ts, http.MethodGet, "/api/v1/certificates", "bogus", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Valid key, wrong role.
	resp = doJSON(t, ts, http.MethodGet, "/api/v1/certificates", certifierKey, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCertificateCRUDOverHTTP(t *testing.T) {
	ts, _ := setup(t)

	// 1. Issue.
	resp := doJSON(t, ts, http.MethodPost, "/api/v1/certificates", adminKey, map[string]any{
		"name":         "Jane Doe",
		"organization": "Acme",
		"country":      "US",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Certificate    model.Certificate `json:"certificate"`
		CertificatePEM string            `json:"certificatePem"`
		PrivateKeyPEM  string            `json:"privateKeyPem"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.NotEmpty(t, created.Certificate.ID)
	assert.Contains(t, created.PrivateKeyPEM, "EC PRIVATE KEY")
	assert.NotContains(t, created.CertificatePEM, "EC PRIVATE KEY")

	id := created.Certificate.ID

	// 2. Get and list.
	resp = doJSON(t, ts, http.MethodGet, "/api/v1/certificates/"+id, adminKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodGet, "/api/v1/certificates", adminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []model.Certificate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Len(t, list, 1)

	// 3. PEM and JWK exports.
	resp = doJSON(t, ts, http.MethodGet, "/api/v1/certificates/"+id+"/pem", adminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pemBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pemBody), "-----BEGIN CERTIFICATE-----"))

	resp = doJSON(t, ts, http.MethodGet, "/api/v1/certificates/"+id+"/jwk", adminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jwk map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jwk))
	resp.Body.Close()
	assert.Equal(t, "EC", jwk["kty"])
	assert.Equal(t, "P-384", jwk["crv"])

	// 4. Delete.
	resp = doJSON(t, ts, http.MethodDelete, "/api/v1/certificates/"+id, adminKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodGet, "/api/v1/certificates/"+id, adminKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestTrustImportOverHTTP(t *testing.T) {
	ts, _ := setup(t)

	// Issue a certificate, export it, then import the PEM into the trust store.
	resp := doJSON(t, ts, http.MethodPost, "/api/v1/certificates", adminKey, map[string]any{"name": "Jane Doe"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		CertificatePEM string `json:"certificatePem"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/trust", strings.NewReader(created.CertificatePEM))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", adminKey)
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var imported struct {
		Imported     int      `json:"imported"`
		Fingerprints []string `json:"fingerprints"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&imported))
	resp.Body.Close()
	assert.Equal(t, 1, imported.Imported)
	require.Len(t, imported.Fingerprints, 1)

	resp = doJSON(t, ts, http.MethodGet, "/api/v1/trust", adminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trusted []model.TrustedCertificate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&trusted))
	resp.Body.Close()
	require.Len(t, trusted, 1)
	assert.Equal(t, "direct", trusted[0].TrustLevel)

	resp = doJSON(t, ts, http.MethodDelete, "/api/v1/trust/"+imported.Fingerprints[0], adminKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}

func TestCertifyAndVerifyOverHTTP(t *testing.T) {
	ts, _ := setup(t)

	// Issue and trust a certificate.
	resp := doJSON(t, ts, http.MethodPost, "/api/v1/certificates", adminKey, map[string]any{"name": "Jane Doe"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Certificate    model.Certificate `json:"certificate"`
		CertificatePEM string            `json:"certificatePem"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/trust", strings.NewReader(created.CertificatePEM))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", adminKey)
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Certify an image.
	resp = doMultipart(t, ts, "/api/v1/images/certify", certifierKey, minimalJPEG(), map[string]string{
		"certificateId": created.Certificate.ID,
		"description":   "test shot",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Certification-Hash"))
	certified, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, bytes.Contains(certified, []byte("IMGTRUST")))

	// Verify it; verification needs no API key.
	resp = doMultipart(t, ts, "/api/v1/images/verify", "", certified, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var verdict model.TrustVerdict
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&verdict))
	resp.Body.Close()
	assert.True(t, verdict.Trusted)
	assert.Equal(t, model.StatusVerified, verdict.OverallStatus)
	assert.Empty(t, verdict.TrustIssues)

	// Certification requires the certifier role.
	resp = doMultipart(t, ts, "/api/v1/images/certify", adminKey, minimalJPEG(), map[string]string{
		"certificateId": created.Certificate.ID,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Unknown certificate id.
	resp = doMultipart(t, ts, "/api/v1/images/certify", certifierKey, minimalJPEG(), map[string]string{
		"certificateId": "missing",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Unsupported upload format.
	resp = doMultipart(t, ts, "/api/v1/images/certify", certifierKey, []byte("GIF89a"), map[string]string{
		"certificateId": created.Certificate.ID,
	})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	resp.Body.Close()
}
