package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCipherMetrics_RecordOperation(t *testing.T) {
	p, err := NewProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(t.Context()) })

	m, err := NewCipherMetrics(p.MeterProvider(), "keynest")
	require.NoError(t, err)

	m.RecordOperation(t.Context(), "decrypt", ResultSuccess)
	m.RecordOperation(t.Context(), "decrypt", ResultError)
	m.RecordOperation(t.Context(), "decrypt", ResultError)

	out := scrape(t, p)
	// The exporter adds otel scope labels, so match label subsets only.
	assert.Regexp(t, `keynest_cipher_operations_total\{[^}]*operation="decrypt"[^}]*result="error"[^}]*\} 2`, out)
	assert.Regexp(t, `keynest_cipher_operations_total\{[^}]*operation="decrypt"[^}]*result="success"[^}]*\} 1`, out)
}

func TestCipherMetrics_RecordDuration(t *testing.T) {
	p, err := NewProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(t.Context()) })

	m, err := NewCipherMetrics(p.MeterProvider(), "keynest")
	require.NoError(t, err)

	m.RecordDuration(t.Context(), "encrypt", 120*time.Millisecond)

	out := scrape(t, p)
	assert.Regexp(t, `keynest_cipher_duration_seconds_count\{[^}]*operation="encrypt"[^}]*\} 1`, out)
}

func TestNoOp(t *testing.T) {
	var m CipherMetrics = NoOp{}
	m.RecordOperation(t.Context(), "encrypt", ResultSuccess)
	m.RecordDuration(t.Context(), "encrypt", time.Second)
}

func TestProvider_ShutdownNil(t *testing.T) {
	assert.NoError(t, (&Provider{}).Shutdown(t.Context()))
}
