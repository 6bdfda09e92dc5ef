package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zombar/newsranker/internal/database"
	"github.com/zombar/newsranker/internal/metrics"
)

func TestMetricsEndpoint(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer db.Close()

	reg := newRegistry(db)
	m := metrics.New(serviceName, reg)
	m.IncFallback("ollama", "openai")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(w, req)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body := w.Body.String()
	expectedMetrics := []string{
		"go_goroutines",
		"go_info",
		"go_sql_open_connections",
		"newsranker_provider_fallback_total",
	}
	for _, metric := range expectedMetrics {
		assert.Contains(t, body, metric)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("NEWSRANKER_TEST_VALUE", "set")
	assert.Equal(t, "set", getEnv("NEWSRANKER_TEST_VALUE", "default"))
	assert.Equal(t, "default", getEnv("NEWSRANKER_TEST_MISSING", "default"))

	t.Setenv("NEWSRANKER_TEST_BOOL", "yes")
	assert.True(t, getEnvBool("NEWSRANKER_TEST_BOOL", false))
	assert.False(t, getEnvBool("NEWSRANKER_TEST_MISSING", false))
}
