package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Init installs process-wide providers, so these tests do not run in parallel.

func TestInitExportsSpansAndStageMetrics(t *testing.T) {
	var spans bytes.Buffer
	registry := prometheus.NewRegistry()

	providers, err := Init(context.Background(), Config{
		Version:    "test",
		Tracing:    true,
		Writer:     &spans,
		Registerer: registry,
	})
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "cycle.crawl")
	span.End()

	timer, err := NewStageTimer()
	require.NoError(t, err)
	timer.Record(context.Background(), "crawl", 1500*time.Millisecond)

	families, err := registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.True(t, containsSubstring(names, "cycle_stage_duration"), "gathered %v", names)

	require.NoError(t, providers.Shutdown(context.Background()))
	assert.Contains(t, spans.String(), "cycle.crawl")
}

func TestInitWithoutExporter(t *testing.T) {
	providers, err := Init(context.Background(), Config{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	require.NotNil(t, providers.Tracer)
	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestNilProvidersAndTimer(t *testing.T) {
	var providers *Providers
	require.NoError(t, providers.Shutdown(context.Background()))

	var timer *StageTimer
	timer.Record(context.Background(), "crawl", time.Second)
}

func TestMiddlewareKeepsStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func containsSubstring(values []string, sub string) bool {
	for _, v := range values {
		if strings.Contains(v, sub) {
			return true
		}
	}
	return false
}
