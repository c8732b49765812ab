package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandlerServesRegisteredCounters(t *testing.T) {
	reg := NewRegistry()
	reg.Counter("router.delivered").Add(3)
	reg.Gauge("router.custody").Set(2)

	h := NewPrometheusHandler(reg, DefaultPrometheusConfig())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "indra_router_delivered") {
		t.Fatalf("expected exported metric name in body, got: %s", body)
	}
}
