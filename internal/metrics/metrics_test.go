package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetrics_Endpoint_Returns200 verifies /metrics serves Prometheus text
func TestMetrics_Endpoint_Returns200(t *testing.T) {
	e := echo.New()

	e.Use(echoprometheus.NewMiddleware("pose_relay_test"))
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/test", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	// Generate some traffic first
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 OK, got %d", rec.Code)
	}
	if contentType := rec.Header().Get("Content-Type"); !strings.Contains(contentType, "text/plain") {
		t.Errorf("expected Content-Type text/plain, got %q", contentType)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected metrics in response body, got empty")
	}
}

// TestMetrics_SinkCounters_Accumulate verifies the sink counters move
func TestMetrics_SinkCounters_Accumulate(t *testing.T) {
	before := testutil.ToFloat64(SinkFailuresCounter)

	SinkFailuresCounter.Inc()
	SinkFailuresCounter.Inc()

	after := testutil.ToFloat64(SinkFailuresCounter)
	if after-before != 2 {
		t.Errorf("expected sink failure counter to rise by 2, went %f -> %f", before, after)
	}
}

// TestMetrics_SinkInFlightGauge_UpDown verifies the gauge tracks both directions
func TestMetrics_SinkInFlightGauge_UpDown(t *testing.T) {
	SinkInFlightGauge.Set(0)

	SinkInFlightGauge.Inc()
	SinkInFlightGauge.Inc()
	if got := testutil.ToFloat64(SinkInFlightGauge); got != 2 {
		t.Errorf("expected gauge at 2, got %f", got)
	}

	SinkInFlightGauge.Dec()
	if got := testutil.ToFloat64(SinkInFlightGauge); got != 1 {
		t.Errorf("expected gauge at 1, got %f", got)
	}
}
