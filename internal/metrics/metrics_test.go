package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAPICall("search", "success", time.Second)
	m.IncAPIError("search", "retry_exhausted")
	m.IncRetry("search")
	m.IncRateLimitHit("search")
	m.ObserveRateLimitWait("search", time.Second)
	m.SetBreakerState("search", 1)
	m.SetQueueDepth(3)
	m.IncQueueDropped()
	m.SetStreamState(2)
	m.IncStreamReconnect()
	m.IncStreamEvent("notification")
	m.IncMalformedFrame()
	m.IncCallbackError("notification")
	m.IncDeadLetter("recorded")
	m.SetAPIHealthy(true)
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveAPICall("search", "success", 150*time.Millisecond)
	m.ObserveAPICall("search", "success", 250*time.Millisecond)
	m.IncRateLimitHit("profile")
	m.IncQueueDropped()
	m.IncQueueDropped()
	m.SetQueueDepth(7)
	m.SetBreakerState("search", 1)
	m.SetAPIHealthy(true)

	if got := testutil.ToFloat64(m.apiRequests.WithLabelValues("search", "success")); got != 2 {
		t.Errorf("api_requests_total{search,success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rateLimitHits.WithLabelValues("profile")); got != 1 {
		t.Errorf("rate_limit_hits_total{profile} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.queueDropped); got != 2 {
		t.Errorf("outbound_queue_dropped_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 7 {
		t.Errorf("outbound_queue_depth = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("search")); got != 1 {
		t.Errorf("circuit_breaker_state{search} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.apiHealthy); got != 1 {
		t.Errorf("api_healthy = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncStreamReconnect()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "commscore_stream_reconnects_total 1") {
		t.Errorf("metrics output missing stream reconnect counter:\n%s", rec.Body.String())
	}
}
