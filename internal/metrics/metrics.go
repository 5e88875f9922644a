package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "commscore"

// Metrics holds every collector used by the communication core.
type Metrics struct {
	apiRequests     *prometheus.CounterVec
	apiDuration     *prometheus.HistogramVec
	apiErrors       *prometheus.CounterVec
	apiRetries      *prometheus.CounterVec
	rateLimitHits   *prometheus.CounterVec
	rateLimitWait   *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	queueDepth      prometheus.Gauge
	queueDropped    prometheus.Counter
	streamState     prometheus.Gauge
	streamReconnect prometheus.Counter
	streamEvents    *prometheus.CounterVec
	malformedFrames prometheus.Counter
	callbackErrors  *prometheus.CounterVec
	deadLetters     *prometheus.CounterVec
	apiHealthy      prometheus.Gauge
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total API calls, labeled by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		apiDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API call latency including retries, labeled by endpoint and outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint", "outcome"}),
		apiErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_errors_total",
			Help:      "Failed API calls, labeled by endpoint and error kind.",
		}, []string{"endpoint", "kind"}),
		apiRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "Retry attempts made after a transient failure, labeled by endpoint.",
		}, []string{"endpoint"}),
		rateLimitHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Calls that found their token bucket empty, labeled by bucket.",
		}, []string{"bucket"}),
		rateLimitWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for a rate-limit token, labeled by bucket.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"bucket"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open), labeled by downstream.",
		}, []string{"name"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_queue_depth",
			Help:      "Messages waiting in the outbound queue.",
		}),
		queueDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_queue_dropped_total",
			Help:      "Messages evicted from the outbound queue because it was full.",
		}),
		streamState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "Stream connection state (0=disconnected, 1=connecting, 2=connected, 3=closing).",
		}),
		streamReconnect: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Reconnect attempts scheduled after the stream dropped.",
		}),
		streamEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Inbound events dispatched to subscribers, labeled by event type.",
		}, []string{"event"}),
		malformedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_malformed_frames_total",
			Help:      "Inbound frames dropped because they could not be parsed.",
		}),
		callbackErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_callback_errors_total",
			Help:      "Subscriber handlers that returned an error or panicked, labeled by event type.",
		}, []string{"event"}),
		deadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Undeliverable outbound messages by outcome.",
		}, []string{"outcome"}),
		apiHealthy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_healthy",
			Help:      "Result of the last API health probe (1=healthy, 0=unhealthy).",
		}),
	}
}

// Handler returns an http.Handler exposing the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveAPICall records one logical API call.
func (m *Metrics) ObserveAPICall(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(endpoint, outcome).Inc()
	m.apiDuration.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
}

// IncAPIError counts a failed call by error kind.
func (m *Metrics) IncAPIError(endpoint, kind string) {
	if m == nil {
		return
	}
	m.apiErrors.WithLabelValues(endpoint, kind).Inc()
}

// IncRetry counts one retry attempt.
func (m *Metrics) IncRetry(endpoint string) {
	if m == nil {
		return
	}
	m.apiRetries.WithLabelValues(endpoint).Inc()
}

// IncRateLimitHit counts a denied token acquisition.
func (m *Metrics) IncRateLimitHit(bucket string) {
	if m == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(bucket).Inc()
}

// ObserveRateLimitWait records time spent waiting for a token.
func (m *Metrics) ObserveRateLimitWait(bucket string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWait.WithLabelValues(bucket).Observe(d.Seconds())
}

// SetBreakerState records a breaker's numeric state.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// SetQueueDepth records the outbound queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// IncQueueDropped counts one evicted message.
func (m *Metrics) IncQueueDropped() {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}

// SetStreamState records the stream connection state.
func (m *Metrics) SetStreamState(state int) {
	if m == nil {
		return
	}
	m.streamState.Set(float64(state))
}

// IncStreamReconnect counts a scheduled reconnect.
func (m *Metrics) IncStreamReconnect() {
	if m == nil {
		return
	}
	m.streamReconnect.Inc()
}

// IncStreamEvent counts a dispatched inbound event.
func (m *Metrics) IncStreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(eventType).Inc()
}

// IncMalformedFrame counts a dropped inbound frame.
func (m *Metrics) IncMalformedFrame() {
	if m == nil {
		return
	}
	m.malformedFrames.Inc()
}

// IncCallbackError counts a failed subscriber handler.
func (m *Metrics) IncCallbackError(eventType string) {
	if m == nil {
		return
	}
	m.callbackErrors.WithLabelValues(eventType).Inc()
}

// IncDeadLetter counts a dead-letter outcome.
func (m *Metrics) IncDeadLetter(outcome string) {
	m.AddDeadLetters(outcome, 1)
}

// AddDeadLetters counts n entries with the same outcome.
func (m *Metrics) AddDeadLetters(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deadLetters.WithLabelValues(outcome).Add(float64(n))
}

// SetAPIHealthy records the last health probe result.
func (m *Metrics) SetAPIHealthy(ok bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	m.apiHealthy.Set(v)
}
