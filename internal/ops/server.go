package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/api"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/deadletter"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/healthcheck"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/metrics"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/stream"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/version"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const (
	pingTimeout     = 5 * time.Second
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// HealthSource reports the latest API probe. *healthcheck.Checker implements it.
type HealthSource interface {
	Status() (healthcheck.Status, bool)
}

// StreamSource reports stream statistics. *stream.Manager implements it.
type StreamSource interface {
	Stats() stream.Stats
}

// APISource reports client statistics. *api.Client implements it.
type APISource interface {
	Stats() api.ClientStats
}

// DeadLetterSource reports recorder statistics. *deadletter.Recorder implements it.
type DeadLetterSource interface {
	Stats() deadletter.Stats
}

// Pinger checks a database connection. *pgxpool.Pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sources are the components the server reports on. Nil fields are skipped.
type Sources struct {
	Health      HealthSource
	Stream      StreamSource
	API         APISource
	DeadLetters DeadLetterSource
	Database    Pinger
	Gatherer    prometheus.Gatherer
}

// Server wires the operational routes.
type Server struct {
	router chi.Router
	src    Sources
	logger *slog.Logger
}

// NewServer constructs a Server. metricsPath defaults to /metrics.
func NewServer(src Sources, metricsPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if src.Gatherer == nil {
		src.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		src:    src,
		logger: logger.With("component", "ops"),
	}

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/health", s.health)
	r.Get("/debug/stats", s.stats)
	r.Method(http.MethodGet, metricsPath, metrics.Handler(src.Gatherer))

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReport is the /health response body.
type HealthReport struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	Components map[string]any `json:"components"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{
		Status:     StatusHealthy,
		Version:    version.Version,
		Components: make(map[string]any),
	}
	failing := 0
	checked := 0

	if s.src.Health != nil {
		checked++
		st, ok := s.src.Health.Status()
		switch {
		case !ok:
			report.Components["api"] = map[string]string{"status": "pending"}
		case st.Healthy:
			report.Components["api"] = st
		default:
			failing++
			report.Components["api"] = st
		}
	}

	if s.src.Stream != nil {
		checked++
		st := s.src.Stream.Stats()
		if st.State != stream.StateConnected.String() {
			failing++
		}
		report.Components["stream"] = map[string]any{
			"state":       st.State,
			"retry_count": st.RetryCount,
			"queue_depth": st.Queue.Count,
		}
	}

	if s.src.Database != nil {
		checked++
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := s.src.Database.Ping(ctx); err != nil {
			failing++
			report.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			report.Components["database"] = "connected"
		}
	}

	status := http.StatusOK
	switch {
	case failing == 0:
	case failing < checked:
		report.Status = StatusDegraded
	default:
		report.Status = StatusUnhealthy
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]any)
	if s.src.API != nil {
		out["api"] = s.src.API.Stats()
	}
	if s.src.Stream != nil {
		out["stream"] = s.src.Stream.Stats()
	}
	if s.src.DeadLetters != nil {
		out["dead_letters"] = s.src.DeadLetters.Stats()
	}
	if s.src.Health != nil {
		if st, ok := s.src.Health.Status(); ok {
			out["health"] = st
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("write JSON failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
