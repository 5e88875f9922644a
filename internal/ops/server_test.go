package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/api"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/deadletter"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/healthcheck"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/metrics"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/queue"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/stream"
)

type fakeHealth struct {
	st healthcheck.Status
	ok bool
}

func (f fakeHealth) Status() (healthcheck.Status, bool) { return f.st, f.ok }

type fakeStream struct{ st stream.Stats }

func (f fakeStream) Stats() stream.Stats { return f.st }

type fakeAPI struct{}

func (fakeAPI) Stats() api.ClientStats { return api.ClientStats{InFlight: 2} }

type fakeDeadLetters struct{}

func (fakeDeadLetters) Stats() deadletter.Stats { return deadletter.Stats{Recorded: 4} }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func connectedStream() fakeStream {
	return fakeStream{st: stream.Stats{
		State: stream.StateConnected.String(),
		Queue: queue.Stats{Count: 3, Capacity: 1000},
	}}
}

func get(t *testing.T, h http.Handler, path string) (*http.Response, []byte) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	resp := rec.Result()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestHealthz(t *testing.T) {
	s := NewServer(Sources{}, "", nil)
	resp, body := get(t, s.Handler(), "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"ok"`) {
		t.Errorf("body = %s", body)
	}
}

func TestHealth(t *testing.T) {
	healthy := fakeHealth{st: healthcheck.Status{Healthy: true}, ok: true}
	failing := fakeHealth{st: healthcheck.Status{Error: "api error 503", ConsecutiveFailures: 2}, ok: true}
	down := fakeStream{st: stream.Stats{State: stream.StateDisconnected.String()}}

	tests := []struct {
		name       string
		src        Sources
		wantStatus string
		wantCode   int
	}{
		{
			name:       "all healthy",
			src:        Sources{Health: healthy, Stream: connectedStream(), Database: fakePinger{}},
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name:       "probe pending",
			src:        Sources{Health: fakeHealth{}, Stream: connectedStream()},
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name:       "api failing",
			src:        Sources{Health: failing, Stream: connectedStream()},
			wantStatus: StatusDegraded,
			wantCode:   http.StatusOK,
		},
		{
			name:       "database down",
			src:        Sources{Health: healthy, Stream: connectedStream(), Database: fakePinger{err: errors.New("refused")}},
			wantStatus: StatusDegraded,
			wantCode:   http.StatusOK,
		},
		{
			name:       "everything down",
			src:        Sources{Health: failing, Stream: down},
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(tt.src, "", nil)
			resp, body := get(t, s.Handler(), "/health")
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.wantCode)
			}

			var report HealthReport
			if err := json.Unmarshal(body, &report); err != nil {
				t.Fatalf("decode: %v (%s)", err, body)
			}
			if report.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", report.Status, tt.wantStatus)
			}
		})
	}
}

func TestHealthStreamComponent(t *testing.T) {
	s := NewServer(Sources{Stream: connectedStream()}, "", nil)
	_, body := get(t, s.Handler(), "/health")

	var report struct {
		Components struct {
			Stream struct {
				State      string `json:"state"`
				QueueDepth int    `json:"queue_depth"`
			} `json:"stream"`
		} `json:"components"`
	}
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Components.Stream.State != "connected" {
		t.Errorf("stream state = %q, want connected", report.Components.Stream.State)
	}
	if report.Components.Stream.QueueDepth != 3 {
		t.Errorf("queue_depth = %d, want 3", report.Components.Stream.QueueDepth)
	}
}

func TestDebugStats(t *testing.T) {
	s := NewServer(Sources{
		API:         fakeAPI{},
		Stream:      connectedStream(),
		DeadLetters: fakeDeadLetters{},
	}, "", nil)

	resp, body := get(t, s.Handler(), "/debug/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"api", "stream", "dead_letters"} {
		if _, ok := out[key]; !ok {
			t.Errorf("missing %q in %s", key, body)
		}
	}
	if _, ok := out["health"]; ok {
		t.Error("health present without a source")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.IncStreamReconnect()

	s := NewServer(Sources{Gatherer: reg}, "/internal/metrics", nil)
	resp, body := get(t, s.Handler(), "/internal/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "commscore_stream_reconnects_total 1") {
		t.Errorf("metrics body missing reconnect counter:\n%s", body)
	}

	resp, _ = get(t, s.Handler(), "/metrics")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("default path status = %d, want 404", resp.StatusCode)
	}
}

func TestListenAndServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	s := NewServer(Sources{}, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx, addr) }()

	var resp *http.Response
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("ListenAndServe() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
