package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/config"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		FailureThreshold: 3,
		Window:           time.Minute,
		OpenDuration:     30 * time.Second,
	}
}

// fail admits and fails n calls.
func fail(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		tk, err := b.Allow()
		if err != nil {
			t.Fatalf("Allow() #%d error = %v", i+1, err)
		}
		b.Failure(tk)
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := New("search", testConfig(), WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		fail(t, b, 1)
		if b.State() != StateClosed {
			t.Fatalf("State() after %d failures = %v, want closed", i+1, b.State())
		}
	}

	fail(t, b, 1)
	if b.State() != StateOpen {
		t.Fatalf("State() after 3 failures = %v, want open", b.State())
	}
	if _, err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() while open = %v, want ErrCircuitOpen", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	b := New("search", testConfig(), WithClock(clock.Now))

	fail(t, b, 2)
	tk, _ := b.Allow()
	b.Success(tk)
	fail(t, b, 2)

	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed (failures were not consecutive)", b.State())
	}
}

func TestFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	clock := newFakeClock()
	b := New("search", testConfig(), WithClock(clock.Now))

	fail(t, b, 2)
	clock.Advance(2 * time.Minute)
	fail(t, b, 1)

	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
	if got := b.Snapshot().Failures; got != 1 {
		t.Errorf("Failures = %d, want 1", got)
	}
}

func TestHalfOpenProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := New("search", testConfig(), WithClock(clock.Now))
	fail(t, b, 3)

	clock.Advance(29 * time.Second)
	if _, err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() before open duration = %v, want ErrCircuitOpen", err)
	}

	clock.Advance(time.Second)
	probe, err := b.Allow()
	if err != nil {
		t.Fatalf("Allow() after open duration = %v, want probe admitted", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half_open", b.State())
	}

	// Only one probe at a time.
	if _, err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second Allow() during probe = %v, want ErrCircuitOpen", err)
	}

	b.Success(probe)
	if b.State() != StateClosed {
		t.Errorf("State() after probe success = %v, want closed", b.State())
	}
	if _, err := b.Allow(); err != nil {
		t.Errorf("Allow() after close = %v, want nil", err)
	}
}

func TestHalfOpenProbeFailureReopensWithFreshTimestamp(t *testing.T) {
	clock := newFakeClock()
	b := New("search", testConfig(), WithClock(clock.Now))
	fail(t, b, 3)
	firstOpened := b.Snapshot().OpenedAt

	clock.Advance(45 * time.Second)
	probe, err := b.Allow()
	if err != nil {
		t.Fatalf("Allow() = %v, want probe admitted", err)
	}
	b.Failure(probe)

	snap := b.Snapshot()
	if snap.State != "open" {
		t.Fatalf("State = %s, want open", snap.State)
	}
	if !snap.OpenedAt.After(firstOpened) {
		t.Errorf("OpenedAt = %v, want later than %v", snap.OpenedAt, firstOpened)
	}
	if snap.ProbeInFlight {
		t.Error("ProbeInFlight = true after probe failure")
	}

	// The new open period is measured from the probe failure.
	clock.Advance(29 * time.Second)
	if _, err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestReleaseFreesProbeSlot(t *testing.T) {
	clock := newFakeClock()
	b := New("search", testConfig(), WithClock(clock.Now))
	fail(t, b, 3)
	clock.Advance(30 * time.Second)

	probe, err := b.Allow()
	if err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	b.Release(probe)

	if b.State() != StateHalfOpen {
		t.Errorf("State() = %v, want half_open", b.State())
	}
	if _, err := b.Allow(); err != nil {
		t.Errorf("Allow() after release = %v, want nil", err)
	}
}

func TestConcurrentHalfOpenSingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := New("search", testConfig(), WithClock(clock.Now))
	fail(t, b, 3)
	clock.Advance(time.Minute)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Allow(); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 1 {
		t.Errorf("admitted probes = %d, want 1", got)
	}
}

func TestStateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	b := New("profile", testConfig(),
		WithClock(clock.Now),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	fail(t, b, 3)
	clock.Advance(30 * time.Second)
	probe, _ := b.Allow()
	b.Success(probe)

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestSet(t *testing.T) {
	s := NewSet(testConfig())

	search := s.Get("search")
	if s.Get("search") != search {
		t.Error("Get() returned a different breaker for the same key")
	}
	fail(t, search, 3)

	if s.Get("profile").State() != StateClosed {
		t.Error("profile breaker affected by search failures")
	}

	snaps := s.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("len(Snapshots()) = %d, want 2", len(snaps))
	}
	if snaps[0].Name != "profile" || snaps[1].Name != "search" || snaps[1].State != "open" {
		t.Errorf("Snapshots() = %+v", snaps)
	}
}

func TestStaleOutcomeIgnoredDuringProbe(t *testing.T) {
	tests := []struct {
		name  string
		stale func(b *Breaker, tk Ticket)
	}{
		{"success", (*Breaker).Success},
		{"failure", (*Breaker).Failure},
		{"release", (*Breaker).Release},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			b := New("search", testConfig(), WithClock(clock.Now))

			// Admitted while closed, finishes after the circuit moved on.
			slow, err := b.Allow()
			if err != nil {
				t.Fatalf("Allow() = %v", err)
			}
			fail(t, b, 3)
			clock.Advance(30 * time.Second)

			probe, err := b.Allow()
			if err != nil {
				t.Fatalf("Allow() = %v, want probe admitted", err)
			}

			tt.stale(b, slow)

			snap := b.Snapshot()
			if snap.State != "half_open" {
				t.Errorf("State = %s, want half_open", snap.State)
			}
			if !snap.ProbeInFlight {
				t.Error("ProbeInFlight = false, want true")
			}
			if _, err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
				t.Errorf("Allow() during probe = %v, want ErrCircuitOpen", err)
			}

			b.Success(probe)
			if b.State() != StateClosed {
				t.Errorf("State() after probe success = %v, want closed", b.State())
			}
		})
	}
}
