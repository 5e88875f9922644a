package retry

import (
	"context"
	"math"
	"time"
)

// Backoff computes exponential delays. Attempts are 1-indexed and the first
// retry is attempt 2, so Delay(2) == Initial.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// Delay returns the capped, pre-jitter delay before attempt n.
// It is non-decreasing in n and never exceeds Max.
func (b Backoff) Delay(n int) time.Duration {
	if n < 2 {
		return 0
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(b.Initial) * math.Pow(factor, float64(n-2))
	if d > float64(b.Max) || math.IsInf(d, 1) || math.IsNaN(d) {
		return b.Max
	}
	return time.Duration(d)
}

// Jittered scales Delay(n) by a factor drawn uniformly from [0.5, 1.5).
// rnd must return values in [0, 1).
func (b Backoff) Jittered(n int, rnd func() float64) time.Duration {
	d := b.Delay(n)
	if d <= 0 {
		return 0
	}
	return time.Duration(float64(d) * (0.5 + rnd()))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
