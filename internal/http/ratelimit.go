package http

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// recoverAfter is the number of consecutive unthrottled responses after
// which a Throttle raises its rate again
const recoverAfter = 50

// Throttle caps the request rate towards one SUT. It halves the rate when the
// SUT answers 429 or 503 and creeps back up once the SUT is healthy again.
// Other 5xx answers are faults found by the search and leave the rate alone.
type Throttle struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	base     float64
	current  float64
	min, max float64
	healthy  int
}

// NewThrottle creates a throttle starting at base requests per second and
// staying within [floor, ceiling]
func NewThrottle(base, floor, ceiling float64) *Throttle {
	return &Throttle{
		limiter: rate.NewLimiter(rate.Limit(base), burst(base)),
		base:    base,
		current: base,
		min:     floor,
		max:     ceiling,
	}
}

func burst(rps float64) int {
	return int(rps) + 1
}

// Wait blocks until a request may be sent
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// Record feeds one response status into the adaptation
func (t *Throttle) Record(statusCode int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if statusCode == 429 || statusCode == 503 {
		t.healthy = 0
		t.set(t.current * 0.5)
		return
	}
	t.healthy++
	if t.healthy >= recoverAfter {
		t.healthy = 0
		t.set(t.current * 1.2)
	}
}

func (t *Throttle) set(r float64) {
	if r < t.min {
		r = t.min
	}
	if r > t.max {
		r = t.max
	}
	t.current = r
	t.limiter.SetLimit(rate.Limit(r))
	t.limiter.SetBurst(burst(r))
}

// Rate returns the current requests per second
func (t *Throttle) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Reset restores the base rate
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthy = 0
	t.set(t.base)
}
