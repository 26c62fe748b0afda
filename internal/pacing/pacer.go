// Package pacing enforces a randomized minimum gap between dispatched
// requests so the aggregate stream looks like a human clicking around.
package pacing

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Pacer tracks the last dispatch time and blocks callers until a randomized
// minimum gap has elapsed. One Pacer instance is shared by every fetch that
// targets the same site; the gap is measured on the monotonic clock carried
// by time.Time, so wall-clock adjustments cannot shrink it.
type Pacer struct {
	mu           sync.Mutex
	lastDispatch time.Time
	rng          *rand.Rand
}

// New creates a Pacer. The first WaitForSlot call never waits.
func New() *Pacer {
	return &Pacer{}
}

// NewWithRand creates a Pacer with a deterministic random source for tests.
func NewWithRand(rng *rand.Rand) *Pacer {
	return &Pacer{rng: rng}
}

// WaitForSlot blocks until at least a uniform-random duration in
// [minDelay, maxDelay] has elapsed since the previous successful call,
// then records the new dispatch time. Returns early with ctx.Err() on
// cancellation, in which case the dispatch time is not advanced.
func (p *Pacer) WaitForSlot(ctx context.Context, minDelay, maxDelay time.Duration) error {
	p.mu.Lock()
	gap := p.randomBetween(minDelay, maxDelay)
	var remaining time.Duration
	if !p.lastDispatch.IsZero() {
		remaining = gap - time.Since(p.lastDispatch)
	}
	p.mu.Unlock()

	if remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	p.lastDispatch = time.Now()
	p.mu.Unlock()
	return nil
}

func (p *Pacer) randomBetween(min, max time.Duration) time.Duration {
	if min >= max {
		return min
	}
	span := int64(max - min)
	if p.rng != nil {
		return min + time.Duration(p.rng.Int64N(span))
	}
	return min + time.Duration(rand.Int64N(span))
}
