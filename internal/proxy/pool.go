// Package proxy manages the pool of outbound proxy endpoints and the three
// rotation strategies: uniform-random, time-windowed-sticky and sequential.
package proxy

import (
	"math/rand/v2"
	"net/url"
	"sync"
	"time"
)

// Endpoint is an opaque proxy connection URI, possibly embedding credentials.
type Endpoint string

// Redacted returns the endpoint with any password masked, for logs and
// diagnostics output.
func (e Endpoint) Redacted() string {
	u, err := url.Parse(string(e))
	if err != nil || u.User == nil {
		return string(e)
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// Pool owns the endpoint list plus rotation state. Rotation state is
// mutex-guarded because FetchBatch may run fetches concurrently.
type Pool struct {
	mu           sync.Mutex
	endpoints    []Endpoint
	idx          int       // next sequential index
	windowStart  time.Time // start of the current sticky window
	windowIdx    int       // endpoint pinned for the current window
	rng          *rand.Rand
	now          func() time.Time
}

// New creates a pool over the given endpoints. Empty input yields a valid
// pool that simply has no proxies; callers then dispatch directly.
func New(endpoints []Endpoint) *Pool {
	return &Pool{endpoints: endpoints, now: time.Now}
}

// Size returns the number of endpoints in the pool.
func (p *Pool) Size() int { return len(p.endpoints) }

// HasProxies reports whether at least one endpoint is configured.
func (p *Pool) HasProxies() bool { return len(p.endpoints) > 0 }

// Endpoints returns a copy of the configured endpoints.
func (p *Pool) Endpoints() []Endpoint {
	return append([]Endpoint(nil), p.endpoints...)
}

// PickRandom returns a uniformly random endpoint, or false if the pool
// is empty.
func (p *Pool) PickRandom() (Endpoint, bool) {
	if len(p.endpoints) == 0 {
		return "", false
	}
	return p.endpoints[p.intN(len(p.endpoints))], true
}

// PickSequential advances the rotation index and returns that endpoint,
// wrapping around. Consecutive calls cover the whole pool in len(pool)
// steps.
func (p *Pool) PickSequential() (Endpoint, bool) {
	if len(p.endpoints) == 0 {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.endpoints[p.idx%len(p.endpoints)]
	p.idx++
	return e, true
}

// PickTimeWindowed returns the same endpoint for the duration of window
// since the last rotation, then advances to the next endpoint and resets
// the window clock.
func (p *Pool) PickTimeWindowed(window time.Duration) (Endpoint, bool) {
	if len(p.endpoints) == 0 {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.windowStart.IsZero() {
		p.windowStart = now
	} else if now.Sub(p.windowStart) >= window {
		p.windowIdx = (p.windowIdx + 1) % len(p.endpoints)
		p.windowStart = now
	}
	return p.endpoints[p.windowIdx], true
}

func (p *Pool) intN(n int) int {
	if p.rng != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.rng.IntN(n)
	}
	return rand.IntN(n)
}
