package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sellergrid/stealthfetch/internal/blockdetect"
	"github.com/sellergrid/stealthfetch/internal/identity"
	"github.com/sellergrid/stealthfetch/internal/pacing"
	"github.com/sellergrid/stealthfetch/internal/proxy"
)

// Attempt is the per-attempt request context. One is created at the start
// of each attempt and discarded when the attempt resolves; a retry never
// inherits the previous attempt's identity/proxy pair.
type Attempt struct {
	URL          string
	Number       int // 1-based
	Identity     identity.Identity
	Headers      http.Header
	Proxy        proxy.Endpoint // empty = direct dispatch
	DispatchedAt time.Time

	prevIdentity identity.Identity // identity used by the previous attempt
	prevProxy    proxy.Endpoint    // proxy used by the previous attempt
}

// Response is the raw outcome of a dispatched attempt.
type Response struct {
	StatusCode int
	Body       []byte
}

// PrepareStage populates part of an Attempt before dispatch. Stages run in
// the order the pipeline composes them, which keeps the request-build order
// explicit and each piece independently testable.
type PrepareStage interface {
	Name() string
	Prepare(ctx context.Context, a *Attempt) error
}

// ResponseStage inspects a completed response and classifies it.
type ResponseStage interface {
	Name() string
	OnResponse(a *Attempt, resp *Response) blockdetect.Verdict
}

// identityStage draws a fresh identity and header set for every attempt.
// Rotation is mandatory on retry: with more than one catalog entry the
// retried attempt is guaranteed a different identity.
type identityStage struct {
	pool  *identity.Pool
	synth *identity.Synthesizer
}

func (s *identityStage) Name() string { return "identity" }

func (s *identityStage) Prepare(_ context.Context, a *Attempt) error {
	if a.Number > 1 && a.prevIdentity != "" {
		a.Identity = s.pool.PickDifferent(a.prevIdentity)
	} else {
		a.Identity = s.pool.PickRandom()
	}
	a.Headers = s.synth.Build(a.Identity)
	return nil
}

// proxyStage assigns a proxy endpoint. The first attempt follows the
// configured strategy; retries always advance sequentially so a retried
// attempt never reuses the prior proxy when the pool has two or more
// entries. An empty pool leaves the attempt direct.
type proxyStage struct {
	pool     *proxy.Pool
	strategy string
	window   time.Duration
}

func (s *proxyStage) Name() string { return "proxy" }

func (s *proxyStage) Prepare(_ context.Context, a *Attempt) error {
	if !s.pool.HasProxies() {
		return nil
	}
	var e proxy.Endpoint
	if a.Number > 1 {
		e, _ = s.pool.PickSequential()
		if e == a.prevProxy && s.pool.Size() > 1 {
			e, _ = s.pool.PickSequential()
		}
	} else {
		switch s.strategy {
		case "sequential":
			e, _ = s.pool.PickSequential()
		case "window":
			e, _ = s.pool.PickTimeWindowed(s.window)
		default:
			e, _ = s.pool.PickRandom()
		}
	}
	a.Proxy = e
	return nil
}

// paceStage holds the attempt until the shared pacer grants a dispatch
// slot, optionally gated by an aggregate rate ceiling first.
type paceStage struct {
	pacer    *pacing.Pacer
	limiter  *rate.Limiter
	minDelay time.Duration
	maxDelay time.Duration
}

func (s *paceStage) Name() string { return "pace" }

func (s *paceStage) Prepare(ctx context.Context, a *Attempt) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	return s.pacer.WaitForSlot(ctx, s.minDelay, s.maxDelay)
}

// detectStage runs the block detector over the raw response.
type detectStage struct {
	detector *blockdetect.Detector
}

func (s *detectStage) Name() string { return "blockdetect" }

func (s *detectStage) OnResponse(_ *Attempt, resp *Response) blockdetect.Verdict {
	return s.detector.Classify(resp.StatusCode, resp.Body)
}
