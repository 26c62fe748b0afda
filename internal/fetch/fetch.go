// Package fetch composes identity rotation, proxy rotation, pacing and
// block detection into the resilient fetch pipeline exposed to callers.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sellergrid/stealthfetch/internal/blockdetect"
	"github.com/sellergrid/stealthfetch/internal/identity"
	"github.com/sellergrid/stealthfetch/internal/pacing"
	"github.com/sellergrid/stealthfetch/internal/proxy"
	"github.com/sellergrid/stealthfetch/internal/robots"
)

// Config tunes one Fetcher. Zero values fall back to the defaults below.
type Config struct {
	MaxAttempts    int           // attempt budget per logical fetch (default 3)
	Timeout        time.Duration // hard per-attempt timeout (default 45s)
	DelayMin       time.Duration // pacing gap lower bound (default 2s)
	DelayMax       time.Duration // pacing gap upper bound (default 5s)
	BackoffBase    time.Duration // retry backoff unit, scaled by attempt (default 1s)
	BackoffCap     time.Duration // retry backoff ceiling (default 15s)
	RetryCodes     []int         // soft-block status codes (default blockdetect.DefaultRetryStatuses)
	MinBodyBytes   int           // smallest plausible body (default 5000)
	ProxyStrategy  string        // first-attempt strategy: random, sequential, window
	RotationWindow time.Duration // sticky window for the "window" strategy (default 10m)
	MaxConcurrent  int           // FetchBatch in-flight cap (default 1)
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.DelayMin <= 0 && c.DelayMax <= 0 {
		c.DelayMin = 2 * time.Second
		c.DelayMax = 5 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 15 * time.Second
	}
	if len(c.RetryCodes) == 0 {
		c.RetryCodes = blockdetect.DefaultRetryStatuses
	}
	if c.MinBodyBytes <= 0 {
		c.MinBodyBytes = 5000
	}
	if c.ProxyStrategy == "" {
		c.ProxyStrategy = "random"
	}
	if c.RotationWindow <= 0 {
		c.RotationWindow = 10 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	return c
}

// Options are per-call overrides for one Fetch.
type Options struct {
	MaxAttempts int  // 0 means the fetcher default
	Render      bool // force the headless fallback on exhaustion
}

// Meta describes how a fetch resolved. Identity and proxy are diagnostic
// only; callers must not build behavior on them.
type Meta struct {
	Attempts int               `json:"attempts"`
	Reason   string            `json:"reason,omitempty"`
	Identity identity.Identity `json:"identity,omitempty"`
	Proxy    string            `json:"proxy,omitempty"`
	Strategy string            `json:"strategy,omitempty"`
	Elapsed  time.Duration     `json:"elapsed_ns,omitempty"`
}

// Fetcher is the orchestrating pipeline. Construct once per process (or per
// target) and share: the pacer and proxy pool inside are the global throttle
// that keeps the aggregate request stream human-like.
type Fetcher struct {
	cfg Config

	identities *identity.Pool
	synth      *identity.Synthesizer
	proxies    *proxy.Pool
	pacer      *pacing.Pacer
	detector   *blockdetect.Detector
	limiter    *rate.Limiter
	guard      *robots.Checker
	transport  Transport
	renderer   Renderer
	renderAll  bool
	log        *slog.Logger

	prepare []PrepareStage
	respond []ResponseStage
}

// Option customizes a Fetcher at construction.
type Option func(*Fetcher)

// WithProxyPool installs the shared proxy pool.
func WithProxyPool(p *proxy.Pool) Option { return func(f *Fetcher) { f.proxies = p } }

// WithIdentityPool replaces the default identity catalog source.
func WithIdentityPool(p *identity.Pool) Option { return func(f *Fetcher) { f.identities = p } }

// WithSynthesizer replaces the default header synthesizer.
func WithSynthesizer(s *identity.Synthesizer) Option { return func(f *Fetcher) { f.synth = s } }

// WithPacer installs a shared pacer instance.
func WithPacer(p *pacing.Pacer) Option { return func(f *Fetcher) { f.pacer = p } }

// WithTransport replaces the network transport (tests use a stub).
func WithTransport(t Transport) Option { return func(f *Fetcher) { f.transport = t } }

// WithRenderer enables the headless fallback path.
func WithRenderer(r Renderer) Option { return func(f *Fetcher) { f.renderer = r } }

// WithRendererAlways makes the headless fallback apply to every exhausted
// fetch, not only those that opt in via Options.Render.
func WithRendererAlways(r Renderer) Option {
	return func(f *Fetcher) {
		f.renderer = r
		f.renderAll = true
	}
}

// WithRateLimiter adds an aggregate request-rate ceiling ahead of the pacer.
func WithRateLimiter(l *rate.Limiter) Option { return func(f *Fetcher) { f.limiter = l } }

// WithRobots enables the robots.txt guard.
func WithRobots(c *robots.Checker) Option { return func(f *Fetcher) { f.guard = c } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(f *Fetcher) { f.log = l } }

// New creates a Fetcher with the given tuning and options.
func New(cfg Config, opts ...Option) *Fetcher {
	f := &Fetcher{cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(f)
	}
	if f.identities == nil {
		f.identities = identity.NewPool()
	}
	if f.synth == nil {
		f.synth = identity.NewSynthesizer()
	}
	if f.proxies == nil {
		f.proxies = proxy.New(nil)
	}
	if f.pacer == nil {
		f.pacer = pacing.New()
	}
	if f.detector == nil {
		f.detector = blockdetect.New(f.cfg.RetryCodes, f.cfg.MinBodyBytes)
	}
	if f.transport == nil {
		f.transport = NewHTTPTransport(true)
	}
	if f.log == nil {
		f.log = slog.Default()
	}

	f.prepare = []PrepareStage{
		&identityStage{pool: f.identities, synth: f.synth},
		&proxyStage{pool: f.proxies, strategy: f.cfg.ProxyStrategy, window: f.cfg.RotationWindow},
		&paceStage{pacer: f.pacer, limiter: f.limiter, minDelay: f.cfg.DelayMin, maxDelay: f.cfg.DelayMax},
	}
	f.respond = []ResponseStage{
		&detectStage{detector: f.detector},
	}
	return f
}

// ProxyPool exposes the pool for diagnostics.
func (f *Fetcher) ProxyPool() *proxy.Pool { return f.proxies }

// IdentityCount reports the catalog size for diagnostics.
func (f *Fetcher) IdentityCount() int { return f.identities.Size() }

// Fetch retrieves rawURL, retrying soft blocks with rotated identities and
// proxies up to the attempt budget. It returns the whole body or a typed
// error; there are no partial results.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) ([]byte, Meta, error) {
	start := time.Now()
	maxAttempts := f.cfg.MaxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}

	var meta Meta
	if f.guard != nil {
		// The robots probe uses an arbitrary catalog identity; rules rarely
		// distinguish desktop browsers from each other.
		allowed, err := f.guard.Allowed(string(f.identities.PickRandom()), rawURL)
		if err == nil && !allowed {
			meta.Elapsed = time.Since(start)
			return nil, meta, fmt.Errorf("%w: %s", ErrRobotsDisallowed, rawURL)
		}
	}

	var prevID identity.Identity
	var prevProxy proxy.Endpoint
	var lastReason string
	for n := 1; n <= maxAttempts; n++ {
		meta.Attempts = n
		a := &Attempt{URL: rawURL, Number: n, prevIdentity: prevID, prevProxy: prevProxy}

		if err := f.runPrepare(ctx, a); err != nil {
			meta.Elapsed = time.Since(start)
			return nil, meta, err
		}
		prevID = a.Identity
		prevProxy = a.Proxy

		reportProgress(ctx, fmt.Sprintf("attempt %d/%d", n, maxAttempts))
		resp, err := f.dispatch(ctx, a)
		if err != nil {
			if ctx.Err() != nil {
				meta.Elapsed = time.Since(start)
				return nil, meta, ctx.Err()
			}
			if isTimeout(err) {
				lastReason = "timeout"
				f.log.Debug("attempt timed out", "url", rawURL, "attempt", n, "proxy", a.Proxy.Redacted())
				if n < maxAttempts {
					if berr := f.backoff(ctx, n); berr != nil {
						meta.Elapsed = time.Since(start)
						return nil, meta, berr
					}
				}
				continue
			}
			f.log.Debug("transport failure", "url", rawURL, "attempt", n, "err", err)
			meta.Reason = "transport"
			meta.Elapsed = time.Since(start)
			return nil, meta, &TransportError{Cause: err}
		}

		verdict := f.runRespond(a, resp)
		switch verdict.Kind {
		case blockdetect.Clean:
			meta.Identity = a.Identity
			meta.Proxy = a.Proxy.Redacted()
			meta.Strategy = "http"
			meta.Elapsed = time.Since(start)
			f.log.Debug("fetch succeeded", "url", rawURL, "attempts", n, "bytes", len(resp.Body))
			return resp.Body, meta, nil

		case blockdetect.SoftBlock:
			lastReason = verdict.Reason
			f.log.Debug("soft block", "url", rawURL, "attempt", n, "reason", verdict.Reason, "proxy", a.Proxy.Redacted())
			reportProgress(ctx, fmt.Sprintf("blocked (%s), rotating...", verdict.Reason))
			if n < maxAttempts {
				if berr := f.backoff(ctx, n); berr != nil {
					meta.Elapsed = time.Since(start)
					return nil, meta, berr
				}
			}

		case blockdetect.HardFailure:
			meta.Reason = verdict.Reason
			meta.Elapsed = time.Since(start)
			return nil, meta, &TransportError{Cause: errors.New(verdict.Reason)}
		}
	}

	meta.Reason = lastReason
	f.log.Warn("fetch exhausted", "url", rawURL, "attempts", maxAttempts, "reason", lastReason)

	if f.renderer != nil && (opts.Render || f.renderAll) {
		if body, ok := f.renderFallback(ctx, rawURL); ok {
			meta.Reason = ""
			meta.Strategy = "headless"
			meta.Elapsed = time.Since(start)
			return body, meta, nil
		}
	}

	meta.Elapsed = time.Since(start)
	if lastReason == "timeout" {
		return nil, meta, &TimeoutError{Attempts: maxAttempts}
	}
	return nil, meta, &BlockedError{Reason: lastReason, Attempts: maxAttempts}
}

// BatchResult pairs one URL of a batch with its outcome.
type BatchResult struct {
	URL  string
	Body []byte
	Meta Meta
	Err  error
}

// FetchBatch fetches every URL through the shared pipeline. Concurrency is
// capped by MaxConcurrent, which defaults to one in-flight request so the
// aggregate stream stays serialized unless explicitly raised.
func (f *Fetcher) FetchBatch(ctx context.Context, urls []string, opts Options) []BatchResult {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.MaxConcurrent)

	results := make([]BatchResult, len(urls))
	for i, u := range urls {
		g.Go(func() error {
			body, meta, err := f.Fetch(gctx, u, opts)
			results[i] = BatchResult{URL: u, Body: body, Meta: meta, Err: err}
			return nil // one blocked URL must not cancel the rest
		})
	}
	_ = g.Wait()
	return results
}

func (f *Fetcher) runPrepare(ctx context.Context, a *Attempt) error {
	for _, s := range f.prepare {
		if err := s.Prepare(ctx, a); err != nil {
			return fmt.Errorf("%s stage: %w", s.Name(), err)
		}
	}
	return nil
}

func (f *Fetcher) runRespond(a *Attempt, resp *Response) blockdetect.Verdict {
	verdict := blockdetect.CleanVerdict
	for _, s := range f.respond {
		verdict = s.OnResponse(a, resp)
		if verdict.Kind != blockdetect.Clean {
			return verdict
		}
	}
	return verdict
}

func (f *Fetcher) dispatch(ctx context.Context, a *Attempt) (*Response, error) {
	dctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	a.DispatchedAt = time.Now()
	return f.transport.Do(dctx, a)
}

func (f *Fetcher) renderFallback(ctx context.Context, rawURL string) ([]byte, bool) {
	reportProgress(ctx, "falling back to headless browser...")
	f.log.Debug("headless fallback", "url", rawURL)

	body, err := f.renderer.Render(ctx, rawURL)
	if err != nil {
		f.log.Debug("headless fallback failed", "url", rawURL, "err", err)
		return nil, false
	}
	if v := f.detector.Classify(http.StatusOK, body); v.Kind != blockdetect.Clean {
		f.log.Debug("headless result still blocked", "url", rawURL, "reason", v.Reason)
		return nil, false
	}
	return body, true
}

// backoff sleeps base*n capped and jittered (half fixed, half random), so
// consecutive retries neither hammer the target nor fall into a fixed beat.
func (f *Fetcher) backoff(ctx context.Context, n int) error {
	d := f.cfg.BackoffBase * time.Duration(n)
	if d > f.cfg.BackoffCap {
		d = f.cfg.BackoffCap
	}
	if half := d / 2; half > 0 {
		d = half + time.Duration(rand.Int64N(int64(half)))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
