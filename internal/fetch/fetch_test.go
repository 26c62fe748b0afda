package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/sellergrid/stealthfetch/internal/identity"
	"github.com/sellergrid/stealthfetch/internal/proxy"
)

// transportFunc adapts a function to the Transport interface.
type transportFunc func(ctx context.Context, a *Attempt) (*Response, error)

func (f transportFunc) Do(ctx context.Context, a *Attempt) (*Response, error) { return f(ctx, a) }

// rendererFunc adapts a function to the Renderer interface.
type rendererFunc func(ctx context.Context, url string) ([]byte, error)

func (f rendererFunc) Render(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

var cleanBody = []byte("<html><body>" + strings.Repeat("real product content ", 20) + "</body></html>")

// testConfig keeps delays tiny so retry paths run in milliseconds.
func testConfig() Config {
	return Config{
		MaxAttempts:  3,
		Timeout:      time.Second,
		DelayMin:     time.Millisecond,
		DelayMax:     2 * time.Millisecond,
		BackoffBase:  time.Millisecond,
		BackoffCap:   2 * time.Millisecond,
		MinBodyBytes: 50,
	}
}

func TestFetch_CleanFirstAttempt(t *testing.T) {
	f := New(testConfig(), WithTransport(transportFunc(
		func(ctx context.Context, a *Attempt) (*Response, error) {
			return &Response{StatusCode: 200, Body: cleanBody}, nil
		})))

	body, meta, err := f.Fetch(context.Background(), "https://example.com/item/1", Options{})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if string(body) != string(cleanBody) {
		t.Error("body does not match transport response")
	}
	if meta.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", meta.Attempts)
	}
	if meta.Strategy != "http" {
		t.Errorf("strategy = %q, want http", meta.Strategy)
	}
	if meta.Identity == "" {
		t.Error("meta is missing the identity used")
	}
}

func TestFetch_SucceedsAfterSoftBlocks(t *testing.T) {
	calls := 0
	f := New(testConfig(), WithTransport(transportFunc(
		func(ctx context.Context, a *Attempt) (*Response, error) {
			calls++
			if calls < 3 {
				return &Response{StatusCode: 503, Body: []byte("unavailable")}, nil
			}
			return &Response{StatusCode: 200, Body: cleanBody}, nil
		})))

	body, meta, err := f.Fetch(context.Background(), "https://example.com/item/2", Options{})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(body) == 0 {
		t.Error("empty body on success")
	}
	if meta.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", meta.Attempts)
	}
}

func TestFetch_ExhaustsOnPersistentBlock(t *testing.T) {
	calls := 0
	f := New(testConfig(), WithTransport(transportFunc(
		func(ctx context.Context, a *Attempt) (*Response, error) {
			calls++
			return &Response{StatusCode: 503, Body: []byte("unavailable")}, nil
		})))

	_, meta, err := f.Fetch(context.Background(), "https://example.com/item/3", Options{})
	if err == nil {
		t.Fatal("Fetch() returned nil error for persistently blocked URL")
	}

	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("error type = %T, want *BlockedError", err)
	}
	if blocked.Reason != "status:503" {
		t.Errorf("reason = %q, want status:503", blocked.Reason)
	}
	if blocked.Attempts != 3 || meta.Attempts != 3 || calls != 3 {
		t.Errorf("attempts: err=%d meta=%d calls=%d, want 3 each", blocked.Attempts, meta.Attempts, calls)
	}
}

func TestFetch_AttemptBudgetNeverExceeded(t *testing.T) {
	for _, budget := range []int{1, 2, 5} {
		calls := 0
		f := New(testConfig(), WithTransport(transportFunc(
			func(ctx context.Context, a *Attempt) (*Response, error) {
				calls++
				return &Response{StatusCode: 403, Body: nil}, nil
			})))

		_, _, err := f.Fetch(context.Background(), "https://example.com/", Options{MaxAttempts: budget})
		if err == nil {
			t.Fatal("expected error")
		}
		if calls != budget {
			t.Errorf("budget %d: transport called %d times", budget, calls)
		}
	}
}

func TestFetch_HardFailureStopsImmediately(t *testing.T) {
	calls := 0
	dialErr := errors.New("dial tcp: lookup example.invalid: no such host")
	f := New(testConfig(), WithTransport(transportFunc(
		func(ctx context.Context, a *Attempt) (*Response, error) {
			calls++
			return nil, dialErr
		})))

	_, meta, err := f.Fetch(context.Background(), "https://example.invalid/", Options{})
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *TransportError", err)
	}
	if !errors.Is(err, dialErr) {
		t.Error("TransportError does not wrap the cause")
	}
	if calls != 1 || meta.Attempts != 1 {
		t.Errorf("calls = %d, meta.Attempts = %d, want 1 each", calls, meta.Attempts)
	}
}

func TestFetch_TimeoutRetriedThenFinalTimeoutTyped(t *testing.T) {
	calls := 0
	f := New(testConfig(), WithTransport(transportFunc(
		func(ctx context.Context, a *Attempt) (*Response, error) {
			calls++
			return nil, context.DeadlineExceeded
		})))

	_, _, err := f.Fetch(context.Background(), "https://example.com/slow", Options{})
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *TimeoutError", err)
	}
	if terr.Attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3 each (timeouts retry until the budget)", terr.Attempts, calls)
	}
}

func TestFetch_TimeoutMidBudgetRecovers(t *testing.T) {
	calls := 0
	f := New(testConfig(), WithTransport(transportFunc(
		func(ctx context.Context, a *Attempt) (*Response, error) {
			calls++
			if calls == 1 {
				return nil, context.DeadlineExceeded
			}
			return &Response{StatusCode: 200, Body: cleanBody}, nil
		})))

	_, meta, err := f.Fetch(context.Background(), "https://example.com/flaky", Options{})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if meta.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", meta.Attempts)
	}
}

func TestFetch_SequentialProxyCoverage(t *testing.T) {
	pool := proxy.New([]proxy.Endpoint{"http://p0", "http://p1", "http://p2"})
	var used []proxy.Endpoint

	cfg := testConfig()
	cfg.ProxyStrategy = "sequential"
	f := New(cfg,
		WithProxyPool(pool),
		WithTransport(transportFunc(
			func(ctx context.Context, a *Attempt) (*Response, error) {
				used = append(used, a.Proxy)
				return &Response{StatusCode: 503, Body: nil}, nil
			})))

	_, _, err := f.Fetch(context.Background(), "https://example.com/", Options{})
	if err == nil {
		t.Fatal("expected exhaustion")
	}

	if len(used) != 3 {
		t.Fatalf("recorded %d proxies, want 3", len(used))
	}
	seen := map[proxy.Endpoint]bool{}
	for i, e := range used {
		if seen[e] {
			t.Errorf("attempt %d reused proxy %s", i+1, e)
		}
		seen[e] = true
	}
	if len(seen) != pool.Size() {
		t.Errorf("attempts covered %d of %d pool entries", len(seen), pool.Size())
	}
}

func TestFetch_RetryRotatesProxyAwayFromPrior(t *testing.T) {
	pool := proxy.New([]proxy.Endpoint{"http://p0", "http://p1"})
	var used []proxy.Endpoint

	f := New(testConfig(),
		WithProxyPool(pool),
		WithTransport(transportFunc(
			func(ctx context.Context, a *Attempt) (*Response, error) {
				used = append(used, a.Proxy)
				return &Response{StatusCode: 403, Body: nil}, nil
			})))

	_, _, _ = f.Fetch(context.Background(), "https://example.com/", Options{})
	for i := 1; i < len(used); i++ {
		if used[i] == used[i-1] {
			t.Errorf("attempts %d and %d used the same proxy %s", i, i+1, used[i])
		}
	}
}

func TestFetch_IdentityRotatesEveryRetry(t *testing.T) {
	var used []identity.Identity
	f := New(testConfig(),
		WithIdentityPool(identity.NewPoolWithRand(rand.New(rand.NewPCG(3, 5)))),
		WithTransport(transportFunc(
			func(ctx context.Context, a *Attempt) (*Response, error) {
				used = append(used, a.Identity)
				return &Response{StatusCode: 403, Body: nil}, nil
			})))

	_, _, _ = f.Fetch(context.Background(), "https://example.com/", Options{})
	if len(used) != 3 {
		t.Fatalf("recorded %d identities, want 3", len(used))
	}
	for i := 1; i < len(used); i++ {
		if used[i] == used[i-1] {
			t.Errorf("attempts %d and %d reused identity %q", i, i+1, used[i])
		}
	}
}

func TestFetch_HeadlessFallback(t *testing.T) {
	f := New(testConfig(),
		WithTransport(transportFunc(
			func(ctx context.Context, a *Attempt) (*Response, error) {
				return &Response{StatusCode: 503, Body: nil}, nil
			})),
		WithRenderer(rendererFunc(
			func(ctx context.Context, url string) ([]byte, error) {
				return cleanBody, nil
			})))

	body, meta, err := f.Fetch(context.Background(), "https://example.com/", Options{Render: true})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if meta.Strategy != "headless" {
		t.Errorf("strategy = %q, want headless", meta.Strategy)
	}
	if string(body) != string(cleanBody) {
		t.Error("headless body does not match renderer output")
	}
}

func TestFetch_HeadlessFallbackStillBlocked(t *testing.T) {
	f := New(testConfig(),
		WithTransport(transportFunc(
			func(ctx context.Context, a *Attempt) (*Response, error) {
				return &Response{StatusCode: 503, Body: nil}, nil
			})),
		WithRenderer(rendererFunc(
			func(ctx context.Context, url string) ([]byte, error) {
				return []byte("please enter the captcha characters"), nil
			})))

	_, _, err := f.Fetch(context.Background(), "https://example.com/", Options{Render: true})
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("error type = %T, want *BlockedError when the rendered page is still a challenge", err)
	}
}

func TestFetch_HeadlessNotUsedWithoutOptIn(t *testing.T) {
	rendered := false
	f := New(testConfig(),
		WithTransport(transportFunc(
			func(ctx context.Context, a *Attempt) (*Response, error) {
				return &Response{StatusCode: 503, Body: nil}, nil
			})),
		WithRenderer(rendererFunc(
			func(ctx context.Context, url string) ([]byte, error) {
				rendered = true
				return cleanBody, nil
			})))

	_, _, _ = f.Fetch(context.Background(), "https://example.com/", Options{})
	if rendered {
		t.Error("renderer ran without Options.Render")
	}
}

func TestFetchBatch_PreservesOrder(t *testing.T) {
	f := New(testConfig(), WithTransport(transportFunc(
		func(ctx context.Context, a *Attempt) (*Response, error) {
			body := []byte(a.URL + " " + strings.Repeat("content ", 20))
			return &Response{StatusCode: 200, Body: body}, nil
		})))

	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}
	results := f.FetchBatch(context.Background(), urls, Options{})
	if len(results) != len(urls) {
		t.Fatalf("got %d results, want %d", len(results), len(urls))
	}
	for i, r := range results {
		if r.URL != urls[i] {
			t.Errorf("result %d is for %s, want %s", i, r.URL, urls[i])
		}
		if r.Err != nil {
			t.Errorf("result %d: unexpected error %v", i, r.Err)
		}
		if !strings.HasPrefix(string(r.Body), urls[i]) {
			t.Errorf("result %d body does not correspond to its URL", i)
		}
	}
}

func TestFetchBatch_OneFailureDoesNotCancelRest(t *testing.T) {
	f := New(testConfig(), WithTransport(transportFunc(
		func(ctx context.Context, a *Attempt) (*Response, error) {
			if strings.HasSuffix(a.URL, "/bad") {
				return nil, fmt.Errorf("connection refused")
			}
			return &Response{StatusCode: 200, Body: cleanBody}, nil
		})))

	results := f.FetchBatch(context.Background(), []string{
		"https://example.com/good",
		"https://example.com/bad",
		"https://example.com/also-good",
	}, Options{})

	if results[0].Err != nil || results[2].Err != nil {
		t.Error("healthy URLs failed alongside the bad one")
	}
	if results[1].Err == nil {
		t.Error("bad URL did not report its error")
	}
}

func TestFetch_FreshAttemptContext(t *testing.T) {
	var numbers []int
	f := New(testConfig(), WithTransport(transportFunc(
		func(ctx context.Context, a *Attempt) (*Response, error) {
			numbers = append(numbers, a.Number)
			if a.DispatchedAt.IsZero() {
				t.Error("attempt dispatched without a timestamp")
			}
			return &Response{StatusCode: 403, Body: nil}, nil
		})))

	_, _, _ = f.Fetch(context.Background(), "https://example.com/", Options{})
	for i, n := range numbers {
		if n != i+1 {
			t.Errorf("attempt numbering = %v, want 1..%d", numbers, len(numbers))
			break
		}
	}
}
