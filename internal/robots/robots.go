// Package robots provides an optional robots.txt guard for outbound fetches.
package robots

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const cacheTTL = time.Hour

type cached struct {
	data    *robotstxt.RobotsData
	expires time.Time
}

// Checker caches and checks robots.txt rules per host. A fetch failure for
// robots.txt itself is treated as permission: the guard is a courtesy layer,
// not an availability dependency.
type Checker struct {
	mu     sync.Mutex
	rules  map[string]cached
	client *http.Client
}

// NewChecker creates a Checker using the given HTTP client, or a plain
// default client when nil.
func NewChecker(client *http.Client) *Checker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Checker{rules: make(map[string]cached), client: client}
}

// Allowed reports whether userAgent may fetch rawURL under the target's
// robots.txt rules.
func (c *Checker) Allowed(userAgent, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("robots: parse url: %w", err)
	}

	data, err := c.rulesFor(u.Scheme + "://" + u.Host)
	if err != nil {
		return true, nil
	}
	return data.FindGroup(userAgent).Test(u.Path), nil
}

func (c *Checker) rulesFor(origin string) (*robotstxt.RobotsData, error) {
	c.mu.Lock()
	entry, ok := c.rules[origin]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.data, nil
	}

	resp, err := c.client.Get(origin + "/robots.txt")
	if err != nil {
		return nil, fmt.Errorf("robots: fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, fmt.Errorf("robots: read: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("robots: parse: %w", err)
	}

	c.mu.Lock()
	c.rules[origin] = cached{data: data, expires: time.Now().Add(cacheTTL)}
	c.mu.Unlock()
	return data, nil
}
