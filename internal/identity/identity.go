// Package identity manages the catalog of simulated browser identities and
// synthesizes internally consistent header sets for them.
package identity

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

// Identity is one simulated desktop browser, keyed by its User-Agent value.
// Identities are immutable and selected fresh per request attempt.
type Identity string

var chromeVersionRe = regexp.MustCompile(`(?:Chrome|CriOS)/(\d+)`)

// IsChromium reports whether the identity belongs to the Chromium family
// (Chrome, Edge, Opera) and therefore sends client-hint headers.
func (id Identity) IsChromium() bool {
	return strings.Contains(string(id), "Chrome/")
}

// MajorVersion extracts the browser major version from the UA string.
// Returns fallback when the UA has no recognizable version token.
func (id Identity) MajorVersion(fallback string) string {
	m := chromeVersionRe.FindStringSubmatch(string(id))
	if len(m) < 2 {
		return fallback
	}
	return m[1]
}

// Pool holds the immutable identity catalog and hands out random picks.
type Pool struct {
	catalog []Identity
	rng     *rand.Rand
}

// NewPool creates a pool backed by the default catalog.
func NewPool() *Pool {
	return &Pool{catalog: defaultCatalog}
}

// NewPoolWithRand creates a pool with a caller-supplied random source,
// used by tests that need deterministic picks.
func NewPoolWithRand(rng *rand.Rand) *Pool {
	return &Pool{catalog: defaultCatalog, rng: rng}
}

// Size returns the number of identities in the catalog.
func (p *Pool) Size() int { return len(p.catalog) }

// PickRandom returns a uniformly random identity from the catalog.
func (p *Pool) PickRandom() Identity {
	return p.catalog[p.intN(len(p.catalog))]
}

// PickDifferent returns a random identity guaranteed to differ from prev
// when the catalog has more than one entry. Used on retry, where reusing
// the just-blocked identity would defeat the rotation.
func (p *Pool) PickDifferent(prev Identity) Identity {
	if len(p.catalog) <= 1 {
		return p.PickRandom()
	}
	for {
		id := p.PickRandom()
		if id != prev {
			return id
		}
	}
}

func (p *Pool) intN(n int) int {
	if p.rng != nil {
		return p.rng.IntN(n)
	}
	return rand.IntN(n)
}

// defaultCatalog spans Chrome, Firefox, Safari and Edge on the three
// desktop platforms. Versions are recent but intentionally not uniform.
var defaultCatalog = []Identity{
	// Chrome
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	// Firefox
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:134.0) Gecko/20100101 Firefox/134.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:135.0) Gecko/20100101 Firefox/135.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:135.0) Gecko/20100101 Firefox/135.0",
	// Safari
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.3 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
	// Edge
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36 Edg/133.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36 Edg/132.0.0.0",
}
