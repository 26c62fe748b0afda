package identity

import (
	"math/rand/v2"
	"net/http"
	"strings"
)

// fallbackChromeVersion is used when a Chromium UA has no parseable version.
const fallbackChromeVersion = "133"

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-US,en;q=0.8",
	"en-GB,en-US;q=0.9,en;q=0.8",
	"en-US,en;q=0.9,es;q=0.8",
	"en-US,en;q=0.9,de;q=0.7",
	"en-CA,en-US;q=0.9,en;q=0.8",
}

var defaultReferers = []string{
	"https://www.google.com/",
	"https://www.bing.com/",
	"https://duckduckgo.com/",
}

// refererProbability is how often a Referer is attached at all. A referer on
// every request is itself a signature, so roughly 30% of requests go without.
const refererProbability = 0.7

// Synthesizer builds a full header set for one identity. It is a pure
// function of (identity, RNG state); a fresh set is built per attempt.
type Synthesizer struct {
	// Referers overrides the default referer candidates when non-empty.
	Referers []string
	rng      *rand.Rand
}

// NewSynthesizer creates a Synthesizer using the shared process RNG.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{}
}

// NewSynthesizerWithRand creates a Synthesizer with a deterministic
// random source for tests.
func NewSynthesizerWithRand(rng *rand.Rand) *Synthesizer {
	return &Synthesizer{rng: rng}
}

// Build returns an internally consistent browser header set for id.
// The User-Agent header itself is set by the transport from the identity.
func (s *Synthesizer) Build(id Identity) http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Accept-Language", s.pick(acceptLanguages))
	h.Set("Connection", "keep-alive")
	h.Set("Cache-Control", "max-age=0")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-User", "?1")

	referers := s.Referers
	if len(referers) == 0 {
		referers = defaultReferers
	}
	if s.float64() < refererProbability {
		h.Set("Referer", s.pick(referers))
		h.Set("Sec-Fetch-Site", "cross-site")
	} else {
		h.Set("Sec-Fetch-Site", "none")
	}

	if id.IsChromium() {
		v := id.MajorVersion(fallbackChromeVersion)
		h.Set("Sec-Ch-Ua", `"Chromium";v="`+v+`", "Not(A:Brand";v="99", "Google Chrome";v="`+v+`"`)
		h.Set("Sec-Ch-Ua-Mobile", "?0")
		h.Set("Sec-Ch-Ua-Platform", platformHint(id))
	}

	return h
}

func platformHint(id Identity) string {
	ua := string(id)
	switch {
	case strings.Contains(ua, "Windows"):
		return `"Windows"`
	case strings.Contains(ua, "Mac OS X"):
		return `"macOS"`
	default:
		return `"Linux"`
	}
}

func (s *Synthesizer) pick(candidates []string) string {
	if s.rng != nil {
		return candidates[s.rng.IntN(len(candidates))]
	}
	return candidates[rand.IntN(len(candidates))]
}

func (s *Synthesizer) float64() float64 {
	if s.rng != nil {
		return s.rng.Float64()
	}
	return rand.Float64()
}
