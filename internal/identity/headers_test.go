package identity

import (
	"math/rand/v2"
	"net/http"
	"strings"
	"testing"
)

const (
	chromeUA  = Identity("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36")
	firefoxUA = Identity("Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0")
)

func newTestSynthesizer() *Synthesizer {
	return NewSynthesizerWithRand(rand.New(rand.NewPCG(7, 11)))
}

func TestSynthesizer_AlwaysSetHeaders(t *testing.T) {
	s := newTestSynthesizer()
	h := s.Build(chromeUA)

	for _, key := range []string{
		"Accept",
		"Accept-Encoding",
		"Accept-Language",
		"Connection",
		"Cache-Control",
		"Upgrade-Insecure-Requests",
		"Sec-Fetch-Dest",
		"Sec-Fetch-Mode",
		"Sec-Fetch-Site",
		"Sec-Fetch-User",
	} {
		if h.Get(key) == "" {
			t.Errorf("header %s not set", key)
		}
	}
}

func TestSynthesizer_ChromiumClientHints(t *testing.T) {
	s := newTestSynthesizer()

	h := s.Build(chromeUA)
	if got := h.Get("Sec-Ch-Ua"); got == "" {
		t.Error("Sec-Ch-Ua not set for Chromium identity")
	} else if want := `"133"`; !strings.Contains(got, want) {
		t.Errorf("Sec-Ch-Ua = %q, want version token %s", got, want)
	}
	if got := h.Get("Sec-Ch-Ua-Mobile"); got != "?0" {
		t.Errorf("Sec-Ch-Ua-Mobile = %q, want ?0", got)
	}
	if got := h.Get("Sec-Ch-Ua-Platform"); got != `"Windows"` {
		t.Errorf("Sec-Ch-Ua-Platform = %q, want \"Windows\"", got)
	}

	h = s.Build(firefoxUA)
	if got := h.Get("Sec-Ch-Ua"); got != "" {
		t.Errorf("Sec-Ch-Ua = %q for Firefox identity, want unset", got)
	}
}

func TestSynthesizer_MalformedChromiumVersionFallsBack(t *testing.T) {
	s := newTestSynthesizer()
	h := s.Build(Identity("weird Chrome/ thing"))
	if got := h.Get("Sec-Ch-Ua"); !strings.Contains(got, `"`+fallbackChromeVersion+`"`) {
		t.Errorf("Sec-Ch-Ua = %q, want fallback version %s", got, fallbackChromeVersion)
	}
}

func TestSynthesizer_RefererFrequency(t *testing.T) {
	s := newTestSynthesizer()
	const trials = 1000
	withReferer := 0
	for i := 0; i < trials; i++ {
		if s.Build(chromeUA).Get("Referer") != "" {
			withReferer++
		}
	}
	// p ≈ 0.7; with a fixed seed this is deterministic, bounds are generous
	if withReferer < 600 || withReferer > 800 {
		t.Errorf("Referer present in %d/%d builds, want roughly 700", withReferer, trials)
	}
}

func TestSynthesizer_SecFetchSiteMatchesReferer(t *testing.T) {
	s := newTestSynthesizer()
	for i := 0; i < 100; i++ {
		h := s.Build(chromeUA)
		hasReferer := h.Get("Referer") != ""
		site := h.Get("Sec-Fetch-Site")
		if hasReferer && site != "cross-site" {
			t.Fatalf("Referer set but Sec-Fetch-Site = %q", site)
		}
		if !hasReferer && site != "none" {
			t.Fatalf("no Referer but Sec-Fetch-Site = %q", site)
		}
	}
}

func TestSynthesizer_ConsecutiveBuildsVary(t *testing.T) {
	s := newTestSynthesizer()
	prev := s.Build(chromeUA)
	varied := false
	for i := 0; i < 20; i++ {
		next := s.Build(chromeUA)
		if !headersEqual(prev, next) {
			varied = true
			break
		}
		prev = next
	}
	if !varied {
		t.Error("20 consecutive builds produced byte-identical header sets")
	}
}

func headersEqual(a, b http.Header) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if len(v) == 0 || b.Get(k) != v[0] {
			return false
		}
	}
	return true
}
