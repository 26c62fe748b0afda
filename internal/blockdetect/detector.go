// Package blockdetect classifies completed responses as clean, soft-blocked
// (retryable with a rotated identity/proxy) or hard failures.
package blockdetect

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Kind is the top-level classification of a response.
type Kind int

const (
	Clean Kind = iota
	SoftBlock
	HardFailure
)

func (k Kind) String() string {
	switch k {
	case Clean:
		return "clean"
	case SoftBlock:
		return "soft-block"
	case HardFailure:
		return "hard-failure"
	default:
		return "unknown"
	}
}

// Verdict is the result of classifying one attempt's response.
type Verdict struct {
	Kind   Kind
	Reason string
}

// CleanVerdict is the verdict for an ordinary successful response.
var CleanVerdict = Verdict{Kind: Clean}

// Soft returns a retryable soft-block verdict with the given reason.
func Soft(reason string) Verdict { return Verdict{Kind: SoftBlock, Reason: reason} }

// Hard returns a non-retryable hard-failure verdict with the given reason.
func Hard(reason string) Verdict { return Verdict{Kind: HardFailure, Reason: reason} }

// DefaultRetryStatuses are the status codes classified as soft blocks when
// no override is configured. Beyond the obvious 403/503 it includes the
// transient 5xx family plus Cloudflare's 522/524, all of which a rotated
// retry has a real chance of clearing.
var DefaultRetryStatuses = []int{403, 408, 429, 500, 502, 503, 504, 522, 524}

// challengeTokens are phrases that identify a bot-challenge page. The target
// frequently serves these with HTTP 200, so status alone is not enough.
var challengeTokens = []string{
	"captcha",
	"are you a robot",
	"robot check",
	"enter the characters you see",
	"verify you are a human",
	"unusual traffic from your computer",
	"access to this page has been denied",
}

// titleTokens are page titles that mark a block page even when the body
// itself carries no challenge phrasing (e.g. the target's "dog page").
var titleTokens = []string{
	"sorry! something went wrong",
	"access denied",
	"service unavailable",
	"attention required",
}

// Detector inspects status code, body size and body content. Status-code
// blocking and content-shape blocking are independent signals: a blocked
// response may be a 200 with a challenge page, or a 503 with an empty body.
type Detector struct {
	// RetryStatuses are the status codes classified as soft blocks.
	RetryStatuses map[int]struct{}
	// MinBodyBytes is the smallest plausible size of a real product page.
	MinBodyBytes int
}

// New creates a Detector for the given retryable status codes and minimum
// plausible body size.
func New(retryCodes []int, minBodyBytes int) *Detector {
	statuses := make(map[int]struct{}, len(retryCodes))
	for _, c := range retryCodes {
		statuses[c] = struct{}{}
	}
	return &Detector{RetryStatuses: statuses, MinBodyBytes: minBodyBytes}
}

// Classify applies the detection rules in order, first match wins:
// retryable status, challenge content, implausibly small body, clean.
// Transport-level failures never reach here; the transport reports those
// as hard failures itself.
func (d *Detector) Classify(status int, body []byte) Verdict {
	if _, ok := d.RetryStatuses[status]; ok {
		return Soft(fmt.Sprintf("status:%d", status))
	}

	lower := strings.ToLower(string(body))
	for _, token := range challengeTokens {
		if strings.Contains(lower, token) {
			return Soft("captcha_detected")
		}
	}
	title := strings.ToLower(extractTitle(body))
	for _, token := range titleTokens {
		if strings.Contains(title, token) {
			return Soft("captcha_detected")
		}
	}

	if len(body) < d.MinBodyBytes {
		return Soft("insufficient_content")
	}

	return CleanVerdict
}

// extractTitle pulls the <title> text from raw HTML. Challenge pages often
// carry a telltale title even when the body is obfuscated.
func extractTitle(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "title" {
				if tokenizer.Next() == html.TextToken {
					return strings.TrimSpace(string(tokenizer.Text()))
				}
				return ""
			}
		}
	}
}
