package blockdetect

import (
	"strings"
	"testing"
)

func newTestDetector() *Detector {
	return New(DefaultRetryStatuses, 5000)
}

func TestDetector_Classify(t *testing.T) {
	normalPage := []byte("<html><head><title>Acme Widget 3000</title></head><body>" +
		strings.Repeat("<p>product details and specifications</p> ", 500) +
		"</body></html>")

	captchaPage := []byte("<html><body>please enter the captcha characters below " +
		strings.Repeat("x", 50000) + "</body></html>")

	tests := []struct {
		name       string
		status     int
		body       []byte
		wantKind   Kind
		wantReason string
	}{
		{"forbidden", 403, []byte("whatever"), SoftBlock, "status:403"},
		{"unavailable", 503, normalPage, SoftBlock, "status:503"},
		{"rate limited", 429, normalPage, SoftBlock, "status:429"},
		{"cloudflare 522", 522, nil, SoftBlock, "status:522"},
		{"clean", 200, normalPage, Clean, ""},
		{"tiny body", 200, []byte("..."), SoftBlock, "insufficient_content"},
		{"captcha in big body", 200, captchaPage, SoftBlock, "captcha_detected"},
		{"robot check phrase", 200, []byte("<html><body>Are You A Robot? " + strings.Repeat("y", 9000) + "</body></html>"), SoftBlock, "captcha_detected"},
	}

	d := newTestDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := d.Classify(tt.status, tt.body)
			if v.Kind != tt.wantKind {
				t.Errorf("Classify(%d, ...) kind = %s, want %s", tt.status, v.Kind, tt.wantKind)
			}
			if v.Reason != tt.wantReason {
				t.Errorf("Classify(%d, ...) reason = %q, want %q", tt.status, v.Reason, tt.wantReason)
			}
		})
	}
}

func TestDetector_StatusWinsOverContent(t *testing.T) {
	d := newTestDetector()
	v := d.Classify(403, []byte("please solve the captcha"))
	if v.Reason != "status:403" {
		t.Errorf("reason = %q, want status rule to win", v.Reason)
	}
}

func TestDetector_BlockedPageTitle(t *testing.T) {
	d := newTestDetector()
	// Block page detected by title alone; body carries no challenge phrasing.
	body := []byte("<html><head><title>Sorry! Something went wrong</title></head><body>" +
		strings.Repeat("<div>decorative filler</div> ", 400) + "</body></html>")
	v := d.Classify(200, body)
	if v.Kind != SoftBlock || v.Reason != "captcha_detected" {
		t.Errorf("Classify() = %s/%q, want soft-block/captcha_detected", v.Kind, v.Reason)
	}
}

func TestDetector_ConfigurableStatuses(t *testing.T) {
	d := New([]int{418}, 10)
	if v := d.Classify(418, nil); v.Reason != "status:418" {
		t.Errorf("custom status not classified: %+v", v)
	}
	big := []byte(strings.Repeat("ok ", 100))
	if v := d.Classify(503, big); v.Kind != Clean {
		t.Errorf("503 outside custom set classified as %s", v.Kind)
	}
}

func TestDetector_ConfigurableMinBody(t *testing.T) {
	d := New(DefaultRetryStatuses, 10)
	if v := d.Classify(200, []byte("tiny")); v.Reason != "insufficient_content" {
		t.Errorf("4-byte body: %+v", v)
	}
	if v := d.Classify(200, []byte("this is comfortably past ten bytes")); v.Kind != Clean {
		t.Errorf("34-byte body with min 10: %+v", v)
	}
}
