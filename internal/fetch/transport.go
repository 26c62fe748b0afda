package fetch

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	utls "github.com/refraction-networking/utls"
)

// Transport dispatches one prepared attempt and returns the raw response.
// Tests substitute a stub; production uses HTTPTransport.
type Transport interface {
	Do(ctx context.Context, a *Attempt) (*Response, error)
}

// Renderer fetches a page through a real browser. Used as the optional
// last-resort path once plain HTTP attempts are exhausted.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

const maxBodyBytes = 10 << 20 // 10 MB cap

// HTTPTransport performs the actual network dispatch. A fresh client is
// built per attempt so no connection, cookie or TLS-session state leaks
// between identities.
type HTTPTransport struct {
	// TLSMimic presents a Chrome TLS ClientHello on direct HTTPS dials when
	// the attempt identity is Chromium-family.
	TLSMimic bool
}

// NewHTTPTransport creates the production transport.
func NewHTTPTransport(tlsMimic bool) *HTTPTransport {
	return &HTTPTransport{TLSMimic: tlsMimic}
}

func (t *HTTPTransport) Do(ctx context.Context, a *Attempt) (*Response, error) {
	tr := &http.Transport{
		DisableKeepAlives: true, // one request per client, nothing to pool
	}

	if a.Proxy != "" {
		proxyURL, err := url.Parse(string(a.Proxy))
		if err != nil {
			return nil, fmt.Errorf("transport: parse proxy: %w", err)
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	} else if t.TLSMimic && a.Identity.IsChromium() {
		// net/http ignores DialTLSContext for proxied HTTPS requests, so the
		// mimic only applies to direct dials.
		tr.DialTLSContext = dialTLSChrome
	}

	client := &http.Client{Transport: tr}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	if a.Headers != nil {
		req.Header = a.Headers.Clone()
	}
	req.Header.Set("User-Agent", string(a.Identity))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// dialTLSChrome establishes a TLS connection presenting a Chrome
// fingerprint via utls.
func dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host := addr
	if h, _, splitErr := net.SplitHostPort(addr); splitErr == nil {
		host = h
	}
	tlsConn := utls.UClient(rawConn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// decodeBody reads and decompresses the response body. Since the header
// set declares Accept-Encoding explicitly, net/http does not decompress
// automatically.
func decodeBody(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, maxBodyBytes)

	var reader io.Reader
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(limited)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(limited)
	default:
		reader = limited
	}
	return io.ReadAll(reader)
}
