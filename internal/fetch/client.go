// Package fetch is the HTTP client shared by the vendor adapters. It owns
// timeouts, proxying, per-host rate limiting, user-agent rotation and
// charset decoding, and classifies failures as transient or format errors.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/kchartio/kchart/internal/ratelimit"
)

const (
	defaultTimeout = 6050 * time.Millisecond
	defaultRPS     = 1.0
	defaultBurst   = 2

	// maxBodySize caps a single vendor response.
	maxBodySize = 8 << 20
)

// DefaultUserAgents is rotated through when none are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// Fetcher is what vendor adapters depend on. Tests substitute fakes.
type Fetcher interface {
	GetHTML(ctx context.Context, rawURL string, query url.Values) ([]byte, error)
	GetJSON(ctx context.Context, rawURL string, query url.Values, header http.Header, v any) error
}

// Options configures a Client.
type Options struct {
	Timeout            time.Duration
	ProxyURL           string
	ProxyTimeoutFactor int
	UserAgents         []string
	RequestsPerSecond  float64
	Burst              int
	Logger             *slog.Logger

	// Transport overrides the HTTP transport. The proxy setting is ignored
	// when set.
	Transport http.RoundTripper
}

// Client is a rate-limited vendor HTTP client.
type Client struct {
	http    *http.Client
	limiter *ratelimit.KeyedRateLimiter
	agents  []string
	next    atomic.Uint64
	logger  *slog.Logger
}

var _ Fetcher = (*Client)(nil)

// New creates a client. Requests through a proxy get the timeout multiplied
// by ProxyTimeoutFactor.
func New(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	agents := opts.UserAgents
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if opts.ProxyURL != "" {
			proxy, err := url.Parse(opts.ProxyURL)
			if err != nil {
				return nil, fmt.Errorf("parse proxy url: %w", err)
			}
			t.Proxy = http.ProxyURL(proxy)
			factor := opts.ProxyTimeoutFactor
			if factor < 1 {
				factor = 1
			}
			timeout *= time.Duration(factor)
		}
		transport = t
	}

	return &Client{
		http:    &http.Client{Timeout: timeout, Transport: transport},
		limiter: ratelimit.New(rps, burst),
		agents:  agents,
		logger:  logger,
	}, nil
}

// GetHTML fetches a page and returns its body converted to UTF-8. The
// source charset comes from the Content-Type header or the page's meta tag.
func (c *Client) GetHTML(ctx context.Context, rawURL string, query url.Values) ([]byte, error) {
	resp, err := c.do(ctx, rawURL, query, http.Header{"Accept": {"text/html"}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	r, err := charset.NewReader(io.LimitReader(resp.Body, maxBodySize), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, FormatError.New("decode %s: %v", rawURL, err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, TransientError.New("read %s: %v", rawURL, err)
	}
	return body, nil
}

// GetJSON fetches rawURL and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, header http.Header, v any) error {
	h := http.Header{"Accept": {"application/json"}}
	for k, vals := range header {
		h[k] = vals
	}
	resp, err := c.do(ctx, rawURL, query, h)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return TransientError.New("read %s: %v", rawURL, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return FormatError.New("decode %s: %v", rawURL, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, rawURL string, query url.Values, header http.Header) (*http.Response, error) {
	if err := c.limiter.Wait(ctx, ratelimit.HostKey(rawURL)); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, FormatError.New("parse url %q: %v", rawURL, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vals := range query {
			q[k] = vals
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, FormatError.New("create request: %v", err)
	}
	for k, vals := range header {
		req.Header[k] = vals
	}
	req.Header.Set("User-Agent", c.userAgent())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("vendor request failed", "url", u.Redacted(), "error", err)
		return nil, classifyTransport(ctx, err)
	}
	c.logger.Debug("vendor request",
		"url", u.Redacted(),
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, classifyStatus(req.Method, u.Redacted(), resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) userAgent() string {
	n := c.next.Add(1) - 1
	return c.agents[n%uint64(len(c.agents))]
}
