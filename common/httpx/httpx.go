package httpx

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
)

type Client struct {
	hc        *http.Client
	opt       Options
	fail      int32 // consecutive failures
	openUntil int64 // unix nanos for circuit open deadline
}

type Options struct {
	Timeout            time.Duration
	Retry              int
	BackoffMin         time.Duration
	BackoffMax         time.Duration
	HostAllowlist      []string
	MaxConsecutiveFail int
	CircuitOpen        time.Duration
}

var (
	ErrCircuitOpen    = errors.New("circuit open")
	ErrHostNotAllowed = errors.New("host not allowed")
	// ErrServerStatus wraps 5xx responses, which are retried.
	ErrServerStatus = errors.New("server error status")
)

func NewFromConfig(cfg *config.HTTPClientConfig) *Client {
	// defaults
	to := 1200 * time.Millisecond
	if cfg != nil && cfg.TimeoutMs > 0 {
		to = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	retries := 1
	if cfg != nil && cfg.Retry > 0 {
		retries = cfg.Retry
	}
	bmin := 100 * time.Millisecond
	if cfg != nil && cfg.BackoffMinMs > 0 {
		bmin = time.Duration(cfg.BackoffMinMs) * time.Millisecond
	}
	bmax := 800 * time.Millisecond
	if cfg != nil && cfg.BackoffMaxMs > 0 {
		bmax = time.Duration(cfg.BackoffMaxMs) * time.Millisecond
	}
	mcf := 5
	if cfg != nil && cfg.MaxConsecutiveFailures > 0 {
		mcf = cfg.MaxConsecutiveFailures
	}
	cop := 5 * time.Second
	if cfg != nil && cfg.CircuitOpenSeconds > 0 {
		cop = time.Duration(cfg.CircuitOpenSeconds) * time.Second
	}
	var allow []string
	if cfg != nil {
		allow = cfg.HostAllowlist
	}

	transport := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: to}).DialContext,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:    100,
		IdleConnTimeout: 30 * time.Second,
	}
	return New(&http.Client{Timeout: to, Transport: transport}, Options{
		Timeout: to, Retry: retries, BackoffMin: bmin, BackoffMax: bmax,
		HostAllowlist: allow, MaxConsecutiveFail: mcf, CircuitOpen: cop,
	})
}

// New wraps an existing http.Client, e.g. one from httptest.
func New(hc *http.Client, opt Options) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if opt.MaxConsecutiveFail <= 0 {
		opt.MaxConsecutiveFail = 5
	}
	if opt.CircuitOpen <= 0 {
		opt.CircuitOpen = 5 * time.Second
	}
	return &Client{hc: hc, opt: opt}
}

// HTTPClient exposes the underlying client for SDKs that take one.
func (c *Client) HTTPClient() *http.Client { return c.hc }

func (c *Client) allowed(u string) bool {
	if len(c.opt.HostAllowlist) == 0 {
		return true
	}
	pu, err := url.Parse(u)
	if err != nil {
		return false
	}
	host := pu.Hostname()
	for _, h := range c.opt.HostAllowlist {
		if matchHost(h, host) {
			return true
		}
	}
	return false
}

func matchHost(pattern, host string) bool {
	if pattern == "*" {
		return true
	}
	if strings.EqualFold(pattern, host) {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suf := strings.TrimPrefix(pattern, "*.")
		return strings.HasSuffix(host, "."+suf) || host == suf
	}
	return false
}

// Do sends req with retries on transport errors and 5xx responses. Responses
// below 500 are returned as-is; the caller closes the body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !c.allowed(req.URL.String()) {
		logger.Warnf("httpx: blocked outbound host: %s", req.URL.String())
		return nil, ErrHostNotAllowed
	}
	if atomic.LoadInt64(&c.openUntil) > time.Now().UnixNano() {
		return nil, ErrCircuitOpen
	}

	attempts := uint(c.opt.Retry + 1)
	var resp *http.Response
	try := 0
	err := retry.Do(func() error {
		try++
		if try > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Body = body
		}
		r, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			// drain so the connection can be reused
			_, _ = io.Copy(io.Discard, r.Body)
			_ = r.Body.Close()
			return fmt.Errorf("%w: %d", ErrServerStatus, r.StatusCode)
		}
		resp = r
		return nil
	}, c.retryOptions(req.Context(), attempts, req.URL.String())...)

	if err == nil {
		atomic.StoreInt32(&c.fail, 0)
		return resp, nil
	}
	// open circuit on consecutive failures
	if atomic.AddInt32(&c.fail, 1) >= int32(c.opt.MaxConsecutiveFail) {
		atomic.StoreInt64(&c.openUntil, time.Now().Add(c.opt.CircuitOpen).UnixNano())
		atomic.StoreInt32(&c.fail, 0)
		logger.Warnf("httpx: circuit opened for %v", c.opt.CircuitOpen)
	}
	return nil, err
}

func (c *Client) retryOptions(ctx context.Context, attempts uint, target string) []retry.Option {
	opts := []retry.Option{
		retry.Attempts(attempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.Delay(c.opt.BackoffMin),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnf("httpx: request failed (try %d/%d) to %s: %v", n+1, attempts, target, err)
		}),
	}
	// jitter in [min, max)
	if c.opt.BackoffMax > c.opt.BackoffMin {
		opts = append(opts,
			retry.MaxJitter(c.opt.BackoffMax-c.opt.BackoffMin),
			retry.DelayType(retry.CombineDelay(retry.FixedDelay, retry.RandomDelay)),
		)
	} else {
		opts = append(opts, retry.DelayType(retry.FixedDelay))
	}
	return opts
}

// GetJSON issues a GET and decodes a 2xx JSON body into out.
func (c *Client) GetJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", target, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}
