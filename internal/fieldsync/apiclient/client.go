// Package apiclient is the field device's HTTP client for the ConstructionPro
// API. Every call is paced by a rate limiter and runs under a per-endpoint
// circuit breaker.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"constructionpro/internal/config"
	"constructionpro/internal/logging"
	"constructionpro/internal/resilience"
)

// SessionCookieName must match the cookie the API issues on login.
const SessionCookieName = "constructionpro-session"

type Client struct {
	baseURL  *url.URL
	http     *http.Client
	session  string
	executor *resilience.Executor
	limiter  *rate.Limiter
	log      logging.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithExecutor replaces the executor built from the config.
func WithExecutor(e *resilience.Executor) Option {
	return func(c *Client) { c.executor = e }
}

// WithRateLimit overrides the request pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func New(cfg config.FieldSyncConfig, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.APIBaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api url must be http or https, got %q", cfg.APIBaseURL)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 5
	}

	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		session: cfg.SessionCookie,
		limiter: rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)*2)),
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.executor == nil {
		rc := resilience.DefaultConfig()
		rc.BreakerEnabled = cfg.BreakerEnabled
		rc.BreakerMinRequests = cfg.BreakerMinRequests
		rc.BreakerOpenTimeout = cfg.BreakerOpenTimeout
		c.executor = resilience.NewExecutor(rc, c.log)
	}
	return c, nil
}

// Health reports whether GET /health answers 2xx.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/health", nil, nil)
}

// do sends one JSON request. in is encoded as the body when non-nil; out is
// decoded from a 2xx response when non-nil.
func (c *Client) do(ctx context.Context, operation, method, path string, in, out any) error {
	return c.send(ctx, operation, method, path, in, out, classify)
}

// create is do for requests that make a new server record. A lost response
// may hide a committed insert, so the executor never repeats it; the queue
// retries on its own schedule.
func (c *Client) create(ctx context.Context, operation, path string, in, out any) error {
	return c.send(ctx, operation, http.MethodPost, path, in, out, classifyCreate)
}

func (c *Client) send(ctx context.Context, operation, method, path string, in, out any, classify resilience.Classifier) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s request: %w", operation, err)
		}
	}

	return c.executor.Execute(ctx, operation, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.roundTrip(ctx, method, path, body, out)
	}, classify)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: c.session})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
