// Package client performs rate-limited requests against a Pelias provider.
//
// A Client owns one provider's connection state: its credentials, the
// timestamps of its most recent sends and an overall retry budget. HTTP 429
// responses are absorbed by sleeping until the oldest send leaves the
// provider's window and trying again; every other failure is returned to the
// caller as a classified *Error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"pelias_geocoder/internal/geocode/provider"
	"pelias_geocoder/platform/logger"
)

// Version is reported in the User-Agent header.
const Version = "1.0.0"

const (
	userAgent           = "PeliasGoClient@v" + Version
	defaultRetryTimeout = 60 * time.Second
	defaultHTTPTimeout  = 10 * time.Second
	maxBodyBytes        = 8 << 20
)

// Cache stores successful GET bodies by final URL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, body []byte) error
}

// Client talks to a single provider.
type Client struct {
	provider     provider.Provider
	httpClient   *http.Client
	ownsHTTP     bool
	retryTimeout time.Duration
	onOverLimit  func(time.Duration)
	cache        Cache
	log          *logger.Logger
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	sent *sendWindow
}

// Option configures a Client.
type Option func(*Client)

// WithRetryTimeout sets the overall budget across retries of one request.
func WithRetryTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryTimeout = d
		}
	}
}

// WithHTTPClient uses a caller-owned http.Client. Close will not touch it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
			c.ownsHTTP = false
		}
	}
}

// WithOverQueryLimit registers a callback invoked with the wait duration
// before the client sleeps on a 429.
func WithOverQueryLimit(fn func(time.Duration)) Option {
	return func(c *Client) { c.onOverLimit = fn }
}

// WithCache enables response caching for GET requests.
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock replaces time.Now and the backoff sleep.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New creates a client for p.
func New(p provider.Provider, opts ...Option) (*Client, error) {
	if strings.TrimSpace(p.BaseURL) == "" {
		return nil, &provider.ConfigError{Provider: p.Name, Reason: "base url is required"}
	}
	if p.Limit <= 0 {
		return nil, &provider.ConfigError{Provider: p.Name, Reason: fmt.Sprintf("limit must be positive, got %d", p.Limit)}
	}
	if p.Unit != provider.UnitMinute && p.Unit != provider.UnitSecond {
		return nil, &provider.ConfigError{Provider: p.Name, Reason: fmt.Sprintf("unknown rate unit %q", p.Unit)}
	}

	c := &Client{
		provider:     p,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		ownsHTTP:     true,
		retryTimeout: defaultRetryTimeout,
		log:          logger.Discard(),
		now:          time.Now,
		sleep:        sleepContext,
		sent:         newSendWindow(p.Limit),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithProvider(p.Name)

	return c, nil
}

// Provider returns the provider this client talks to.
func (c *Client) Provider() provider.Provider {
	return c.provider
}

// Close releases idle connections held by the client's own transport.
func (c *Client) Close() error {
	if c.ownsHTTP {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}

type requestOptions struct {
	firstRequestTime time.Time
	postBody         any
	headers          map[string]string
	onOverLimit      func(time.Duration)
}

// RequestOption adjusts a single request.
type RequestOption func(*requestOptions)

// WithPostBody sends body as JSON with POST instead of a GET.
func WithPostBody(body any) RequestOption {
	return func(o *requestOptions) { o.postBody = body }
}

// WithHeader adds an extra header to the request.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// WithOverLimitNotify calls fn with each backoff of this request, in addition
// to the client-wide callback.
func WithOverLimitNotify(fn func(time.Duration)) RequestOption {
	return func(o *requestOptions) { o.onOverLimit = fn }
}

// WithFirstRequestTime anchors the retry budget at t instead of now.
func WithFirstRequestTime(t time.Time) RequestOption {
	return func(o *requestOptions) { o.firstRequestTime = t }
}

// Request calls path with params and returns the decoded body.
func (c *Client) Request(ctx context.Context, path string, params Params, opts ...RequestOption) (*Result, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	first := ro.firstRequestTime
	if first.IsZero() {
		first = c.now()
	}

	reqURL := c.buildURL(path, params)
	method := http.MethodGet
	if ro.postBody != nil {
		method = http.MethodPost
	}

	for {
		if elapsed := c.now().Sub(first); elapsed > c.retryTimeout {
			c.log.Error("geocode retry budget exceeded", "elapsed", elapsed, "url", reqURL)
			return nil, &Error{Kind: KindTimeout}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if method == http.MethodGet && c.cache != nil {
			if result, ok := c.fromCache(ctx, reqURL); ok {
				return result, nil
			}
		}

		c.log.GeocodeRequest(method, reqURL)
		status, body, err := c.do(ctx, method, reqURL, ro)
		if err != nil {
			c.log.Error("geocode transport failure", "error", err, "url", reqURL)
			return nil, fmt.Errorf("geocode %s: %w", path, err)
		}

		resp, err := classify(status, body)
		if err == nil {
			c.mu.Lock()
			c.sent.push(c.now())
			c.mu.Unlock()

			if method == http.MethodGet && c.cache != nil {
				if cerr := c.cache.Set(ctx, reqURL, body); cerr != nil {
					c.log.Warn("geocode cache write failed", "error", cerr)
				}
			}
			return newResult(resp, body, reqURL, false), nil
		}

		if !IsKind(err, KindOverQueryLimit) {
			c.log.Error("geocode request failed", "error", err, "url", reqURL)
			return nil, err
		}

		wait := c.backoff()
		c.log.OverQueryLimit(c.provider.Name, wait, err.Error())
		if c.onOverLimit != nil {
			c.onOverLimit(wait)
		}
		if ro.onOverLimit != nil {
			ro.onOverLimit(wait)
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// backoff computes how long until the oldest recorded send leaves the window.
func (c *Client) backoff() time.Duration {
	window := c.provider.Unit.Window()

	c.mu.Lock()
	oldest, ok := c.sent.oldest()
	c.mu.Unlock()
	if !ok {
		return window
	}

	wait := window - c.now().Sub(oldest)
	if wait < 0 {
		return 0
	}
	return wait
}

func (c *Client) buildURL(path string, params Params) string {
	all := make(Params, 0, len(params)+1)
	all = append(all, params...)
	if c.provider.Key != "" {
		all = append(all, Param{Key: KeyParam, Value: c.provider.Key})
	}

	u := c.provider.BaseURL + path
	if q := all.Encode(); q != "" {
		u += "?" + q
	}
	return u
}

func (c *Client) do(ctx context.Context, method, reqURL string, ro requestOptions) (int, []byte, error) {
	var reader io.Reader
	if ro.postBody != nil {
		data, err := json.Marshal(ro.postBody)
		if err != nil {
			return 0, nil, fmt.Errorf("encode post body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ro.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) fromCache(ctx context.Context, reqURL string) (*Result, bool) {
	body, ok, err := c.cache.Get(ctx, reqURL)
	if err != nil {
		c.log.Warn("geocode cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		c.log.Warn("geocode cache entry unreadable", "error", err)
		return nil, false
	}
	return newResult(&resp, body, reqURL, true), true
}

func classify(status int, body []byte) (*Response, error) {
	switch status {
	case http.StatusOK:
		var resp Response
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &resp, nil
	case http.StatusTooManyRequests:
		return nil, &Error{Kind: KindOverQueryLimit, Status: status, Messages: errorMessages(body)}
	case http.StatusBadRequest:
		return nil, &Error{Kind: KindAPIError, Status: status, Messages: errorMessages(body)}
	case http.StatusForbidden:
		return nil, &Error{Kind: KindInvalidKey, Status: status, Messages: []string{invalidKeyMessage}}
	default:
		return nil, &Error{Kind: KindGenericServer, Status: status, Body: body}
	}
}

func newResult(resp *Response, raw []byte, reqURL string, cached bool) *Result {
	var warnings []string
	if resp.Geocoding != nil {
		warnings = resp.Geocoding.Warnings
	}
	return &Result{
		Body:     resp,
		Raw:      raw,
		URL:      reqURL,
		Warnings: warnings,
		Cached:   cached,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
