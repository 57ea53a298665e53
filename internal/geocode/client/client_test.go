package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pelias_geocoder/internal/geocode/provider"
)

const okBody = `{"type":"FeatureCollection","geocoding":{"warnings":["performance optimization: excluding 'address' layer"]},"features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[13.4,52.5]},"properties":{"name":"Berlin"}}]}`

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func testProvider(baseURL, key string, limit int, unit provider.Unit) provider.Provider {
	return provider.Provider{
		Name:    "test",
		BaseURL: baseURL,
		Key:     key,
		Limit:   limit,
		Unit:    unit,
		Endpoints: map[string]string{
			provider.OpSearch:  "/v1/search",
			provider.OpReverse: "/v1/reverse",
		},
	}
}

func TestNew_RejectsMalformedProvider(t *testing.T) {
	cases := []provider.Provider{
		{Name: "no-url", Limit: 1, Unit: provider.UnitSecond},
		{Name: "no-limit", BaseURL: "http://x", Unit: provider.UnitSecond},
		{Name: "bad-unit", BaseURL: "http://x", Limit: 1, Unit: "hour"},
	}
	for _, p := range cases {
		_, err := New(p)
		var cfgErr *provider.ConfigError
		if !errors.As(err, &cfgErr) || cfgErr.Provider != p.Name {
			t.Fatalf("expected ConfigError for provider %q, got %v", p.Name, err)
		}
	}
}

func TestBuildURL_SortsParamsAndAppendsKeyLast(t *testing.T) {
	c, err := New(testProvider("https://api.example.com", "K", 1, provider.UnitSecond))
	if err != nil {
		t.Fatal(err)
	}

	got := c.buildURL("/v1/search", ParamsFromMap(map[string]string{"b": "2", "a": "1"}))
	want := "https://api.example.com/v1/search?a=1&b=2&api_key=K"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestBuildURL_OmitsEmptyKey(t *testing.T) {
	c, err := New(testProvider("https://api.example.com", "", 1, provider.UnitSecond))
	if err != nil {
		t.Fatal(err)
	}

	got := c.buildURL("/v1/search", ParamsFromMap(map[string]string{"b": "2", "a": "1"}))
	if strings.Contains(got, "api_key") {
		t.Fatalf("expected no api_key, got %q", got)
	}
	if !strings.HasSuffix(got, "?a=1&b=2") {
		t.Fatalf("unexpected query in %q", got)
	}
}

func TestBuildURL_EscapesReservedKeepsUnreserved(t *testing.T) {
	c, err := New(testProvider("https://api.example.com", "", 1, provider.UnitSecond))
	if err != nil {
		t.Fatal(err)
	}

	got := c.buildURL("/v1/search", Params{{Key: "text", Value: "a&b=c ~x_y-z.1"}, {Key: "layers", Value: "venue,address"}})
	want := "https://api.example.com/v1/search?text=a%26b%3Dc+~x_y-z.1&layers=venue%2Caddress"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRequest_SuccessReturnsBodyURLAndWarnings(t *testing.T) {
	var gotUA, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCT = r.Header.Get("Content-Type")
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	c, err := New(testProvider(srv.URL, "K", 5, provider.UnitSecond))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	res, err := c.Request(context.Background(), "/v1/search", Params{{Key: "text", Value: "berlin"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Body.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(res.Body.Features))
	}
	if res.URL != srv.URL+"/v1/search?text=berlin&api_key=K" {
		t.Fatalf("unexpected url %q", res.URL)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", res.Warnings)
	}
	if gotUA != userAgent {
		t.Fatalf("expected user agent %q, got %q", userAgent, gotUA)
	}
	if gotCT != "application/json" {
		t.Fatalf("expected json content type, got %q", gotCT)
	}
	if c.sent.len() != 1 {
		t.Fatalf("expected 1 recorded send, got %d", c.sent.len())
	}
}

func TestRequest_PostBody(t *testing.T) {
	var method string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	c, err := New(testProvider(srv.URL, "", 5, provider.UnitSecond))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Request(context.Background(), "/v1/search", nil, WithPostBody(map[string]string{"text": "x"})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != http.MethodPost {
		t.Fatalf("expected POST, got %s", method)
	}
	if payload["text"] != "x" {
		t.Fatalf("expected body to be forwarded, got %v", payload)
	}
}

func TestRequest_ClassifiesErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    Kind
		message string
	}{
		{"forbidden", http.StatusForbidden, `{}`, KindInvalidKey, invalidKeyMessage},
		{"bad request", http.StatusBadRequest, `{"geocoding":{"errors":["bad"]}}`, KindAPIError, "bad"},
		{"bad request without body", http.StatusBadRequest, ``, KindAPIError, ""},
		{"server error", http.StatusInternalServerError, `boom`, KindGenericServer, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			c, err := New(testProvider(srv.URL, "", 5, provider.UnitSecond))
			if err != nil {
				t.Fatal(err)
			}

			_, err = c.Request(context.Background(), "/v1/search", nil)
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if apiErr.Kind != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, apiErr.Kind)
			}
			if apiErr.Status != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, apiErr.Status)
			}
			if !strings.Contains(apiErr.Message(), tc.message) {
				t.Fatalf("expected message to contain %q, got %q", tc.message, apiErr.Message())
			}
			if tc.kind == KindGenericServer && string(apiErr.Body) != tc.body {
				t.Fatalf("expected raw body %q, got %q", tc.body, apiErr.Body)
			}
		})
	}
}

func TestRequest_OverQueryLimitSleepsUntilOldestSendLeavesWindow(t *testing.T) {
	clock := newFakeClock()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 4 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"geocoding":{"errors":["rate limit exceeded"]}}`)
			return
		}
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	var slept []time.Duration
	var notified []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		clock.Advance(d)
		return nil
	}

	c, err := New(
		testProvider(srv.URL, "", 3, provider.UnitSecond),
		WithClock(clock.Now, sleep),
		WithOverQueryLimit(func(d time.Duration) { notified = append(notified, d) }),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	firstSend := clock.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Request(ctx, "/v1/search", nil); err != nil {
			t.Fatalf("send %d: %v", i+1, err)
		}
		clock.Advance(100 * time.Millisecond)
	}

	if _, err := c.Request(ctx, "/v1/search", nil); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	want := time.Second - (firstSend.Add(300 * time.Millisecond).Sub(firstSend))
	if len(slept) != 1 || slept[0] != want {
		t.Fatalf("expected one sleep of %s, got %v", want, slept)
	}
	if len(notified) != 1 || notified[0] != want {
		t.Fatalf("expected over-limit callback with %s, got %v", want, notified)
	}
	if hits.Load() != 5 {
		t.Fatalf("expected 5 HTTP calls, got %d", hits.Load())
	}
	if c.sent.len() != 3 {
		t.Fatalf("expected window capped at 3, got %d", c.sent.len())
	}
}

func TestRequest_RetryKeepsFirstRequestTime(t *testing.T) {
	clock := newFakeClock()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sleep := func(_ context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}

	c, err := New(
		testProvider(srv.URL, "", 1, provider.UnitMinute),
		WithRetryTimeout(90*time.Second),
		WithClock(clock.Now, sleep),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Request(context.Background(), "/v1/search", nil)
	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	// Empty window waits a full minute per attempt: t=0, t=60s, then 120s > 90s.
	if hits.Load() != 2 {
		t.Fatalf("expected 2 HTTP calls before the budget ran out, got %d", hits.Load())
	}
}

func TestRequest_TimeoutBeforeDispatch(t *testing.T) {
	clock := newFakeClock()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	c, err := New(
		testProvider(srv.URL, "", 1, provider.UnitSecond),
		WithRetryTimeout(5*time.Second),
		WithClock(clock.Now, nil),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Request(context.Background(), "/v1/search", nil, WithFirstRequestTime(clock.Now().Add(-6*time.Second)))
	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no HTTP call, got %d", hits.Load())
	}
}

func TestRequest_OverQueryLimitWithEmptyWindowWaitsFullWindow(t *testing.T) {
	clock := newFakeClock()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	var notified []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}

	c, err := New(
		testProvider(srv.URL, "", 5, provider.UnitSecond),
		WithClock(clock.Now, sleep),
		WithOverQueryLimit(func(d time.Duration) { notified = append(notified, d) }),
	)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Request(context.Background(), "/v1/search", nil); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(notified) != 1 || notified[0] != time.Second {
		t.Fatalf("expected one over-limit callback of 1s, got %v", notified)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 HTTP calls, got %d", hits.Load())
	}
}

func TestRequest_CancelDuringBackoffStopsRetrying(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// real sleep on a one minute window
	c, err := New(
		testProvider(srv.URL, "", 1, provider.UnitMinute),
		WithOverQueryLimit(func(time.Duration) { cancel() }),
	)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = c.Request(ctx, "/v1/search", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected exactly 1 HTTP call, got %d", hits.Load())
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("expected cancellation to interrupt the backoff, took %s", elapsed)
	}
}

func TestRequest_TransportFailureIsNotClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c, err := New(testProvider(srv.URL, "", 1, provider.UnitSecond))
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Request(context.Background(), "/v1/search", nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if _, ok := KindOf(err); ok {
		t.Fatalf("expected unclassified error, got %v", err)
	}
}

type memoryCache struct {
	items map[string][]byte
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	body, ok := m.items[key]
	return body, ok, nil
}

func (m *memoryCache) Set(_ context.Context, key string, body []byte) error {
	m.items[key] = body
	return nil
}

func TestRequest_CacheHitSkipsHTTP(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	cache := &memoryCache{items: map[string][]byte{}}
	c, err := New(testProvider(srv.URL, "", 5, provider.UnitSecond), WithCache(cache))
	if err != nil {
		t.Fatal(err)
	}

	params := Params{{Key: "text", Value: "berlin"}}
	first, err := c.Request(context.Background(), "/v1/search", params)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Request(context.Background(), "/v1/search", params)
	if err != nil {
		t.Fatal(err)
	}

	if hits.Load() != 1 {
		t.Fatalf("expected a single HTTP call, got %d", hits.Load())
	}
	if first.Cached || !second.Cached {
		t.Fatalf("expected only the second result to be cached: %v %v", first.Cached, second.Cached)
	}
	if second.Body.Features[0].Properties["name"] != "Berlin" {
		t.Fatalf("unexpected cached body %+v", second.Body)
	}
}

func TestRedactKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://x/v1/search?text=a&api_key=K", "https://x/v1/search?text=a&api_key=REDACTED"},
		{"https://x/v1/search?api_key=K", "https://x/v1/search?api_key=REDACTED"},
		{"https://x/v1/search?api_key=K&text=a", "https://x/v1/search?api_key=REDACTED&text=a"},
		{"https://x/v1/search?text=a", "https://x/v1/search?text=a"},
	}
	for _, tt := range tests {
		if got := RedactKey(tt.in); got != tt.want {
			t.Errorf("RedactKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
