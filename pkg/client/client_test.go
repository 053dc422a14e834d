package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/resilient-fetch/internal/testutil"
	"github.com/Sternrassler/resilient-fetch/pkg/cache"
	"github.com/Sternrassler/resilient-fetch/pkg/retry"
)

const testUserAgent = "ShopFrontend/1.0.0 (test@example.com)"

// noWait is a retry sleeper that returns immediately.
func noWait(context.Context, time.Duration) error { return nil }

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// setupClient creates a client against mock with fast retries.
func setupClient(t *testing.T, mock *testutil.MockOrigin, mutate ...func(*Config)) *Client {
	t.Helper()

	executor, err := retry.NewExecutor(retry.Policy{
		MaxRetries:           3,
		InitialDelay:         10 * time.Millisecond,
		MaxDelay:             100 * time.Millisecond,
		Multiplier:           2,
		RetryableStatusCodes: retry.DefaultRetryableStatusCodes,
	}, retry.WithSleeper(noWait))
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	cfg := DefaultConfig(mock.URL(), testUserAgent)
	cfg.Executor = executor
	cfg.HTTPClient = mock.Client()
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("https://api.example", testUserAgent),
			expectError: false,
		},
		{
			name:        "missing base url",
			config:      DefaultConfig("", testUserAgent),
			expectError: true,
		},
		{
			name:        "relative base url",
			config:      DefaultConfig("/api", testUserAgent),
			expectError: true,
		},
		{
			name:        "missing user agent",
			config:      DefaultConfig("https://api.example", ""),
			expectError: true,
		},
		{
			name:        "zero values get defaults",
			config:      Config{BaseURL: "https://api.example", UserAgent: testUserAgent},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("New() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if c.config.DefaultTTL != DefaultCacheTTL {
				t.Errorf("DefaultTTL = %v, want %v", c.config.DefaultTTL, DefaultCacheTTL)
			}
			if c.cache == nil || c.executor == nil {
				t.Error("cache and executor should be created when not injected")
			}
		})
	}
}

func TestClient_GetCachesResponses(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/api/products", testutil.NewJSONResponse(`[{"id":1}]`))

	c := setupClient(t, mock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp, err := c.Get(ctx, "/api/products", nil)
		if err != nil {
			t.Fatalf("Get() #%d error = %v", i, err)
		}
		if string(resp.Body) != `[{"id":1}]` {
			t.Errorf("Get() #%d body = %q", i, resp.Body)
		}
	}

	if got := mock.PathCount("/api/products"); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
	if stats := c.CacheStats(); stats.Total != 1 || stats.Valid != 1 {
		t.Errorf("CacheStats() = %+v, want 1 valid entry", stats)
	}
}

func TestClient_GetParamsAreKeyed(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetHandler("/api/products", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Query().Get("page")))
	})

	c := setupClient(t, mock)
	ctx := context.Background()

	for _, page := range []string{"1", "2", "1"} {
		resp, err := c.Get(ctx, "/api/products", url.Values{"page": {page}})
		if err != nil {
			t.Fatalf("Get(page=%s) error = %v", page, err)
		}
		if string(resp.Body) != page {
			t.Errorf("Get(page=%s) body = %q", page, resp.Body)
		}
	}

	if got := mock.PathCount("/api/products"); got != 2 {
		t.Errorf("upstream requests = %d, want 2", got)
	}
}

func TestClient_GetParamsWithSeparatorsAreDistinct(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetHandler("/api/products", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.RawQuery))
	})

	c := setupClient(t, mock)
	ctx := context.Background()

	first, err := c.Get(ctx, "/api/products", url.Values{"tag": {"a", "b"}})
	if err != nil {
		t.Fatalf("Get(tag=a&tag=b) error = %v", err)
	}
	second, err := c.Get(ctx, "/api/products", url.Values{"tag": {"a,b"}})
	if err != nil {
		t.Fatalf("Get(tag=a,b) error = %v", err)
	}

	if string(first.Body) != "tag=a&tag=b" {
		t.Errorf("first body = %q", first.Body)
	}
	if string(second.Body) != "tag=a%2Cb" {
		t.Errorf("second body = %q, want tag=a%%2Cb", second.Body)
	}
	if got := mock.PathCount("/api/products"); got != 2 {
		t.Errorf("upstream requests = %d, want 2", got)
	}
}

func TestClient_CacheExpiry(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/api/categories", testutil.NewJSONResponse(`[]`))

	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := setupClient(t, mock, func(cfg *Config) {
		cfg.Cache = cache.New[*Response](cache.WithClock(clock.Now))
	})
	ctx := context.Background()

	if _, err := c.Get(ctx, "/api/categories", nil, WithTTL(time.Hour)); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	clock.Advance(59 * time.Minute)
	if _, err := c.Get(ctx, "/api/categories", nil, WithTTL(time.Hour)); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mock.PathCount("/api/categories"); got != 1 {
		t.Errorf("upstream requests before expiry = %d, want 1", got)
	}

	clock.Advance(time.Minute)
	if _, err := c.Get(ctx, "/api/categories", nil, WithTTL(time.Hour)); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mock.PathCount("/api/categories"); got != 2 {
		t.Errorf("upstream requests after expiry = %d, want 2", got)
	}
}

func TestClient_WithTTLZeroBypassesCache(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/api/cart", testutil.NewJSONResponse(`{}`))

	c := setupClient(t, mock)
	for i := 0; i < 2; i++ {
		if _, err := c.Get(context.Background(), "/api/cart", nil, WithTTL(0)); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}

	if got := mock.PathCount("/api/cart"); got != 2 {
		t.Errorf("upstream requests = %d, want 2", got)
	}
	if stats := c.CacheStats(); stats.Total != 0 {
		t.Errorf("CacheStats().Total = %d, want 0", stats.Total)
	}
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetSequence("/api/products",
		testutil.NewServerErrorResponse(),
		testutil.NewRateLimitResponse(),
		testutil.NewJSONResponse(`[]`),
	)

	c := setupClient(t, mock)
	resp, err := c.Get(context.Background(), "/api/products", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := mock.PathCount("/api/products"); got != 3 {
		t.Errorf("upstream requests = %d, want 3", got)
	}
}

func TestClient_PermanentErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/api/products/404", testutil.NewNotFoundResponse())

	c := setupClient(t, mock)
	_, err := c.Get(context.Background(), "/api/products/404", nil)

	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("Get() error = %v, want *HTTPError", err)
	}
	if herr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", herr.StatusCode)
	}
	if string(herr.Body) != `{"error": "Not found"}` {
		t.Errorf("Body = %q", herr.Body)
	}
	if got := mock.PathCount("/api/products/404"); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
	if stats := c.CacheStats(); stats.Total != 0 {
		t.Error("error responses must not be cached")
	}
}

func TestClient_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/api/products", testutil.NewServerErrorResponse())

	c := setupClient(t, mock)
	_, err := c.Get(context.Background(), "/api/products", nil)

	code, ok := retry.StatusCode(err)
	if !ok || code != http.StatusInternalServerError {
		t.Errorf("Get() error = %v, want last 500 error", err)
	}
	// One initial attempt plus MaxRetries.
	if got := mock.PathCount("/api/products"); got != 4 {
		t.Errorf("upstream requests = %d, want 4", got)
	}
}

func TestClient_Headers(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/api/me", testutil.NewJSONResponse(`{}`))

	c := setupClient(t, mock)
	if _, err := c.Get(context.Background(), "/api/me", nil, WithHeader("Authorization", "Bearer abc")); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	header := mock.LastRequestHeader()
	if got := header.Get("User-Agent"); got != testUserAgent {
		t.Errorf("User-Agent = %q, want %q", got, testUserAgent)
	}
	if got := header.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q, want application/json", got)
	}
	if got := header.Get("Authorization"); got != "Bearer abc" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestClient_GetJSON(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/api/products/1", testutil.NewJSONResponse(`{"id":1,"name":"Sneaker"}`))
	mock.SetResponse("/api/broken", testutil.NewJSONResponse(`{`))

	c := setupClient(t, mock)

	var product struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := c.GetJSON(context.Background(), "/api/products/1", nil, &product); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if product.ID != 1 || product.Name != "Sneaker" {
		t.Errorf("product = %+v", product)
	}

	var v map[string]any
	if err := c.GetJSON(context.Background(), "/api/broken", nil, &v); err == nil {
		t.Error("GetJSON() should fail on invalid JSON")
	}
}

func TestClient_PostReplaysBodyAndIsNotCached(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()

	var (
		mu     sync.Mutex
		bodies []string
	)
	calls := 0
	mock.SetHandler("/api/cart", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		calls++
		first := calls == 1
		mu.Unlock()

		if first {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	c := setupClient(t, mock)
	resp, err := c.Post(context.Background(), "/api/cart", "application/json", []byte(`{"sku":"A1"}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", resp.StatusCode)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[0] != `{"sku":"A1"}` || bodies[1] != `{"sku":"A1"}` {
		t.Errorf("bodies = %q, want body sent on both attempts", bodies)
	}
	if stats := c.CacheStats(); stats.Total != 0 {
		t.Error("POST responses must not be cached")
	}
}

func TestClient_InvalidateAndClear(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/api/a", testutil.NewJSONResponse(`"a"`))
	mock.SetResponse("/api/b", testutil.NewJSONResponse(`"b"`))

	c := setupClient(t, mock)
	ctx := context.Background()

	for _, p := range []string{"/api/a", "/api/b"} {
		if _, err := c.Get(ctx, p, nil); err != nil {
			t.Fatalf("Get(%s) error = %v", p, err)
		}
	}

	if !c.Invalidate("/api/a", nil) {
		t.Error("Invalidate(/api/a) = false, want true")
	}
	if c.Invalidate("/api/a", nil) {
		t.Error("second Invalidate(/api/a) = true, want false")
	}
	if _, err := c.Get(ctx, "/api/a", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mock.PathCount("/api/a"); got != 2 {
		t.Errorf("upstream requests for /api/a = %d, want 2", got)
	}

	c.ClearCache()
	if stats := c.CacheStats(); stats.Total != 0 {
		t.Errorf("CacheStats().Total after ClearCache = %d, want 0", stats.Total)
	}
}

func TestClient_CachedResponseIsolation(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/api/a", testutil.NewJSONResponse(`abc`))

	c := setupClient(t, mock)
	ctx := context.Background()

	first, err := c.Get(ctx, "/api/a", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	first.Body[0] = 'X'

	second, err := c.Get(ctx, "/api/a", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(second.Body) != "abc" {
		t.Errorf("cached body = %q, want abc", second.Body)
	}
}

func TestClient_SharedCache(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/api/products", testutil.NewJSONResponse(`[]`))

	shared := cache.New[*Response](cache.WithName("shared"))
	a := setupClient(t, mock, func(cfg *Config) { cfg.Cache = shared })
	b := setupClient(t, mock, func(cfg *Config) { cfg.Cache = shared })

	if _, err := a.Get(context.Background(), "/api/products", nil); err != nil {
		t.Fatalf("a.Get() error = %v", err)
	}
	if _, err := b.Get(context.Background(), "/api/products", nil); err != nil {
		t.Fatalf("b.Get() error = %v", err)
	}
	if got := mock.PathCount("/api/products"); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
}
