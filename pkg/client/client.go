// Package client provides an HTTP API client with response memoization and
// retry with exponential backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/resilient-fetch/pkg/cache"
	"github.com/Sternrassler/resilient-fetch/pkg/logging"
	"github.com/Sternrassler/resilient-fetch/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_client_requests_total",
		Help: "Total upstream requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resilience_client_request_duration_seconds",
		Help:    "Upstream request duration in seconds by method, including retries",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_client_errors_total",
		Help: "Total failed upstream attempts by error class",
	}, []string{"class"})
)

// Defaults applied by New.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultCacheTTL = 60 * time.Second
)

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) clone() *Response {
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       append([]byte(nil), r.Body...),
	}
}

// Client is an API client. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	cache      *cache.TTLCache[*Response]
	executor   *retry.Executor
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is prepended to request paths (REQUIRED).
	BaseURL string

	// User-Agent header sent with every request (REQUIRED).
	UserAgent string

	// Timeout bounds a single attempt. Ignored when HTTPClient is set.
	Timeout time.Duration

	// DefaultTTL applies to cached GET responses without WithTTL.
	DefaultTTL time.Duration

	// Cache memoizes GET responses. A private cache is created if nil.
	Cache *cache.TTLCache[*Response]

	// Executor retries transient failures. DefaultPolicy is used if nil.
	Executor *retry.Executor

	// HTTPClient performs the requests (optional).
	HTTPClient *http.Client
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:    baseURL,
		UserAgent:  userAgent,
		Timeout:    DefaultTimeout,
		DefaultTTL: DefaultCacheTTL,
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultCacheTTL
	}

	if cfg.Cache == nil {
		cfg.Cache = cache.New[*Response](cache.WithName("http-client"))
	}
	if cfg.Executor == nil {
		executor, err := retry.NewExecutor(retry.DefaultPolicy(), retry.WithName("client"))
		if err != nil {
			return nil, err
		}
		cfg.Executor = executor
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		cache:      cfg.Cache,
		executor:   cfg.Executor,
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentClient),
	}, nil
}

type requestOptions struct {
	ttl    time.Duration
	header http.Header
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

// WithTTL overrides the cache TTL of a GET response. A ttl <= 0 bypasses the
// cache for the call.
func WithTTL(ttl time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.ttl = ttl
	}
}

// WithHeader adds a request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Add(key, value)
	}
}

// resolve builds the absolute URL for path.
func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref, nil
	}

	u := *c.baseURL
	u.Path = strings.TrimSuffix(c.baseURL.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return &u, nil
}

// cacheKey derives the memoization key of a GET request.
func cacheKey(u *url.URL, params url.Values) string {
	merged := u.Query()
	for name, values := range params {
		merged[name] = append(merged[name], values...)
	}
	base := *u
	base.RawQuery = ""
	return cache.Key{Method: http.MethodGet, URL: base.String(), Params: merged}.String()
}

// Get performs a GET request. 200 responses are served from and stored in
// the cache.
func (c *Client) Get(ctx context.Context, path string, params url.Values, opts ...RequestOption) (*Response, error) {
	o := requestOptions{ttl: c.config.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}

	u, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	key := cacheKey(u, params)
	useCache := o.ttl > 0

	// Step 1: Check cache
	if useCache {
		if cached, ok := c.cache.Get(key); ok {
			c.logger.Debug().Str("key", key).Msg("Cache hit")
			return cached.clone(), nil
		}
	}

	// Step 2: Fetch with retry
	if len(params) > 0 {
		q := u.Query()
		for name, values := range params {
			for _, v := range values {
				q.Add(name, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	resp, err := c.do(ctx, http.MethodGet, u, nil, "", o.header)
	if err != nil {
		return nil, err
	}

	// Step 3: Cache successful response
	if useCache && resp.StatusCode == http.StatusOK {
		c.cache.SetWithTTL(key, resp.clone(), o.ttl)
		c.logger.Debug().Str("key", key).Dur("ttl", o.ttl).Msg("Cached response")
	}
	return resp, nil
}

// GetJSON performs a GET request and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, v any, opts ...RequestOption) error {
	resp, err := c.Get(ctx, path, params, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Post performs a POST request. Responses are never cached. The body is
// replayed on every retry attempt.
func (c *Client) Post(ctx context.Context, path, contentType string, body []byte, opts ...RequestOption) (*Response, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	u, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, u, body, contentType, o.header)
}

// Invalidate removes the cached GET response for path and params.
func (c *Client) Invalidate(path string, params url.Values) bool {
	u, err := c.resolve(path)
	if err != nil {
		return false
	}
	return c.cache.Delete(cacheKey(u, params))
}

// ClearCache removes every cached response.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// CacheStats reports the state of the response cache.
func (c *Client) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// do executes a request through the retry executor. Status codes >= 400
// become *HTTPError; the executor decides from the status code whether to
// try again.
func (c *Client) do(ctx context.Context, method string, u *url.URL, body []byte, contentType string, header http.Header) (*Response, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("method", method).
		Str("url", u.String()).
		Msg("Executing request")

	return retry.Do(ctx, c.executor, func(ctx context.Context) (*Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		for k, values := range header {
			for _, v := range values {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json")
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			errorsTotal.WithLabelValues(string(retry.Classify(err))).Inc()
			requestsTotal.WithLabelValues(method, "network_error").Inc()
			c.logger.Warn().Err(err).Str("url", u.String()).Msg("HTTP request failed")
			return nil, err
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			errorsTotal.WithLabelValues(string(retry.ErrorClassNetwork)).Inc()
			return nil, fmt.Errorf("read response body: %w", err)
		}
		requestsTotal.WithLabelValues(method, strconv.Itoa(httpResp.StatusCode)).Inc()

		if httpResp.StatusCode >= 400 {
			herr := &HTTPError{
				StatusCode: httpResp.StatusCode,
				Method:     method,
				URL:        u.String(),
				Message:    httpResp.Status,
				Body:       data,
			}
			errorsTotal.WithLabelValues(string(retry.Classify(herr))).Inc()
			c.logger.Warn().
				Str("url", u.String()).
				Int("status", httpResp.StatusCode).
				Str("error_class", string(retry.Classify(herr))).
				Msg("Upstream returned error status")
			return nil, herr
		}

		return &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header.Clone(),
			Body:       data,
		}, nil
	})
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
