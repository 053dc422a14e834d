package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/Sternrassler/resilient-fetch/pkg/metrics"
	"github.com/Sternrassler/resilient-fetch/pkg/offline"
	"github.com/Sternrassler/resilient-fetch/pkg/offline/storage"
	"github.com/Sternrassler/resilient-fetch/pkg/retry"
	"github.com/rs/zerolog"
)

// server wires the offline controller in front of an upstream origin.
type server struct {
	cfg      Config
	upstream *url.URL
	store    storage.Storage
	reg      *offline.Registration
	fetcher  offline.Fetcher
	queue    *offline.Queue
	precache *retry.Executor
	logger   zerolog.Logger
}

func newServer(cfg Config, store storage.Storage, base http.RoundTripper, logger zerolog.Logger) (*server, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if base == nil {
		base = http.DefaultTransport
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.PrecacheRetries
	precache, err := retry.NewExecutor(policy, retry.WithLogger(logger), retry.WithName("precache"))
	if err != nil {
		return nil, err
	}

	// Redirects are passed through to the browser, never followed here.
	httpClient := &http.Client{
		Transport: base,
		Timeout:   cfg.UpstreamTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &server{
		cfg:      cfg,
		upstream: upstream,
		store:    store,
		reg:      offline.NewRegistration(&logger),
		fetcher:  offline.HTTPFetcher{Client: httpClient},
		queue:    offline.NewQueue(offline.WithQueueName("proxy")),
		precache: precache,
		logger:   logger,
	}, nil
}

// controllerConfig builds the controller configuration for version.
func (s *server) controllerConfig(version string, precacheURLs []string) offline.Config {
	if len(precacheURLs) == 0 {
		precacheURLs = s.cfg.PrecacheURLs
	}
	cfg := offline.Config{
		Origin:            s.upstream.Scheme + "://" + s.upstream.Host,
		Version:           version,
		PrecacheURLs:      precacheURLs,
		OfflineURL:        s.cfg.OfflineURL,
		Storage:           s.store,
		Fetcher:           s.fetcher,
		PrecacheRetry:     s.precache,
		MaxDynamicEntries: s.cfg.MaxDynamicEntries,
		Logger:            &s.logger,
	}
	if s.cfg.QueueOfflineWrites {
		cfg.SyncHandlers = map[string]offline.SyncHandler{
			offline.DefaultSyncTag: s.queue.SyncHandler(s.fetcher),
		}
	}
	return cfg
}

// routes returns the HTTP handler for the proxy.
func (s *server) routes() http.Handler {
	var transport http.RoundTripper = s.reg.Transport(s.fetcherTransport())
	if s.cfg.QueueOfflineWrites {
		transport = &queueingTransport{next: transport, queue: s.queue, logger: s.logger}
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(s.upstream)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Upstream request failed")
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /_sw/sync", s.handleSync)
	mux.HandleFunc("POST /_sw/push", s.handlePush)
	mux.HandleFunc("POST /_sw/notificationclick", s.handleNotificationClick)
	mux.HandleFunc("POST /_sw/update", s.handleUpdate)
	mux.Handle("/", proxy)
	return mux
}

// fetcherTransport is the transport unhandled requests take. It shares the
// fetcher's client so both paths see the same timeouts.
func (s *server) fetcherTransport() http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return s.fetcher.Fetch(req.Context(), req)
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = offline.DefaultSyncTag
	}
	if err := s.reg.Sync(r.Context(), tag); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handlePush(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if err := s.reg.Push(r.Context(), data); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type notificationClickRequest struct {
	Action       string               `json:"action"`
	Notification offline.Notification `json:"notification"`
}

func (s *server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var req notificationClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.reg.NotificationClick(r.Context(), req.Action, req.Notification); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateRequest struct {
	Version      string   `json:"version"`
	PrecacheURLs []string `json:"precache_urls,omitempty"`
}

type updateResponse struct {
	Version string `json:"version"`
	State   string `json:"state"`
}

func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Version) == "" {
		http.Error(w, "version is required", http.StatusBadRequest)
		return
	}

	c, err := s.reg.Register(r.Context(), s.controllerConfig(req.Version, req.PrecacheURLs))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updateResponse{Version: c.Version(), State: string(c.State())})
}

// writeError maps controller errors to status codes.
func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, offline.ErrNoActiveController):
		status = http.StatusServiceUnavailable
	case errors.Is(err, offline.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, offline.ErrInvalidPushPayload):
		status = http.StatusBadRequest
	case errors.Is(err, offline.ErrInstallFailed):
		status = http.StatusBadGateway
	}
	s.logger.Warn().Err(err).Int("status", status).Msg("Control request failed")
	http.Error(w, err.Error(), status)
}

// queueingTransport queues writes that fail at the network level and
// answers them with 202 Accepted. They are replayed on the next sync.
type queueingTransport struct {
	next   http.RoundTripper
	queue  *offline.Queue
	logger zerolog.Logger
}

func (t *queueingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		return t.next.RoundTrip(req)
	}

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = b
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	resp, err := t.next.RoundTrip(out)
	if err == nil {
		return resp, nil
	}

	queued := req.Clone(req.Context())
	queued.Body = io.NopCloser(bytes.NewReader(body))
	if qerr := t.queue.Enqueue(queued); qerr != nil {
		return nil, errors.Join(err, qerr)
	}
	t.logger.Info().
		Err(err).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("queued", t.queue.Len()).
		Msg("Write queued for background sync")

	return &http.Response{
		StatusCode: http.StatusAccepted,
		Status:     "202 Accepted",
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"X-Offline-Queued": {"true"}},
		Body:       http.NoBody,
		Request:    req,
	}, nil
}
