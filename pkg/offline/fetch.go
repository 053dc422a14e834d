package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/resilient-fetch/pkg/offline/storage"
)

// Fetcher performs the network request for an intercepted request.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher is a Fetcher backed by an *http.Client.
type HTTPFetcher struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// Fetch implements Fetcher.
func (f HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	out := req.Clone(ctx)
	out.RequestURI = ""
	return client.Do(out)
}

// Fetch outcomes recorded in metrics and logs.
const (
	outcomePassThrough     = "passthrough"
	outcomeCacheHit        = "cache_hit"
	outcomeNetworkCached   = "network_cached"
	outcomeNetworkUncached = "network_uncached"
	outcomeOfflineFallback = "offline_fallback"
	outcomeNetworkError    = "network_error"
)

// HandleFetch dispatches a FetchEvent for req. handled is false when the
// controller leaves the request to default handling (non-GET, non-http(s),
// or the controller is not activated). When handled, err is the network
// error of a failed sub-resource request.
func (c *Controller) HandleFetch(ctx context.Context, req *http.Request) (resp *http.Response, handled bool, err error) {
	ev := &FetchEvent{Request: req}
	if err := c.Dispatch(ctx, ev); err != nil {
		return nil, ev.Handled, err
	}
	return ev.Response, ev.Handled, nil
}

func (c *Controller) handleFetch(ctx context.Context, event Event) error {
	ev := event.(*FetchEvent)
	req := ev.Request

	if c.State() != StateActivated || !interceptable(req) {
		fetchTotal.WithLabelValues(outcomePassThrough).Inc()
		return nil
	}
	ev.Handled = true

	key := storage.RequestKey(req)
	logger := c.logger.With().Str("url", req.URL.String()).Logger()

	// Cache-first across all partitions, no freshness check.
	entry, err := c.cfg.Storage.Match(ctx, key)
	switch {
	case err == nil:
		fetchTotal.WithLabelValues(outcomeCacheHit).Inc()
		logger.Debug().Str("outcome", outcomeCacheHit).Msg("Served from cache")
		ev.Response = entry.Response(req)
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		logger.Warn().Err(err).Msg("Cache lookup failed, falling back to network")
	}

	resp, err := c.cfg.Fetcher.Fetch(ctx, req)
	if err != nil {
		if isNavigation(req) {
			if fallback := c.offlinePage(ctx, req); fallback != nil {
				fetchTotal.WithLabelValues(outcomeOfflineFallback).Inc()
				logger.Warn().Err(err).Str("outcome", outcomeOfflineFallback).Msg("Network failed, serving offline page")
				ev.Response = fallback
				return nil
			}
		}
		fetchTotal.WithLabelValues(outcomeNetworkError).Inc()
		logger.Debug().Err(err).Str("outcome", outcomeNetworkError).Msg("Network request failed")
		return err
	}
	if resp == nil {
		fetchTotal.WithLabelValues(outcomeNetworkError).Inc()
		return fmt.Errorf("fetch %s: %w", req.URL, ErrNoResponse)
	}

	if resp.StatusCode != http.StatusOK || !c.isBasic(req, resp) {
		fetchTotal.WithLabelValues(outcomeNetworkUncached).Inc()
		logger.Debug().
			Int("status_code", resp.StatusCode).
			Str("outcome", outcomeNetworkUncached).
			Msg("Response not cacheable")
		ev.Response = resp
		return nil
	}

	// FromResponse buffers the body and hands resp back with a fresh reader,
	// so the stored copy and the returned original are independent.
	stored, err := storage.FromResponse(resp)
	if err != nil {
		fetchTotal.WithLabelValues(outcomeNetworkError).Inc()
		return fmt.Errorf("read response %s: %w", req.URL, err)
	}
	stored.URL = req.URL.String()
	ev.Response = resp

	if !c.putDynamic(ctx, key, stored) {
		fetchTotal.WithLabelValues(outcomeNetworkUncached).Inc()
		logger.Debug().Str("outcome", outcomeNetworkUncached).Msg("Fetched, not cached")
		return nil
	}
	fetchTotal.WithLabelValues(outcomeNetworkCached).Inc()
	logger.Debug().Str("outcome", outcomeNetworkCached).Msg("Fetched and cached")
	return nil
}

// interceptable reports whether req is a GET over http or https.
func interceptable(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet {
		return false
	}
	return req.URL.Scheme == "http" || req.URL.Scheme == "https"
}

// isNavigation reports whether req loads a full document.
func isNavigation(req *http.Request) bool {
	switch req.Header.Get("Sec-Fetch-Dest") {
	case "document":
		return true
	case "":
		return req.Header.Get("Sec-Fetch-Mode") == "navigate"
	default:
		return false
	}
}

// isBasic reports whether resp is a same-origin response. Cross-origin
// responses are treated like opaque/cors responses and never cached.
func (c *Controller) isBasic(req *http.Request, resp *http.Response) bool {
	u := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL
	}
	return u.Scheme == c.origin.Scheme && u.Host == c.origin.Host
}

// offlinePage returns the precached offline page, or nil if it is missing.
func (c *Controller) offlinePage(ctx context.Context, req *http.Request) *http.Response {
	static, err := c.cfg.Storage.Lookup(ctx, c.staticName)
	if err != nil {
		if !errors.Is(err, storage.ErrNoPartition) {
			c.logger.Warn().Err(err).Msg("Failed to open static partition")
		}
		return nil
	}
	entry, err := static.Match(ctx, c.offlineKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn().Err(err).Msg("Failed to read offline page")
		}
		return nil
	}
	return entry.Response(req)
}

// putDynamic stores entry in the dynamic partition and trims the partition
// to MaxDynamicEntries. It reports whether the entry was stored. Only an
// activated controller writes; once retire returns, a superseded version can
// no longer recreate its partition. Failures are logged; the response is
// served anyway.
func (c *Controller) putDynamic(ctx context.Context, key string, entry *storage.Entry) bool {
	c.writeMu.RLock()
	defer c.writeMu.RUnlock()

	if state := c.State(); state != StateActivated {
		c.logger.Debug().Str("state", string(state)).Str("key", key).Msg("Skipping cache write")
		return false
	}

	dynamic, err := c.cfg.Storage.Open(ctx, c.dynamicName)
	if err != nil {
		c.logger.Warn().Err(err).Str("partition", c.dynamicName).Msg("Failed to open dynamic partition")
		return false
	}
	if err := dynamic.Put(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("partition", c.dynamicName).Msg("Failed to cache response")
		return false
	}

	if c.cfg.MaxDynamicEntries < 0 {
		return true
	}
	keys, err := dynamic.Keys(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to list dynamic entries")
		return true
	}
	for i := 0; i < len(keys)-c.cfg.MaxDynamicEntries; i++ {
		if _, err := dynamic.Delete(ctx, keys[i]); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to evict dynamic entry")
			return true
		}
		dynamicEvictionsTotal.Inc()
	}
	return true
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}
