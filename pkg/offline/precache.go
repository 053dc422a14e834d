package offline

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Sternrassler/resilient-fetch/pkg/offline/storage"
	"github.com/Sternrassler/resilient-fetch/pkg/retry"
	"golang.org/x/sync/errgroup"
)

// precacheAll fetches every precache URL in parallel and stores them in the
// static partition only if all of them succeeded. The first failure cancels
// the remaining fetches.
func (c *Controller) precacheAll(ctx context.Context) error {
	entries := make([]*storage.Entry, len(c.precache))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.PrecacheConcurrency)

	for i, rawURL := range c.precache {
		g.Go(func() error {
			entry, err := c.precacheOne(gctx, rawURL)
			if err != nil {
				return fmt.Errorf("precache %s: %w", rawURL, err)
			}
			entries[i] = entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	static, err := c.cfg.Storage.Open(ctx, c.staticName)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.staticName, err)
	}

	for i, entry := range entries {
		key, err := storage.URLKey(c.precache[i])
		if err != nil {
			return err
		}
		if err := static.Put(ctx, key, entry); err != nil {
			if _, derr := c.cfg.Storage.Delete(ctx, c.staticName); derr != nil {
				c.logger.Warn().Err(derr).Str("partition", c.staticName).Msg("Failed to drop partial precache")
			}
			return fmt.Errorf("store %s: %w", c.precache[i], err)
		}
	}
	return nil
}

// precacheOne fetches a single URL. Anything but a 2xx response fails.
func (c *Controller) precacheOne(ctx context.Context, rawURL string) (*storage.Entry, error) {
	fetch := func(ctx context.Context) (*storage.Entry, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.cfg.Fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, ErrNoResponse
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			closeBody(resp)
			return nil, retry.NewStatusError(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
		}

		entry, err := storage.FromResponse(resp)
		if err != nil {
			return nil, err
		}
		entry.URL = rawURL
		return entry, nil
	}

	if c.cfg.PrecacheRetry == nil {
		return fetch(ctx)
	}
	return retry.Do(ctx, c.cfg.PrecacheRetry, fetch)
}
