package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultSyncTag is the tag the write queue registers under.
const DefaultSyncTag = "background-sync"

// SyncHandler performs deferred work when connectivity returns.
type SyncHandler func(ctx context.Context) error

// Sync dispatches a SyncEvent for tag.
func (c *Controller) Sync(ctx context.Context, tag string) error {
	return c.Dispatch(ctx, &SyncEvent{Tag: tag})
}

func (c *Controller) handleSync(ctx context.Context, event Event) error {
	ev := event.(*SyncEvent)

	handler, ok := c.cfg.SyncHandlers[ev.Tag]
	if !ok {
		syncTotal.WithLabelValues(ev.Tag, "ignored").Inc()
		c.logger.Debug().Str("tag", ev.Tag).Msg("No handler for sync tag")
		return nil
	}

	if err := handler(ctx); err != nil {
		syncTotal.WithLabelValues(ev.Tag, "failure").Inc()
		c.logger.Warn().Err(err).Str("tag", ev.Tag).Msg("Sync failed")
		return fmt.Errorf("sync %q: %w", ev.Tag, err)
	}

	syncTotal.WithLabelValues(ev.Tag, "success").Inc()
	c.logger.Info().Str("tag", ev.Tag).Msg("Sync completed")
	return nil
}

// queuedRequest is a buffered copy of a write that failed while offline.
type queuedRequest struct {
	method string
	url    string
	header http.Header
	body   []byte
}

func (q queuedRequest) request(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, q.method, q.url, bytes.NewReader(q.body))
	if err != nil {
		return nil, err
	}
	req.Header = q.header.Clone()
	return req, nil
}

// Queue holds writes that could not reach the network. Replay sends them
// in the order they were enqueued.
type Queue struct {
	name    string
	length  prometheus.Gauge
	mu      sync.Mutex
	pending []queuedRequest
}

// DefaultQueueName labels the length gauge of a queue created without
// WithQueueName.
const DefaultQueueName = "default"

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueName sets the queue label of the length gauge. Queues sharing a
// name share the gauge.
func WithQueueName(name string) QueueOption {
	return func(q *Queue) {
		if name != "" {
			q.name = name
		}
	}
}

// NewQueue returns an empty queue.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{name: DefaultQueueName}
	for _, opt := range opts {
		opt(q)
	}
	q.length = queueLength.WithLabelValues(q.name)
	q.length.Set(0)
	return q
}

// Name returns the queue's metrics label.
func (q *Queue) Name() string {
	return q.name
}

// Enqueue buffers req, including its body.
func (q *Queue) Enqueue(req *http.Request) error {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
		body = b
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, queuedRequest{
		method: req.Method,
		url:    req.URL.String(),
		header: req.Header.Clone(),
		body:   body,
	})
	q.length.Set(float64(len(q.pending)))
	return nil
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Replay sends every pending request through f. Requests that fail with a
// network error or a 5xx status stay queued in their original order; all
// others are dropped. The returned error joins every failure.
func (q *Queue) Replay(ctx context.Context, f Fetcher) error {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	var (
		failed []queuedRequest
		errs   []error
	)
	for i, item := range pending {
		if err := ctx.Err(); err != nil {
			failed = append(failed, pending[i:]...)
			errs = append(errs, err)
			break
		}

		req, err := item.request(ctx)
		if err != nil {
			// Unbuildable requests can never succeed.
			errs = append(errs, fmt.Errorf("%s %s: %w", item.method, item.url, err))
			continue
		}

		resp, err := f.Fetch(ctx, req)
		if err != nil {
			failed = append(failed, item)
			errs = append(errs, fmt.Errorf("%s %s: %w", item.method, item.url, err))
			continue
		}
		if resp == nil {
			failed = append(failed, item)
			errs = append(errs, fmt.Errorf("%s %s: %w", item.method, item.url, ErrNoResponse))
			continue
		}
		closeBody(resp)
		if resp.StatusCode >= 500 {
			failed = append(failed, item)
			errs = append(errs, fmt.Errorf("%s %s: status %d", item.method, item.url, resp.StatusCode))
		}
	}

	q.mu.Lock()
	// Requests enqueued during the replay go after the retained ones.
	q.pending = append(failed, q.pending...)
	q.length.Set(float64(len(q.pending)))
	q.mu.Unlock()

	return errors.Join(errs...)
}

// SyncHandler returns a handler that replays the queue through f.
func (q *Queue) SyncHandler(f Fetcher) SyncHandler {
	return func(ctx context.Context) error {
		return q.Replay(ctx, f)
	}
}
