package offline

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/Sternrassler/resilient-fetch/pkg/logging"
	"github.com/rs/zerolog"
)

// ErrNoActiveController is returned by Registration operations that need an
// activated controller before one was registered.
var ErrNoActiveController = errors.New("offline: no active controller")

// Registration tracks the active controller across deployments. A new
// version replaces the active one only after it installed successfully.
type Registration struct {
	logger zerolog.Logger

	// registerMu serializes Register calls.
	registerMu sync.Mutex

	mu     sync.RWMutex
	active *Controller
}

// NewRegistration returns an empty registration. A nil logger uses the
// offline-controller component logger.
func NewRegistration(logger *zerolog.Logger) *Registration {
	l := logging.NewLogger(logging.ComponentOffline)
	if logger != nil {
		l = *logger
	}
	return &Registration{logger: l}
}

// Register installs a controller for cfg and, on success, activates it in
// place of the current one. When the install fails the current controller
// stays active and the error is returned. Registering the active version
// again is a no-op.
func (r *Registration) Register(ctx context.Context, cfg Config) (*Controller, error) {
	r.registerMu.Lock()
	defer r.registerMu.Unlock()

	previous := r.Active()
	if previous != nil && previous.Version() == cfg.Version {
		return previous, nil
	}

	if cfg.Logger == nil {
		cfg.Logger = &r.logger
	}
	next, err := New(cfg)
	if err != nil {
		return nil, err
	}

	if err := next.Install(ctx); err != nil {
		event := r.logger.Warn().Err(err).Str("version", cfg.Version)
		if previous != nil {
			event = event.Str("active_version", previous.Version())
		}
		event.Msg("New version failed to install, keeping active version")
		return nil, err
	}

	// skipWaiting: take over immediately instead of waiting for clients of
	// the previous version to go away.
	if previous != nil {
		previous.retire()
		activeVersion.DeleteLabelValues(previous.Version())
	}
	r.mu.Lock()
	r.active = next
	r.mu.Unlock()

	if err := next.Activate(ctx); err != nil {
		return nil, err
	}
	activeVersion.WithLabelValues(next.Version()).Set(1)

	r.logger.Info().Str("version", next.Version()).Msg("Version activated")
	return next, nil
}

// Active returns the controller currently handling events, or nil.
func (r *Registration) Active() *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Sync forwards a sync event to the active controller.
func (r *Registration) Sync(ctx context.Context, tag string) error {
	c := r.Active()
	if c == nil {
		return ErrNoActiveController
	}
	return c.Sync(ctx, tag)
}

// Push forwards a push message to the active controller.
func (r *Registration) Push(ctx context.Context, data []byte) error {
	c := r.Active()
	if c == nil {
		return ErrNoActiveController
	}
	return c.Push(ctx, data)
}

// NotificationClick forwards a notification click to the active controller.
func (r *Registration) NotificationClick(ctx context.Context, action string, n Notification) error {
	c := r.Active()
	if c == nil {
		return ErrNoActiveController
	}
	return c.NotificationClick(ctx, action, n)
}

// Transport returns a RoundTripper that lets the active controller intercept
// requests. Requests it does not handle go to base (http.DefaultTransport
// if nil).
func (r *Registration) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &controllerTransport{reg: r, base: base}
}

type controllerTransport struct {
	reg  *Registration
	base http.RoundTripper
}

func (t *controllerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c := t.reg.Active()
	if c == nil {
		return t.base.RoundTrip(req)
	}

	resp, handled, err := c.HandleFetch(req.Context(), req)
	if !handled {
		return t.base.RoundTrip(req)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
