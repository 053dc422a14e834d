package offline

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/Sternrassler/resilient-fetch/pkg/logging"
	"github.com/Sternrassler/resilient-fetch/pkg/offline/storage"
	"github.com/Sternrassler/resilient-fetch/pkg/retry"
	"github.com/rs/zerolog"
)

// Partition name prefixes; the version is appended.
const (
	StaticPrefix  = "static-"
	DynamicPrefix = "dynamic-"
)

// Defaults applied by New.
const (
	DefaultOfflineURL          = "/offline"
	DefaultPrecacheConcurrency = 4
	DefaultMaxDynamicEntries   = 200
	DefaultNotificationTitle   = "New notification"
)

// Config holds the controller configuration.
type Config struct {
	// Origin is the scheme and host the controller serves, e.g.
	// "https://shop.example". Only responses from this origin are cached.
	Origin string

	// Version identifies the deployment; partition names derive from it.
	Version string

	// PrecacheURLs are fetched into the static partition at install.
	// Relative URLs resolve against Origin.
	PrecacheURLs []string

	// OfflineURL is served to failed navigations. It is precached even if
	// missing from PrecacheURLs.
	OfflineURL string

	// Storage holds the partitions (required).
	Storage storage.Storage

	// Fetcher performs network requests (required).
	Fetcher Fetcher

	// PrecacheRetry optionally retries transient precache failures before
	// the install is declared failed.
	PrecacheRetry *retry.Executor

	// PrecacheConcurrency bounds parallel precache fetches.
	PrecacheConcurrency int

	// MaxDynamicEntries bounds the dynamic partition; the oldest entries
	// are evicted first. Negative disables the bound.
	MaxDynamicEntries int

	// SyncHandlers maps sync tags to deferred work.
	SyncHandlers map[string]SyncHandler

	// Notifier shows push notifications (defaults to logging them).
	Notifier Notifier

	// Windows opens or focuses windows on notification clicks (defaults to
	// logging the request).
	Windows WindowOpener

	// DefaultNotificationTitle is used when a push carries no payload.
	DefaultNotificationTitle string

	// Logger defaults to the offline-controller component logger.
	Logger *zerolog.Logger
}

// eventHandler is an entry of the dispatch table. A nil allowed list
// accepts the event in every state.
type eventHandler struct {
	allowed []State
	handle  func(ctx context.Context, ev Event) error
}

// Controller is one version of the offline cache controller.
type Controller struct {
	cfg         Config
	origin      *url.URL
	staticName  string
	dynamicName string
	offlineKey  string
	precache    []string
	logger      zerolog.Logger
	handlers    map[EventType]eventHandler

	mu          sync.RWMutex
	state       State
	skipWaiting bool

	// writeMu is held shared by dynamic cache writes and exclusively by
	// retire.
	writeMu sync.RWMutex
}

// New validates cfg and returns a controller in StateParsed.
func New(cfg Config) (*Controller, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if strings.TrimSpace(cfg.Version) == "" {
		return nil, fmt.Errorf("version is required")
	}

	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if (origin.Scheme != "http" && origin.Scheme != "https") || origin.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute http(s) URL (got %q)", cfg.Origin)
	}
	origin = &url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: "/"}

	if cfg.OfflineURL == "" {
		cfg.OfflineURL = DefaultOfflineURL
	}
	if cfg.PrecacheConcurrency <= 0 {
		cfg.PrecacheConcurrency = DefaultPrecacheConcurrency
	}
	if cfg.MaxDynamicEntries == 0 {
		cfg.MaxDynamicEntries = DefaultMaxDynamicEntries
	}
	if cfg.DefaultNotificationTitle == "" {
		cfg.DefaultNotificationTitle = DefaultNotificationTitle
	}

	logger := logging.NewLogger(logging.ComponentOffline)
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("version", cfg.Version).Logger()

	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Logger: logger}
	}
	if cfg.Windows == nil {
		cfg.Windows = LogWindowOpener{Logger: logger}
	}

	c := &Controller{
		cfg:         cfg,
		origin:      origin,
		staticName:  StaticPrefix + cfg.Version,
		dynamicName: DynamicPrefix + cfg.Version,
		logger:      logger,
		state:       StateParsed,
	}

	offline, err := c.resolve(cfg.OfflineURL)
	if err != nil {
		return nil, fmt.Errorf("offline url: %w", err)
	}
	if c.offlineKey, err = storage.URLKey(offline); err != nil {
		return nil, err
	}

	for _, raw := range cfg.PrecacheURLs {
		abs, err := c.resolve(raw)
		if err != nil {
			return nil, fmt.Errorf("precache url: %w", err)
		}
		if !slices.Contains(c.precache, abs) {
			c.precache = append(c.precache, abs)
		}
	}
	if !slices.Contains(c.precache, offline) {
		c.precache = append(c.precache, offline)
	}

	c.handlers = map[EventType]eventHandler{
		EventInstall:           {allowed: []State{StateParsed}, handle: c.handleInstall},
		EventActivate:          {allowed: []State{StateInstalled}, handle: c.handleActivate},
		EventFetch:             {handle: c.handleFetch},
		EventSync:              {allowed: []State{StateActivated}, handle: c.handleSync},
		EventPush:              {allowed: []State{StateActivated}, handle: c.handlePush},
		EventNotificationClick: {allowed: []State{StateActivated}, handle: c.handleNotificationClick},
	}

	return c, nil
}

// resolve turns a possibly relative URL into an absolute one on the origin.
func (c *Controller) resolve(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, err)
	}
	abs := c.origin.ResolveReference(ref)
	abs.Fragment = ""
	return abs.String(), nil
}

// Dispatch routes ev through the dispatch table.
func (c *Controller) Dispatch(ctx context.Context, ev Event) error {
	h, ok := c.handlers[ev.Type()]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type())
	}
	if h.allowed != nil {
		if state := c.State(); !slices.Contains(h.allowed, state) {
			return fmt.Errorf("%w: %s in state %s", ErrInvalidState, ev.Type(), state)
		}
	}
	return h.handle(ctx, ev)
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Version returns the controller's version identifier.
func (c *Controller) Version() string {
	return c.cfg.Version
}

// StaticPartition returns the name of the precache partition.
func (c *Controller) StaticPartition() string {
	return c.staticName
}

// DynamicPartition returns the name of the runtime partition.
func (c *Controller) DynamicPartition() string {
	return c.dynamicName
}

// SkipWaiting reports whether a successful install requested immediate
// activation.
func (c *Controller) SkipWaiting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.skipWaiting
}

// transition moves from one of the from states to to. It fails with
// ErrInvalidState when the current state is not in from.
func (c *Controller) transition(to State, from ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !slices.Contains(from, c.state) {
		return fmt.Errorf("%w: cannot enter %s from %s", ErrInvalidState, to, c.state)
	}
	c.logger.Debug().Str("from", string(c.state)).Str("state", string(to)).Msg("State transition")
	c.state = to
	return nil
}

// retire marks the controller redundant after a newer version took over.
// It waits for in-flight dynamic cache writes to finish.
func (c *Controller) retire() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRedundant {
		c.state = StateRedundant
		c.logger.Info().Msg("Controller superseded")
	}
}

// Install dispatches an InstallEvent.
func (c *Controller) Install(ctx context.Context) error {
	return c.Dispatch(ctx, &InstallEvent{})
}

// Activate dispatches an ActivateEvent.
func (c *Controller) Activate(ctx context.Context) error {
	return c.Dispatch(ctx, &ActivateEvent{})
}

func (c *Controller) handleInstall(ctx context.Context, _ Event) error {
	if err := c.transition(StateInstalling, StateParsed); err != nil {
		return err
	}

	if err := c.precacheAll(ctx); err != nil {
		c.mu.Lock()
		c.state = StateRedundant
		c.mu.Unlock()

		lifecycleTotal.WithLabelValues(string(EventInstall), "failure").Inc()
		c.logger.Warn().Err(err).Msg("Install failed, version rejected")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	c.mu.Lock()
	c.state = StateInstalled
	c.skipWaiting = true
	c.mu.Unlock()

	lifecycleTotal.WithLabelValues(string(EventInstall), "success").Inc()
	c.logger.Info().
		Int("precached", len(c.precache)).
		Str("partition", c.staticName).
		Msg("Controller installed")
	return nil
}

func (c *Controller) handleActivate(ctx context.Context, _ Event) error {
	if err := c.transition(StateActivating, StateInstalled); err != nil {
		return err
	}

	// Cleanup failures do not block activation; stale partitions are
	// retried on the next version's activation.
	if err := c.deleteStalePartitions(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to delete stale partitions")
	}

	if err := c.transition(StateActivated, StateActivating); err != nil {
		return err
	}

	lifecycleTotal.WithLabelValues(string(EventActivate), "success").Inc()
	c.logger.Info().Msg("Controller activated")
	return nil
}

// deleteStalePartitions removes every partition not owned by this version.
func (c *Controller) deleteStalePartitions(ctx context.Context) error {
	names, err := c.cfg.Storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}

	for _, name := range names {
		if name == c.staticName || name == c.dynamicName {
			continue
		}
		if _, err := c.cfg.Storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete partition %q: %w", name, err)
		}
		partitionsDeletedTotal.Inc()
		c.logger.Info().Str("partition", name).Msg("Deleted stale partition")
	}
	return nil
}
