package engage

import (
	"context"
	"log/slog"

	"engagekit/adapters/memory"
	"engagekit/core"
	"engagekit/engine"
	"engagekit/realtime"
)

// Option configures the Engage service builder.
type Option func(*config)

type config struct {
	store   engine.Store
	mode    engine.DispatchMode
	catalog *core.Catalog
	hub     *realtime.Hub
	logger  *slog.Logger
}

// WithStore sets the persistence adapter.
func WithStore(s engine.Store) Option { return func(c *config) { c.store = s } }

// WithCatalog sets the badge/reward catalog.
func WithCatalog(cat *core.Catalog) Option { return func(c *config) { c.catalog = cat } }

// WithDispatchMode selects sync or async notification dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine notifications.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// New builds a configured EngageService. If not provided, defaults are used:
//   - store: in-memory
//   - catalog: core.DefaultCatalog
//   - dispatch: async
func New(opts ...Option) *engine.EngageService {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.store == nil {
		cfg.store = memory.New()
	}
	if cfg.catalog == nil {
		cfg.catalog = core.DefaultCatalog()
	}
	bus := engine.NewNotificationBus(cfg.mode)
	svc := engine.NewEngageService(cfg.store, bus, cfg.catalog)
	if cfg.logger != nil {
		svc.SetLogger(cfg.logger)
	}
	if cfg.hub != nil {
		// Bridge all engine notifications to realtime
		bus.Subscribe(core.NotificationLevelUp, func(ctx context.Context, n core.Notification) { cfg.hub.Broadcast(ctx, n) })
		bus.Subscribe(core.NotificationBadgeUnlocked, func(ctx context.Context, n core.Notification) { cfg.hub.Broadcast(ctx, n) })
		bus.Subscribe(core.NotificationActivityRecorded, func(ctx context.Context, n core.Notification) { cfg.hub.Broadcast(ctx, n) })
	}
	return svc
}
