// Package sweeper deletes expired and idle session rows on a timer.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"warehouse-service/backend/internal/audit"
	auditdomain "warehouse-service/backend/internal/audit/domain"
	"warehouse-service/backend/internal/metrics"
	"warehouse-service/backend/internal/telemetry"
	telemetrydomain "warehouse-service/backend/internal/telemetry/domain"
)

const (
	DefaultInterval    = 5 * time.Minute
	DefaultIdleTimeout = 15 * time.Minute
)

// Store is the part of the session repository the sweeper needs.
type Store interface {
	DeleteExpired(ctx context.Context, now, idleCutoff time.Time) (int64, error)
}

// Config holds sweeper configuration. Zero values use the defaults.
type Config struct {
	Interval    time.Duration
	IdleTimeout time.Duration
}

// Sweeper runs SweepOnce immediately and then on every interval until its context is cancelled.
// Failures are logged and never stop the loop.
type Sweeper struct {
	store   Store
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	events  telemetry.EventEmitter
	audit   audit.AuditLogger
	now     func() time.Time
}

// Option configures optional collaborators.
type Option func(*Sweeper)

func WithMetrics(m *metrics.Metrics) Option { return func(s *Sweeper) { s.metrics = m } }

func WithEvents(e telemetry.EventEmitter) Option { return func(s *Sweeper) { s.events = e } }

func WithAudit(a audit.AuditLogger) Option { return func(s *Sweeper) { s.audit = a } }

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

// New creates a sweeper over store.
func New(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		store:  store,
		config: cfg,
		logger: logger.With("component", "session_sweeper"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("session sweeper started", "interval", s.config.Interval, "idle_timeout", s.config.IdleTimeout)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("session sweep failed", "error", err)
	}
}

// SweepOnce deletes rows whose expiry has passed or whose last activity is older than the idle timeout.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	n, err := s.store.DeleteExpired(ctx, now, now.Add(-s.config.IdleTimeout))
	s.metrics.ObserveSweep(n, err)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("swept sessions", "deleted", n)
		if s.audit != nil {
			s.audit.LogEvent(ctx, "", 0, auditdomain.ActionSweep, auditdomain.ResourceSession, "")
		}
		telemetry.EmitAsync(s.events, ctx, &telemetrydomain.SessionEvent{
			EventType: telemetrydomain.EventSwept,
			Source:    "session-sweeper",
			Count:     n,
		})
	}
	return n, nil
}
