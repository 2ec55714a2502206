package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"warehouse-service/backend/internal/session/repository"
)

// SessionCollector reports live session gauges read from the store at scrape time.
type SessionCollector struct {
	repo    repository.Repository
	timeout time.Duration
	log     *slog.Logger

	active  *prometheus.Desc
	claimed *prometheus.Desc
}

// NewSessionCollector returns a collector over repo.
func NewSessionCollector(repo repository.Repository, logger *slog.Logger) *SessionCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCollector{
		repo:    repo,
		timeout: 5 * time.Second,
		log:     logger.With("component", "session_collector"),
		active: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sessions", "active"),
			"Session rows currently in the store.", nil, nil),
		claimed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sessions", "claimed"),
			"Session rows currently holding a manifest.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.claimed
}

// Collect implements prometheus.Collector. A store failure skips the gauges for this scrape.
func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	sessions, err := c.repo.List(ctx)
	if err != nil {
		c.log.Warn("collect session gauges", "error", err)
		return
	}
	var claimed int
	for _, s := range sessions {
		if _, ok := s.Resource(); ok {
			claimed++
		}
	}
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(len(sessions)))
	ch <- prometheus.MustNewConstMetric(c.claimed, prometheus.GaugeValue, float64(claimed))
}
