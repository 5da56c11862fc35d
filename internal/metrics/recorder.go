// Package metrics exports per-run pipeline counters to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/Rodato/FundBot/internal/domain"
	"github.com/Rodato/FundBot/internal/ports"
)

// Stage labels for the listings counter.
const (
	StageFetched    = "fetched"
	StageClassified = "classified"
	StageNew        = "new"
	StageDelivered  = "delivered"
	StageSaved      = "saved"
)

// Recorder owns the run collectors and optionally pushes them to a
// Pushgateway after every run.
type Recorder struct {
	runs          *prometheus.CounterVec
	listings      *prometheus.CounterVec
	duration      prometheus.Histogram
	lastRun       prometheus.Gauge
	portals       prometheus.Gauge
	relevanceRate prometheus.Gauge

	pusher *push.Pusher
	logger *slog.Logger
}

var _ ports.RunRecorder = (*Recorder)(nil)

// NewRecorder registers the collectors on reg. pushURL may be empty.
func NewRecorder(reg *prometheus.Registry, pushURL, job string, logger *slog.Logger) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if job == "" {
		job = "fundbot"
	}

	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fundbot_runs_total",
			Help: "Pipeline runs partitioned by outcome.",
		}, []string{"outcome"}),
		listings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fundbot_listings_total",
			Help: "Listings seen per pipeline stage.",
		}, []string{"stage"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fundbot_run_duration_seconds",
			Help:    "Wall time per pipeline run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fundbot_last_run_timestamp_seconds",
			Help: "Unix time the last run started.",
		}),
		portals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fundbot_portals",
			Help: "Portals scraped by the last run.",
		}),
		relevanceRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fundbot_relevance_rate_percent",
			Help: "Share of fetched listings classified relevant in the last run.",
		}),
		logger: logger,
	}

	for _, collector := range []prometheus.Collector{
		r.runs,
		r.listings,
		r.duration,
		r.lastRun,
		r.portals,
		r.relevanceRate,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register run collector: %w", err)
		}
	}

	if pushURL != "" {
		r.pusher = push.New(pushURL, job).Gatherer(reg)
	}

	return r, nil
}

// Record updates the collectors from a finished run and pushes them when a
// Pushgateway is configured. Push failures are logged only.
func (r *Recorder) Record(ctx context.Context, report domain.RunReport) {
	r.runs.WithLabelValues(string(report.Outcome)).Inc()
	r.listings.WithLabelValues(StageFetched).Add(float64(report.Fetched))
	r.listings.WithLabelValues(StageClassified).Add(float64(report.Classified))
	r.listings.WithLabelValues(StageNew).Add(float64(report.Deduped))
	r.listings.WithLabelValues(StageDelivered).Add(float64(report.Delivered))
	r.listings.WithLabelValues(StageSaved).Add(float64(report.Saved))
	r.duration.Observe(report.Duration.Seconds())
	if !report.StartedAt.IsZero() {
		r.lastRun.Set(float64(report.StartedAt.Unix()))
	}
	r.portals.Set(float64(report.Portals))
	r.relevanceRate.Set(report.RelevanceRate())

	if r.pusher == nil {
		return
	}
	if err := r.pusher.PushContext(ctx); err != nil {
		r.logger.Warn("pushgateway push failed", "run_id", report.RunID, "error", err)
		return
	}
	r.logger.Debug("metrics pushed", "run_id", report.RunID)
}
