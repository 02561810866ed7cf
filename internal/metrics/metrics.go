// Package metrics exposes the outcome of a sessionlink run as Prometheus
// metrics and optionally pushes them to a Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/koyif/sessionlink/internal/backfill"
	"github.com/koyif/sessionlink/internal/schema"
)

const namespace = "sessionlink"

// Row outcome label values.
const (
	OutcomeResolved = "resolved"
	OutcomeFailed   = "failed"
)

// Metrics holds the collectors of one run, on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Rows            *prometheus.CounterVec
	IndexSessions   prometheus.Gauge
	IndexSkipped    prometheus.Gauge
	IndexCollisions prometheus.Gauge
	MigrationStep   *prometheus.GaugeVec
	RunDuration     *prometheus.GaugeVec
	LastSuccess     prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_rows_total",
			Help:      "Tokens processed by the backfill, by table and outcome",
		}, []string{"table", "outcome"}),
		IndexSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_sessions",
			Help:      "Sessions in the hashed key index",
		}),
		IndexSkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_skipped_sessions",
			Help:      "Sessions left out of the index because their key could not be hashed",
		}),
		IndexCollisions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_collisions",
			Help:      "Sessions whose key hashed to a digest already in the index",
		}),
		MigrationStep: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "migration_step",
			Help:      "Number of applied steps of a migration",
		}, []string{"migration", "stage"}),
		RunDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run",
		}, []string{"status"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
	}

	reg.MustRegister(
		m.Rows,
		m.IndexSessions,
		m.IndexSkipped,
		m.IndexCollisions,
		m.MigrationStep,
		m.RunDuration,
		m.LastSuccess,
	)

	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveBackfill records the counts of a backfill run.
func (m *Metrics) ObserveBackfill(s backfill.Summary) {
	m.IndexSessions.Set(float64(s.Index.Sessions))
	m.IndexSkipped.Set(float64(s.Index.Skipped))
	m.IndexCollisions.Set(float64(s.Index.Collisions))

	for _, r := range s.Results {
		m.Rows.WithLabelValues(r.Table, OutcomeResolved).Add(float64(r.Resolved))
		m.Rows.WithLabelValues(r.Table, OutcomeFailed).Add(float64(r.Failed))
		for reason, n := range r.Missed {
			m.Rows.WithLabelValues(r.Table, reason.String()).Add(float64(n))
		}
	}
}

// ObserveMigration records where a migration stands.
func (m *Metrics) ObserveMigration(st schema.Status) {
	m.MigrationStep.Reset()
	m.MigrationStep.WithLabelValues(st.ID, st.Stage.String()).Set(float64(st.Step))
}

// ObserveRun records the duration and result of the whole run.
func (m *Metrics) ObserveRun(d time.Duration, err error, now time.Time) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.RunDuration.WithLabelValues(status).Set(d.Seconds())

	if err == nil {
		m.LastSuccess.Set(float64(now.Unix()))
	}
}

// Push sends the collected metrics to the Pushgateway at url under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	err := push.New(url, job).
		Gatherer(m.registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}

	zap.L().Info("Metrics pushed", zap.String("url", url), zap.String("job", job))
	return nil
}
