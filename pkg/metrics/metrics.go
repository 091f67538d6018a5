// Package metrics holds the Prometheus collectors of the monitor daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bakerx"

// Job run results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
	ResultPanic   = "panic"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing, which keeps
// tests and optional wiring free of nil checks.
type Metrics struct {
	// Scheduler
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// Ingestion
	HeightsIngested prometheus.Counter
	RewardsInserted prometheus.Counter
	Watermark       prometheus.Gauge
	FinalizedHeight prometheus.Gauge
	IngestErrors    *prometheus.CounterVec
	HeightDuration  prometheus.Histogram

	// Reconciliation
	AccountsPending  prometheus.Gauge
	AccountsSettled  prometheus.Counter
	ReconcileFailure prometheus.Counter

	// Prices and status
	PriceUpdates  *prometheus.CounterVec
	StatusReports prometheus.Counter

	registry *prometheus.Registry
}

// New creates the collectors on a dedicated registry that also exposes the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Scheduled job executions by result",
	}, []string{"job", "result"})
	m.JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Scheduled job run time",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})

	m.HeightsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heights_ingested_total",
		Help:      "Block heights committed",
	})
	m.RewardsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rewards_inserted_total",
		Help:      "Reward rows written (duplicates excluded)",
	})
	m.Watermark = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "watermark_height",
		Help:      "Highest fully ingested block height",
	})
	m.FinalizedHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "node_finalized_height",
		Help:      "Last finalized height reported by the node",
	})
	m.IngestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_errors_total",
		Help:      "Ingestion runs stopped by an error, by class",
	}, []string{"class"})
	m.HeightDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "height_ingest_duration_seconds",
		Help:      "Time to fetch and commit one height",
		Buckets:   prometheus.DefBuckets,
	})

	m.AccountsPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "accounts_pending",
		Help:      "Accounts waiting for lottery power recomputation",
	})
	m.AccountsSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "accounts_settled_total",
		Help:      "Account updates written in settled state",
	})
	m.ReconcileFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_failures_total",
		Help:      "Account updates left pending because a node query failed",
	})

	m.PriceUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_updates_total",
		Help:      "Price rows written by pair",
	}, []string{"pair"})
	m.StatusReports = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_reports_total",
		Help:      "Status reports recorded",
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.JobRuns, m.JobDuration,
		m.HeightsIngested, m.RewardsInserted, m.Watermark, m.FinalizedHeight, m.IngestErrors, m.HeightDuration,
		m.AccountsPending, m.AccountsSettled, m.ReconcileFailure,
		m.PriceUpdates, m.StatusReports,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveJob(job, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
	if result != ResultSkipped {
		m.JobDuration.WithLabelValues(job).Observe(took.Seconds())
	}
}

// ObserveHeight records a committed height.
func (m *Metrics) ObserveHeight(height uint64, rewards int, took time.Duration) {
	if m == nil {
		return
	}
	m.HeightsIngested.Inc()
	m.RewardsInserted.Add(float64(rewards))
	m.Watermark.Set(float64(height))
	m.HeightDuration.Observe(took.Seconds())
}

func (m *Metrics) SetWatermark(height uint64) {
	if m == nil {
		return
	}
	m.Watermark.Set(float64(height))
}

func (m *Metrics) SetFinalized(height uint64) {
	if m == nil {
		return
	}
	m.FinalizedHeight.Set(float64(height))
}

func (m *Metrics) IngestError(class string) {
	if m == nil {
		return
	}
	m.IngestErrors.WithLabelValues(class).Inc()
}

// ObserveAccounts records the outcome of a reconciliation pass.
func (m *Metrics) ObserveAccounts(settled, failed int) {
	if m == nil {
		return
	}
	m.AccountsSettled.Add(float64(settled))
	m.ReconcileFailure.Add(float64(failed))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.AccountsPending.Set(float64(n))
}

func (m *Metrics) PriceUpdated(pair string) {
	if m == nil {
		return
	}
	m.PriceUpdates.WithLabelValues(pair).Inc()
}

func (m *Metrics) StatusReported() {
	if m == nil {
		return
	}
	m.StatusReports.Inc()
}
