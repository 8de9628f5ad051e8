// Package metrics counts processor runs. There is no long running process to
// scrape, so the registry is written as a node exporter textfile after
// every run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
)

const namespace = "goodphotographer"

type Metrics struct {
	reg        *prometheus.Registry
	runs       *prometheus.CounterVec
	duration   prometheus.Histogram
	itemErrors prometheus.Counter
	launches   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Processor runs by terminal state.",
		}, []string{"state"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of processor runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		itemErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_errors_total",
			Help:      "ERROR lines reported by the processor.",
		}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launch_failures_total",
			Help:      "Runs that produced no result, by reason.",
		}, []string{"reason"}),
	}
	m.reg.MustRegister(m.runs, m.duration, m.itemErrors, m.launches)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObserveRun records a run that produced a RunResult.
func (m *Metrics) ObserveRun(state model.State, elapsed time.Duration, itemErrors int) {
	m.runs.WithLabelValues(string(state)).Inc()
	m.duration.Observe(elapsed.Seconds())
	m.itemErrors.Add(float64(itemErrors))
}

// ObserveFailure records a run that ended without a RunResult.
func (m *Metrics) ObserveFailure(reason string, elapsed time.Duration) {
	m.runs.WithLabelValues(string(model.StateFailed)).Inc()
	m.duration.Observe(elapsed.Seconds())
	m.launches.WithLabelValues(reason).Inc()
}

// WriteTextfile atomically replaces path with the current metrics.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
