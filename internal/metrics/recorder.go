// Package metrics exports run statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/melih/harbormaster/internal/core/domain"
)

const namespace = "harbormaster"

// Recorder implements reconcile.RunObserver.
type Recorder struct {
	runs     *prometheus.CounterVec
	actions  *prometheus.CounterVec
	duration prometheus.Histogram
	lastRun  prometheus.Gauge
	pending  prometheus.Gauge
}

// NewRecorder registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Reconciliation runs by result.",
		}, []string{"result"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "container_actions_total",
			Help:      "Per-container outcomes by planned action and result.",
		}, []string{"action", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of reconciliation runs.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_restarts",
			Help:      "Containers listed in the restart-needed fact of the last run.",
		}),
	}
	for _, c := range []prometheus.Collector{r.runs, r.actions, r.duration, r.lastRun, r.pending} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) ObserveRun(report *domain.RunReport, err error) {
	r.runs.WithLabelValues(runResult(report, err)).Inc()
	if report == nil {
		return
	}
	for _, o := range report.Outcomes {
		r.actions.WithLabelValues(string(o.Action), string(o.Result)).Inc()
	}
	if !report.Finished.IsZero() {
		r.duration.Observe(report.Finished.Sub(report.Started).Seconds())
		r.lastRun.Set(float64(report.Finished.Unix()))
	}
	r.pending.Set(float64(len(report.Pending)))
}

// runResult is "error" for aborted runs, "partial" when some containers
// failed and "success" otherwise.
func runResult(report *domain.RunReport, err error) string {
	switch {
	case err != nil:
		return "error"
	case report != nil && len(report.Failed) > 0:
		return "partial"
	default:
		return "success"
	}
}
