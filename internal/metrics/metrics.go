// Package metrics records sampler progress as Prometheus metrics.
//
// A Recorder is a commitfit.Observer. Batch runs export it once at the end
// as a node_exporter textfile; long-lived processes can register its
// Registry with an HTTP handler instead.
//
// All operations are safe for concurrent use.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alexshd/commitfit"
)

const (
	namespace = "commitfit"
	subsystem = "sampler"
)

// Recorder holds the sampler metrics.
type Recorder struct {
	reg *prometheus.Registry

	// Phase is the numeric commitfit.Phase the sampler is in.
	Phase prometheus.Gauge

	// PhaseTransitions counts phase entries.
	// Labels: phase
	PhaseTransitions *prometheus.CounterVec

	// DrawsTotal counts completed draws.
	// Labels: chain, stage (tune, sample)
	DrawsTotal *prometheus.CounterVec

	// Acceptance is the mean Metropolis acceptance of the latest draw.
	// Labels: chain
	Acceptance *prometheus.GaugeVec

	// RunsTotal counts finished runs.
	// Labels: status (success, error)
	RunsTotal *prometheus.CounterVec

	// RunDurationSeconds is the wall time of the latest run.
	RunDurationSeconds prometheus.Gauge
}

// NewRecorder creates a Recorder on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		Phase: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "phase",
			Help:      "Current sampler phase (0 initializing, 1 optimizing, 2 sampling, 3 finalized, 4 failed)",
		}),
		PhaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "phase_transitions_total",
			Help:      "Sampler phase entries by phase",
		}, []string{"phase"}),
		DrawsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "draws_total",
			Help:      "Completed draws by chain and stage",
		}, []string{"chain", "stage"}),
		Acceptance: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acceptance_ratio",
			Help:      "Mean Metropolis acceptance of the latest draw by chain",
		}, []string{"chain"}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished fit runs by status",
		}, []string{"status"}),
		RunDurationSeconds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the latest fit run",
		}),
	}
}

// Registry returns the registry holding the metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// PhaseEntered implements commitfit.Observer.
func (r *Recorder) PhaseEntered(p commitfit.Phase) {
	r.Phase.Set(float64(p))
	r.PhaseTransitions.WithLabelValues(p.String()).Inc()
}

// DrawCompleted implements commitfit.Observer.
func (r *Recorder) DrawCompleted(chain int, tuning bool, acceptance float64) {
	stage := "sample"
	if tuning {
		stage = "tune"
	}
	c := strconv.Itoa(chain)
	r.DrawsTotal.WithLabelValues(c, stage).Inc()
	r.Acceptance.WithLabelValues(c).Set(acceptance)
}

// RunFinished records the outcome of one run.
func (r *Recorder) RunFinished(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.RunsTotal.WithLabelValues(status).Inc()
	r.RunDurationSeconds.Set(d.Seconds())
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

var _ commitfit.Observer = (*Recorder)(nil)
