// Package metrics exposes the run-level Prometheus counters and gauges of
// SPEC_FULL.md's domain stack (enrollment, visits, cost, discontinuations).
//
// Grounded on the teacher's engine/telemetry/metrics/prometheus.go
// PrometheusProvider: a registry-backed struct holding named CounterVec/
// GaugeVec instances, here narrowed from a generic cardinality-tracked
// provider to the fixed, known-in-advance metric set a simulation run
// emits.
package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the set of metrics a running simulation updates.
type Recorder struct {
	registry *prom.Registry

	PatientsEnrolled   prom.Counter
	VisitsProcessed    *prom.CounterVec // label: visit_type
	Discontinuations   *prom.CounterVec // label: category
	CostAccrued        prom.Counter
	ActivePatients     prom.Gauge
	RunDurationSeconds prom.Histogram
}

// NewRecorder registers a fresh set of simulation metrics on a private
// registry, so multiple runs in one process (e.g. tests) never collide.
func NewRecorder() *Recorder {
	reg := prom.NewRegistry()
	r := &Recorder{
		registry: reg,
		PatientsEnrolled: prom.NewCounter(prom.CounterOpts{
			Name: "namdsim_patients_enrolled_total",
			Help: "Total patients enrolled in the simulation run.",
		}),
		VisitsProcessed: prom.NewCounterVec(prom.CounterOpts{
			Name: "namdsim_visits_processed_total",
			Help: "Total visits processed, by visit_type.",
		}, []string{"visit_type"}),
		Discontinuations: prom.NewCounterVec(prom.CounterOpts{
			Name: "namdsim_discontinuations_total",
			Help: "Total discontinuation events, by category.",
		}, []string{"category"}),
		CostAccrued: prom.NewCounter(prom.CounterOpts{
			Name: "namdsim_cost_accrued_total",
			Help: "Total cost accrued across all processed visits.",
		}),
		ActivePatients: prom.NewGauge(prom.GaugeOpts{
			Name: "namdsim_active_patients",
			Help: "Patients currently under active treatment or monitoring.",
		}),
		RunDurationSeconds: prom.NewHistogram(prom.HistogramOpts{
			Name:    "namdsim_run_duration_seconds",
			Help:    "Wall-clock duration of completed simulation runs.",
			Buckets: prom.DefBuckets,
		}),
	}
	reg.MustRegister(r.PatientsEnrolled, r.VisitsProcessed, r.Discontinuations,
		r.CostAccrued, r.ActivePatients, r.RunDurationSeconds)
	return r
}

// Handler exposes the /metrics HTTP endpoint for this recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
