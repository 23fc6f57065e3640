package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the analysis loop
type Metrics struct {
	Outcomes        *prometheus.CounterVec
	Suppressions    *prometheus.CounterVec
	GuardrailLabels *prometheus.CounterVec
	Decisions       *prometheus.CounterVec
	Verdicts        *prometheus.CounterVec
	DedupHits       prometheus.Counter
	UserRunErrors   *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthloop_detector_outcomes_total",
				Help: "Detector passes by metric and outcome state",
			},
			[]string{"metric", "state"},
		),
		Suppressions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthloop_safety_suppressions_total",
				Help: "Detector passes suppressed by a safety rule",
			},
			[]string{"rule"},
		),
		GuardrailLabels: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthloop_attribution_guardrail_labels_total",
				Help: "Guardrail labels attached to driver candidates",
			},
			[]string{"label"},
		),
		Decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthloop_loop_decisions_total",
				Help: "Loop decisions by action and label",
			},
			[]string{"action", "label"},
		),
		Verdicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthloop_evaluation_verdicts_total",
				Help: "Experiment evaluations by verdict and grade",
			},
			[]string{"verdict", "grade"},
		),
		DedupHits: f.NewCounter(prometheus.CounterOpts{
			Name: "healthloop_dedup_hits_total",
			Help: "Runs skipped because the run ledger already held the key",
		}),
		UserRunErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthloop_user_run_errors_total",
				Help: "Daily user runs that failed, by cause",
			},
			[]string{"cause"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "healthloop_run_duration_seconds",
				Help:    "Duration of analysis runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// Nop returns collectors bound to a throwaway registry
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
