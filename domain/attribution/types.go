package attribution

import (
	"healthloop/domain/core"
	"healthloop/domain/evidence"
)

// ExposureLog is one logged behaviour on one day. A log with Value 0 is an
// explicit "not exposed" record, distinct from a missing day.
type ExposureLog struct {
	Day   core.Day         `json:"day" db:"day"`
	Key   core.ExposureKey `json:"key" db:"exposure_key"`
	Value float64          `json:"value" db:"value"`
}

// Exposed reports whether the log counts as an exposure
func (l ExposureLog) Exposed() bool { return l.Value > 0 }

// Label names a guardrail the candidate failed
type Label string

const (
	LabelPreliminary    Label = "preliminary"
	LabelUnstable       Label = "unstable"
	LabelLowCoverage    Label = "low_coverage"
	LabelConfounded     Label = "confounded"
	LabelNotSignificant Label = "not_significant"
)

// DriverCandidate is one (exposure, lag) relationship with an outcome metric
type DriverCandidate struct {
	RunKey        core.RunKey      `json:"run_key"`
	UserID        core.UserID      `json:"user_id"`
	OutcomeMetric core.MetricKey   `json:"outcome_metric"`
	ExposureKey   core.ExposureKey `json:"exposure_key"`
	Lag           int              `json:"lag"`

	EffectSize     float64            `json:"effect_size"`
	PValue         float64            `json:"p_value"`
	QValue         float64            `json:"q_value"`
	Coverage       float64            `json:"coverage"`
	Stability      float64            `json:"stability"`
	SampleSize     int                `json:"sample_size"`
	ExposedDays    int                `json:"exposed_days"`
	UnexposedDays  int                `json:"unexposed_days"`
	RawConfidence  float64            `json:"raw_confidence"`
	Confidence     float64            `json:"confidence"`
	ConfoundedWith []core.ExposureKey `json:"confounded_with,omitempty"`

	Labels   []Label        `json:"labels,omitempty"`
	Accepted bool           `json:"accepted"`
	Grade    evidence.Grade `json:"grade"`
	Rank     int            `json:"rank"`
	Window   core.Window    `json:"window"`
}

// EvidenceInputs implements evidence.Graded
func (c DriverCandidate) EvidenceInputs() (float64, int, float64) {
	return c.Confidence, c.SampleSize, c.Coverage
}

// HasLabel reports whether the candidate carries l
func (c DriverCandidate) HasLabel(l Label) bool {
	for _, have := range c.Labels {
		if have == l {
			return true
		}
	}
	return false
}

// Score is the ranking key
func (c DriverCandidate) Score() float64 {
	e := c.EffectSize
	if e < 0 {
		e = -e
	}
	return c.Confidence * e
}
