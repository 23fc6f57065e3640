package experiment

import (
	"fmt"

	"healthloop/domain/core"
	"healthloop/domain/evidence"
)

// Verdict is the outcome of evaluating an experiment
type Verdict string

const (
	VerdictHelpful          Verdict = "helpful"
	VerdictNotHelpful       Verdict = "not_helpful"
	VerdictUnclear          Verdict = "unclear"
	VerdictInsufficientData Verdict = "insufficient_data"
)

// MinHelpfulConfidence is the confidence a helpful verdict must reach
const MinHelpfulConfidence = 0.6

// AttributionNote carries what the attribution engine knows about the
// intervention, used when proposing an adjustment
type AttributionNote struct {
	BestLag     int                `json:"best_lag"`
	BetterLag   bool               `json:"better_lag"`
	Confounders []core.ExposureKey `json:"confounders,omitempty"`
}

// EvaluationResult is the graded outcome of one experiment evaluation
type EvaluationResult struct {
	ID            core.EvaluationID `json:"id"`
	ExperimentID  core.ExperimentID `json:"experiment_id"`
	UserID        core.UserID       `json:"user_id"`
	OutcomeMetric core.MetricKey    `json:"outcome_metric"`
	Verdict       Verdict           `json:"verdict"`
	EffectSize    float64           `json:"effect_size"`
	CILow         float64           `json:"ci_low"`
	CIHigh        float64           `json:"ci_high"`
	PValue        float64           `json:"p_value"`
	Coverage      float64           `json:"coverage"`
	AdherenceRate float64           `json:"adherence_rate"`
	HasAdherence  bool              `json:"has_adherence_evidence"`
	Confidence    float64           `json:"confidence"`
	BaselineN     int               `json:"baseline_n"`
	InterventionN int               `json:"intervention_n"`
	Grade         evidence.Grade    `json:"grade"`
	Note          *AttributionNote  `json:"note,omitempty"`
	Downgraded    bool              `json:"downgraded,omitempty"`
	CreatedAt     core.Timestamp    `json:"created_at"`
}

// NewEvaluationResult finalises a result. A helpful verdict without
// adherence evidence or below MinHelpfulConfidence becomes unclear.
func NewEvaluationResult(r EvaluationResult) EvaluationResult {
	if r.ID == "" {
		r.ID = core.EvaluationID(core.NewID())
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = core.Now()
	}
	if r.Verdict == VerdictHelpful && (!r.HasAdherence || r.Confidence < MinHelpfulConfidence) {
		r.Verdict = VerdictUnclear
		r.Downgraded = true
	}
	r.Grade = evidence.GradeItem(r)
	return r
}

// Validate rejects results that could not have come from NewEvaluationResult
func (r EvaluationResult) Validate() error {
	if r.Verdict == VerdictHelpful && (!r.HasAdherence || r.Confidence < MinHelpfulConfidence) {
		return fmt.Errorf("%w: helpful verdict without adherence evidence or confidence", core.ErrGuardrailViolation)
	}
	return nil
}

// EvidenceInputs implements evidence.Graded. The sample is the intervention
// window, the same days coverage is measured on.
func (r EvaluationResult) EvidenceInputs() (float64, int, float64) {
	return r.Confidence, r.InterventionN, r.Coverage
}
