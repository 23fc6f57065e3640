package experiment

import (
	"healthloop/domain/core"
)

// Action is what the loop does next with an experiment
type Action string

const (
	ActionContinue Action = "continue"
	ActionStop     Action = "stop"
	ActionExtend   Action = "extend"
	ActionAdjust   Action = "adjust"
)

// Decision labels explaining a fallback
const (
	LabelInconclusive   = "inconclusive"
	LabelAdjustRejected = "adjust_rejected"
)

// DecisionMetadata records the inputs the decision was based on
type DecisionMetadata struct {
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
	BestLag    *int    `json:"best_lag,omitempty"`
	Extensions int     `json:"extensions"`
}

// LoopDecision is the orchestrator's next step for an experiment
type LoopDecision struct {
	ID           core.DecisionID   `json:"id"`
	EvaluationID core.EvaluationID `json:"evaluation_id"`
	ExperimentID core.ExperimentID `json:"experiment_id"`
	Action       Action            `json:"action"`
	Label        string            `json:"label,omitempty"`
	Rationale    string            `json:"rationale"`
	Metadata     DecisionMetadata  `json:"metadata"`
	CreatedAt    core.Timestamp    `json:"created_at"`
}

// NewLoopDecision builds a decision bound to its evaluation
func NewLoopDecision(eval *EvaluationResult, action Action, label, rationale string, extensions int) (LoopDecision, error) {
	if eval == nil || eval.ID == "" {
		return LoopDecision{}, core.ErrMissingEvaluation
	}
	return LoopDecision{
		ID:           core.DecisionID(core.NewID()),
		EvaluationID: eval.ID,
		ExperimentID: eval.ExperimentID,
		Action:       action,
		Label:        label,
		Rationale:    rationale,
		Metadata: DecisionMetadata{
			Verdict:    eval.Verdict,
			Confidence: eval.Confidence,
			BestLag:    bestLag(eval.Note),
			Extensions: extensions,
		},
		CreatedAt: core.Now(),
	}, nil
}

func bestLag(n *AttributionNote) *int {
	if n == nil || !n.BetterLag {
		return nil
	}
	lag := n.BestLag
	return &lag
}
