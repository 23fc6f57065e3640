package experiment

import (
	"fmt"

	"healthloop/domain/core"
)

// Status is the lifecycle state of an experiment
type Status string

const (
	StatusDesigned           Status = "designed"
	StatusBaselineCollecting Status = "baseline_collecting"
	StatusInterventionActive Status = "intervention_active"
	StatusEvaluated          Status = "evaluated"
	StatusClosed             Status = "closed"
)

var transitions = map[Status][]Status{
	StatusDesigned:           {StatusBaselineCollecting, StatusClosed},
	StatusBaselineCollecting: {StatusInterventionActive, StatusClosed},
	StatusInterventionActive: {StatusEvaluated, StatusClosed},
	StatusEvaluated:          {StatusInterventionActive, StatusClosed},
}

// CanTransition reports whether from -> to is a legal lifecycle move
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Experiment is a user's N-of-1 trial of one intervention on one outcome
type Experiment struct {
	ID                 core.ExperimentID `json:"id" db:"id"`
	UserID             core.UserID       `json:"user_id" db:"user_id"`
	InterventionKey    core.ExposureKey  `json:"intervention_key" db:"intervention_key"`
	OutcomeMetric      core.MetricKey    `json:"outcome_metric" db:"outcome_metric"`
	BaselineWindow     core.Window       `json:"baseline_window" db:"-"`
	InterventionWindow core.Window       `json:"intervention_window" db:"-"`
	Status             Status            `json:"status" db:"status"`
	Extensions         int               `json:"extensions" db:"extensions"`
	CreatedAt          core.Timestamp    `json:"created_at" db:"-"`
	UpdatedAt          core.Timestamp    `json:"updated_at" db:"-"`
}

// New designs an experiment. The baseline window must end before the
// intervention window starts.
func New(user core.UserID, intervention core.ExposureKey, outcome core.MetricKey, baseline, treatment core.Window) (*Experiment, error) {
	if user == "" || intervention == "" || outcome == "" {
		return nil, core.NewValidationError("experiment", "user, intervention and outcome are required")
	}
	if baseline.Len() == 0 || treatment.Len() == 0 {
		return nil, fmt.Errorf("%w: empty baseline or intervention window", core.ErrInvalidWindow)
	}
	if !baseline.End.Before(treatment.Start) {
		return nil, fmt.Errorf("%w: baseline %s overlaps intervention %s", core.ErrInvalidWindow, baseline, treatment)
	}
	now := core.Now()
	return &Experiment{
		ID:                 core.ExperimentID(core.NewID()),
		UserID:             user,
		InterventionKey:    intervention,
		OutcomeMetric:      outcome,
		BaselineWindow:     baseline,
		InterventionWindow: treatment,
		Status:             StatusDesigned,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Transition moves the experiment to a new status
func (e *Experiment) Transition(to Status) error {
	if !CanTransition(e.Status, to) {
		return core.NewTransitionError(string(e.Status), string(to))
	}
	e.Status = to
	e.UpdatedAt = core.Now()
	return nil
}

// Extend pushes the intervention window out by days and reopens the
// intervention phase
func (e *Experiment) Extend(days int) error {
	if err := e.Transition(StatusInterventionActive); err != nil {
		return err
	}
	e.InterventionWindow.End = e.InterventionWindow.End.AddDays(days)
	e.Extensions++
	return nil
}
