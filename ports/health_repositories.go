package ports

import (
	"context"
	"time"

	"healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/experiment"
	"healthloop/domain/finding"
	"healthloop/internal/baseline"
)

// BaselineRepository persists computed baselines
type BaselineRepository interface {
	// Latest returns the most recent baseline strictly before day, or
	// core.ErrBaselineNotFound
	Latest(ctx context.Context, userID core.UserID, key core.MetricKey, before core.Day) (*baseline.Baseline, error)
	Save(ctx context.Context, b baseline.Baseline) error
}

// FindingRepository stores detector passes. SaveOutcome writes the finding
// (if any) and its audit record in one transaction, keeping at most one
// finding per user, metric and day: a rerun replaces the day's finding under
// its stored id, which is copied back into f, and a rerun without a finding
// removes it.
type FindingRepository interface {
	SaveOutcome(ctx context.Context, f *finding.Finding, audit finding.AuditRecord) error
	ListFindings(ctx context.Context, userID core.UserID, window core.Window) ([]finding.Finding, error)
}

// DriverRepository stores attribution runs. ReplaceRun swaps the full set of
// candidates for a run key so a re-run never leaves duplicates.
type DriverRepository interface {
	ReplaceRun(ctx context.Context, key core.RunKey, candidates []attribution.DriverCandidate) error
	GetRun(ctx context.Context, key core.RunKey) ([]attribution.DriverCandidate, error)
	// LatestDrivers returns the newest run's candidates for an outcome
	LatestDrivers(ctx context.Context, userID core.UserID, outcome core.MetricKey) ([]attribution.DriverCandidate, error)
}

// ExperimentRepository persists experiments
type ExperimentRepository interface {
	Get(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error)
	Save(ctx context.Context, e *experiment.Experiment) error
	ListByUser(ctx context.Context, userID core.UserID) ([]*experiment.Experiment, error)
}

// EvaluationRepository persists evaluation results
type EvaluationRepository interface {
	Get(ctx context.Context, id core.EvaluationID) (*experiment.EvaluationResult, error)
	Save(ctx context.Context, r experiment.EvaluationResult) error
}

// DecisionRepository persists loop decisions
type DecisionRepository interface {
	Save(ctx context.Context, d experiment.LoopDecision) error
	ListByExperiment(ctx context.Context, id core.ExperimentID) ([]experiment.LoopDecision, error)
}

// AuditWriter publishes audit records to an external stream
type AuditWriter interface {
	WriteAudit(ctx context.Context, rec finding.AuditRecord) error
}

// RunLedger marks idempotent work. MarkOnce reports true only for the first
// caller with a given key inside ttl. Release clears a key after a failed
// run so a retry can claim it.
type RunLedger interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
