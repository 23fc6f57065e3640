package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/experiment"
	"healthloop/domain/finding"
	"healthloop/internal/baseline"
	"healthloop/ports"
)

// BaselineRepository stores one baseline per user, metric and day
type BaselineRepository struct {
	db *sqlx.DB
}

func NewBaselineRepository(db *sqlx.DB) *BaselineRepository {
	return &BaselineRepository{db: db}
}

func (r *BaselineRepository) Latest(ctx context.Context, user core.UserID, key core.MetricKey, before core.Day) (*baseline.Baseline, error) {
	var row document
	err := r.db.GetContext(ctx, &row, `
		SELECT document FROM baselines
		WHERE user_id = $1 AND metric_key = $2 AND as_of < $3
		ORDER BY as_of DESC LIMIT 1`,
		user, key, before)
	if err != nil {
		return nil, notFound(err, core.ErrBaselineNotFound)
	}
	var b baseline.Baseline
	if err := decode(row.Document, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BaselineRepository) Save(ctx context.Context, b baseline.Baseline) error {
	doc, err := encode(b)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO baselines (user_id, metric_key, as_of, available, document)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, metric_key, as_of) DO UPDATE SET
			available = EXCLUDED.available,
			document = EXCLUDED.document`,
		b.UserID, b.MetricKey, b.AsOf, b.Available, doc)
	if err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}
	return nil
}

// FindingRepository writes each detector pass atomically
type FindingRepository struct {
	db *sqlx.DB
}

func NewFindingRepository(db *sqlx.DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// SaveOutcome writes one detector pass in a single transaction: the day's
// finding for the metric (upserted on user, metric and day) and its audit
// record. A pass without a finding removes any earlier finding for that day.
// A replaced finding keeps the stored id, which is copied back into f.
func (r *FindingRepository) SaveOutcome(ctx context.Context, f *finding.Finding, audit finding.AuditRecord) error {
	var stored core.FindingID
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var findingID interface{}
		if f != nil {
			doc, err := encode(f)
			if err != nil {
				return err
			}
			if err := tx.GetContext(ctx, &stored, `
				INSERT INTO findings (id, user_id, metric_key, day, kind, grade, document)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (user_id, metric_key, day) DO UPDATE SET
					kind = EXCLUDED.kind,
					grade = EXCLUDED.grade,
					document = jsonb_set(EXCLUDED.document, '{id}', to_jsonb(findings.id)),
					created_at = NOW()
				RETURNING id`,
				f.ID, f.UserID, f.MetricKey, f.Day, f.Kind, f.Grade, doc); err != nil {
				return fmt.Errorf("failed to upsert finding: %w", err)
			}
			findingID = stored
			audit.FindingID = stored
		} else if _, err := tx.ExecContext(ctx, `
			DELETE FROM findings WHERE user_id = $1 AND metric_key = $2 AND day = $3`,
			audit.UserID, audit.MetricKey, audit.Day); err != nil {
			return fmt.Errorf("failed to clear finding: %w", err)
		}

		auditDoc, err := encode(audit)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO finding_audits (user_id, metric_key, day, state, finding_id, document)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			audit.UserID, audit.MetricKey, audit.Day, audit.State, findingID, auditDoc); err != nil {
			return fmt.Errorf("failed to insert audit record: %w", err)
		}
		return nil
	})
	if err == nil && f != nil {
		f.ID = stored
	}
	return err
}

func (r *FindingRepository) ListFindings(ctx context.Context, user core.UserID, w core.Window) ([]finding.Finding, error) {
	var rows []document
	err := r.db.SelectContext(ctx, &rows, `
		SELECT document FROM findings
		WHERE user_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day, created_at`,
		user, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	out := make([]finding.Finding, len(rows))
	for i, row := range rows {
		if err := decode(row.Document, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Audits lists the audit trail for a user's day
func (r *FindingRepository) Audits(ctx context.Context, user core.UserID, day core.Day) ([]finding.AuditRecord, error) {
	var rows []document
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT document FROM finding_audits WHERE user_id = $1 AND day = $2 ORDER BY id`,
		user, day); err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	out := make([]finding.AuditRecord, len(rows))
	for i, row := range rows {
		if err := decode(row.Document, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DriverRepository stores attribution runs keyed by run key
type DriverRepository struct {
	db *sqlx.DB
}

func NewDriverRepository(db *sqlx.DB) *DriverRepository {
	return &DriverRepository{db: db}
}

// ReplaceRun deletes and rewrites a run's candidates in one transaction
func (r *DriverRepository) ReplaceRun(ctx context.Context, key core.RunKey, cands []attribution.DriverCandidate) error {
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM driver_candidates WHERE run_key = $1`, key); err != nil {
			return fmt.Errorf("failed to clear run %s: %w", key, err)
		}
		for _, c := range cands {
			doc, err := encode(c)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO driver_candidates (run_key, user_id, outcome_metric, rank, document)
				VALUES ($1, $2, $3, $4, $5)`,
				key, c.UserID, c.OutcomeMetric, c.Rank, doc); err != nil {
				return fmt.Errorf("failed to insert candidate: %w", err)
			}
		}
		return nil
	})
}

func (r *DriverRepository) GetRun(ctx context.Context, key core.RunKey) ([]attribution.DriverCandidate, error) {
	var rows []document
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT document FROM driver_candidates WHERE run_key = $1 ORDER BY rank`, key); err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", key, err)
	}
	if len(rows) == 0 {
		return nil, core.NewNotFoundError("attribution run", key.String())
	}
	return decodeCandidates(rows)
}

func (r *DriverRepository) LatestDrivers(ctx context.Context, user core.UserID, outcome core.MetricKey) ([]attribution.DriverCandidate, error) {
	var rows []document
	err := r.db.SelectContext(ctx, &rows, `
		SELECT document FROM driver_candidates
		WHERE run_key = (
			SELECT run_key FROM driver_candidates
			WHERE user_id = $1 AND outcome_metric = $2
			ORDER BY created_at DESC LIMIT 1
		)
		ORDER BY rank`,
		user, outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest drivers: %w", err)
	}
	return decodeCandidates(rows)
}

func decodeCandidates(rows []document) ([]attribution.DriverCandidate, error) {
	out := make([]attribution.DriverCandidate, len(rows))
	for i, row := range rows {
		if err := decode(row.Document, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ExperimentRepository persists experiments, their evaluations and the
// decisions taken on them
type ExperimentRepository struct {
	db *sqlx.DB
}

func NewExperimentRepository(db *sqlx.DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

func (r *ExperimentRepository) Get(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error) {
	var row document
	if err := r.db.GetContext(ctx, &row, `SELECT document FROM experiments WHERE id = $1`, id); err != nil {
		return nil, notFound(err, core.ErrExperimentNotFound)
	}
	var exp experiment.Experiment
	if err := decode(row.Document, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

func (r *ExperimentRepository) Save(ctx context.Context, exp *experiment.Experiment) error {
	doc, err := encode(exp)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO experiments (id, user_id, status, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			updated_at = NOW()`,
		exp.ID, exp.UserID, exp.Status, doc)
	if err != nil {
		return fmt.Errorf("failed to save experiment: %w", err)
	}
	return nil
}

func (r *ExperimentRepository) ListByUser(ctx context.Context, user core.UserID) ([]*experiment.Experiment, error) {
	var rows []document
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT document FROM experiments WHERE user_id = $1 ORDER BY created_at`, user); err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	out := make([]*experiment.Experiment, 0, len(rows))
	for _, row := range rows {
		var exp experiment.Experiment
		if err := decode(row.Document, &exp); err != nil {
			return nil, err
		}
		out = append(out, &exp)
	}
	return out, nil
}

// Evaluations returns the evaluation store sharing this connection
func (r *ExperimentRepository) Evaluations() *EvaluationRepository {
	return &EvaluationRepository{db: r.db}
}

// Decisions returns the decision store sharing this connection
func (r *ExperimentRepository) Decisions() *DecisionRepository {
	return &DecisionRepository{db: r.db}
}

type EvaluationRepository struct {
	db *sqlx.DB
}

func (r *EvaluationRepository) Get(ctx context.Context, id core.EvaluationID) (*experiment.EvaluationResult, error) {
	var row document
	if err := r.db.GetContext(ctx, &row, `SELECT document FROM evaluations WHERE id = $1`, id); err != nil {
		return nil, notFound(err, core.ErrEvaluationNotFound)
	}
	var res experiment.EvaluationResult
	if err := decode(row.Document, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *EvaluationRepository) Save(ctx context.Context, res experiment.EvaluationResult) error {
	doc, err := encode(res)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO evaluations (id, experiment_id, verdict, document) VALUES ($1, $2, $3, $4)`,
		res.ID, res.ExperimentID, res.Verdict, doc)
	if err != nil {
		return fmt.Errorf("failed to save evaluation: %w", err)
	}
	return nil
}

type DecisionRepository struct {
	db *sqlx.DB
}

func (r *DecisionRepository) Save(ctx context.Context, d experiment.LoopDecision) error {
	doc, err := encode(d)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO loop_decisions (id, experiment_id, evaluation_id, action, document)
		VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.ExperimentID, d.EvaluationID, d.Action, doc)
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

func (r *DecisionRepository) ListByExperiment(ctx context.Context, id core.ExperimentID) ([]experiment.LoopDecision, error) {
	var rows []document
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT document FROM loop_decisions WHERE experiment_id = $1 ORDER BY created_at`, id); err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	out := make([]experiment.LoopDecision, len(rows))
	for i, row := range rows {
		if err := decode(row.Document, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

var (
	_ ports.BaselineRepository   = (*BaselineRepository)(nil)
	_ ports.FindingRepository    = (*FindingRepository)(nil)
	_ ports.DriverRepository     = (*DriverRepository)(nil)
	_ ports.ExperimentRepository = (*ExperimentRepository)(nil)
	_ ports.EvaluationRepository = (*EvaluationRepository)(nil)
	_ ports.DecisionRepository   = (*DecisionRepository)(nil)
)
