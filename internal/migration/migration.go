package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"healthloop/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// step is one versioned schema change
type step struct {
	version string
	name    string
	sql     string
}

// MigrationRunner applies the schema steps in order, once each
type MigrationRunner struct {
	steps []step
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{steps: schema}
}

// Version returns the latest schema version
func (r *MigrationRunner) Version() string {
	return r.steps[len(r.steps)-1].version
}

// Run executes all pending migrations. Each step runs in its own transaction
// together with its schema_migrations row.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(32) PRIMARY KEY,
			name VARCHAR(128) NOT NULL,
			checksum VARCHAR(64) NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return errors.Wrap(err, "failed to create schema_migrations table")
	}

	applied, err := r.applied(ctx, db)
	if err != nil {
		return errors.Wrap(err, "failed to read applied migrations")
	}

	for _, s := range r.steps {
		sum := checksum(s.sql)
		if prev, ok := applied[s.version]; ok {
			if prev != sum {
				return errors.ConfigInvalid(fmt.Sprintf("migration %s (%s) changed after it was applied", s.version, s.name))
			}
			continue
		}
		if err := r.apply(ctx, db, s, sum); err != nil {
			return errors.Wrapf(err, "failed to apply migration %s (%s)", s.version, s.name)
		}
	}
	return nil
}

func (r *MigrationRunner) applied(ctx context.Context, db *sqlx.DB) (map[string]string, error) {
	var rows []struct {
		Version  string `db:"version"`
		Checksum string `db:"checksum"`
	}
	if err := db.SelectContext(ctx, &rows, `SELECT version, checksum FROM schema_migrations`); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Version] = row.Checksum
	}
	return out, nil
}

func (r *MigrationRunner) apply(ctx context.Context, db *sqlx.DB, s step, sum string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
		s.version, s.name, sum); err != nil {
		return err
	}
	return tx.Commit()
}

func checksum(sql string) string {
	h := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(h[:])
}

var schema = []step{
	{
		version: "001",
		name:    "inputs",
		sql: `
		CREATE TABLE IF NOT EXISTS metric_points (
			user_id VARCHAR(128) NOT NULL,
			metric_key VARCHAR(64) NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (user_id, metric_key, observed_at)
		);
		CREATE TABLE IF NOT EXISTS exposure_logs (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			day DATE NOT NULL,
			exposure_key VARCHAR(64) NOT NULL,
			value DOUBLE PRECISION NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_exposure_logs_user_day ON exposure_logs(user_id, day);
		CREATE TABLE IF NOT EXISTS symptom_reports (
			user_id VARCHAR(128) NOT NULL,
			day DATE NOT NULL,
			tag VARCHAR(64) NOT NULL,
			PRIMARY KEY (user_id, day, tag)
		);
		CREATE TABLE IF NOT EXISTS user_consents (
			user_id VARCHAR(128) NOT NULL,
			scope VARCHAR(32) NOT NULL,
			granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			revoked_at TIMESTAMPTZ,
			PRIMARY KEY (user_id, scope)
		);`,
	},
	{
		version: "002",
		name:    "baselines_and_findings",
		sql: `
		CREATE TABLE IF NOT EXISTS baselines (
			user_id VARCHAR(128) NOT NULL,
			metric_key VARCHAR(64) NOT NULL,
			as_of DATE NOT NULL,
			available BOOLEAN NOT NULL,
			document JSONB NOT NULL,
			PRIMARY KEY (user_id, metric_key, as_of)
		);
		CREATE TABLE IF NOT EXISTS findings (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			metric_key VARCHAR(64) NOT NULL,
			day DATE NOT NULL,
			kind VARCHAR(32) NOT NULL,
			grade VARCHAR(1) NOT NULL,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_findings_user_day ON findings(user_id, day);
		CREATE TABLE IF NOT EXISTS finding_audits (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			metric_key VARCHAR(64) NOT NULL,
			day DATE NOT NULL,
			state VARCHAR(32) NOT NULL,
			finding_id VARCHAR(64) REFERENCES findings(id),
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_finding_audits_user_day ON finding_audits(user_id, day);`,
	},
	{
		version: "003",
		name:    "attribution",
		sql: `
		CREATE TABLE IF NOT EXISTS driver_candidates (
			run_key VARCHAR(64) NOT NULL,
			user_id VARCHAR(128) NOT NULL,
			outcome_metric VARCHAR(64) NOT NULL,
			rank INTEGER NOT NULL,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (run_key, rank)
		);
		CREATE INDEX IF NOT EXISTS idx_driver_candidates_outcome ON driver_candidates(user_id, outcome_metric, created_at DESC);`,
	},
	{
		version: "004",
		name:    "experiments",
		sql: `
		CREATE TABLE IF NOT EXISTS experiments (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(128) NOT NULL,
			status VARCHAR(32) NOT NULL,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_experiments_user ON experiments(user_id);
		CREATE TABLE IF NOT EXISTS evaluations (
			id VARCHAR(64) PRIMARY KEY,
			experiment_id VARCHAR(64) NOT NULL REFERENCES experiments(id),
			verdict VARCHAR(32) NOT NULL,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS loop_decisions (
			id VARCHAR(64) PRIMARY KEY,
			experiment_id VARCHAR(64) NOT NULL REFERENCES experiments(id),
			evaluation_id VARCHAR(64) NOT NULL UNIQUE REFERENCES evaluations(id),
			action VARCHAR(16) NOT NULL,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	},
	{
		version: "005",
		name:    "one_finding_per_metric_day",
		sql: `
		ALTER TABLE finding_audits DROP CONSTRAINT IF EXISTS finding_audits_finding_id_fkey;
		ALTER TABLE finding_audits ADD CONSTRAINT finding_audits_finding_id_fkey
			FOREIGN KEY (finding_id) REFERENCES findings(id) ON DELETE SET NULL;
		DELETE FROM findings f USING findings g
		WHERE f.user_id = g.user_id AND f.metric_key = g.metric_key AND f.day = g.day
			AND (f.created_at, f.id) < (g.created_at, g.id);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_findings_user_metric_day ON findings(user_id, metric_key, day);`,
	},
}
