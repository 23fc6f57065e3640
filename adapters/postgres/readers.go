package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/metric"
	"healthloop/ports"
)

// InputRepository reads raw observations, exposure logs, symptoms and
// consent
type InputRepository struct {
	db *sqlx.DB
}

func NewInputRepository(db *sqlx.DB) *InputRepository {
	return &InputRepository{db: db}
}

// Points returns the raw observations whose UTC day falls in w
func (r *InputRepository) Points(ctx context.Context, user core.UserID, key core.MetricKey, w core.Window) ([]metric.Point, error) {
	var pts []metric.Point
	err := r.db.SelectContext(ctx, &pts, `
		SELECT observed_at, value FROM metric_points
		WHERE user_id = $1 AND metric_key = $2
		  AND observed_at >= $3 AND observed_at < $4
		ORDER BY observed_at`,
		user, key, w.Start.Time(), w.End.AddDays(1).Time())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s points: %w", key, err)
	}
	return pts, nil
}

func (r *InputRepository) Exposures(ctx context.Context, user core.UserID, w core.Window) ([]attribution.ExposureLog, error) {
	var logs []attribution.ExposureLog
	err := r.db.SelectContext(ctx, &logs, `
		SELECT day, exposure_key, value FROM exposure_logs
		WHERE user_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day, exposure_key`,
		user, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query exposures: %w", err)
	}
	return logs, nil
}

func (r *InputRepository) Symptoms(ctx context.Context, user core.UserID, day core.Day) ([]string, error) {
	var tags []string
	err := r.db.SelectContext(ctx, &tags, `
		SELECT tag FROM symptom_reports WHERE user_id = $1 AND day = $2 ORDER BY tag`,
		user, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query symptoms: %w", err)
	}
	return tags, nil
}

// ActiveUsers lists users with any observation in the last 30 days
func (r *InputRepository) ActiveUsers(ctx context.Context) ([]core.UserID, error) {
	var users []core.UserID
	err := r.db.SelectContext(ctx, &users, `
		SELECT DISTINCT user_id FROM metric_points
		WHERE observed_at >= NOW() - INTERVAL '30 days'
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	return users, nil
}

func (r *InputRepository) HasConsent(ctx context.Context, user core.UserID, scope ports.ConsentScope) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok, `
		SELECT EXISTS (
			SELECT 1 FROM user_consents
			WHERE user_id = $1 AND scope = $2 AND revoked_at IS NULL
		)`, user, scope)
	if err != nil {
		return false, fmt.Errorf("failed to check consent: %w", err)
	}
	return ok, nil
}

// Import writes observations and exposure logs in one transaction
func (r *InputRepository) Import(ctx context.Context, user core.UserID, points map[core.MetricKey][]metric.Point, logs []attribution.ExposureLog) error {
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for key, pts := range points {
			for _, p := range pts {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO metric_points (user_id, metric_key, observed_at, value)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (user_id, metric_key, observed_at) DO UPDATE SET value = EXCLUDED.value`,
					user, key, p.At, p.Value); err != nil {
					return fmt.Errorf("failed to import %s point: %w", key, err)
				}
			}
		}
		for _, l := range logs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO exposure_logs (user_id, day, exposure_key, value) VALUES ($1, $2, $3, $4)`,
				user, l.Day, l.Key, l.Value); err != nil {
				return fmt.Errorf("failed to import exposure: %w", err)
			}
		}
		return nil
	})
}

// ReportSymptoms records the day's symptom tags; repeats are ignored
func (r *InputRepository) ReportSymptoms(ctx context.Context, user core.UserID, day core.Day, tags ...string) error {
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO symptom_reports (user_id, day, tag) VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`,
				user, day, tag); err != nil {
				return fmt.Errorf("failed to record symptom %s: %w", tag, err)
			}
		}
		return nil
	})
}

// Grant records consent for the given scopes
func (r *InputRepository) Grant(ctx context.Context, user core.UserID, scopes ...ports.ConsentScope) error {
	for _, s := range scopes {
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO user_consents (user_id, scope) VALUES ($1, $2)
			ON CONFLICT (user_id, scope) DO UPDATE SET granted_at = NOW(), revoked_at = NULL`,
			user, s); err != nil {
			return fmt.Errorf("failed to grant %s consent: %w", s, err)
		}
	}
	return nil
}

var (
	_ ports.SeriesReader   = (*InputRepository)(nil)
	_ ports.ExposureReader = (*InputRepository)(nil)
	_ ports.SymptomReader  = (*InputRepository)(nil)
	_ ports.UserLister     = (*InputRepository)(nil)
	_ ports.ConsentChecker = (*InputRepository)(nil)
)
