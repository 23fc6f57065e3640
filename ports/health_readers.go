package ports

import (
	"context"

	"healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/metric"
)

// SeriesReader reads raw metric points. Readers return points in any order;
// metric.Aggregate folds them into days.
type SeriesReader interface {
	Points(ctx context.Context, userID core.UserID, key core.MetricKey, window core.Window) ([]metric.Point, error)
}

// ExposureReader reads logged behaviours (supplements, caffeine, training...)
type ExposureReader interface {
	Exposures(ctx context.Context, userID core.UserID, window core.Window) ([]attribution.ExposureLog, error)
}

// SymptomReader returns the symptom tags a user reported on a day
type SymptomReader interface {
	Symptoms(ctx context.Context, userID core.UserID, day core.Day) ([]string, error)
}

// UserLister enumerates the users due for a daily batch
type UserLister interface {
	ActiveUsers(ctx context.Context) ([]core.UserID, error)
}

// ConsentChecker answers whether a user allowed a processing scope
type ConsentChecker interface {
	HasConsent(ctx context.Context, userID core.UserID, scope ConsentScope) (bool, error)
}

// ConsentScope names a kind of processing a user can opt into
type ConsentScope string

const (
	ConsentAnalytics   ConsentScope = "analytics"
	ConsentAttribution ConsentScope = "attribution"
	ConsentExperiments ConsentScope = "experiments"
)
