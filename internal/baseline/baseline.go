// Package baseline estimates a user's robust personal normal for a metric.
package baseline

import (
	"math"

	"healthloop/domain/core"
	"healthloop/domain/metric"
	"healthloop/internal/analysis"
)

// Reason explains why a baseline is unavailable
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonInsufficientData Reason = "insufficient_data"
	ReasonStale            Reason = "stale"
)

// Baseline is the robust center and spread of a metric as of a day
type Baseline struct {
	UserID      core.UserID    `json:"user_id" db:"user_id"`
	MetricKey   core.MetricKey `json:"metric_key" db:"metric_key"`
	AsOf        core.Day       `json:"as_of" db:"-"`
	Center      float64        `json:"center" db:"center"`
	Spread      float64        `json:"spread" db:"spread"`
	CILow       float64        `json:"ci_low" db:"ci_low"`
	CIHigh      float64        `json:"ci_high" db:"ci_high"`
	SampleSize  int            `json:"sample_size" db:"sample_size"`
	Coverage    float64        `json:"coverage" db:"coverage"`
	Confidence  float64        `json:"confidence" db:"confidence"`
	Available   bool           `json:"available" db:"available"`
	Stale       bool           `json:"stale" db:"stale"`
	Reason      Reason         `json:"reason,omitempty" db:"reason"`
	LastDataDay core.Day       `json:"last_data_day" db:"-"`
	ComputedAt  core.Timestamp `json:"computed_at" db:"-"`
}

// HasEstimate reports whether the baseline carries a center and spread,
// either freshly computed or frozen from an earlier run
func (b *Baseline) HasEstimate() bool {
	return b != nil && b.SampleSize > 0 && b.Spread > 0
}

// State is a short label for audit records
func (b *Baseline) State() string {
	switch {
	case b == nil:
		return "missing"
	case b.Available:
		return "available"
	case b.Stale:
		return "stale"
	default:
		return string(b.Reason)
	}
}

// Config holds the estimator settings
type Config struct {
	MinSamples     int     `validate:"gte=3"`
	LookbackDays   int     `validate:"gtefield=MinSamples"`
	StaleAfterDays int     `validate:"gte=1"`
	CILevel        float64 `validate:"gt=0,lt=1"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{MinSamples: 14, LookbackDays: 30, StaleAfterDays: 3, CILevel: 0.95}
}

// Estimator computes baselines. It is pure; persistence and caching live
// with the caller.
type Estimator struct {
	cfg Config
}

func NewEstimator(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// Config returns the estimator settings
func (e *Estimator) Config() Config { return e.cfg }

// Estimate computes the baseline for spec as of asOf from the series. prior
// is the last persisted baseline, used to freeze across data gaps.
func (e *Estimator) Estimate(userID core.UserID, spec metric.Spec, series metric.Series, asOf core.Day, prior *Baseline) Baseline {
	window := core.TrailingWindow(asOf, e.cfg.LookbackDays)
	inWindow := series.Until(asOf).In(window)

	out := Baseline{
		UserID:     userID,
		MetricKey:  spec.Key,
		AsOf:       asOf,
		SampleSize: len(inWindow),
		Coverage:   float64(len(inWindow)) / float64(window.Len()),
		ComputedAt: core.Now(),
	}
	if len(inWindow) > 0 {
		out.LastDataDay = inWindow[len(inWindow)-1].Day
	}

	gap := len(inWindow) == 0 || asOf.DaysSince(out.LastDataDay) >= e.cfg.StaleAfterDays
	short := len(inWindow) < e.cfg.MinSamples

	if prior.HasEstimate() && (gap || short) {
		return e.freeze(*prior, out)
	}
	if short {
		out.Available = false
		out.Reason = ReasonInsufficientData
		return out
	}

	values := inWindow.Values()
	center, err := analysis.Median(values)
	if err != nil {
		out.Reason = ReasonInsufficientData
		return out
	}
	spread, err := analysis.RobustSpread(values, spec.SpreadFloor)
	if err != nil {
		out.Reason = ReasonInsufficientData
		return out
	}

	n := float64(len(values))
	z := analysis.NormalQuantile(1 - (1-e.cfg.CILevel)/2)
	half := z * analysis.MedianEfficiency * spread / math.Sqrt(n)

	out.Center = center
	out.Spread = spread
	out.CILow = center - half
	out.CIHigh = center + half
	out.Confidence = n / (n + float64(e.cfg.MinSamples))
	out.Available = true
	return out
}

// freeze keeps the prior estimate and flags it stale
func (e *Estimator) freeze(prior, current Baseline) Baseline {
	frozen := prior
	frozen.AsOf = current.AsOf
	frozen.Coverage = current.Coverage
	frozen.ComputedAt = current.ComputedAt
	if !current.LastDataDay.IsZero() {
		frozen.LastDataDay = current.LastDataDay
	}
	frozen.Available = false
	frozen.Stale = true
	frozen.Reason = ReasonStale
	return frozen
}
