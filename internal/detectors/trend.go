package detectors

import (
	"math"

	"healthloop/domain/finding"
	"healthloop/domain/metric"
	"healthloop/internal/analysis"
)

// Trend fits an OLS line over the recent window
type Trend struct {
	WindowDays int
	MinDays    int
	Level      float64
}

func NewTrend() *Trend {
	return &Trend{WindowDays: 14, MinDays: 7, Level: 0.95}
}

func (t *Trend) Kind() finding.Kind { return finding.KindTrend }

func (t *Trend) Thresholds(p metric.Policy) map[string]float64 {
	return map[string]float64{"trend_slope": p.TrendSlope, "trend_ci_level": t.Level}
}

func (t *Trend) Detect(in Input) *finding.Finding {
	if !usable(in.Baseline) {
		return nil
	}
	series, w := in.recent(t.WindowDays)
	if len(series) < t.MinDays {
		return nil
	}
	// regress on the day offset so missing days do not compress the x axis
	xs := make([]float64, len(series))
	for i, dv := range series {
		xs[i] = float64(dv.Day.DaysSince(w.Start))
	}
	ys := series.Values()
	fit, err := analysis.LinearTrend(xs, ys, t.Level)
	if err != nil {
		return nil
	}
	if fit.CILow <= 0 && fit.CIHigh >= 0 {
		return nil
	}
	if math.Abs(fit.Slope) < in.Spec.Policy.TrendSlope {
		return nil
	}

	return newFinding(in, finding.KindTrend, finding.DirectionOf(fit.Slope), 1-fit.P, float64(len(ys))/float64(t.WindowDays), math.Abs(fit.Slope), w, finding.TrendReason{
		Slope:     fit.Slope,
		CILow:     fit.CILow,
		CIHigh:    fit.CIHigh,
		PValue:    fit.P,
		Threshold: in.Spec.Policy.TrendSlope,
		Days:      len(ys),
	})
}
