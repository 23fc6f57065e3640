package detectors

import (
	"math"

	"healthloop/domain/finding"
	"healthloop/domain/metric"
	"healthloop/internal/analysis"
)

// Change compares the mean of the last few days against the baseline center
type Change struct {
	RecentDays int
	MinRecent  int
	DefaultZ   float64
}

func NewChange() *Change {
	return &Change{RecentDays: 3, MinRecent: 3, DefaultZ: 2.0}
}

func (c *Change) Kind() finding.Kind { return finding.KindChange }

func (c *Change) threshold(p metric.Policy) float64 {
	if p.ChangeZ > 0 {
		return p.ChangeZ
	}
	return c.DefaultZ
}

func (c *Change) Thresholds(p metric.Policy) map[string]float64 {
	return map[string]float64{"change_z": c.threshold(p)}
}

func (c *Change) Detect(in Input) *finding.Finding {
	if !usable(in.Baseline) {
		return nil
	}
	series, w := in.recent(c.RecentDays)
	recent := series.Values()
	if len(recent) < c.MinRecent {
		return nil
	}
	mean, err := analysis.Mean(recent)
	if err != nil {
		return nil
	}

	b := in.Baseline
	z := (mean - b.Center) / b.Spread
	limit := c.threshold(in.Spec.Policy)
	if math.Abs(z) < limit {
		return nil
	}

	// small baselines get their confidence shrunk
	n := float64(b.SampleSize)
	shrink := 1.0
	if n > 1 {
		shrink = 1 / (1 + 1/math.Sqrt(2*(n-1)))
	}
	conf := (2*analysis.NormalCDF(math.Abs(z)) - 1) * shrink

	return newFinding(in, finding.KindChange, finding.DirectionOf(z), conf, float64(len(recent))/float64(c.RecentDays), math.Abs(z), w, finding.ChangeReason{
		RecentMean:     mean,
		BaselineCenter: b.Center,
		BaselineSpread: b.Spread,
		ZScore:         z,
		Threshold:      limit,
		RecentDays:     len(recent),
	})
}
