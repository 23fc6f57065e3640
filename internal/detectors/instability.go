package detectors

import (
	"healthloop/domain/finding"
	"healthloop/domain/metric"
	"healthloop/internal/analysis"
)

// Instability flags a recent variance well above the baseline spread. It
// ignores mean shifts.
type Instability struct {
	RecentDays   int
	MinRecent    int
	DefaultRatio float64
}

func NewInstability() *Instability {
	return &Instability{RecentDays: 7, MinRecent: 7, DefaultRatio: 3.0}
}

func (d *Instability) Kind() finding.Kind { return finding.KindInstability }

func (d *Instability) threshold(p metric.Policy) float64 {
	if p.InstabilityRatio > 0 {
		return p.InstabilityRatio
	}
	return d.DefaultRatio
}

func (d *Instability) Thresholds(p metric.Policy) map[string]float64 {
	return map[string]float64{"instability_ratio": d.threshold(p)}
}

func (d *Instability) Detect(in Input) *finding.Finding {
	if !usable(in.Baseline) {
		return nil
	}
	series, w := in.recent(d.RecentDays)
	recent := series.Values()
	if len(recent) < d.MinRecent {
		return nil
	}
	variance, err := analysis.SampleVariance(recent)
	if err != nil {
		return nil
	}

	b := in.Baseline
	baseVar := b.Spread * b.Spread
	ratio := variance / baseVar
	limit := d.threshold(in.Spec.Policy)
	if ratio < limit {
		return nil
	}

	conf := analysis.FCDF(ratio, len(recent)-1, b.SampleSize-1)
	return newFinding(in, finding.KindInstability, finding.DirectionNone, conf, float64(len(recent))/float64(d.RecentDays), ratio, w, finding.InstabilityReason{
		RecentVariance:   variance,
		BaselineVariance: baseVar,
		Ratio:            ratio,
		Threshold:        limit,
		RecentDays:       len(recent),
	})
}
