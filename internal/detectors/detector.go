// Package detectors holds the pure statistical detectors. Each one looks at
// a daily series and its baseline and returns at most one finding.
package detectors

import (
	"healthloop/domain/core"
	"healthloop/domain/finding"
	"healthloop/domain/metric"
	"healthloop/internal/baseline"
)

// Input is everything a detector may look at
type Input struct {
	UserID   core.UserID
	Spec     metric.Spec
	Series   metric.Series
	Day      core.Day
	Baseline *baseline.Baseline
}

// recent returns the series inside the n days ending at Day, and that window
func (in Input) recent(n int) (metric.Series, core.Window) {
	w := core.TrailingWindow(in.Day, n)
	return in.Series.Until(in.Day).In(w), w
}

// Detector is a single statistical test
type Detector interface {
	Kind() finding.Kind
	// Detect returns nil when nothing fires or the detector cannot run
	Detect(in Input) *finding.Finding
	// Thresholds reports the thresholds in force, for the audit trail
	Thresholds(p metric.Policy) map[string]float64
}

func newFinding(in Input, kind finding.Kind, dir finding.Direction, confidence, coverage, magnitude float64, w core.Window, reason finding.Reason) *finding.Finding {
	return &finding.Finding{
		ID:            core.FindingID(core.NewID()),
		UserID:        in.UserID,
		MetricKey:     in.Spec.Key,
		Day:           in.Day,
		Kind:          kind,
		Direction:     dir,
		RawConfidence: confidence,
		SampleSize:    in.Baseline.SampleSize,
		Coverage:      coverage,
		Magnitude:     magnitude,
		Window:        w,
		Reason:        reason,
		CreatedAt:     core.Now(),
	}
}

func usable(b *baseline.Baseline) bool {
	return b != nil && b.Available && b.Spread > 0
}

// ForPolicy returns the detectors enabled by a metric policy, in priority
// order
func ForPolicy(p metric.Policy) []Detector {
	var out []Detector
	if p.Enabled(metric.DetectChange) {
		out = append(out, NewChange())
	}
	if p.Enabled(metric.DetectTrend) {
		out = append(out, NewTrend())
	}
	if p.Enabled(metric.DetectInstability) {
		out = append(out, NewInstability())
	}
	return out
}

// Select keeps the single most important finding. Safety beats change beats
// trend beats instability; ties go to the higher raw confidence.
func Select(findings ...*finding.Finding) *finding.Finding {
	var best *finding.Finding
	for _, f := range findings {
		if f == nil {
			continue
		}
		if best == nil {
			best = f
			continue
		}
		fp, bp := f.Kind.Priority(), best.Kind.Priority()
		if fp > bp || (fp == bp && f.RawConfidence > best.RawConfidence) {
			best = f
		}
	}
	return best
}
