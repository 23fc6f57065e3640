// Package evaluation judges whether an experiment's intervention helped.
package evaluation

import (
	"math"

	domain "healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/experiment"
	"healthloop/domain/metric"
	"healthloop/internal/analysis"
)

// ConfidenceLaw combines the evidence factors into one confidence. It is a
// weighted product, so a zero in any factor zeroes the result.
type ConfidenceLaw struct {
	EffectWeight    float64 `validate:"gte=0"`
	CoverageWeight  float64 `validate:"gte=0"`
	AdherenceWeight float64 `validate:"gte=0"`
}

// DefaultLaw weights every factor equally
func DefaultLaw() ConfidenceLaw {
	return ConfidenceLaw{EffectWeight: 1, CoverageWeight: 1, AdherenceWeight: 1}
}

// Apply returns Π fᵢ^wᵢ, each factor clamped to [0, 1]
func (l ConfidenceLaw) Apply(effect, coverage, adherence float64) float64 {
	pow := func(f, w float64) float64 {
		return math.Pow(analysis.Clamp(f, 0, 1), w)
	}
	return pow(effect, l.EffectWeight) * pow(coverage, l.CoverageWeight) * pow(adherence, l.AdherenceWeight)
}

// Config holds the verdict thresholds
type Config struct {
	MinCoverage      float64 `validate:"gt=0,lte=1"`
	MinPoints        int     `validate:"gte=2"`
	HelpfulEffect    float64 `validate:"gt=0"`
	NegligibleEffect float64 `validate:"gte=0,ltfield=HelpfulEffect"`
	DecisiveConf     float64 `validate:"gt=0,lte=1"`
	CILevel          float64 `validate:"gt=0,lt=1"`
	Law              ConfidenceLaw
}

// DefaultConfig returns the production thresholds
func DefaultConfig() Config {
	return Config{
		MinCoverage:      0.6,
		MinPoints:        7,
		HelpfulEffect:    0.35,
		NegligibleEffect: 0.2,
		DecisiveConf:     experiment.MinHelpfulConfidence,
		CILevel:          0.95,
		Law:              DefaultLaw(),
	}
}

// Input is everything one evaluation needs
type Input struct {
	Experiment experiment.Experiment
	Spec       metric.Spec
	Series     metric.Series
	Adherence  []domain.ExposureLog
	Note       *experiment.AttributionNote
}

// Engine evaluates experiments
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// Evaluate compares the intervention window against the baseline window.
// The result always goes through experiment.NewEvaluationResult so the
// helpful gate cannot be bypassed.
func (e *Engine) Evaluate(in Input) experiment.EvaluationResult {
	exp := in.Experiment
	base := in.Series.In(exp.BaselineWindow).Values()
	treated := in.Series.In(exp.InterventionWindow)

	adherence := make(map[core.Day]bool)
	for _, l := range in.Adherence {
		if l.Key != exp.InterventionKey || !exp.InterventionWindow.Contains(l.Day) {
			continue
		}
		adherence[l.Day] = adherence[l.Day] || l.Exposed()
	}

	days := exp.InterventionWindow.Len()
	covered, taken := 0, 0
	for _, v := range treated {
		if _, logged := adherence[v.Day]; logged {
			covered++
		}
	}
	for _, ok := range adherence {
		if ok {
			taken++
		}
	}

	r := experiment.EvaluationResult{
		ExperimentID:  exp.ID,
		UserID:        exp.UserID,
		OutcomeMetric: exp.OutcomeMetric,
		BaselineN:     len(base),
		InterventionN: len(treated),
		HasAdherence:  taken > 0,
		Note:          in.Note,
		PValue:        1,
	}
	if days > 0 {
		r.Coverage = float64(covered) / float64(days)
		r.AdherenceRate = float64(taken) / float64(days)
	}

	if r.Coverage < e.cfg.MinCoverage || len(base) < e.cfg.MinPoints || len(treated) < e.cfg.MinPoints {
		r.Verdict = experiment.VerdictInsufficientData
		return experiment.NewEvaluationResult(r)
	}

	cmp, err := analysis.Compare(treated.Values(), base)
	if err != nil {
		r.Verdict = experiment.VerdictInsufficientData
		return experiment.NewEvaluationResult(r)
	}
	r.EffectSize = cmp.D
	r.PValue = cmp.P
	r.CILow, r.CIHigh = cmp.DCI(e.cfg.CILevel)
	r.Confidence = e.cfg.Law.Apply(1-cmp.P, r.Coverage, r.AdherenceRate)
	r.Verdict = e.verdict(in.Spec, cmp.D, r.Confidence)

	return experiment.NewEvaluationResult(r)
}

func (e *Engine) verdict(spec metric.Spec, d, confidence float64) experiment.Verdict {
	size := math.Abs(d)
	switch {
	case size >= e.cfg.HelpfulEffect && spec.Direction == metric.OptimalRange:
		return experiment.VerdictUnclear
	case size >= e.cfg.HelpfulEffect && spec.Improves(d):
		return experiment.VerdictHelpful
	case size >= e.cfg.HelpfulEffect:
		return experiment.VerdictNotHelpful
	case size < e.cfg.NegligibleEffect && confidence >= e.cfg.DecisiveConf:
		return experiment.VerdictNotHelpful
	default:
		return experiment.VerdictUnclear
	}
}
