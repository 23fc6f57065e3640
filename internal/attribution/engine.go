// Package attribution ranks behaviours by how strongly they track an outcome
// metric across lags, with guardrails against thin or confounded evidence.
package attribution

import (
	"fmt"
	"math"
	"sort"

	domain "healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/evidence"
	"healthloop/domain/metric"
	"healthloop/internal/analysis"
)

// Config holds the guardrail thresholds
type Config struct {
	MaxLag          int     `validate:"gte=0,lte=14"`
	Alpha           float64 `validate:"gt=0,lt=1"`
	MinPairs        int     `validate:"gte=4"`
	MinArm          int     `validate:"gte=2"`
	MinStability    float64 `validate:"gte=0,lte=1"`
	MinCoverage     float64 `validate:"gte=0,lte=1"`
	ConfoundCorr    float64 `validate:"gt=0,lte=1"`
	ConfoundPenalty float64 `validate:"gt=0,lte=1"`
	MinPenalty      float64 `validate:"gt=0,lte=1"`
	Version         string  `validate:"required"`
}

// DefaultConfig returns the production guardrails
func DefaultConfig() Config {
	return Config{
		MaxLag:          3,
		Alpha:           0.05,
		MinPairs:        14,
		MinArm:          5,
		MinStability:    0.75,
		MinCoverage:     0.5,
		ConfoundCorr:    0.8,
		ConfoundPenalty: 0.6,
		MinPenalty:      0.25,
		Version:         "attribution-v1",
	}
}

// Request is one attribution run
type Request struct {
	UserID    core.UserID
	Outcome   core.MetricKey
	Series    metric.Series
	Exposures []domain.ExposureLog
	Window    core.Window
}

// Engine runs attribution. It holds no state between runs.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// RunKey identifies a run for idempotent retries
func (e *Engine) RunKey(req Request) core.RunKey {
	return core.ComputeRunKey(req.UserID, req.Outcome, exposureKeys(req.Exposures), req.Window, e.cfg.Version)
}

type pair struct {
	exposed bool
	y       float64
}

// Run computes every (exposure, lag) candidate, applies FDR across the whole
// run, labels guardrail failures and returns the ranked set. Nothing is
// dropped; weak candidates are labelled and down-weighted instead.
func (e *Engine) Run(req Request) ([]domain.DriverCandidate, error) {
	if req.Window.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidWindow, req.Window)
	}
	logs := indexExposures(req.Exposures, req.Window)
	keys := make([]core.ExposureKey, 0, len(logs))
	for k := range logs {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no exposures logged in window %s: %w", req.Window, core.ErrInsufficientData)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	outcome := req.Series.ByDay()
	confounders := e.confounders(keys, logs, req.Window)
	runKey := e.RunKey(req)
	windowDays := req.Window.Days()

	var out []domain.DriverCandidate
	for _, key := range keys {
		for lag := 0; lag <= e.cfg.MaxLag; lag++ {
			var pairs []pair
			for _, d := range windowDays {
				// an unlogged day counts as a zero dose
				v := logs[key][d]
				y, ok := outcome[d.AddDays(lag)]
				if !ok {
					continue
				}
				pairs = append(pairs, pair{exposed: v > 0, y: y})
			}
			c := e.measure(pairs, len(windowDays))
			c.RunKey = runKey
			c.UserID = req.UserID
			c.OutcomeMetric = req.Outcome
			c.ExposureKey = key
			c.Lag = lag
			c.Window = req.Window
			c.ConfoundedWith = confounders[key]
			out = append(out, c)
		}
	}

	pvals := make([]float64, len(out))
	for i := range out {
		pvals[i] = out[i].PValue
	}
	q := analysis.BenjaminiHochberg(pvals)
	for i := range out {
		out[i].QValue = q[i]
		e.applyGuardrails(&out[i])
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Score(), out[j].Score()
		if si != sj {
			return si > sj
		}
		if out[i].ExposureKey != out[j].ExposureKey {
			return out[i].ExposureKey < out[j].ExposureKey
		}
		return out[i].Lag < out[j].Lag
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func (e *Engine) measure(pairs []pair, windowDays int) domain.DriverCandidate {
	c := domain.DriverCandidate{PValue: 1, SampleSize: len(pairs)}
	if windowDays > 0 {
		c.Coverage = float64(len(pairs)) / float64(windowDays)
	}

	exposed, unexposed := split(pairs)
	c.ExposedDays, c.UnexposedDays = len(exposed), len(unexposed)
	if cmp, err := analysis.Compare(exposed, unexposed); err == nil {
		c.EffectSize = cmp.D
		c.PValue = cmp.P
	}
	c.Stability = stability(pairs, c.EffectSize)
	c.RawConfidence = (1 - c.PValue) * (1 - math.Exp(-math.Abs(c.EffectSize)))
	return c
}

// stability is the share of chronological halves whose effect has the
// overall sign
func stability(pairs []pair, overall float64) float64 {
	if overall == 0 || len(pairs) < 2 {
		return 0
	}
	h := len(pairs) / 2
	agree := 0
	for _, half := range [][]pair{pairs[:h], pairs[h:]} {
		a, b := split(half)
		cmp, err := analysis.Compare(a, b)
		if err != nil {
			continue
		}
		if cmp.D*overall > 0 {
			agree++
		}
	}
	return float64(agree) / 2
}

func split(pairs []pair) (exposed, unexposed []float64) {
	for _, p := range pairs {
		if p.exposed {
			exposed = append(exposed, p.y)
		} else {
			unexposed = append(unexposed, p.y)
		}
	}
	return exposed, unexposed
}

func (e *Engine) applyGuardrails(c *domain.DriverCandidate) {
	factor := 1.0
	smallArm := c.ExposedDays
	if c.UnexposedDays < smallArm {
		smallArm = c.UnexposedDays
	}

	if c.SampleSize < e.cfg.MinPairs || smallArm < e.cfg.MinArm {
		c.Labels = append(c.Labels, domain.LabelPreliminary)
		ratio := math.Min(float64(c.SampleSize)/float64(e.cfg.MinPairs), float64(smallArm)/float64(e.cfg.MinArm))
		factor *= e.penalty(ratio)
	}
	if c.Stability < e.cfg.MinStability {
		c.Labels = append(c.Labels, domain.LabelUnstable)
		factor *= e.penalty(c.Stability / e.cfg.MinStability)
	}
	if c.Coverage < e.cfg.MinCoverage {
		c.Labels = append(c.Labels, domain.LabelLowCoverage)
		factor *= e.penalty(c.Coverage / e.cfg.MinCoverage)
	}
	if len(c.ConfoundedWith) > 0 {
		c.Labels = append(c.Labels, domain.LabelConfounded)
		factor *= e.cfg.ConfoundPenalty
	}
	if c.QValue > e.cfg.Alpha {
		c.Labels = append(c.Labels, domain.LabelNotSignificant)
	}

	c.Confidence = c.RawConfidence * factor
	c.Accepted = len(c.Labels) == 0
	c.Grade = evidence.GradeItem(c)
}

func (e *Engine) penalty(ratio float64) float64 {
	return analysis.Clamp(ratio, e.cfg.MinPenalty, 1)
}

// confounders finds exposures whose daily doses move together. Days without
// a log are read as zero, as in the pairs.
func (e *Engine) confounders(keys []core.ExposureKey, logs map[core.ExposureKey]map[core.Day]float64, w core.Window) map[core.ExposureKey][]core.ExposureKey {
	out := make(map[core.ExposureKey][]core.ExposureKey)
	days := w.Days()
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			xs := make([]float64, len(days))
			ys := make([]float64, len(days))
			for k, d := range days {
				xs[k] = logs[keys[i]][d]
				ys[k] = logs[keys[j]][d]
			}
			if math.Abs(analysis.Correlation(xs, ys)) >= e.cfg.ConfoundCorr {
				out[keys[i]] = append(out[keys[i]], keys[j])
				out[keys[j]] = append(out[keys[j]], keys[i])
			}
		}
	}
	return out
}

func indexExposures(logs []domain.ExposureLog, w core.Window) map[core.ExposureKey]map[core.Day]float64 {
	out := make(map[core.ExposureKey]map[core.Day]float64)
	for _, l := range logs {
		if !w.Contains(l.Day) {
			continue
		}
		if out[l.Key] == nil {
			out[l.Key] = make(map[core.Day]float64)
		}
		// several logs on one day add up to that day's dose
		out[l.Key][l.Day] += l.Value
	}
	return out
}

func exposureKeys(logs []domain.ExposureLog) []core.ExposureKey {
	seen := make(map[core.ExposureKey]bool)
	var keys []core.ExposureKey
	for _, l := range logs {
		if !seen[l.Key] {
			seen[l.Key] = true
			keys = append(keys, l.Key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
