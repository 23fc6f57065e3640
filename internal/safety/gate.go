// Package safety evaluates red-flag rules on raw values before any detector
// runs. A fired rule suppresses the normal findings for the day.
package safety

import (
	"fmt"
	"math"
	"sort"

	"healthloop/domain/core"
	"healthloop/domain/finding"
	"healthloop/domain/metric"
)

// Snapshot is the raw data the gate looks at for one user and day
type Snapshot struct {
	UserID core.UserID
	Day    core.Day
	// Series holds recent daily values per metric, at least PersistDays long
	// for persistence rules
	Series   map[core.MetricKey]metric.Series
	Symptoms []string
}

func (s Snapshot) valueOn(m core.MetricKey, d core.Day) (float64, bool) {
	series, ok := s.Series[m]
	if !ok {
		return 0, false
	}
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].Day.Equal(d) {
			return series[i].Value, true
		}
		if series[i].Day.Before(d) {
			break
		}
	}
	return 0, false
}

// Result is the set of rules that fired and the days they were checked over
type Result struct {
	Hits   []finding.RuleHit
	Window core.Window
}

// Triggered reports whether any rule fired
func (r Result) Triggered() bool { return len(r.Hits) > 0 }

// Primary is the most severe hit
func (r Result) Primary() finding.RuleHit {
	if len(r.Hits) == 0 {
		return finding.RuleHit{}
	}
	return r.Hits[0]
}

// RuleIDs lists the fired rules for the audit trail
func (r Result) RuleIDs() []string {
	out := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = h.RuleID
	}
	return out
}

// Finding renders the safety finding for one metric pass
func (r Result) Finding(user core.UserID, m core.MetricKey, day core.Day) *finding.Finding {
	if !r.Triggered() {
		return nil
	}
	return &finding.Finding{
		ID:            core.FindingID(core.NewID()),
		UserID:        user,
		MetricKey:     m,
		Day:           day,
		Kind:          finding.KindSafety,
		Direction:     finding.DirectionNone,
		RawConfidence: 1,
		SampleSize:    1,
		Coverage:      1,
		Magnitude:     float64(r.Primary().Severity.Rank()),
		Window:        r.Window,
		Reason:        finding.SafetyReason{Primary: r.Primary(), Hits: r.Hits},
		CreatedAt:     core.Now(),
	}
}

// Gate evaluates a fixed rule table
type Gate struct {
	rules    []Rule
	registry *metric.Registry
}

// NewGate builds a gate. An empty rule table is refused so that a
// misconfigured deployment cannot silently run without safety checks.
func NewGate(rules []Rule, registry *metric.Registry) (*Gate, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: empty rule table", core.ErrSafetyGate)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: nil metric registry", core.ErrSafetyGate)
	}
	for _, r := range rules {
		if r.ID == "" || (len(r.Conditions) == 0 && len(r.Symptoms) == 0) {
			return nil, fmt.Errorf("%w: malformed rule %q", core.ErrSafetyGate, r.ID)
		}
		if r.PersistDays > 0 && len(r.Conditions) != 1 {
			return nil, fmt.Errorf("%w: persistence rule %q needs exactly one condition", core.ErrSafetyGate, r.ID)
		}
	}
	return &Gate{rules: rules, registry: registry}, nil
}

// Metrics lists the metrics the rule table reads, sorted
func (g *Gate) Metrics() []core.MetricKey {
	seen := make(map[core.MetricKey]bool)
	var out []core.MetricKey
	for _, r := range g.rules {
		for _, c := range r.Conditions {
			if !seen[c.Metric] {
				seen[c.Metric] = true
				out = append(out, c.Metric)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lookback is the number of days a snapshot must cover
func (g *Gate) Lookback() int {
	days := 1
	for _, r := range g.rules {
		if r.PersistDays > days {
			days = r.PersistDays
		}
	}
	return days
}

// Evaluate runs every rule. Any error means the gate could not be evaluated
// and the caller must fail closed.
func (g *Gate) Evaluate(s Snapshot) (Result, error) {
	if g == nil || len(g.rules) == 0 {
		return Result{}, fmt.Errorf("%w: gate not configured", core.ErrSafetyGate)
	}
	if s.Day.IsZero() {
		return Result{}, fmt.Errorf("%w: snapshot has no day", core.ErrSafetyGate)
	}
	for key, series := range s.Series {
		for _, v := range series {
			if math.IsNaN(v.Value) || math.IsInf(v.Value, 0) {
				return Result{}, core.NewSafetyGateError(key, fmt.Errorf("non-finite value on %s", v.Day))
			}
			if err := g.registry.Validate(key, v.Value); err != nil {
				return Result{}, core.NewSafetyGateError(key, err)
			}
		}
	}

	res := Result{Window: core.TrailingWindow(s.Day, g.Lookback())}
	for _, rule := range g.rules {
		if hit, ok := g.check(rule, s); ok {
			res.Hits = append(res.Hits, hit)
		}
	}
	sort.SliceStable(res.Hits, func(i, j int) bool {
		return res.Hits[i].Severity.Rank() > res.Hits[j].Severity.Rank()
	})
	return res, nil
}

func (g *Gate) check(rule Rule, s Snapshot) (finding.RuleHit, bool) {
	hit := finding.RuleHit{
		RuleID:   rule.ID,
		Severity: rule.Severity,
		Action:   rule.Action,
		Message:  rule.Message,
		Values:   map[string]float64{},
	}

	if len(rule.Symptoms) > 0 && !anyTag(s.Symptoms, rule.Symptoms) {
		return hit, false
	}

	days := 1
	if rule.PersistDays > 0 {
		days = rule.PersistDays
	}
	for _, c := range rule.Conditions {
		for back := 0; back < days; back++ {
			d := s.Day.AddDays(-back)
			v, ok := s.valueOn(c.Metric, d)
			if !ok || !c.holds(v) {
				return hit, false
			}
			if back == 0 {
				hit.Values[string(c.Metric)] = v
			}
		}
		hit.Metrics = append(hit.Metrics, c.Metric)
	}
	return hit, true
}

func anyTag(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
