package app

import (
	"context"
	"errors"
	"time"

	"healthloop/domain/core"
	"healthloop/domain/finding"
	"healthloop/internal/telemetry"
	"healthloop/ports"
)

// DayReport summarises one user's daily run
type DayReport struct {
	UserID      core.UserID                        `json:"user_id"`
	Day         core.Day                           `json:"day"`
	Skipped     bool                               `json:"skipped,omitempty"`
	SafetyRules []string                           `json:"safety_rules,omitempty"`
	Outcomes    map[core.MetricKey]finding.Outcome `json:"outcomes"`
	Drivers     map[core.MetricKey]int             `json:"drivers,omitempty"`
	Failures    map[core.MetricKey]string          `json:"failures,omitempty"`
}

// RunDay runs the safety gate once, then every metric's detector pass and
// attribution. A gate failure aborts the day; per-metric failures are
// logged and skipped. A day already run for the user is skipped.
func (s *LoopService) RunDay(ctx context.Context, user core.UserID, day core.Day) (report DayReport, err error) {
	ctx, span := telemetry.StartSpan(ctx, "loop.run_day",
		telemetry.AttrUserID.String(user.String()),
		telemetry.AttrDay.String(day.String()))
	defer func() { telemetry.End(span, err) }()
	defer s.observe("day", time.Now())

	report = DayReport{
		UserID:   user,
		Day:      day,
		Outcomes: make(map[core.MetricKey]finding.Outcome),
		Drivers:  make(map[core.MetricKey]int),
		Failures: make(map[core.MetricKey]string),
	}

	if err := s.requireConsent(ctx, user, ports.ConsentAnalytics); err != nil {
		return report, err
	}
	ledgerKey := "day:" + user.String() + ":" + day.String()
	if !s.claim(ctx, ledgerKey) {
		s.m.DedupHits.Inc()
		report.Skipped = true
		return report, nil
	}
	defer func() {
		if err != nil {
			s.release(ctx, ledgerKey)
		}
	}()

	gate, err := s.checkSafety(ctx, user, day)
	if err != nil {
		s.log.Error("safety gate failed for user %s on %s, aborting day: %v", user, day, err)
		return report, err
	}
	report.SafetyRules = gate.RuleIDs()

	for _, key := range s.e.Registry.Keys() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		spec, _ := s.e.Registry.Get(key)
		out, err := s.detectorPass(ctx, user, spec, day, gate)
		if err != nil {
			if core.IsFatalForDay(err) {
				return report, err
			}
			s.log.Warn("detectors skipped for user %s metric %s on %s: %v", user, key, day, err)
			report.Failures[key] = err.Error()
			continue
		}
		report.Outcomes[key] = out
	}

	s.attributeDay(ctx, user, day, &report)
	return report, nil
}

// attributeDay runs attribution for every metric over the trailing window,
// when the user logged any exposures at all
func (s *LoopService) attributeDay(ctx context.Context, user core.UserID, day core.Day, report *DayReport) {
	window := core.TrailingWindow(day, s.attributionDays)
	logs, err := s.p.Exposures.Exposures(ctx, user, window)
	if err != nil {
		s.log.Warn("attribution skipped for user %s on %s: %v", user, day, err)
		return
	}
	if len(logs) == 0 {
		return
	}
	if ok, err := s.p.Consent.HasConsent(ctx, user, ports.ConsentAttribution); err != nil || !ok {
		s.log.Debug("attribution not consented for user %s", user)
		return
	}

	for _, key := range s.e.Registry.Keys() {
		cands, err := s.RunAttribution(ctx, user, key, nil, window)
		switch {
		case err == nil:
			report.Drivers[key] = len(cands)
		case errors.Is(err, core.ErrInsufficientData):
			s.log.Debug("attribution for user %s metric %s: %v", user, key, err)
		default:
			s.log.Warn("attribution skipped for user %s metric %s: %v", user, key, err)
			report.Failures[key] = err.Error()
		}
	}
}
