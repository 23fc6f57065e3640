package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/evidence"
	"healthloop/domain/experiment"
	"healthloop/domain/finding"
	"healthloop/domain/metric"
	"healthloop/internal"
	attrib "healthloop/internal/attribution"
	"healthloop/internal/baseline"
	"healthloop/internal/detectors"
	"healthloop/internal/evaluation"
	"healthloop/internal/metrics"
	"healthloop/internal/orchestrator"
	"healthloop/internal/safety"
	"healthloop/internal/telemetry"
	"healthloop/ports"
)

// LoopPorts are the collaborators the loop reads from and writes to. Audit
// and Ledger are optional.
type LoopPorts struct {
	Series      ports.SeriesReader
	Exposures   ports.ExposureReader
	Symptoms    ports.SymptomReader
	Consent     ports.ConsentChecker
	Baselines   ports.BaselineRepository
	Findings    ports.FindingRepository
	Drivers     ports.DriverRepository
	Experiments ports.ExperimentRepository
	Evaluations ports.EvaluationRepository
	Decisions   ports.DecisionRepository
	Audit       ports.AuditWriter
	Ledger      ports.RunLedger
}

// LoopEngines are the pure analysis components
type LoopEngines struct {
	Registry     *metric.Registry
	Estimator    *baseline.Estimator
	Gate         *safety.Gate
	Attribution  *attrib.Engine
	Evaluation   *evaluation.Engine
	Orchestrator *orchestrator.Orchestrator
	// BaselineCache is optional
	BaselineCache *baseline.Cache
}

// LoopService runs the analytical decision loop: baselines, gated
// detectors, attribution, experiment evaluation and next-step decisions
type LoopService struct {
	p   LoopPorts
	e   LoopEngines
	m   *metrics.Metrics
	log *internal.Logger

	ledgerTTL       time.Duration
	attributionDays int
	today           func() core.Day
}

// LoopOption configures a LoopService
type LoopOption func(*LoopService)

func WithMetrics(m *metrics.Metrics) LoopOption { return func(s *LoopService) { s.m = m } }
func WithLogger(l *internal.Logger) LoopOption { return func(s *LoopService) { s.log = l.With("loop") } }
func WithLedgerTTL(ttl time.Duration) LoopOption { return func(s *LoopService) { s.ledgerTTL = ttl } }
func WithAttributionDays(days int) LoopOption { return func(s *LoopService) { s.attributionDays = days } }
func WithClock(today func() core.Day) LoopOption { return func(s *LoopService) { s.today = today } }

// NewLoopService wires a loop service
func NewLoopService(p LoopPorts, e LoopEngines, opts ...LoopOption) *LoopService {
	s := &LoopService{
		p:               p,
		e:               e,
		m:               metrics.Nop(),
		log:             internal.DefaultLogger.With("loop"),
		ledgerTTL:       36 * time.Hour,
		attributionDays: 60,
		today:           core.Today,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the metric catalogue
func (s *LoopService) Registry() *metric.Registry { return s.e.Registry }

// Grade maps evidence inputs to a grade
func (s *LoopService) Grade(confidence float64, sampleSize int, coverage float64) evidence.Grade {
	return evidence.GradeFor(confidence, sampleSize, coverage)
}

// ComputeBaseline recomputes the baseline for a metric as of today
func (s *LoopService) ComputeBaseline(ctx context.Context, user core.UserID, key core.MetricKey) (baseline.Baseline, error) {
	return s.ComputeBaselineAsOf(ctx, user, key, s.today())
}

// ComputeBaselineAsOf recomputes the baseline as of a given day. An
// unavailable baseline is returned with its reason, not as an error.
func (s *LoopService) ComputeBaselineAsOf(ctx context.Context, user core.UserID, key core.MetricKey, day core.Day) (baseline.Baseline, error) {
	if err := s.requireConsent(ctx, user, ports.ConsentAnalytics); err != nil {
		return baseline.Baseline{}, err
	}
	spec, err := s.e.Registry.Get(key)
	if err != nil {
		return baseline.Baseline{}, err
	}
	b, _, err := s.computeBaseline(ctx, user, spec, day)
	return b, err
}

// RunDetectors runs the safety gate and then, if it stays silent, the
// metric's detectors for one day
func (s *LoopService) RunDetectors(ctx context.Context, user core.UserID, key core.MetricKey, day core.Day) (out finding.Outcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, "loop.run_detectors",
		telemetry.AttrUserID.String(user.String()),
		telemetry.AttrMetric.String(key.String()),
		telemetry.AttrDay.String(day.String()))
	defer func() {
		span.SetAttributes(telemetry.AttrState.String(string(out.State)))
		telemetry.End(span, err)
	}()

	if err := s.requireConsent(ctx, user, ports.ConsentAnalytics); err != nil {
		return finding.Outcome{}, err
	}
	spec, err := s.e.Registry.Get(key)
	if err != nil {
		return finding.Outcome{}, err
	}
	gate, err := s.checkSafety(ctx, user, day)
	if err != nil {
		return finding.Outcome{}, err
	}
	return s.detectorPass(ctx, user, spec, day, gate)
}

// RunAttribution ranks exposures as drivers of an outcome over a window.
// Empty exposures means every logged exposure. Re-running the same inputs
// returns the stored run.
func (s *LoopService) RunAttribution(ctx context.Context, user core.UserID, outcome core.MetricKey, exposures []core.ExposureKey, window core.Window) (cands []attribution.DriverCandidate, err error) {
	ctx, span := telemetry.StartSpan(ctx, "loop.run_attribution",
		telemetry.AttrUserID.String(user.String()),
		telemetry.AttrMetric.String(outcome.String()))
	defer func() {
		span.SetAttributes(telemetry.AttrCandidates.Int(len(cands)))
		telemetry.End(span, err)
	}()
	defer s.observe("attribution", time.Now())

	if window.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidWindow, window)
	}
	if err := s.requireConsent(ctx, user, ports.ConsentAttribution); err != nil {
		return nil, err
	}
	spec, err := s.e.Registry.Get(outcome)
	if err != nil {
		return nil, err
	}

	// outcomes are read past the window end so every lag has its pair
	lagged := core.Window{Start: window.Start, End: window.End.AddDays(s.e.Attribution.Config().MaxLag)}
	series, err := s.loadSeries(ctx, user, spec, lagged)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("no %s data in window %s: %w", outcome, lagged, core.ErrInsufficientData)
	}
	logs, err := s.p.Exposures.Exposures(ctx, user, window)
	if err != nil {
		return nil, fmt.Errorf("failed to read exposures: %w", err)
	}

	req := attrib.Request{
		UserID:    user,
		Outcome:   outcome,
		Series:    series,
		Exposures: filterExposures(logs, exposures),
		Window:    window,
	}
	key := s.e.Attribution.RunKey(req)
	span.SetAttributes(telemetry.AttrRunKey.String(key.String()))

	ledgerKey := "attribution:" + key.String()
	if s.claim(ctx, ledgerKey) {
		defer func() {
			if err != nil {
				s.release(ctx, ledgerKey)
			}
		}()
	} else if prev, getErr := s.p.Drivers.GetRun(ctx, key); getErr == nil {
		s.m.DedupHits.Inc()
		s.log.Debug("attribution run %s for user %s already stored", key, user)
		return prev, nil
	}

	cands, err = s.e.Attribution.Run(req)
	if err != nil {
		return nil, err
	}
	if err := s.p.Drivers.ReplaceRun(ctx, key, cands); err != nil {
		return nil, fmt.Errorf("failed to store attribution run %s: %w", key, err)
	}
	for _, c := range cands {
		for _, l := range c.Labels {
			s.m.GuardrailLabels.WithLabelValues(string(l)).Inc()
		}
	}
	s.log.Info("attribution for user %s on %s: %d candidates", user, outcome, len(cands))
	return cands, nil
}

// CreateExperiment designs a new experiment
func (s *LoopService) CreateExperiment(ctx context.Context, user core.UserID, intervention core.ExposureKey, outcome core.MetricKey, base, treatment core.Window) (*experiment.Experiment, error) {
	if err := s.requireConsent(ctx, user, ports.ConsentExperiments); err != nil {
		return nil, err
	}
	if _, err := s.e.Registry.Get(outcome); err != nil {
		return nil, err
	}
	exp, err := experiment.New(user, intervention, outcome, base, treatment)
	if err != nil {
		return nil, err
	}
	if err := s.p.Experiments.Save(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to save experiment: %w", err)
	}
	return exp, nil
}

// AdvanceExperiment moves an experiment along its lifecycle
func (s *LoopService) AdvanceExperiment(ctx context.Context, id core.ExperimentID, to experiment.Status) (*experiment.Experiment, error) {
	exp, err := s.p.Experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := exp.Transition(to); err != nil {
		return nil, err
	}
	if err := s.p.Experiments.Save(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to save experiment: %w", err)
	}
	return exp, nil
}

// Evaluate grades an experiment's intervention window against its baseline
// window and moves it to evaluated
func (s *LoopService) Evaluate(ctx context.Context, id core.ExperimentID) (result experiment.EvaluationResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "loop.evaluate", telemetry.AttrExperiment.String(id.String()))
	defer func() { telemetry.End(span, err) }()
	defer s.observe("evaluate", time.Now())

	exp, err := s.p.Experiments.Get(ctx, id)
	if err != nil {
		return experiment.EvaluationResult{}, err
	}
	if err := s.requireConsent(ctx, exp.UserID, ports.ConsentExperiments); err != nil {
		return experiment.EvaluationResult{}, err
	}
	if !experiment.CanTransition(exp.Status, experiment.StatusEvaluated) {
		return experiment.EvaluationResult{}, core.NewTransitionError(string(exp.Status), string(experiment.StatusEvaluated))
	}
	spec, err := s.e.Registry.Get(exp.OutcomeMetric)
	if err != nil {
		return experiment.EvaluationResult{}, err
	}

	full := core.Window{Start: exp.BaselineWindow.Start, End: exp.InterventionWindow.End}
	series, err := s.loadSeries(ctx, exp.UserID, spec, full)
	if err != nil {
		return experiment.EvaluationResult{}, err
	}
	logs, err := s.p.Exposures.Exposures(ctx, exp.UserID, exp.InterventionWindow)
	if err != nil {
		return experiment.EvaluationResult{}, fmt.Errorf("failed to read adherence: %w", err)
	}

	result = s.e.Evaluation.Evaluate(evaluation.Input{
		Experiment: *exp,
		Spec:       spec,
		Series:     series,
		Adherence:  logs,
		Note:       s.attributionNote(ctx, exp),
	})
	if err := s.p.Evaluations.Save(ctx, result); err != nil {
		return experiment.EvaluationResult{}, fmt.Errorf("failed to save evaluation: %w", err)
	}
	if err := exp.Transition(experiment.StatusEvaluated); err != nil {
		return experiment.EvaluationResult{}, err
	}
	if err := s.p.Experiments.Save(ctx, exp); err != nil {
		return experiment.EvaluationResult{}, fmt.Errorf("failed to save experiment: %w", err)
	}

	s.m.Verdicts.WithLabelValues(string(result.Verdict), string(result.Grade)).Inc()
	s.log.Info("experiment %s evaluated: %s (d=%.3f, confidence=%.3f, grade %s)",
		exp.ID, result.Verdict, result.EffectSize, result.Confidence, result.Grade)
	return result, nil
}

// DecideNextStep turns an evaluation into a loop decision and applies it to
// the experiment. Deciding twice on one evaluation returns the first
// decision.
func (s *LoopService) DecideNextStep(ctx context.Context, id core.EvaluationID) (experiment.LoopDecision, error) {
	eval, err := s.p.Evaluations.Get(ctx, id)
	if err != nil {
		return experiment.LoopDecision{}, fmt.Errorf("%w: %w", core.ErrMissingEvaluation, err)
	}
	exp, err := s.p.Experiments.Get(ctx, eval.ExperimentID)
	if err != nil {
		return experiment.LoopDecision{}, err
	}

	previous, err := s.p.Decisions.ListByExperiment(ctx, exp.ID)
	if err != nil {
		return experiment.LoopDecision{}, fmt.Errorf("failed to list decisions: %w", err)
	}
	for _, d := range previous {
		if d.EvaluationID == eval.ID {
			return d, nil
		}
	}

	decision, err := s.e.Orchestrator.Decide(*exp, eval)
	if err != nil {
		return experiment.LoopDecision{}, err
	}
	switch decision.Action {
	case experiment.ActionContinue:
		err = exp.Transition(experiment.StatusInterventionActive)
	case experiment.ActionExtend, experiment.ActionAdjust:
		// an adjusted round needs fresh days and counts toward the cap
		err = exp.Extend(s.e.Orchestrator.Config().ExtensionDays)
	case experiment.ActionStop:
		err = exp.Transition(experiment.StatusClosed)
	}
	if err != nil {
		return experiment.LoopDecision{}, err
	}

	if err := s.p.Decisions.Save(ctx, decision); err != nil {
		return experiment.LoopDecision{}, fmt.Errorf("failed to save decision: %w", err)
	}
	if err := s.p.Experiments.Save(ctx, exp); err != nil {
		return experiment.LoopDecision{}, fmt.Errorf("failed to save experiment: %w", err)
	}

	s.m.Decisions.WithLabelValues(string(decision.Action), decision.Label).Inc()
	s.log.Info("experiment %s: %s %s", exp.ID, decision.Action, decision.Label)
	return decision, nil
}

// --- internals ---

func (s *LoopService) requireConsent(ctx context.Context, user core.UserID, scope ports.ConsentScope) error {
	ok, err := s.p.Consent.HasConsent(ctx, user, scope)
	if err != nil {
		return fmt.Errorf("consent check failed for user %s: %w", user, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s for user %s", core.ErrConsentMissing, scope, user)
	}
	return nil
}

// loadSeries reads and folds points. Out-of-range and non-finite points are
// dropped here; the safety gate reads raw data and fails closed on them.
func (s *LoopService) loadSeries(ctx context.Context, user core.UserID, spec metric.Spec, w core.Window) (metric.Series, error) {
	pts, err := s.p.Series.Points(ctx, user, spec.Key, w)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s points: %w", spec.Key, err)
	}
	valid := make([]metric.Point, 0, len(pts))
	for _, p := range pts {
		if spec.InRange(p.Value) {
			valid = append(valid, p)
		}
	}
	if dropped := len(pts) - len(valid); dropped > 0 {
		s.log.Warn("dropped %d out-of-range %s points for user %s", dropped, spec.Key, user)
	}
	return metric.Aggregate(valid, spec.Aggregation)
}

func (s *LoopService) computeBaseline(ctx context.Context, user core.UserID, spec metric.Spec, day core.Day) (baseline.Baseline, metric.Series, error) {
	cfg := s.e.Estimator.Config()
	series, err := s.loadSeries(ctx, user, spec, core.TrailingWindow(day, cfg.LookbackDays))
	if err != nil {
		return baseline.Baseline{}, nil, err
	}
	if s.e.BaselineCache != nil {
		if b, ok := s.e.BaselineCache.Get(user, spec.Key, day, series); ok {
			return b, series, nil
		}
	}

	prior, err := s.p.Baselines.Latest(ctx, user, spec.Key, day)
	if err != nil && !core.IsNotFoundError(err) {
		return baseline.Baseline{}, nil, fmt.Errorf("failed to load prior baseline: %w", err)
	}
	b := s.e.Estimator.Estimate(user, spec, series, day, prior)
	if err := s.p.Baselines.Save(ctx, b); err != nil {
		return baseline.Baseline{}, nil, fmt.Errorf("failed to save baseline: %w", err)
	}
	if s.e.BaselineCache != nil {
		s.e.BaselineCache.Put(b, series)
	}
	s.log.Debug("baseline %s/%s as of %s: %s", user, spec.Key, day, b.State())
	return b, series, nil
}

// checkSafety evaluates the gate on raw data. Every failure is a safety gate
// failure so the caller fails closed.
func (s *LoopService) checkSafety(ctx context.Context, user core.UserID, day core.Day) (safety.Result, error) {
	snap := safety.Snapshot{UserID: user, Day: day, Series: make(map[core.MetricKey]metric.Series)}
	w := core.TrailingWindow(day, s.e.Gate.Lookback())
	for _, key := range s.e.Gate.Metrics() {
		spec, err := s.e.Registry.Get(key)
		if err != nil {
			return safety.Result{}, core.NewSafetyGateError(key, err)
		}
		pts, err := s.p.Series.Points(ctx, user, key, w)
		if err != nil {
			return safety.Result{}, core.NewSafetyGateError(key, err)
		}
		series, err := metric.Aggregate(pts, spec.Aggregation)
		if err != nil {
			return safety.Result{}, core.NewSafetyGateError(key, err)
		}
		snap.Series[key] = series
	}
	tags, err := s.p.Symptoms.Symptoms(ctx, user, day)
	if err != nil {
		return safety.Result{}, fmt.Errorf("%w: symptoms unavailable: %v", core.ErrSafetyGate, err)
	}
	snap.Symptoms = tags
	return s.e.Gate.Evaluate(snap)
}

func (s *LoopService) detectorPass(ctx context.Context, user core.UserID, spec metric.Spec, day core.Day, gate safety.Result) (finding.Outcome, error) {
	audit := finding.AuditRecord{
		UserID:     user,
		MetricKey:  spec.Key,
		Day:        day,
		Thresholds: map[string]float64{},
		CreatedAt:  core.Now(),
	}

	var out finding.Outcome
	switch {
	case gate.Triggered():
		f := gate.Finding(user, spec.Key, day)
		f.Grade = evidence.GradeItem(f)
		out = finding.Suppressed(f)
		audit.SafetyRules = gate.RuleIDs()
		audit.BaselineState = "not_computed"
	default:
		b, series, err := s.computeBaseline(ctx, user, spec, day)
		if err != nil {
			return finding.Outcome{}, err
		}
		audit.BaselineState = b.State()
		if !b.Available {
			out = finding.Undetermined(b.State())
			break
		}

		in := detectors.Input{UserID: user, Spec: spec, Series: series, Day: day, Baseline: &b}
		var found []*finding.Finding
		for _, d := range detectors.ForPolicy(spec.Policy) {
			audit.DetectorsRun = append(audit.DetectorsRun, d.Kind())
			for k, v := range d.Thresholds(spec.Policy) {
				audit.Thresholds[k] = v
			}
			found = append(found, d.Detect(in))
		}
		out = finding.Quiet()
		if best := detectors.Select(found...); best != nil {
			best.Grade = evidence.GradeItem(best)
			out = finding.Found(best)
		}
	}

	audit.State = out.State
	if err := s.p.Findings.SaveOutcome(ctx, out.Finding, audit); err != nil {
		return finding.Outcome{}, fmt.Errorf("failed to save %s outcome: %w", spec.Key, err)
	}
	// a rerun of the day keeps the finding id already stored
	if out.Finding != nil {
		audit.FindingID = out.Finding.ID
	}
	if s.p.Audit != nil {
		if err := s.p.Audit.WriteAudit(ctx, audit); err != nil {
			s.log.Warn("audit stream write failed for %s/%s on %s: %v", user, spec.Key, day, err)
		}
	}

	s.m.Outcomes.WithLabelValues(spec.Key.String(), string(out.State)).Inc()
	for _, id := range audit.SafetyRules {
		s.m.Suppressions.WithLabelValues(id).Inc()
	}
	return out, nil
}

// attributionNote summarises the latest stored attribution run for the
// experiment's intervention. Lookup failures only drop the note.
func (s *LoopService) attributionNote(ctx context.Context, exp *experiment.Experiment) *experiment.AttributionNote {
	cands, err := s.p.Drivers.LatestDrivers(ctx, exp.UserID, exp.OutcomeMetric)
	if err != nil {
		s.log.Warn("no attribution note for experiment %s: %v", exp.ID, err)
		return nil
	}

	var best *attribution.DriverCandidate
	seen := make(map[core.ExposureKey]bool)
	var confounders []core.ExposureKey
	for i := range cands {
		c := &cands[i]
		if c.ExposureKey != exp.InterventionKey {
			continue
		}
		if c.Accepted && (best == nil || c.Rank < best.Rank) {
			best = c
		}
		for _, k := range c.ConfoundedWith {
			if !seen[k] {
				seen[k] = true
				confounders = append(confounders, k)
			}
		}
	}
	if best == nil && len(confounders) == 0 {
		return nil
	}
	sort.Slice(confounders, func(i, j int) bool { return confounders[i] < confounders[j] })

	note := &experiment.AttributionNote{Confounders: confounders}
	if best != nil {
		note.BestLag = best.Lag
		note.BetterLag = best.Lag > 0
	}
	return note
}

func (s *LoopService) claim(ctx context.Context, key string) bool {
	if s.p.Ledger == nil {
		return true
	}
	first, err := s.p.Ledger.MarkOnce(ctx, key, s.ledgerTTL)
	if err != nil {
		// without the ledger the run is still safe to repeat
		s.log.Warn("run ledger unavailable for %s: %v", key, err)
		return true
	}
	return first
}

func (s *LoopService) release(ctx context.Context, key string) {
	if s.p.Ledger == nil {
		return
	}
	if err := s.p.Ledger.Release(ctx, key); err != nil {
		s.log.Warn("failed to release run ledger key %s: %v", key, err)
	}
}

func (s *LoopService) observe(op string, start time.Time) {
	s.m.RunDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func filterExposures(logs []attribution.ExposureLog, keys []core.ExposureKey) []attribution.ExposureLog {
	if len(keys) == 0 {
		return logs
	}
	want := make(map[core.ExposureKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := make([]attribution.ExposureLog, 0, len(logs))
	for _, l := range logs {
		if want[l.Key] {
			out = append(out, l)
		}
	}
	return out
}
