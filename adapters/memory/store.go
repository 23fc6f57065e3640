// Package memory provides in-process implementations of every healthloop
// port. It backs the CLI's offline mode and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/experiment"
	"healthloop/domain/finding"
	"healthloop/domain/metric"
	"healthloop/internal/baseline"
	"healthloop/ports"
)

type seriesKey struct {
	user   core.UserID
	metric core.MetricKey
}

type driverKey struct {
	user    core.UserID
	outcome core.MetricKey
}

// Store is a thread-safe in-memory data store
type Store struct {
	mu sync.RWMutex

	points    map[seriesKey][]metric.Point
	exposures map[core.UserID][]attribution.ExposureLog
	symptoms  map[core.UserID]map[core.Day][]string
	consent   map[core.UserID]map[ports.ConsentScope]bool

	baselines   map[seriesKey][]baseline.Baseline
	findings    []finding.Finding
	audits      []finding.AuditRecord
	runs        map[core.RunKey][]attribution.DriverCandidate
	latestRun   map[driverKey]core.RunKey
	experiments map[core.ExperimentID]experiment.Experiment
	evaluations map[core.EvaluationID]experiment.EvaluationResult
	decisions   map[core.ExperimentID][]experiment.LoopDecision

	// SaveOutcomeErr, when set, fails SaveOutcome without writing anything
	SaveOutcomeErr error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		points:      make(map[seriesKey][]metric.Point),
		exposures:   make(map[core.UserID][]attribution.ExposureLog),
		symptoms:    make(map[core.UserID]map[core.Day][]string),
		consent:     make(map[core.UserID]map[ports.ConsentScope]bool),
		baselines:   make(map[seriesKey][]baseline.Baseline),
		runs:        make(map[core.RunKey][]attribution.DriverCandidate),
		latestRun:   make(map[driverKey]core.RunKey),
		experiments: make(map[core.ExperimentID]experiment.Experiment),
		evaluations: make(map[core.EvaluationID]experiment.EvaluationResult),
		decisions:   make(map[core.ExperimentID][]experiment.LoopDecision),
	}
}

// --- fixtures ---

// AddPoints appends raw points for a metric
func (s *Store) AddPoints(user core.UserID, key core.MetricKey, pts ...metric.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seriesKey{user, key}
	s.points[k] = append(s.points[k], pts...)
}

// AddSeries stores one noon point per daily value
func (s *Store) AddSeries(user core.UserID, key core.MetricKey, series metric.Series) {
	pts := make([]metric.Point, len(series))
	for i, dv := range series {
		pts[i] = metric.Point{At: dv.Day.Time().Add(12 * time.Hour), Value: dv.Value}
	}
	s.AddPoints(user, key, pts...)
}

// AddExposures appends exposure logs
func (s *Store) AddExposures(user core.UserID, logs ...attribution.ExposureLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposures[user] = append(s.exposures[user], logs...)
}

// AddSymptoms records symptom tags for a day
func (s *Store) AddSymptoms(user core.UserID, day core.Day, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.symptoms[user] == nil {
		s.symptoms[user] = make(map[core.Day][]string)
	}
	s.symptoms[user][day] = append(s.symptoms[user][day], tags...)
}

// Grant gives consent for the scopes
func (s *Store) Grant(user core.UserID, scopes ...ports.ConsentScope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consent[user] == nil {
		s.consent[user] = make(map[ports.ConsentScope]bool)
	}
	for _, sc := range scopes {
		s.consent[user][sc] = true
	}
}

// Audits returns every stored audit record
func (s *Store) Audits() []finding.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]finding.AuditRecord, len(s.audits))
	copy(out, s.audits)
	return out
}

// --- readers ---

func (s *Store) Points(ctx context.Context, user core.UserID, key core.MetricKey, w core.Window) ([]metric.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []metric.Point
	for _, p := range s.points[seriesKey{user, key}] {
		if w.Contains(core.DayOf(p.At)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) Exposures(ctx context.Context, user core.UserID, w core.Window) ([]attribution.ExposureLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []attribution.ExposureLog
	for _, l := range s.exposures[user] {
		if w.Contains(l.Day) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) Symptoms(ctx context.Context, user core.UserID, day core.Day) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.symptoms[user][day]...), nil
}

// ActiveUsers lists every user with data, sorted
func (s *Store) ActiveUsers(ctx context.Context) ([]core.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[core.UserID]bool)
	for k := range s.points {
		seen[k.user] = true
	}
	for u := range s.exposures {
		seen[u] = true
	}
	out := make([]core.UserID, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) HasConsent(ctx context.Context, user core.UserID, scope ports.ConsentScope) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consent[user][scope], nil
}

// --- repositories ---

func (s *Store) Latest(ctx context.Context, user core.UserID, key core.MetricKey, before core.Day) (*baseline.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.baselines[seriesKey{user, key}]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].AsOf.Before(before) {
			b := list[i]
			return &b, nil
		}
	}
	return nil, core.ErrBaselineNotFound
}

// Save upserts a baseline on (user, metric, as-of day)
func (s *Store) Save(ctx context.Context, b baseline.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seriesKey{b.UserID, b.MetricKey}
	list := s.baselines[k]
	for i := range list {
		if list[i].AsOf.Equal(b.AsOf) {
			list[i] = b
			return nil
		}
	}
	list = append(list, b)
	sort.Slice(list, func(i, j int) bool { return list[i].AsOf.Before(list[j].AsOf) })
	s.baselines[k] = list
	return nil
}

// SaveOutcome keeps at most one finding per user, metric and day. A replaced
// finding keeps its stored id.
func (s *Store) SaveOutcome(ctx context.Context, f *finding.Finding, audit finding.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveOutcomeErr != nil {
		return s.SaveOutcomeErr
	}
	user, key, day := audit.UserID, audit.MetricKey, audit.Day
	if f != nil {
		user, key, day = f.UserID, f.MetricKey, f.Day
	}
	at := -1
	for i, prev := range s.findings {
		if prev.UserID == user && prev.MetricKey == key && prev.Day.Equal(day) {
			at = i
			break
		}
	}
	switch {
	case f != nil && at >= 0:
		f.ID = s.findings[at].ID
		s.findings[at] = *f
	case f != nil:
		s.findings = append(s.findings, *f)
	case at >= 0:
		s.findings = append(s.findings[:at], s.findings[at+1:]...)
	}
	if f != nil {
		audit.FindingID = f.ID
	}
	s.audits = append(s.audits, audit)
	return nil
}

func (s *Store) ListFindings(ctx context.Context, user core.UserID, w core.Window) ([]finding.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []finding.Finding
	for _, f := range s.findings {
		if f.UserID == user && w.Contains(f.Day) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) ReplaceRun(ctx context.Context, key core.RunKey, cands []attribution.DriverCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[key] = append([]attribution.DriverCandidate(nil), cands...)
	if len(cands) > 0 {
		s.latestRun[driverKey{cands[0].UserID, cands[0].OutcomeMetric}] = key
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, key core.RunKey) ([]attribution.DriverCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cands, ok := s.runs[key]
	if !ok {
		return nil, core.NewNotFoundError("attribution run", key.String())
	}
	return append([]attribution.DriverCandidate(nil), cands...), nil
}

func (s *Store) LatestDrivers(ctx context.Context, user core.UserID, outcome core.MetricKey) ([]attribution.DriverCandidate, error) {
	s.mu.RLock()
	key, ok := s.latestRun[driverKey{user, outcome}]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s.GetRun(ctx, key)
}

// Experiments exposes the experiment repository view
func (s *Store) Experiments() *ExperimentStore { return &ExperimentStore{s} }

// Evaluations exposes the evaluation repository view
func (s *Store) Evaluations() *EvaluationStore { return &EvaluationStore{s} }

// Decisions exposes the decision repository view
func (s *Store) Decisions() *DecisionStore { return &DecisionStore{s} }

// Baselines exposes the baseline repository view
func (s *Store) Baselines() ports.BaselineRepository { return s }

type ExperimentStore struct{ s *Store }

func (e *ExperimentStore) Get(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	exp, ok := e.s.experiments[id]
	if !ok {
		return nil, core.ErrExperimentNotFound
	}
	return &exp, nil
}

func (e *ExperimentStore) Save(ctx context.Context, exp *experiment.Experiment) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	e.s.experiments[exp.ID] = *exp
	return nil
}

func (e *ExperimentStore) ListByUser(ctx context.Context, user core.UserID) ([]*experiment.Experiment, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	var out []*experiment.Experiment
	for _, exp := range e.s.experiments {
		if exp.UserID == user {
			exp := exp
			out = append(out, &exp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type EvaluationStore struct{ s *Store }

func (e *EvaluationStore) Get(ctx context.Context, id core.EvaluationID) (*experiment.EvaluationResult, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	r, ok := e.s.evaluations[id]
	if !ok {
		return nil, core.ErrEvaluationNotFound
	}
	return &r, nil
}

func (e *EvaluationStore) Save(ctx context.Context, r experiment.EvaluationResult) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	e.s.evaluations[r.ID] = r
	return nil
}

type DecisionStore struct{ s *Store }

func (d *DecisionStore) Save(ctx context.Context, dec experiment.LoopDecision) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	d.s.decisions[dec.ExperimentID] = append(d.s.decisions[dec.ExperimentID], dec)
	return nil
}

func (d *DecisionStore) ListByExperiment(ctx context.Context, id core.ExperimentID) ([]experiment.LoopDecision, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	return append([]experiment.LoopDecision(nil), d.s.decisions[id]...), nil
}

// Ledger is an in-memory RunLedger
type Ledger struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]time.Time), now: time.Now}
}

func (l *Ledger) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.seen[key]; ok && (ttl <= 0 || now.Before(exp)) {
		return false, nil
	}
	l.seen[key] = now.Add(ttl)
	return true, nil
}

func (l *Ledger) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, key)
	return nil
}

// AuditSink collects published audit records
type AuditSink struct {
	mu      sync.Mutex
	records []finding.AuditRecord
}

func (a *AuditSink) WriteAudit(ctx context.Context, rec finding.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *AuditSink) Records() []finding.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]finding.AuditRecord(nil), a.records...)
}

var (
	_ ports.SeriesReader         = (*Store)(nil)
	_ ports.ExposureReader       = (*Store)(nil)
	_ ports.SymptomReader        = (*Store)(nil)
	_ ports.UserLister           = (*Store)(nil)
	_ ports.ConsentChecker       = (*Store)(nil)
	_ ports.BaselineRepository   = (*Store)(nil)
	_ ports.FindingRepository    = (*Store)(nil)
	_ ports.DriverRepository     = (*Store)(nil)
	_ ports.ExperimentRepository = (*ExperimentStore)(nil)
	_ ports.EvaluationRepository = (*EvaluationStore)(nil)
	_ ports.DecisionRepository   = (*DecisionStore)(nil)
	_ ports.RunLedger            = (*Ledger)(nil)
	_ ports.AuditWriter          = (*AuditSink)(nil)
)
