package excel

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"healthloop/adapters/memory"
	"healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/metric"
	"healthloop/ports"
)

// Sheet names in a fixture workbook. A CSV file holds a single sheet whose
// kind is taken from its headers.
const (
	SheetMetrics   = "metrics"
	SheetExposures = "exposures"
	SheetSymptoms  = "symptoms"
	SheetConsents  = "consents"
)

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04"}

// Fixture holds a user's raw inputs read from a workbook
type Fixture struct {
	Points    map[core.UserID]map[core.MetricKey][]metric.Point
	Exposures map[core.UserID][]attribution.ExposureLog
	Symptoms  map[core.UserID]map[core.Day][]string
	Consents  map[core.UserID][]ports.ConsentScope
}

func newFixture() *Fixture {
	return &Fixture{
		Points:    make(map[core.UserID]map[core.MetricKey][]metric.Point),
		Exposures: make(map[core.UserID][]attribution.ExposureLog),
		Symptoms:  make(map[core.UserID]map[core.Day][]string),
		Consents:  make(map[core.UserID][]ports.ConsentScope),
	}
}

// LoadFixture reads every recognised sheet of path. Metric keys must exist in
// registry; values are kept raw so range checks happen downstream.
func LoadFixture(path string, registry *metric.Registry) (*Fixture, error) {
	r := NewDataReader(path)
	sheets, err := r.Sheets()
	if err != nil {
		return nil, err
	}

	fx := newFixture()
	for _, sheet := range sheets {
		t, err := r.ReadSheet(sheet)
		if err != nil {
			return nil, err
		}
		kind := strings.ToLower(sheet)
		if kind == "" {
			kind = kindOf(t.Headers)
		}
		switch kind {
		case SheetMetrics:
			err = fx.addMetrics(t, registry)
		case SheetExposures:
			err = fx.addExposures(t)
		case SheetSymptoms:
			err = fx.addSymptoms(t)
		case SheetConsents:
			err = fx.addConsents(t)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", kind, err)
		}
	}
	return fx, nil
}

// kindOf guesses a CSV table's kind from its headers
func kindOf(headers []string) string {
	has := make(map[string]bool, len(headers))
	for _, h := range headers {
		has[h] = true
	}
	switch {
	case has["metric"]:
		return SheetMetrics
	case has["exposure"]:
		return SheetExposures
	case has["tag"]:
		return SheetSymptoms
	case has["scope"]:
		return SheetConsents
	default:
		return ""
	}
}

func (fx *Fixture) addMetrics(t *Table, registry *metric.Registry) error {
	for i, row := range t.Rows {
		user, err := core.ParseUserID(row["user_id"])
		if err != nil {
			return rowErr(i, err)
		}
		key, err := core.ParseMetricKey(row["metric"])
		if err != nil {
			return rowErr(i, err)
		}
		if _, err := registry.Get(key); err != nil {
			return rowErr(i, err)
		}
		at, err := parseTime(row["observed_at"])
		if err != nil {
			return rowErr(i, err)
		}
		v, err := strconv.ParseFloat(row["value"], 64)
		if err != nil {
			return rowErr(i, fmt.Errorf("invalid value %q", row["value"]))
		}
		if fx.Points[user] == nil {
			fx.Points[user] = make(map[core.MetricKey][]metric.Point)
		}
		fx.Points[user][key] = append(fx.Points[user][key], metric.Point{At: at, Value: v})
	}
	return nil
}

func (fx *Fixture) addExposures(t *Table) error {
	for i, row := range t.Rows {
		user, err := core.ParseUserID(row["user_id"])
		if err != nil {
			return rowErr(i, err)
		}
		key, err := core.ParseExposureKey(row["exposure"])
		if err != nil {
			return rowErr(i, err)
		}
		day, err := core.ParseDay(row["day"])
		if err != nil {
			return rowErr(i, err)
		}
		v := 1.0
		if s := row["value"]; s != "" {
			if v, err = strconv.ParseFloat(s, 64); err != nil {
				return rowErr(i, fmt.Errorf("invalid value %q", s))
			}
		}
		fx.Exposures[user] = append(fx.Exposures[user], attribution.ExposureLog{Day: day, Key: key, Value: v})
	}
	return nil
}

func (fx *Fixture) addSymptoms(t *Table) error {
	for i, row := range t.Rows {
		user, err := core.ParseUserID(row["user_id"])
		if err != nil {
			return rowErr(i, err)
		}
		day, err := core.ParseDay(row["day"])
		if err != nil {
			return rowErr(i, err)
		}
		tag := strings.ToLower(row["tag"])
		if tag == "" {
			return rowErr(i, fmt.Errorf("empty symptom tag"))
		}
		if fx.Symptoms[user] == nil {
			fx.Symptoms[user] = make(map[core.Day][]string)
		}
		fx.Symptoms[user][day] = append(fx.Symptoms[user][day], tag)
	}
	return nil
}

func (fx *Fixture) addConsents(t *Table) error {
	for i, row := range t.Rows {
		user, err := core.ParseUserID(row["user_id"])
		if err != nil {
			return rowErr(i, err)
		}
		scope := ports.ConsentScope(strings.ToLower(row["scope"]))
		switch scope {
		case ports.ConsentAnalytics, ports.ConsentAttribution, ports.ConsentExperiments:
		default:
			return rowErr(i, fmt.Errorf("unknown consent scope %q", row["scope"]))
		}
		fx.Consents[user] = append(fx.Consents[user], scope)
	}
	return nil
}

// Users lists every user appearing in the fixture
func (fx *Fixture) Users() []core.UserID {
	seen := make(map[core.UserID]bool)
	for u := range fx.Points {
		seen[u] = true
	}
	for u := range fx.Exposures {
		seen[u] = true
	}
	for u := range fx.Symptoms {
		seen[u] = true
	}
	for u := range fx.Consents {
		seen[u] = true
	}
	out := make([]core.UserID, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LoadInto copies the fixture into an in-memory store
func (fx *Fixture) LoadInto(s *memory.Store) {
	for user, byMetric := range fx.Points {
		for key, pts := range byMetric {
			s.AddPoints(user, key, pts...)
		}
	}
	for user, logs := range fx.Exposures {
		s.AddExposures(user, logs...)
	}
	for user, byDay := range fx.Symptoms {
		for day, tags := range byDay {
			s.AddSymptoms(user, day, tags...)
		}
	}
	for user, scopes := range fx.Consents {
		s.Grant(user, scopes...)
	}
}

// Importer persists fixture inputs into a durable store
type Importer interface {
	Import(ctx context.Context, user core.UserID, points map[core.MetricKey][]metric.Point, logs []attribution.ExposureLog) error
	ReportSymptoms(ctx context.Context, user core.UserID, day core.Day, tags ...string) error
	Grant(ctx context.Context, user core.UserID, scopes ...ports.ConsentScope) error
}

// SaveTo writes the fixture user by user
func (fx *Fixture) SaveTo(ctx context.Context, dst Importer) error {
	for _, user := range fx.Users() {
		if err := dst.Import(ctx, user, fx.Points[user], fx.Exposures[user]); err != nil {
			return fmt.Errorf("user %s: %w", user, err)
		}
		for day, tags := range fx.Symptoms[user] {
			if err := dst.ReportSymptoms(ctx, user, day, tags...); err != nil {
				return fmt.Errorf("user %s: %w", user, err)
			}
		}
		if scopes := fx.Consents[user]; len(scopes) > 0 {
			if err := dst.Grant(ctx, user, scopes...); err != nil {
				return fmt.Errorf("user %s: %w", user, err)
			}
		}
	}
	return nil
}

// parseTime accepts full timestamps or a bare day, which maps to noon UTC
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	day, err := core.ParseDay(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return day.Time().Add(12 * time.Hour), nil
}

func rowErr(i int, err error) error {
	// +2: one for the header, one for 1-based numbering
	return fmt.Errorf("row %d: %w", i+2, err)
}
