package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/experiment"
	"healthloop/domain/finding"
	"healthloop/domain/metric"
	"healthloop/internal/baseline"
	"healthloop/internal/migration"
	"healthloop/ports"
)

// openTestDB connects to TEST_DATABASE_URL and migrates it
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping postgres test: TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, url, 4, 2)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migration.NewRunner().Run(ctx, db))
	return db
}

func uniqueUser(t *testing.T) core.UserID {
	return core.UserID(fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano()))
}

var day = core.NewDay(2025, time.February, 10)

func pointsFor(key core.MetricKey, start time.Time, values ...float64) map[core.MetricKey][]metric.Point {
	pts := make([]metric.Point, len(values))
	for i, v := range values {
		pts[i] = metric.Point{At: start.Add(time.Duration(i) * 24 * time.Hour), Value: v}
	}
	return map[core.MetricKey][]metric.Point{key: pts}
}

func TestInputRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewInputRepository(db)
	user := uniqueUser(t)

	noon := day.Time().Add(12 * time.Hour)
	require.NoError(t, repo.Import(ctx, user, pointsFor("steps", noon, 8000, 9000), []attribution.ExposureLog{
		{Day: day, Key: "caffeine", Value: 200},
	}))

	pts, err := repo.Points(ctx, user, "steps", core.TrailingWindow(day.AddDays(1), 2))
	require.NoError(t, err)
	assert.Len(t, pts, 2)

	logs, err := repo.Exposures(ctx, user, core.TrailingWindow(day, 1))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, day, logs[0].Day)

	ok, err := repo.HasConsent(ctx, user, ports.ConsentAnalytics)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, repo.Grant(ctx, user, ports.ConsentAnalytics))
	ok, err = repo.HasConsent(ctx, user, ports.ConsentAnalytics)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.ReportSymptoms(ctx, user, day, "headache", "fainting"))
	require.NoError(t, repo.ReportSymptoms(ctx, user, day, "fainting"))
	tags, err := repo.Symptoms(ctx, user, day)
	require.NoError(t, err)
	assert.Equal(t, []string{"fainting", "headache"}, tags)
}

func TestBaselineRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewBaselineRepository(db)
	user := uniqueUser(t)

	_, err := repo.Latest(ctx, user, "sleep_duration", day)
	assert.ErrorIs(t, err, core.ErrBaselineNotFound)

	b := baseline.Baseline{UserID: user, MetricKey: "sleep_duration", AsOf: day, Center: 7, Spread: 0.3, Available: true}
	require.NoError(t, repo.Save(ctx, b))

	got, err := repo.Latest(ctx, user, "sleep_duration", day.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.Center)
	assert.Equal(t, day, got.AsOf)

	_, err = repo.Latest(ctx, user, "sleep_duration", day)
	assert.ErrorIs(t, err, core.ErrBaselineNotFound, "strictly before")
}

func TestFindingRepositoryIsAtomic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewFindingRepository(db)
	user := uniqueUser(t)

	f := &finding.Finding{
		ID: core.FindingID(core.NewID()), UserID: user, MetricKey: "resting_hr", Day: day,
		Kind: finding.KindChange, Grade: "B", Reason: finding.ChangeReason{ZScore: 2.5, Threshold: 2},
	}
	audit := finding.AuditRecord{UserID: user, MetricKey: "resting_hr", Day: day, State: finding.StateFound, FindingID: f.ID}
	require.NoError(t, repo.SaveOutcome(ctx, f, audit))
	stored := f.ID
	_ = stored

	// an audit row that cannot be written rolls the finding back too
	bad := audit
	bad.State = finding.State(strings.Repeat("x", 40))
	rerun := &finding.Finding{
		ID: core.FindingID(core.NewID()), UserID: user, MetricKey: "resting_hr", Day: day,
		Kind: finding.KindTrend, Grade: "C", Reason: finding.TrendReason{Slope: 1.5},
	}
	assert.Error(t, repo.SaveOutcome(ctx, rerun, bad))

	audits, err := repo.Audits(ctx, user, day)
	require.NoError(t, err)
	assert.Len(t, audits, 1)

	found, err := repo.ListFindings(ctx, user, core.TrailingWindow(day, 1))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, finding.ChangeReason{ZScore: 2.5, Threshold: 2}, found[0].Reason)
}

func TestFindingRepositoryRerunReplaces(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewFindingRepository(db)
	user := uniqueUser(t)

	audit := finding.AuditRecord{UserID: user, MetricKey: "resting_hr", Day: day, State: finding.StateFound}
	first := &finding.Finding{ID: core.FindingID(core.NewID()), UserID: user, MetricKey: "resting_hr", Day: day, Kind: finding.KindChange, Grade: "B"}
	require.NoError(t, repo.SaveOutcome(ctx, first, audit))
	second := &finding.Finding{ID: core.FindingID(core.NewID()), UserID: user, MetricKey: "resting_hr", Day: day, Kind: finding.KindTrend, Grade: "C"}
	require.NoError(t, repo.SaveOutcome(ctx, second, audit))
	assert.Equal(t, first.ID, second.ID, "the stored id is kept")

	found, err := repo.ListFindings(ctx, user, core.TrailingWindow(day, 1))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, finding.KindTrend, found[0].Kind)
	assert.Equal(t, first.ID, found[0].ID)

	audit.State = finding.StateQuiet
	require.NoError(t, repo.SaveOutcome(ctx, nil, audit))
	found, err = repo.ListFindings(ctx, user, core.TrailingWindow(day, 1))
	require.NoError(t, err)
	assert.Empty(t, found)

	audits, err := repo.Audits(ctx, user, day)
	require.NoError(t, err)
	require.Len(t, audits, 3)
	assert.Equal(t, first.ID, audits[1].FindingID)
}

func TestDriverRepositoryReplacesRuns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewDriverRepository(db)
	user := uniqueUser(t)
	key := core.RunKey(core.NewID())

	cands := []attribution.DriverCandidate{
		{RunKey: key, UserID: user, OutcomeMetric: "hrv_rmssd", ExposureKey: "magnesium", Lag: 0, Rank: 1},
		{RunKey: key, UserID: user, OutcomeMetric: "hrv_rmssd", ExposureKey: "magnesium", Lag: 1, Rank: 2},
	}
	require.NoError(t, repo.ReplaceRun(ctx, key, cands))
	require.NoError(t, repo.ReplaceRun(ctx, key, cands))

	got, err := repo.GetRun(ctx, key)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	latest, err := repo.LatestDrivers(ctx, user, "hrv_rmssd")
	require.NoError(t, err)
	assert.Equal(t, got, latest)

	_, err = repo.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestExperimentRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewExperimentRepository(db)
	user := uniqueUser(t)

	exp, err := experiment.New(user, "magnesium", "sleep_duration",
		core.Window{Start: day, End: day.AddDays(13)},
		core.Window{Start: day.AddDays(14), End: day.AddDays(27)})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, exp))
	require.NoError(t, exp.Transition(experiment.StatusBaselineCollecting))
	require.NoError(t, repo.Save(ctx, exp))

	got, err := repo.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusBaselineCollecting, got.Status)
	assert.Equal(t, exp.InterventionWindow, got.InterventionWindow)

	list, err := repo.ListByUser(ctx, user)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = repo.Evaluations().Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
