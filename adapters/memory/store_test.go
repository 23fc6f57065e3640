package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/finding"
	"healthloop/domain/metric"
	"healthloop/internal/baseline"
	"healthloop/ports"
)

var (
	ctx = context.Background()
	d0  = core.NewDay(2025, time.March, 1)
)

func TestReadersFilterByWindow(t *testing.T) {
	s := NewStore()
	s.AddPoints("u1", "steps",
		metric.Point{At: d0.Time().Add(23 * time.Hour), Value: 1},
		metric.Point{At: d0.AddDays(1).Time(), Value: 2},
		metric.Point{At: d0.AddDays(5).Time(), Value: 3},
	)
	s.AddExposures("u1",
		attribution.ExposureLog{Day: d0, Key: "caffeine", Value: 1},
		attribution.ExposureLog{Day: d0.AddDays(3), Key: "caffeine", Value: 1},
	)
	s.AddSymptoms("u1", d0, "headache")

	pts, err := s.Points(ctx, "u1", "steps", core.Window{Start: d0, End: d0.AddDays(1)})
	require.NoError(t, err)
	assert.Len(t, pts, 2)

	logs, err := s.Exposures(ctx, "u1", core.TrailingWindow(d0.AddDays(3), 2))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, d0.AddDays(3), logs[0].Day)

	tags, err := s.Symptoms(ctx, "u1", d0)
	require.NoError(t, err)
	assert.Equal(t, []string{"headache"}, tags)

	s.AddExposures("u0", attribution.ExposureLog{Day: d0, Key: "zinc", Value: 1})
	users, err := s.ActiveUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.UserID{"u0", "u1"}, users)

	ok, err := s.HasConsent(ctx, "u1", ports.ConsentAnalytics)
	require.NoError(t, err)
	assert.False(t, ok)
	s.Grant("u1", ports.ConsentAnalytics)
	ok, _ = s.HasConsent(ctx, "u1", ports.ConsentAnalytics)
	assert.True(t, ok)
}

func TestLatestBaselineIsStrictlyBefore(t *testing.T) {
	s := NewStore()
	for i, center := range []float64{7, 7.5, 8} {
		require.NoError(t, s.Save(ctx, baseline.Baseline{UserID: "u1", MetricKey: "sleep_duration", AsOf: d0.AddDays(i), Center: center}))
	}
	require.NoError(t, s.Save(ctx, baseline.Baseline{UserID: "u1", MetricKey: "sleep_duration", AsOf: d0.AddDays(1), Center: 7.2}))

	b, err := s.Latest(ctx, "u1", "sleep_duration", d0.AddDays(2))
	require.NoError(t, err)
	assert.Equal(t, 7.2, b.Center, "upserted on as-of day")

	_, err = s.Latest(ctx, "u1", "sleep_duration", d0)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSaveOutcome(t *testing.T) {
	s := NewStore()
	f := &finding.Finding{ID: "f1", UserID: "u1", MetricKey: "steps", Day: d0}
	require.NoError(t, s.SaveOutcome(ctx, f, finding.AuditRecord{UserID: "u1", Day: d0, State: finding.StateFound}))
	require.NoError(t, s.SaveOutcome(ctx, nil, finding.AuditRecord{UserID: "u1", Day: d0.AddDays(1), State: finding.StateQuiet}))

	found, err := s.ListFindings(ctx, "u1", core.TrailingWindow(d0.AddDays(1), 2))
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Len(t, s.Audits(), 2)

	s.SaveOutcomeErr = errors.New("disk full")
	assert.Error(t, s.SaveOutcome(ctx, f, finding.AuditRecord{}))
	assert.Len(t, s.Audits(), 2, "a failed save writes nothing")
}

func TestSaveOutcomeReplacesTheDaysFinding(t *testing.T) {
	s := NewStore()
	audit := finding.AuditRecord{UserID: "u1", MetricKey: "steps", Day: d0, State: finding.StateFound}
	first := &finding.Finding{ID: "f1", UserID: "u1", MetricKey: "steps", Day: d0, Kind: finding.KindChange}
	require.NoError(t, s.SaveOutcome(ctx, first, audit))

	retry := &finding.Finding{ID: "f2", UserID: "u1", MetricKey: "steps", Day: d0, Kind: finding.KindTrend}
	require.NoError(t, s.SaveOutcome(ctx, retry, audit))
	assert.Equal(t, core.FindingID("f1"), retry.ID, "the stored id is kept")

	found, err := s.ListFindings(ctx, "u1", core.TrailingWindow(d0, 1))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, finding.KindTrend, found[0].Kind)

	audit.State = finding.StateQuiet
	require.NoError(t, s.SaveOutcome(ctx, nil, audit))
	found, _ = s.ListFindings(ctx, "u1", core.TrailingWindow(d0, 1))
	assert.Empty(t, found)
	assert.Len(t, s.Audits(), 3)
}

func TestReplaceRun(t *testing.T) {
	s := NewStore()
	cands := []attribution.DriverCandidate{
		{RunKey: "r1", UserID: "u1", OutcomeMetric: "hrv_rmssd", ExposureKey: "magnesium", Rank: 1},
		{RunKey: "r1", UserID: "u1", OutcomeMetric: "hrv_rmssd", ExposureKey: "caffeine", Rank: 2},
	}
	require.NoError(t, s.ReplaceRun(ctx, "r1", cands))
	require.NoError(t, s.ReplaceRun(ctx, "r1", cands[:1]))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	latest, err := s.LatestDrivers(ctx, "u1", "hrv_rmssd")
	require.NoError(t, err)
	assert.Equal(t, got, latest)

	none, err := s.LatestDrivers(ctx, "u2", "hrv_rmssd")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	first, err := l.MarkOnce(ctx, "day:u1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)
	again, _ := l.MarkOnce(ctx, "day:u1", time.Hour)
	assert.False(t, again)

	now = now.Add(2 * time.Hour)
	expired, _ := l.MarkOnce(ctx, "day:u1", time.Hour)
	assert.True(t, expired)

	require.NoError(t, l.Release(ctx, "day:u1"))
	released, _ := l.MarkOnce(ctx, "day:u1", time.Hour)
	assert.True(t, released)
}
