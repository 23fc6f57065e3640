package app

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthloop/domain/core"
	"healthloop/domain/finding"
	"healthloop/internal/testkit"
)

func TestRunDayCoversEveryMetric(t *testing.T) {
	h := newHarness(t)
	h.store.AddSeries("u1", "sleep_duration", testkit.MildSleepDrop())

	report, err := h.svc.RunDay(ctx, "u1", testkit.Day(13))
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Empty(t, report.SafetyRules)
	assert.Empty(t, report.Failures)
	assert.Len(t, report.Outcomes, len(h.svc.Registry().Keys()))
	assert.Equal(t, finding.StateFound, report.Outcomes["sleep_duration"].State)
	assert.Equal(t, finding.StateUndetermined, report.Outcomes["steps"].State)
	assert.Empty(t, report.Drivers, "nothing logged, nothing attributed")
}

func TestRunDaySkipsRepeat(t *testing.T) {
	h := newHarness(t)
	h.store.AddSeries("u1", "sleep_duration", testkit.MildSleepDrop())

	_, err := h.svc.RunDay(ctx, "u1", testkit.Day(13))
	require.NoError(t, err)
	audits := len(h.store.Audits())

	again, err := h.svc.RunDay(ctx, "u1", testkit.Day(13))
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Empty(t, again.Outcomes)
	assert.Len(t, h.store.Audits(), audits)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DedupHits))
}

func TestRunDayRetryAfterReleaseKeepsOneFindingPerMetric(t *testing.T) {
	h := newHarness(t)
	h.store.AddSeries("u1", "sleep_duration", testkit.MildSleepDrop())
	day := testkit.Day(13)

	_, err := h.svc.RunDay(ctx, "u1", day)
	require.NoError(t, err)
	require.NoError(t, h.ledger.Release(ctx, "day:u1:"+day.String()))
	again, err := h.svc.RunDay(ctx, "u1", day)
	require.NoError(t, err)
	require.False(t, again.Skipped)

	found, err := h.store.ListFindings(ctx, "u1", core.TrailingWindow(day, 1))
	require.NoError(t, err)
	perMetric := map[core.MetricKey]int{}
	for _, f := range found {
		perMetric[f.MetricKey]++
	}
	assert.Equal(t, map[core.MetricKey]int{"sleep_duration": 1}, perMetric)
}

func TestRunDaySafetySuppressesAll(t *testing.T) {
	h := newHarness(t)
	h.store.AddSeries("u1", "sleep_duration", testkit.StableSleepWithDrop())

	report, err := h.svc.RunDay(ctx, "u1", testkit.Day(13))
	require.NoError(t, err)
	assert.Equal(t, []string{"sleep_very_low"}, report.SafetyRules)
	for key, out := range report.Outcomes {
		assert.Equal(t, finding.StateSuppressed, out.State, key)
	}
}

func TestRunDayGateFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.store.AddSeries("u1", "sleep_duration", testkit.MildSleepDrop())
	h.store.AddSeries("u1", "resting_hr", testkit.Series(testkit.Day(13), 500))

	_, err := h.svc.RunDay(ctx, "u1", testkit.Day(13))
	require.ErrorIs(t, err, core.ErrSafetyGate)
	assert.Empty(t, h.store.Audits())

	// the claim is released so a corrected day can run again
	first, err := h.ledger.MarkOnce(ctx, "day:u1:"+testkit.Day(13).String(), 0)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRunDayRecordsFailures(t *testing.T) {
	h := newHarness(t)
	h.store.AddSeries("u1", "sleep_duration", testkit.MildSleepDrop())
	h.store.SaveOutcomeErr = errors.New("disk full")

	report, err := h.svc.RunDay(ctx, "u1", testkit.Day(13))
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
	assert.Len(t, report.Failures, len(h.svc.Registry().Keys()))
	assert.Contains(t, report.Failures["sleep_duration"], "disk full")
}

func TestRunDayAttributes(t *testing.T) {
	h := newHarness(t)
	series, logs := testkit.MagnesiumScenario(10)
	h.store.AddSeries("u1", "hrv_rmssd", series)
	h.store.AddExposures("u1", logs...)

	report, err := h.svc.RunDay(ctx, "u1", testkit.Day(19))
	require.NoError(t, err)
	assert.Positive(t, report.Drivers["hrv_rmssd"])
	assert.NotContains(t, report.Drivers, core.MetricKey("sleep_duration"), "no outcome data")

	drivers, err := h.store.LatestDrivers(ctx, "u1", "hrv_rmssd")
	require.NoError(t, err)
	assert.Len(t, drivers, report.Drivers["hrv_rmssd"])
}

func TestRunDayRequiresConsent(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.RunDay(ctx, "u2", testkit.Day(13))
	assert.ErrorIs(t, err, core.ErrConsentMissing)
}
