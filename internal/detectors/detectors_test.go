package detectors

import (
	"testing"

	"healthloop/domain/core"
	"healthloop/domain/finding"
	"healthloop/domain/metric"
	"healthloop/internal/baseline"
	"healthloop/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sleepInput(t *testing.T, series metric.Series, dayOffset int) Input {
	t.Helper()
	spec, err := metric.DefaultRegistry().Get("sleep_duration")
	require.NoError(t, err)
	day := testkit.Day(dayOffset)
	b := baseline.NewEstimator(baseline.DefaultConfig()).Estimate("u1", spec, series, day, nil)
	return Input{UserID: "u1", Spec: spec, Series: series, Day: day, Baseline: &b}
}

func TestScenarioSleepDrop(t *testing.T) {
	in := sleepInput(t, testkit.StableSleepWithDrop(), 13)
	require.True(t, in.Baseline.Available)

	change := NewChange().Detect(in)
	require.NotNil(t, change, "change detector should fire on a 3h night")
	assert.Equal(t, finding.KindChange, change.Kind)
	assert.Equal(t, finding.DirectionDecrease, change.Direction)
	assert.InDelta(t, 0.836, change.RawConfidence, 1e-3)

	reason, ok := change.Reason.(finding.ChangeReason)
	require.True(t, ok)
	assert.InDelta(t, -4.72, reason.ZScore, 0.01)
	assert.Equal(t, 3, reason.RecentDays)
	assert.InDelta(t, 4.72, change.Magnitude, 0.01)
	assert.Equal(t, core.Window{Start: testkit.Day(11), End: testkit.Day(13)}, change.Window)

	assert.Nil(t, NewTrend().Detect(in), "one bad night is not a trend")
}

func TestSelectPrefersChangeOverInstability(t *testing.T) {
	in := sleepInput(t, testkit.StableSleepWithDrop(), 13)

	instability := NewInstability().Detect(in)
	require.NotNil(t, instability)
	assert.Equal(t, finding.DirectionNone, instability.Direction)
	assert.Equal(t, instability.Reason.(finding.InstabilityReason).Ratio, instability.Magnitude)
	assert.Equal(t, core.Window{Start: testkit.Day(7), End: testkit.Day(13)}, instability.Window)

	change := NewChange().Detect(in)
	got := Select(instability, nil, change)
	assert.Same(t, change, got)
}

func TestSelectTieBreaksOnConfidence(t *testing.T) {
	low := &finding.Finding{Kind: finding.KindTrend, RawConfidence: 0.7}
	high := &finding.Finding{Kind: finding.KindTrend, RawConfidence: 0.9}
	safety := &finding.Finding{Kind: finding.KindSafety, RawConfidence: 0.1}

	assert.Same(t, high, Select(low, high))
	assert.Same(t, safety, Select(low, high, safety))
	assert.Nil(t, Select(nil, nil))
}

func TestTrendFiresOnSteadyClimb(t *testing.T) {
	series := testkit.Generate(testkit.Epoch, testkit.GeneratorConfig{Days: 20, Mean: 5, Slope: 0.3, Jitter: 0.1, Seed: 1})
	in := sleepInput(t, series, 19)

	f := NewTrend().Detect(in)
	require.NotNil(t, f)
	assert.Equal(t, finding.DirectionIncrease, f.Direction)
	reason := f.Reason.(finding.TrendReason)
	assert.InDelta(t, 0.3, reason.Slope, 0.03)
	assert.Equal(t, 14, reason.Days)
	assert.Equal(t, reason.Slope, f.Magnitude)
	assert.Equal(t, core.Window{Start: testkit.Day(6), End: testkit.Day(19)}, f.Window)
	assert.Greater(t, f.RawConfidence, 0.99)
}

func TestTrendRespectsSlopeThreshold(t *testing.T) {
	series := testkit.Generate(testkit.Epoch, testkit.GeneratorConfig{Days: 20, Mean: 7, Slope: 0.1, Jitter: 0.05, Seed: 2})
	in := sleepInput(t, series, 19)
	// significant but below the 0.25 h/day policy slope
	assert.Nil(t, NewTrend().Detect(in))
}

func TestTrendSlopeIsPerCalendarDay(t *testing.T) {
	series := testkit.Generate(testkit.Epoch, testkit.GeneratorConfig{Days: 20, Mean: 5, Slope: 0.18})
	in := sleepInput(t, series, 19)
	require.True(t, in.Baseline.Available)
	// days 7-12 missing leaves 8 points across the 14-day window
	in.Series = testkit.WithGaps(series, 7, 8, 9, 10, 11, 12)

	assert.Nil(t, NewTrend().Detect(in), "0.18 h/day is under the 0.25 h/day policy slope")

	steep := testkit.Generate(testkit.Epoch, testkit.GeneratorConfig{Days: 20, Mean: 5, Slope: 0.3, Jitter: 0.1, Seed: 1})
	in = sleepInput(t, steep, 19)
	in.Series = testkit.WithGaps(steep, 7, 8, 9, 10, 11, 12)
	f := NewTrend().Detect(in)
	require.NotNil(t, f)
	assert.InDelta(t, 0.3, f.Reason.(finding.TrendReason).Slope, 0.05)
	assert.Equal(t, 8, f.Reason.(finding.TrendReason).Days)
}

func TestDetectorsNeedAvailableBaseline(t *testing.T) {
	series := testkit.StableSleepWithDrop()[:10]
	in := sleepInput(t, series, 9)
	require.False(t, in.Baseline.Available)

	for _, d := range []Detector{NewChange(), NewTrend(), NewInstability()} {
		assert.Nil(t, d.Detect(in), "%s", d.Kind())
	}

	in.Baseline = nil
	assert.Nil(t, NewChange().Detect(in))
}

func TestDetectorsNeedRecentDays(t *testing.T) {
	in := sleepInput(t, testkit.StableSleepWithDrop(), 13)
	// the day being analysed has only one point in its change window
	in.Series = testkit.WithGaps(in.Series, 11, 12)
	assert.Nil(t, NewChange().Detect(in))
	assert.Nil(t, NewInstability().Detect(in))
}

func TestForPolicy(t *testing.T) {
	kinds := func(ds []Detector) []finding.Kind {
		var out []finding.Kind
		for _, d := range ds {
			out = append(out, d.Kind())
		}
		return out
	}
	all := metric.Policy{Detectors: []metric.DetectorKind{metric.DetectInstability, metric.DetectChange, metric.DetectTrend}}
	assert.Equal(t, []finding.Kind{finding.KindChange, finding.KindTrend, finding.KindInstability}, kinds(ForPolicy(all)))
	assert.Empty(t, ForPolicy(metric.Policy{}))

	assert.Equal(t, 2.5, NewChange().Thresholds(metric.Policy{ChangeZ: 2.5})["change_z"])
	assert.Equal(t, 3.0, NewInstability().Thresholds(metric.Policy{})["instability_ratio"])
}
