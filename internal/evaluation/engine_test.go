package evaluation

import (
	"testing"

	domain "healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/experiment"
	"healthloop/domain/metric"
	"healthloop/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wiggle = []float64{0.3, -0.2, 0.1, -0.3, 0.2, 0.0, -0.1, 0.3, -0.2, 0.1, -0.3, 0.2, 0.0, -0.1}

func twoPhase(before, after float64) metric.Series {
	values := make([]float64, 0, 28)
	for _, w := range wiggle {
		values = append(values, before+w)
	}
	for _, w := range wiggle {
		values = append(values, after+w)
	}
	return testkit.Series(testkit.Epoch, values...)
}

func adherence(days int, dose float64) []domain.ExposureLog {
	values := make([]float64, days)
	for i := range values {
		values[i] = dose
	}
	return testkit.Exposures("magnesium", testkit.Day(14), values...)
}

func input(t *testing.T, metricKey core.MetricKey, series metric.Series, logs []domain.ExposureLog) Input {
	t.Helper()
	spec, err := metric.DefaultRegistry().Get(metricKey)
	require.NoError(t, err)
	return Input{
		Experiment: experiment.Experiment{
			ID:                 "exp-1",
			UserID:             "u1",
			InterventionKey:    "magnesium",
			OutcomeMetric:      metricKey,
			BaselineWindow:     core.Window{Start: testkit.Day(0), End: testkit.Day(13)},
			InterventionWindow: core.Window{Start: testkit.Day(14), End: testkit.Day(27)},
			Status:             experiment.StatusInterventionActive,
		},
		Spec:      spec,
		Series:    series,
		Adherence: logs,
	}
}

func TestEvaluateVerdicts(t *testing.T) {
	tests := []struct {
		name   string
		metric core.MetricKey
		series metric.Series
		logs   []domain.ExposureLog
		want   experiment.Verdict
	}{
		{"clear improvement with adherence", "sleep_duration", twoPhase(6.5, 7.5), adherence(14, 400), experiment.VerdictHelpful},
		{"improvement in the wrong direction", "sleep_duration", twoPhase(7.5, 6.5), adherence(14, 400), experiment.VerdictNotHelpful},
		{"lower is better for resting heart rate", "resting_hr", twoPhase(62, 58), adherence(14, 400), experiment.VerdictHelpful},
		{"logged but never taken", "sleep_duration", twoPhase(6.5, 7.5), adherence(14, 0), experiment.VerdictUnclear},
		{"too few adherence records", "sleep_duration", twoPhase(6.5, 7.5), adherence(5, 400), experiment.VerdictInsufficientData},
		{"optimal range metric stays unclear", "glucose_mgdl", twoPhase(100, 110), adherence(14, 400), experiment.VerdictUnclear},
	}
	e := NewEngine(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Evaluate(input(t, tt.metric, tt.series, tt.logs))
			assert.Equal(t, tt.want, r.Verdict)
			assert.NoError(t, r.Validate())
			assert.Equal(t, core.ExperimentID("exp-1"), r.ExperimentID)
		})
	}
}

func TestEvaluateHelpfulDetails(t *testing.T) {
	r := NewEngine(DefaultConfig()).Evaluate(input(t, "sleep_duration", twoPhase(6.5, 7.5), adherence(14, 400)))

	assert.Equal(t, experiment.VerdictHelpful, r.Verdict)
	assert.Equal(t, 1.0, r.Coverage)
	assert.Equal(t, 1.0, r.AdherenceRate)
	assert.True(t, r.HasAdherence)
	assert.Greater(t, r.EffectSize, 3.0)
	assert.Less(t, r.CILow, r.EffectSize)
	assert.Greater(t, r.CIHigh, r.EffectSize)
	assert.Greater(t, r.Confidence, 0.99)
	assert.Equal(t, 14, r.BaselineN)
	assert.Equal(t, 14, r.InterventionN)
	assert.NotEmpty(t, r.Grade)
}

func TestEvaluateNoAdherenceIsNeverHelpful(t *testing.T) {
	e := NewEngine(DefaultConfig())
	for i, shift := range []float64{0.2, 0.5, 1, 2, 5, 10} {
		series := twoPhase(5, 5+shift)
		for _, logs := range [][]domain.ExposureLog{nil, adherence(14, 0)} {
			r := e.Evaluate(input(t, "sleep_duration", series, logs))
			assert.NotEqual(t, experiment.VerdictHelpful, r.Verdict, "case %d", i)
			assert.False(t, r.HasAdherence)
		}
	}
}

func TestEvaluatePartialAdherence(t *testing.T) {
	logs := adherence(14, 400)
	for i := 0; i < 7; i++ {
		logs[i].Value = 0
	}
	r := NewEngine(DefaultConfig()).Evaluate(input(t, "sleep_duration", twoPhase(6.5, 7.5), logs))

	assert.Equal(t, 0.5, r.AdherenceRate)
	assert.InDelta(t, 0.5, r.Confidence, 0.01)
	// confidence 0.5 is under the helpful gate
	assert.Equal(t, experiment.VerdictUnclear, r.Verdict)
	assert.True(t, r.Downgraded)
}

func TestConfidenceLaw(t *testing.T) {
	law := DefaultLaw()
	assert.InDelta(t, 0.9*0.8*0.5, law.Apply(0.9, 0.8, 0.5), 1e-12)
	assert.Zero(t, law.Apply(1, 1, 0))
	assert.Equal(t, 1.0, law.Apply(2, 1, 1))

	effectOnly := ConfidenceLaw{EffectWeight: 1}
	assert.InDelta(t, 0.9, effectOnly.Apply(0.9, 0.1, 0.1), 1e-12)
}
