package metric

import (
	"errors"
	"testing"

	"healthloop/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	spec, err := r.Get("sleep_duration")
	require.NoError(t, err)
	assert.Equal(t, "hours", spec.Unit)
	assert.True(t, spec.Policy.Enabled(DetectChange))

	_, err = r.Get("blood_oxygen")
	assert.True(t, errors.Is(err, core.ErrUnknownMetric))
	assert.True(t, core.IsNotFoundError(err))

	keys := r.Keys()
	assert.Len(t, keys, 10)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, string(keys[i-1]), string(keys[i]))
	}
}

func TestRegistryValidate(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name    string
		key     core.MetricKey
		value   float64
		wantErr error
	}{
		{"in range", "sleep_duration", 7.5, nil},
		{"upper bound inclusive", "sleep_duration", 24, nil},
		{"above range", "sleep_duration", 25, core.ErrOutOfRange},
		{"below range", "resting_hr", 5, core.ErrOutOfRange},
		{"unknown metric", "mystery", 1, core.ErrUnknownMetric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(tt.key, tt.value)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewRegistryRejectsInvalidSpecs(t *testing.T) {
	good := DefaultSpecs()[0]

	noFloor := good
	noFloor.SpreadFloor = 0
	_, err := NewRegistry([]Spec{noFloor})
	assert.Error(t, err)

	inverted := good
	inverted.Min, inverted.Max = 10, 1
	_, err = NewRegistry([]Spec{inverted})
	assert.Error(t, err)

	_, err = NewRegistry([]Spec{good, good})
	assert.ErrorContains(t, err, "duplicate")
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
metrics:
  - key: resting_hr
    unit: bpm
    min: 20
    max: 200
    direction: lower_better
    aggregation: min
    cadence: daily
    spread_floor: 0.5
    policy:
      detectors: [change, trend]
      change_z: 2.5
      trend_slope: 0.8
`)
	r, err := ParseYAML(doc)
	require.NoError(t, err)

	spec, err := r.Get("resting_hr")
	require.NoError(t, err)
	assert.Equal(t, LowerBetter, spec.Direction)
	assert.Equal(t, 2.5, spec.Policy.ChangeZ)
	assert.False(t, spec.Policy.Enabled(DetectInstability))

	_, err = ParseYAML([]byte("metrics: []"))
	assert.Error(t, err)

	_, err = ParseYAML([]byte(`
metrics:
  - key: x
    unit: u
    max: 1
    direction: sideways
    aggregation: mean
    cadence: daily
    spread_floor: 1
`))
	assert.Error(t, err)
}

func TestSpecImproves(t *testing.T) {
	assert.True(t, Spec{Direction: HigherBetter}.Improves(1))
	assert.False(t, Spec{Direction: HigherBetter}.Improves(-1))
	assert.True(t, Spec{Direction: LowerBetter}.Improves(-1))
	assert.False(t, Spec{Direction: OptimalRange}.Improves(1))
}
