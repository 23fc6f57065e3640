package analysis

import (
	"errors"
	"sort"
	"testing"

	"healthloop/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobustSpreadRespectsFloor(t *testing.T) {
	constant := []float64{5, 5, 5, 5, 5, 5}
	spread, err := RobustSpread(constant, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, spread)

	// |x - 3| = {2,1,0,1,2} -> MAD 1
	spread, err = RobustSpread([]float64{1, 2, 3, 4, 5}, 0.1)
	require.NoError(t, err)
	assert.InDelta(t, MADScale, spread, 1e-9)

	_, err = RobustSpread(nil, 1)
	assert.True(t, errors.Is(err, core.ErrInsufficientData))
}

func TestCompare(t *testing.T) {
	c, err := Compare([]float64{1, 2, 3, 4, 5}, []float64{3, 4, 5, 6, 7})
	require.NoError(t, err)

	assert.InDelta(t, -1.2649, c.D, 1e-4)
	assert.InDelta(t, -2.0, c.T, 1e-9)
	assert.InDelta(t, 8.0, c.DF, 1e-9)
	assert.InDelta(t, 0.0805, c.P, 1e-3)

	lo, hi := c.DCI(0.95)
	assert.Less(t, lo, c.D)
	assert.Greater(t, hi, c.D)

	_, err = Compare([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestCompareConstantGroups(t *testing.T) {
	c, err := Compare([]float64{2, 2, 2}, []float64{2, 2, 2})
	require.NoError(t, err)
	assert.Zero(t, c.D)
	assert.Equal(t, 1.0, c.P)
}

func TestBenjaminiHochberg(t *testing.T) {
	p := []float64{0.01, 0.04, 0.03, 0.005}
	q := BenjaminiHochberg(p)

	// sorted: 0.005 0.01 0.03 0.04 -> raw 0.02 0.02 0.04 0.04
	assert.InDelta(t, 0.02, q[0], 1e-12)
	assert.InDelta(t, 0.04, q[1], 1e-12)
	assert.InDelta(t, 0.04, q[2], 1e-12)
	assert.InDelta(t, 0.02, q[3], 1e-12)

	assert.Empty(t, BenjaminiHochberg(nil))
}

func TestBenjaminiHochbergMonotone(t *testing.T) {
	p := []float64{0.2, 0.001, 0.049, 0.04, 0.9, 0.03, 0.5, 0.011, 0.012}
	q := BenjaminiHochberg(p)

	idx := make([]int, len(p))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })
	for k := 1; k < len(idx); k++ {
		assert.LessOrEqual(t, q[idx[k-1]], q[idx[k]])
	}
	for i := range p {
		assert.GreaterOrEqual(t, q[i], p[i])
		assert.LessOrEqual(t, q[i], 1.0)
	}
}

func TestLinearTrend(t *testing.T) {
	tr, err := LinearTrend(index(8), []float64{1, 3, 2, 4, 3, 5, 4, 6}, 0.95)
	require.NoError(t, err)
	assert.InDelta(t, 0.5714, tr.Slope, 1e-4)
	assert.InDelta(t, 0.1304, tr.SE, 1e-4)
	assert.Less(t, tr.P, 0.01)
	assert.Greater(t, tr.P, 0.002)
	assert.InDelta(t, 0.252, tr.CILow, 5e-3)
	assert.InDelta(t, 0.890, tr.CIHigh, 5e-3)

	exact, err := LinearTrend(index(4), []float64{1, 3, 5, 7}, 0.95)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, exact.Slope, 1e-9)
	assert.InDelta(t, 0.0, exact.P, 1e-9)

	_, err = LinearTrend(index(2), []float64{1, 2}, 0.95)
	assert.ErrorIs(t, err, core.ErrInsufficientData)

	_, err = LinearTrend([]float64{3, 3, 3}, []float64{1, 2, 3}, 0.95)
	assert.ErrorIs(t, err, core.ErrInsufficientData)

	_, err = LinearTrend(index(3), []float64{1, 2}, 0.95)
	assert.Error(t, err)
}

func TestLinearTrendUsesSpacing(t *testing.T) {
	// 0.18 per day with a gap between x=0 and x=7
	xs := []float64{0, 7, 8, 9, 10, 11, 12, 13}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 5 + 0.18*x
	}
	tr, err := LinearTrend(xs, ys, 0.95)
	require.NoError(t, err)
	assert.InDelta(t, 0.18, tr.Slope, 1e-9)

	byIndex, err := LinearTrend(index(len(ys)), ys, 0.95)
	require.NoError(t, err)
	assert.InDelta(t, 0.27, byIndex.Slope, 1e-9, "ignoring the gap overstates the slope")
}

func index(n int) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	return xs
}

func TestCorrelation(t *testing.T) {
	assert.InDelta(t, 1.0, Correlation([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8}), 1e-9)
	assert.InDelta(t, -1.0, Correlation([]float64{1, 2, 3, 4}, []float64{4, 3, 2, 1}), 1e-9)
	assert.Zero(t, Correlation([]float64{1, 1, 1, 1}, []float64{1, 2, 3, 4}))
}

func TestDistributions(t *testing.T) {
	assert.InDelta(t, 0.975, NormalCDF(1.959964), 1e-6)
	assert.InDelta(t, 1.959964, NormalQuantile(0.975), 1e-5)
	assert.Equal(t, 1.0, TTestPValue(2, 0))
	assert.InDelta(t, 0.5, FCDF(1, 10, 10), 1e-6)
	assert.Zero(t, FCDF(-1, 3, 3))
}
