package analysis

import (
	"fmt"
	"math"

	"healthloop/domain/core"

	"gonum.org/v1/gonum/stat"
)

// Trend is an OLS fit of y on day index
type Trend struct {
	Slope     float64
	Intercept float64
	SE        float64
	T         float64
	P         float64
	CILow     float64
	CIHigh    float64
	N         int
}

// LinearTrend fits y against x and returns a two-sided CI at level. The
// slope is in y units per x unit.
func LinearTrend(xs, ys []float64, level float64) (Trend, error) {
	n := len(ys)
	if len(xs) != n {
		return Trend{}, fmt.Errorf("trend needs paired points (x=%d, y=%d)", len(xs), n)
	}
	if n < 3 {
		return Trend{}, fmt.Errorf("trend needs 3+ points (got %d): %w", n, core.ErrInsufficientData)
	}
	if stat.Variance(xs, nil) == 0 {
		return Trend{}, fmt.Errorf("trend needs distinct x values: %w", core.ErrInsufficientData)
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)

	xMean := stat.Mean(xs, nil)
	var sxx, sse float64
	for i := range xs {
		dx := xs[i] - xMean
		sxx += dx * dx
		r := ys[i] - (alpha + beta*xs[i])
		sse += r * r
	}
	df := float64(n - 2)
	tr := Trend{Slope: beta, Intercept: alpha, N: n, P: 1}
	tr.SE = math.Sqrt(sse/df) / math.Sqrt(sxx)

	if tr.SE == 0 {
		tr.CILow, tr.CIHigh = beta, beta
		if beta != 0 {
			tr.P = 0
		}
		return tr, nil
	}
	tr.T = beta / tr.SE
	tr.P = TTestPValue(tr.T, df)
	crit := TQuantile(1-(1-level)/2, df)
	tr.CILow = beta - crit*tr.SE
	tr.CIHigh = beta + crit*tr.SE
	return tr, nil
}

// Correlation is Pearson's r, 0 when either side is constant
func Correlation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 3 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}
