// Package analysis holds the numeric building blocks shared by the
// baseline, detector, attribution and evaluation engines.
package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// TTestPValue is the two-sided p-value of a t statistic. Fractional degrees
// of freedom are allowed so Welch-Satterthwaite df can be passed directly.
func TTestPValue(t, df float64) float64 {
	if df <= 0 || math.IsNaN(t) {
		return 1.0
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - dist.CDF(math.Abs(t)))
	return clamp01(p)
}

// TQuantile returns the p-quantile of Student's t with df degrees of freedom
func TQuantile(p, df float64) float64 {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(p)
}

// NormalCDF is the standard normal CDF
func NormalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// NormalQuantile is the standard normal inverse CDF
func NormalQuantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

// FCDF is the CDF of the F distribution
func FCDF(x float64, d1, d2 int) float64 {
	if d1 <= 0 || d2 <= 0 || x <= 0 {
		return 0
	}
	return distuv.F{D1: float64(d1), D2: float64(d2)}.CDF(x)
}

func clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
