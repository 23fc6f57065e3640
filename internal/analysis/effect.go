package analysis

import (
	"fmt"
	"math"

	"healthloop/domain/core"
)

// GroupComparison is the two-sample summary used by attribution and
// evaluation. D is Cohen's d of (A − B) with a pooled sample SD, T and P come
// from Welch's unequal-variance t-test.
type GroupComparison struct {
	MeanA, MeanB float64
	VarA, VarB   float64
	NA, NB       int
	D            float64
	T            float64
	DF           float64
	P            float64
}

// Compare runs Cohen's d and Welch's t-test on two groups
func Compare(a, b []float64) (GroupComparison, error) {
	if len(a) < 2 || len(b) < 2 {
		return GroupComparison{}, fmt.Errorf("compare needs 2+ per group (got %d, %d): %w", len(a), len(b), core.ErrInsufficientData)
	}
	c := GroupComparison{NA: len(a), NB: len(b), P: 1}
	c.MeanA, _ = Mean(a)
	c.MeanB, _ = Mean(b)
	c.VarA, _ = SampleVariance(a)
	c.VarB, _ = SampleVariance(b)

	n1, n2 := float64(c.NA), float64(c.NB)
	pooled := math.Sqrt(((n1-1)*c.VarA + (n2-1)*c.VarB) / (n1 + n2 - 2))
	if pooled > 0 {
		c.D = (c.MeanA - c.MeanB) / pooled
	}

	se2 := c.VarA/n1 + c.VarB/n2
	if se2 > 0 {
		c.T = (c.MeanA - c.MeanB) / math.Sqrt(se2)
		c.DF = se2 * se2 / (math.Pow(c.VarA/n1, 2)/(n1-1) + math.Pow(c.VarB/n2, 2)/(n2-1))
		c.P = TTestPValue(c.T, c.DF)
	}
	return c, nil
}

// DCI returns a normal-approximation confidence interval for d at level
func (c GroupComparison) DCI(level float64) (float64, float64) {
	n1, n2 := float64(c.NA), float64(c.NB)
	se := math.Sqrt((n1+n2)/(n1*n2) + c.D*c.D/(2*(n1+n2)))
	z := NormalQuantile(1 - (1-level)/2)
	return c.D - z*se, c.D + z*se
}
