package analysis

import (
	"fmt"

	"healthloop/domain/core"

	"github.com/montanaflynn/stats"
)

// MADScale converts a median absolute deviation into a consistent estimate
// of the standard deviation for normal data
const MADScale = 1.4826

// MedianEfficiency is the asymptotic SE inflation of the median over the mean
const MedianEfficiency = 1.2533

// Median of xs
func Median(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, fmt.Errorf("median: %w", core.ErrInsufficientData)
	}
	return stats.Median(xs)
}

// RobustSpread returns 1.4826 × MAD, never below floor
func RobustSpread(xs []float64, floor float64) (float64, error) {
	if len(xs) == 0 {
		return 0, fmt.Errorf("spread: %w", core.ErrInsufficientData)
	}
	mad, err := stats.MedianAbsoluteDeviation(xs)
	if err != nil {
		return 0, err
	}
	spread := MADScale * mad
	if spread < floor {
		spread = floor
	}
	return spread, nil
}

// Mean of xs
func Mean(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, fmt.Errorf("mean: %w", core.ErrInsufficientData)
	}
	return stats.Mean(xs)
}

// SampleVariance uses the n-1 denominator
func SampleVariance(xs []float64) (float64, error) {
	if len(xs) < 2 {
		return 0, fmt.Errorf("variance: %w", core.ErrInsufficientData)
	}
	return stats.SampleVariance(xs)
}
