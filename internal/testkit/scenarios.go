package testkit

import (
	"healthloop/domain/attribution"
	"healthloop/domain/metric"
)

// StableSleepWithDrop is 13 nights within 0.5h of 7h followed by a 3h night
func StableSleepWithDrop() metric.Series {
	return Series(Epoch,
		7.3, 6.8, 7.1, 6.6, 7.2, 7.0, 6.9, 7.4, 6.7, 7.1, 7.2, 6.8, 7.0,
		3.0,
	)
}

// MildSleepDrop is the stable fortnight ending in a 4.5h night: a clear
// change that stays above every safety threshold.
func MildSleepDrop() metric.Series {
	return Series(Epoch,
		7.3, 6.8, 7.1, 6.6, 7.2, 7.0, 6.9, 7.4, 6.7, 7.1, 7.2, 6.8, 7.0,
		4.5,
	)
}

// StableSleep is the same fortnight without the drop
func StableSleep() metric.Series {
	return Series(Epoch,
		7.3, 6.8, 7.1, 6.6, 7.2, 7.0, 6.9, 7.4, 6.7, 7.1, 7.2, 6.8, 7.0,
		7.0,
	)
}

// magnesiumDays marks the exposed days of a 20-day window, five in each half
var magnesiumDays = []bool{
	true, false, true, false, true, false, true, false, true, false,
	false, true, false, true, false, true, false, true, false, true,
}

// Both noise patterns have roughly unit spread and sum to zero within each
// half of the window, so a +1 shift is about one standard deviation and the
// same in both halves.
var unexposedNoise = []float64{1.2, -1.0, 0.4, -0.8, 0.2, -1.2, 1.0, -0.4, 0.8, -0.2}
var exposedNoise = []float64{-0.9, 1.1, -0.3, 0.7, -0.6, 0.9, -1.1, 0.3, -0.7, 0.6}

// MagnesiumScenario returns a 20-day outcome and a magnesium exposure log.
// Up to ten days follow the exposed pattern; with exposedDays below ten only
// the first exposedDays are taken and the rest are logged as zero.
func MagnesiumScenario(exposedDays int) (metric.Series, []attribution.ExposureLog) {
	outcome := make([]float64, len(magnesiumDays))
	dose := make([]float64, len(magnesiumDays))
	taken, ei, ui := 0, 0, 0
	for i, exposed := range magnesiumDays {
		if exposed && taken < exposedDays {
			taken++
			outcome[i] = 51 + exposedNoise[ei%len(exposedNoise)]
			dose[i] = 400
			ei++
			continue
		}
		outcome[i] = 50 + unexposedNoise[ui%len(unexposedNoise)]
		ui++
	}
	return Series(Epoch, outcome...), Exposures("magnesium", Epoch, dose...)
}
