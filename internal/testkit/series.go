package testkit

import (
	"math"
	"math/rand"
	"time"

	"healthloop/domain/attribution"
	"healthloop/domain/core"
	"healthloop/domain/metric"
)

// Epoch is the first day of every generated fixture
var Epoch = core.NewDay(2025, time.January, 1)

// Day returns Epoch + n days
func Day(n int) core.Day {
	return Epoch.AddDays(n)
}

// Series builds a contiguous daily series starting at start
func Series(start core.Day, values ...float64) metric.Series {
	out := make(metric.Series, 0, len(values))
	for i, v := range values {
		out = append(out, metric.DailyValue{Day: start.AddDays(i), Value: v, Count: 1})
	}
	return out
}

// WithGaps drops the listed day offsets from a series
func WithGaps(s metric.Series, offsets ...int) metric.Series {
	skip := make(map[int]bool, len(offsets))
	for _, o := range offsets {
		skip[o] = true
	}
	var out metric.Series
	for i, v := range s {
		if !skip[i] {
			out = append(out, v)
		}
	}
	return out
}

// Exposures builds one log per value starting at start
func Exposures(key core.ExposureKey, start core.Day, values ...float64) []attribution.ExposureLog {
	out := make([]attribution.ExposureLog, 0, len(values))
	for i, v := range values {
		out = append(out, attribution.ExposureLog{Day: start.AddDays(i), Key: key, Value: v})
	}
	return out
}

// GeneratorConfig configures a seeded noisy series
type GeneratorConfig struct {
	Days   int
	Mean   float64
	Jitter float64 // uniform half-width
	Slope  float64 // per day
	Seed   int64
}

// Generate produces a reproducible series from cfg
func Generate(start core.Day, cfg GeneratorConfig) metric.Series {
	rng := rand.New(rand.NewSource(cfg.Seed))
	values := make([]float64, cfg.Days)
	for i := range values {
		noise := (rng.Float64()*2 - 1) * cfg.Jitter
		values[i] = round(cfg.Mean+cfg.Slope*float64(i)+noise, 3)
	}
	return Series(start, values...)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
