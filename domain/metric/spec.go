package metric

import (
	"fmt"

	"healthloop/domain/core"
)

// Direction describes which way a metric moves when things get better
type Direction string

const (
	HigherBetter Direction = "higher_better"
	LowerBetter  Direction = "lower_better"
	OptimalRange Direction = "optimal_range"
)

// Aggregation is the rule used to fold intra-day points into one daily value
type Aggregation string

const (
	AggMean Aggregation = "mean"
	AggSum  Aggregation = "sum"
	AggLast Aggregation = "last"
	AggMin  Aggregation = "min"
	AggMax  Aggregation = "max"
)

// Cadence is how often a metric is expected to report
type Cadence string

const (
	CadenceDaily      Cadence = "daily"
	CadenceHourly     Cadence = "hourly"
	CadenceContinuous Cadence = "continuous"
)

// DetectorKind names a statistical detector a policy may enable
type DetectorKind string

const (
	DetectChange      DetectorKind = "change"
	DetectTrend       DetectorKind = "trend"
	DetectInstability DetectorKind = "instability"
)

// Policy holds the per-metric detector thresholds
type Policy struct {
	Detectors        []DetectorKind `yaml:"detectors" json:"detectors" validate:"dive,oneof=change trend instability"`
	ChangeZ          float64        `yaml:"change_z" json:"change_z" validate:"gte=0"`
	TrendSlope       float64        `yaml:"trend_slope" json:"trend_slope" validate:"gte=0"`
	InstabilityRatio float64        `yaml:"instability_ratio" json:"instability_ratio" validate:"gte=0"`
}

// Enabled reports whether a detector is switched on for the metric
func (p Policy) Enabled(kind DetectorKind) bool {
	for _, d := range p.Detectors {
		if d == kind {
			return true
		}
	}
	return false
}

// Spec is the canonical definition of a metric
type Spec struct {
	Key         core.MetricKey `yaml:"key" json:"key" validate:"required"`
	Domain      string         `yaml:"domain" json:"domain"`
	DisplayName string         `yaml:"display_name" json:"display_name"`
	Unit        string         `yaml:"unit" json:"unit" validate:"required"`
	Min         float64        `yaml:"min" json:"min"`
	Max         float64        `yaml:"max" json:"max" validate:"gtfield=Min"`
	Direction   Direction      `yaml:"direction" json:"direction" validate:"oneof=higher_better lower_better optimal_range"`
	Aggregation Aggregation    `yaml:"aggregation" json:"aggregation" validate:"oneof=mean sum last min max"`
	Cadence     Cadence        `yaml:"cadence" json:"cadence" validate:"oneof=daily hourly continuous"`
	// SpreadFloor keeps near-constant series from producing a zero spread
	SpreadFloor float64 `yaml:"spread_floor" json:"spread_floor" validate:"gt=0"`
	Policy      Policy  `yaml:"policy" json:"policy"`
}

// InRange reports whether v is inside the valid range
func (s Spec) InRange(v float64) bool {
	return v >= s.Min && v <= s.Max
}

// Validate rejects a value outside the metric's valid range
func (s Spec) Validate(v float64) error {
	if !s.InRange(v) {
		return fmt.Errorf("%w: %s=%v not in [%v, %v]", core.ErrOutOfRange, s.Key, v, s.Min, s.Max)
	}
	return nil
}

// Improves reports whether a signed change counts as an improvement
func (s Spec) Improves(delta float64) bool {
	switch s.Direction {
	case HigherBetter:
		return delta > 0
	case LowerBetter:
		return delta < 0
	default:
		return false
	}
}
