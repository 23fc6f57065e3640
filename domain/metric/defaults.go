package metric

var allDetectors = []DetectorKind{DetectChange, DetectTrend, DetectInstability}

// DefaultSpecs is the built-in observe set. Thresholds follow the per-metric
// detector policies used in production; sleep is tracked in hours.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			Key: "sleep_duration", Domain: "sleep", DisplayName: "Sleep Duration", Unit: "hours",
			Min: 0, Max: 24, Direction: HigherBetter, Aggregation: AggSum, Cadence: CadenceDaily,
			SpreadFloor: 0.1,
			Policy:      Policy{Detectors: allDetectors, ChangeZ: 2.0, TrendSlope: 0.25, InstabilityRatio: 3.0},
		},
		{
			Key: "sleep_efficiency", Domain: "sleep", DisplayName: "Sleep Efficiency", Unit: "percent",
			Min: 0, Max: 100, Direction: HigherBetter, Aggregation: AggMean, Cadence: CadenceDaily,
			SpreadFloor: 0.5,
			Policy:      Policy{Detectors: []DetectorKind{DetectChange, DetectTrend}, ChangeZ: 2.0, TrendSlope: 1.0},
		},
		{
			Key: "resting_hr", Domain: "cardio", DisplayName: "Resting Heart Rate", Unit: "bpm",
			Min: 20, Max: 200, Direction: LowerBetter, Aggregation: AggMin, Cadence: CadenceDaily,
			SpreadFloor: 0.5,
			Policy:      Policy{Detectors: []DetectorKind{DetectChange, DetectTrend}, ChangeZ: 2.0, TrendSlope: 0.8},
		},
		{
			Key: "hrv_rmssd", Domain: "cardio", DisplayName: "HRV (RMSSD)", Unit: "ms",
			Min: 0, Max: 300, Direction: HigherBetter, Aggregation: AggMean, Cadence: CadenceDaily,
			SpreadFloor: 1.0,
			Policy:      Policy{Detectors: allDetectors, ChangeZ: 2.0, TrendSlope: 1.0, InstabilityRatio: 3.5},
		},
		{
			Key: "steps", Domain: "activity", DisplayName: "Steps", Unit: "count",
			Min: 0, Max: 100000, Direction: HigherBetter, Aggregation: AggSum, Cadence: CadenceDaily,
			SpreadFloor: 50,
			Policy:      Policy{Detectors: []DetectorKind{DetectTrend}, TrendSlope: 500},
		},
		{
			Key: "glucose_mgdl", Domain: "metabolic", DisplayName: "Glucose", Unit: "mg/dL",
			Min: 20, Max: 600, Direction: OptimalRange, Aggregation: AggMean, Cadence: CadenceHourly,
			SpreadFloor: 2.0,
			Policy:      Policy{Detectors: []DetectorKind{DetectChange, DetectInstability}, ChangeZ: 2.5, InstabilityRatio: 3.0},
		},
		{
			Key: "vitamin_d_25oh", Domain: "labs", DisplayName: "Vitamin D (25-OH)", Unit: "ng/mL",
			Min: 0, Max: 200, Direction: HigherBetter, Aggregation: AggLast, Cadence: CadenceDaily,
			SpreadFloor: 1.0,
		},
		{
			Key: "sleep_quality", Domain: "subjective", DisplayName: "Sleep Quality", Unit: "score_1_5",
			Min: 1, Max: 5, Direction: HigherBetter, Aggregation: AggLast, Cadence: CadenceDaily,
			SpreadFloor: 0.25,
			Policy:      Policy{Detectors: []DetectorKind{DetectTrend, DetectInstability}, TrendSlope: 0.1, InstabilityRatio: 3.0},
		},
		{
			Key: "energy", Domain: "subjective", DisplayName: "Energy", Unit: "score_1_5",
			Min: 1, Max: 5, Direction: HigherBetter, Aggregation: AggLast, Cadence: CadenceDaily,
			SpreadFloor: 0.25,
			Policy:      Policy{Detectors: []DetectorKind{DetectTrend, DetectInstability}, TrendSlope: 0.1, InstabilityRatio: 3.0},
		},
		{
			Key: "stress", Domain: "subjective", DisplayName: "Stress", Unit: "score_1_5",
			Min: 1, Max: 5, Direction: LowerBetter, Aggregation: AggLast, Cadence: CadenceDaily,
			SpreadFloor: 0.25,
			Policy:      Policy{Detectors: []DetectorKind{DetectTrend, DetectInstability}, TrendSlope: 0.1, InstabilityRatio: 3.0},
		},
	}
}

// DefaultRegistry builds the registry from DefaultSpecs
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultSpecs())
	if err != nil {
		panic("metric: default registry is invalid: " + err.Error())
	}
	return r
}
