package finding

import (
	"encoding/json"
	"fmt"
)

// ReasonSchemaVersion is stamped on every persisted reason payload
const ReasonSchemaVersion = "v1"

// Reason is the typed explanation attached to a finding. Exactly one
// concrete reason type exists per finding kind.
type Reason interface {
	Kind() Kind
}

// ChangeReason explains a change-point finding
type ChangeReason struct {
	RecentMean     float64 `json:"recent_mean"`
	BaselineCenter float64 `json:"baseline_center"`
	BaselineSpread float64 `json:"baseline_spread"`
	ZScore         float64 `json:"z_score"`
	Threshold      float64 `json:"threshold"`
	RecentDays     int     `json:"recent_days"`
}

// TrendReason explains a trend finding
type TrendReason struct {
	Slope     float64 `json:"slope_per_day"`
	CILow     float64 `json:"ci_low"`
	CIHigh    float64 `json:"ci_high"`
	PValue    float64 `json:"p_value"`
	Threshold float64 `json:"threshold"`
	Days      int     `json:"days"`
}

// InstabilityReason explains a variability finding
type InstabilityReason struct {
	RecentVariance   float64 `json:"recent_variance"`
	BaselineVariance float64 `json:"baseline_variance"`
	Ratio            float64 `json:"ratio"`
	Threshold        float64 `json:"threshold"`
	RecentDays       int     `json:"recent_days"`
}

// SafetyReason lists the red-flag rules that fired
type SafetyReason struct {
	Primary RuleHit   `json:"primary"`
	Hits    []RuleHit `json:"hits"`
}

func (ChangeReason) Kind() Kind      { return KindChange }
func (TrendReason) Kind() Kind       { return KindTrend }
func (InstabilityReason) Kind() Kind { return KindInstability }
func (SafetyReason) Kind() Kind      { return KindSafety }

type reasonEnvelope struct {
	Schema  string          `json:"schema"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalReason encodes a reason with its schema version and kind tag
func MarshalReason(r Reason) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil reason")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s reason: %w", r.Kind(), err)
	}
	return json.Marshal(reasonEnvelope{Schema: ReasonSchemaVersion, Kind: r.Kind(), Payload: payload})
}

// UnmarshalReason decodes a tagged reason payload
func UnmarshalReason(data []byte) (Reason, error) {
	var env reasonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reason envelope: %w", err)
	}
	if env.Schema != ReasonSchemaVersion {
		return nil, fmt.Errorf("unsupported reason schema %q", env.Schema)
	}

	var r Reason
	var err error
	switch env.Kind {
	case KindChange:
		var v ChangeReason
		err = json.Unmarshal(env.Payload, &v)
		r = v
	case KindTrend:
		var v TrendReason
		err = json.Unmarshal(env.Payload, &v)
		r = v
	case KindInstability:
		var v InstabilityReason
		err = json.Unmarshal(env.Payload, &v)
		r = v
	case KindSafety:
		var v SafetyReason
		err = json.Unmarshal(env.Payload, &v)
		r = v
	default:
		return nil, fmt.Errorf("unknown reason kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s reason: %w", env.Kind, err)
	}
	return r, nil
}
