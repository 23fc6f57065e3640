package finding

import (
	"encoding/json"

	"healthloop/domain/core"
	"healthloop/domain/evidence"
)

// Kind is the detector family that produced a finding
type Kind string

const (
	KindSafety      Kind = "safety"
	KindChange      Kind = "change"
	KindTrend       Kind = "trend"
	KindInstability Kind = "instability"
)

// Priority orders kinds for selection, higher wins
func (k Kind) Priority() int {
	switch k {
	case KindSafety:
		return 4
	case KindChange:
		return 3
	case KindTrend:
		return 2
	case KindInstability:
		return 1
	default:
		return 0
	}
}

// Direction of the detected movement
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionNone     Direction = "none"
)

// DirectionOf maps a signed value to a direction
func DirectionOf(v float64) Direction {
	switch {
	case v > 0:
		return DirectionIncrease
	case v < 0:
		return DirectionDecrease
	default:
		return DirectionNone
	}
}

// Finding is a single graded observation about one metric on one day.
// Magnitude is the size of what fired: |z| for a change, |slope| per day for
// a trend, the variance ratio for instability and the severity rank of the
// primary rule for safety. Window is the span of days the detector read.
type Finding struct {
	ID            core.FindingID `json:"id"`
	UserID        core.UserID    `json:"user_id"`
	MetricKey     core.MetricKey `json:"metric_key"`
	Day           core.Day       `json:"day"`
	Kind          Kind           `json:"kind"`
	Direction     Direction      `json:"direction"`
	RawConfidence float64        `json:"raw_confidence"`
	SampleSize    int            `json:"sample_size"`
	Coverage      float64        `json:"coverage"`
	Magnitude     float64        `json:"magnitude"`
	Window        core.Window    `json:"window"`
	Grade         evidence.Grade `json:"grade,omitempty"`
	Reason        Reason         `json:"-"`
	CreatedAt     core.Timestamp `json:"created_at"`
}

// EvidenceInputs implements evidence.Graded
func (f Finding) EvidenceInputs() (float64, int, float64) {
	return f.RawConfidence, f.SampleSize, f.Coverage
}

// MarshalJSON embeds the tagged reason
func (f Finding) MarshalJSON() ([]byte, error) {
	type alias Finding
	var reason json.RawMessage
	if f.Reason != nil {
		b, err := MarshalReason(f.Reason)
		if err != nil {
			return nil, err
		}
		reason = b
	}
	return json.Marshal(struct {
		alias
		Reason json.RawMessage `json:"reason,omitempty"`
	}{alias(f), reason})
}

func (f *Finding) UnmarshalJSON(data []byte) error {
	type alias Finding
	var raw struct {
		alias
		Reason json.RawMessage `json:"reason,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Finding(raw.alias)
	if len(raw.Reason) > 0 && string(raw.Reason) != "null" {
		r, err := UnmarshalReason(raw.Reason)
		if err != nil {
			return err
		}
		f.Reason = r
	}
	return nil
}

// State distinguishes the possible results of a detector pass
type State string

const (
	// StateFound means a finding was emitted
	StateFound State = "found"
	// StateQuiet means the detectors ran and nothing fired
	StateQuiet State = "quiet"
	// StateUndetermined means the detectors could not run
	StateUndetermined State = "undetermined"
	// StateSuppressed means the safety gate fired and normal findings were withheld
	StateSuppressed State = "suppressed"
)

// Outcome is what a detector pass returns for one (user, metric, day)
type Outcome struct {
	State   State    `json:"state"`
	Finding *Finding `json:"finding,omitempty"`
	Why     string   `json:"why,omitempty"`
}

func Found(f *Finding) Outcome { return Outcome{State: StateFound, Finding: f} }
func Quiet() Outcome           { return Outcome{State: StateQuiet} }

func Undetermined(why string) Outcome {
	return Outcome{State: StateUndetermined, Why: why}
}

// Suppressed carries the safety finding that replaced the normal detectors
func Suppressed(safety *Finding) Outcome {
	return Outcome{State: StateSuppressed, Finding: safety, Why: "safety_gate"}
}

// AuditRecord is written with every detector pass
type AuditRecord struct {
	UserID        core.UserID        `json:"user_id"`
	MetricKey     core.MetricKey     `json:"metric_key"`
	Day           core.Day           `json:"day"`
	State         State              `json:"state"`
	FindingID     core.FindingID     `json:"finding_id,omitempty"`
	DetectorsRun  []Kind             `json:"detectors_run"`
	Thresholds    map[string]float64 `json:"thresholds"`
	SafetyRules   []string           `json:"safety_rules,omitempty"`
	BaselineState string             `json:"baseline_state"`
	CreatedAt     core.Timestamp     `json:"created_at"`
}
