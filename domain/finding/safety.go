package finding

import "healthloop/domain/core"

// Severity of a red-flag rule
type Severity string

const (
	SeverityUrgent Severity = "urgent"
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Rank orders severities, higher is more severe
func (s Severity) Rank() int {
	switch s {
	case SeverityUrgent:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Action recommended to the user
type Action string

const (
	ActionSeekCareNow   Action = "seek_care_now"
	ActionContactDoctor Action = "contact_doctor"
	ActionMonitor       Action = "monitor"
)

// RuleHit records one fired red-flag rule
type RuleHit struct {
	RuleID   string             `json:"rule_id"`
	Severity Severity           `json:"severity"`
	Action   Action             `json:"action"`
	Message  string             `json:"message"`
	Metrics  []core.MetricKey   `json:"metrics,omitempty"`
	Values   map[string]float64 `json:"values,omitempty"`
}
