package safety

import (
	"healthloop/domain/core"
	"healthloop/domain/finding"
)

// Op is a threshold comparison
type Op string

const (
	Below Op = "lt"
	Above Op = "gt"
)

// Condition is one metric threshold test
type Condition struct {
	Metric    core.MetricKey `yaml:"metric"`
	Op        Op             `yaml:"op"`
	Threshold float64        `yaml:"threshold"`
}

func (c Condition) holds(v float64) bool {
	switch c.Op {
	case Below:
		return v < c.Threshold
	case Above:
		return v > c.Threshold
	default:
		return false
	}
}

// Rule is one red flag. Exactly one of the shapes is used:
//   - Conditions only: every condition holds on the day (single threshold or
//     combination)
//   - Conditions with PersistDays: the single condition holds on each of the
//     last PersistDays days
//   - Symptoms: any listed tag was reported, optionally with Conditions
type Rule struct {
	ID          string
	Conditions  []Condition
	PersistDays int
	Symptoms    []string
	Severity    finding.Severity
	Action      finding.Action
	Message     string
}

// DefaultRules is the production red-flag table. Sleep is in hours.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:         "sleep_very_low",
			Conditions: []Condition{{Metric: "sleep_duration", Op: Below, Threshold: 4}},
			Severity:   finding.SeverityHigh,
			Action:     finding.ActionContactDoctor,
			Message:    "Very low sleep duration detected (under 4 hours). If this is persistent or severe, consider medical advice.",
		},
		{
			ID:          "sleep_persistently_low",
			Conditions:  []Condition{{Metric: "sleep_duration", Op: Below, Threshold: 5}},
			PersistDays: 3,
			Severity:    finding.SeverityHigh,
			Action:      finding.ActionContactDoctor,
			Message:     "Sleep has been under 5 hours for three nights in a row. Consider talking to a clinician.",
		},
		{
			ID:         "resting_hr_high",
			Conditions: []Condition{{Metric: "resting_hr", Op: Above, Threshold: 110}},
			Severity:   finding.SeverityUrgent,
			Action:     finding.ActionSeekCareNow,
			Message:    "High resting heart rate detected (>110 bpm). If you feel unwell (chest pain, fainting, shortness of breath), seek urgent care.",
		},
		{
			ID:         "hrv_very_low",
			Conditions: []Condition{{Metric: "hrv_rmssd", Op: Below, Threshold: 15}},
			Severity:   finding.SeverityMedium,
			Action:     finding.ActionMonitor,
			Message:    "Very low HRV detected. If combined with severe symptoms or illness, consider medical advice.",
		},
		{
			ID: "elevated_hr_with_low_hrv",
			Conditions: []Condition{
				{Metric: "resting_hr", Op: Above, Threshold: 100},
				{Metric: "hrv_rmssd", Op: Below, Threshold: 20},
			},
			Severity: finding.SeverityHigh,
			Action:   finding.ActionContactDoctor,
			Message:  "Elevated resting heart rate together with very low HRV can indicate illness or overtraining. Consider medical advice.",
		},
		{
			ID:         "glucose_very_high",
			Conditions: []Condition{{Metric: "glucose_mgdl", Op: Above, Threshold: 300}},
			Severity:   finding.SeverityUrgent,
			Action:     finding.ActionSeekCareNow,
			Message:    "Very high glucose detected. This can be dangerous. Seek medical care urgently, especially if symptomatic.",
		},
		{
			ID:         "vitd_very_low",
			Conditions: []Condition{{Metric: "vitamin_d_25oh", Op: Below, Threshold: 10}},
			Severity:   finding.SeverityMedium,
			Action:     finding.ActionContactDoctor,
			Message:    "Very low vitamin D detected. Consider discussing supplementation and causes with a clinician.",
		},
		{
			ID:       "severe_mood_crisis",
			Symptoms: []string{"suicidal_ideation", "self_harm_thoughts"},
			Severity: finding.SeverityUrgent,
			Action:   finding.ActionSeekCareNow,
			Message:  "If you are in immediate danger or thinking about self-harm, seek urgent help now. Contact emergency services or a local crisis line.",
		},
		{
			ID:         "chest_pain_with_high_hr",
			Symptoms:   []string{"chest_pain"},
			Conditions: []Condition{{Metric: "resting_hr", Op: Above, Threshold: 100}},
			Severity:   finding.SeverityUrgent,
			Action:     finding.ActionSeekCareNow,
			Message:    "Chest pain with an elevated heart rate needs urgent attention. Seek care now.",
		},
		{
			ID:       "fainting",
			Symptoms: []string{"fainting"},
			Severity: finding.SeverityHigh,
			Action:   finding.ActionContactDoctor,
			Message:  "Fainting was reported. Contact a doctor, and seek urgent care if it happens again.",
		},
	}
}
