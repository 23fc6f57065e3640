package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	UserID       ID
	MetricKey    ID
	ExposureKey  ID
	FindingID    ID
	ExperimentID ID
	EvaluationID ID
	DecisionID   ID
	RunKey       ID
)

// String conversions for domain IDs
func (id UserID) String() string       { return ID(id).String() }
func (id MetricKey) String() string    { return ID(id).String() }
func (id ExposureKey) String() string  { return ID(id).String() }
func (id FindingID) String() string    { return ID(id).String() }
func (id ExperimentID) String() string { return ID(id).String() }
func (id EvaluationID) String() string { return ID(id).String() }
func (id DecisionID) String() string   { return ID(id).String() }
func (id RunKey) String() string       { return ID(id).String() }

// ParseUserID parses a string into UserID
func ParseUserID(s string) (UserID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("user ID cannot be empty")
	}
	return UserID(s), nil
}

// ParseMetricKey parses a string into MetricKey
func ParseMetricKey(s string) (MetricKey, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("metric key cannot be empty")
	}
	return MetricKey(s), nil
}

// ParseExposureKey parses a string into ExposureKey
func ParseExposureKey(s string) (ExposureKey, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("exposure key cannot be empty")
	}
	return ExposureKey(s), nil
}

// ParseExperimentID parses a string into ExperimentID
func ParseExperimentID(s string) (ExperimentID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("experiment ID cannot be empty")
	}
	return ExperimentID(s), nil
}

// ParseEvaluationID parses a string into EvaluationID
func ParseEvaluationID(s string) (EvaluationID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("evaluation ID cannot be empty")
	}
	return EvaluationID(s), nil
}
