package core

import (
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique IDs, got %d", numIDs, len(ids))
	}
}

func TestParseMetricKey(t *testing.T) {
	tests := []struct {
		input    string
		expected MetricKey
		hasError bool
	}{
		{"sleep_duration", MetricKey("sleep_duration"), false},
		{"", "", true},
		{"   ", "", true},
	}

	for _, tt := range tests {
		result, err := ParseMetricKey(tt.input)
		if tt.hasError {
			if err == nil {
				t.Errorf("ParseMetricKey(%q) expected error, got nil", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMetricKey(%q) unexpected error: %v", tt.input, err)
		}
		if result != tt.expected {
			t.Errorf("ParseMetricKey(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestComputeRunKey_OrderIndependent(t *testing.T) {
	w := TrailingWindow(NewDay(2026, 3, 28), 28)
	a := ComputeRunKey("u1", "sleep_duration", []ExposureKey{"magnesium", "caffeine"}, w, "v1")
	b := ComputeRunKey("u1", "sleep_duration", []ExposureKey{"caffeine", "magnesium"}, w, "v1")
	if a != b {
		t.Errorf("run key depends on exposure order: %s vs %s", a, b)
	}

	c := ComputeRunKey("u1", "sleep_duration", []ExposureKey{"caffeine", "magnesium"}, TrailingWindow(NewDay(2026, 3, 29), 28), "v1")
	if a == c {
		t.Error("run key should change with the window")
	}
}
