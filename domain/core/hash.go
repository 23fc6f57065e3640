package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// ComputeRunKey derives the idempotency key of an attribution run. Exposure
// order does not matter; everything else does.
func ComputeRunKey(user UserID, outcome MetricKey, exposures []ExposureKey, window Window, configVersion string) RunKey {
	keys := make([]string, 0, len(exposures))
	for _, e := range exposures {
		keys = append(keys, string(e))
	}
	sort.Strings(keys)

	var data strings.Builder
	data.WriteString(string(user))
	data.WriteString("|")
	data.WriteString(string(outcome))
	data.WriteString("|")
	data.WriteString(strings.Join(keys, ","))
	data.WriteString("|")
	data.WriteString(window.String())
	data.WriteString("|")
	data.WriteString(configVersion)

	return RunKey(NewHash([]byte(data.String())))
}
