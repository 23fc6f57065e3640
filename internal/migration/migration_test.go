package migration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepsAreOrdered(t *testing.T) {
	r := NewRunner()
	assert.Equal(t, "005", r.Version())
	for i := 1; i < len(r.steps); i++ {
		assert.Less(t, r.steps[i-1].version, r.steps[i].version)
	}
}

func TestEveryRepositoryTableIsCreated(t *testing.T) {
	var all strings.Builder
	for _, s := range schema {
		all.WriteString(s.sql)
	}
	for _, table := range []string{
		"metric_points", "exposure_logs", "symptom_reports", "user_consents",
		"baselines", "findings", "finding_audits", "driver_candidates",
		"experiments", "evaluations", "loop_decisions",
	} {
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table+" ", table)
	}
}

func TestChecksumIsStable(t *testing.T) {
	assert.Equal(t, checksum("SELECT 1"), checksum("SELECT 1"))
	assert.NotEqual(t, checksum("SELECT 1"), checksum("SELECT 2"))
	assert.Len(t, checksum(""), 64)
}

func TestFindingsAreUniquePerMetricDay(t *testing.T) {
	last := schema[len(schema)-1].sql
	assert.Contains(t, last, "UNIQUE INDEX IF NOT EXISTS uq_findings_user_metric_day ON findings(user_id, metric_key, day)")
	assert.Contains(t, last, "ON DELETE SET NULL")
}
