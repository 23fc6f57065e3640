package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthloop/domain/core"
	"healthloop/domain/finding"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (r *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msgs...)
	return nil
}

func (r *recordingWriter) Close() error {
	r.closed = true
	return nil
}

func TestWriteAudit(t *testing.T) {
	rw := &recordingWriter{}
	w := &AuditWriter{writer: rw, timeout: time.Second}

	rec := finding.AuditRecord{
		UserID:       "u1",
		MetricKey:    "sleep_duration",
		Day:          core.NewDay(2025, time.January, 14),
		State:        finding.StateSuppressed,
		SafetyRules:  []string{"sleep_very_low"},
		DetectorsRun: []finding.Kind{},
	}
	require.NoError(t, w.WriteAudit(context.Background(), rec))
	require.Len(t, rw.msgs, 1)

	msg := rw.msgs[0]
	assert.Equal(t, "u1", string(msg.Key))
	assert.Contains(t, msg.Headers, kafka.Header{Key: "state", Value: []byte("suppressed")})

	var env envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, SchemaVersion, env.Schema)
	assert.Equal(t, rec.Day, env.Record.Day)
	assert.Equal(t, []string{"sleep_very_low"}, env.Record.SafetyRules)

	require.NoError(t, w.Close())
	assert.True(t, rw.closed)
}

func TestWriteAuditError(t *testing.T) {
	w := &AuditWriter{writer: &recordingWriter{err: errors.New("leader not available")}, timeout: time.Second}
	err := w.WriteAudit(context.Background(), finding.AuditRecord{UserID: "u1"})
	assert.ErrorContains(t, err, "leader not available")
}
