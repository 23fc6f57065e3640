package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"healthloop/domain/finding"
	"healthloop/ports"
)

// SchemaVersion tags every published audit message
const SchemaVersion = "audit-v1"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// envelope is the published message body
type envelope struct {
	Schema string              `json:"schema"`
	Record finding.AuditRecord `json:"record"`
}

// AuditWriter publishes detector-pass audit records keyed by user, so one
// user's records stay ordered within a partition
type AuditWriter struct {
	writer  messageWriter
	timeout time.Duration
}

// NewAuditWriter builds a writer for topic on brokers
func NewAuditWriter(brokers []string, topic string) *AuditWriter {
	return &AuditWriter{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: false,
			Balancer:               &kafka.Hash{},
		},
		timeout: 5 * time.Second,
	}
}

func (w *AuditWriter) WriteAudit(ctx context.Context, rec finding.AuditRecord) error {
	value, err := json.Marshal(envelope{Schema: SchemaVersion, Record: rec})
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(rec.UserID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "metric", Value: []byte(rec.MetricKey.String())},
			{Key: "state", Value: []byte(rec.State)},
		},
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish audit record: %w", err)
	}
	return nil
}

func (w *AuditWriter) Close() error {
	return w.writer.Close()
}

var _ ports.AuditWriter = (*AuditWriter)(nil)
