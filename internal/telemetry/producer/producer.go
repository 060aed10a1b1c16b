// Package producer streams security events to a message broker (Kafka).
package producer

import (
	"context"

	"cotai-security/backend/internal/telemetry"
)

// Producer emits security events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	telemetry.EventEmitter
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}

var _ Producer = (*KafkaProducer)(nil)

// messageWriter is the subset of *kafka.Writer used by KafkaProducer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkaMessage) error
	Close() error
}
