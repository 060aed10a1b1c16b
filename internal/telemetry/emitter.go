// Package telemetry ships security events to external sinks and records service metrics.
package telemetry

import (
	"context"
	"errors"
	"time"
)

// SecurityEvent is the export shape of an audit event for SIEM and stream consumers.
type SecurityEvent struct {
	ID            string         `json:"id"`
	AccountID     string         `json:"account_id,omitempty"`
	Action        string         `json:"action"`
	Status        string         `json:"status"`
	Severity      string         `json:"severity"`
	ResourceType  string         `json:"resource_type,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	LocationClass string         `json:"location_class,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// EventEmitter emits security events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *SecurityEvent) error
}

// Multi fans one event out to every non-nil emitter and joins their errors.
type Multi []EventEmitter

// Emit sends event to each emitter in order.
func (m Multi) Emit(ctx context.Context, event *SecurityEvent) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
