package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"cotai-security/backend/internal/telemetry"
)

const loggerName = "cotai.security.siem"

// recordEmitter is the subset of otellog.Logger used by the SIEM emitter.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends security events as OTel log records via provider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(loggerName)}
}

// NewEventEmitterWithLogger wraps an existing record emitter (an otellog.Logger in production).
func NewEventEmitterWithLogger(l recordEmitter) telemetry.EventEmitter {
	if l == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: l}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.SecurityEvent) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the security event to an OTel log record. The severity maps onto OTel severity numbers.
func (e *otelEmitter) Emit(ctx context.Context, event *telemetry.SecurityEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(severityNumber(event.Severity))
	rec.SetSeverityText(event.Severity)
	rec.SetEventName(event.Action)

	if len(event.Details) > 0 {
		body, err := json.Marshal(event.Details)
		if err != nil {
			return err
		}
		rec.SetBody(otellog.BytesValue(body))
	}
	rec.AddAttributes(
		otellog.String("event.id", event.ID),
		otellog.String("event.action", event.Action),
		otellog.String("event.status", event.Status),
	)
	optional := []struct{ key, val string }{
		{"account.id", event.AccountID},
		{"resource.type", event.ResourceType},
		{"client.address", event.IPAddress},
		{"client.location_class", event.LocationClass},
		{"user_agent.original", event.UserAgent},
	}
	for _, kv := range optional {
		if kv.val != "" {
			rec.AddAttributes(otellog.String(kv.key, kv.val))
		}
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func severityNumber(s string) otellog.Severity {
	switch s {
	case "CRITICAL":
		return otellog.SeverityFatal
	case "HIGH":
		return otellog.SeverityError
	case "MEDIUM":
		return otellog.SeverityWarn2
	case "WARNING":
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}
