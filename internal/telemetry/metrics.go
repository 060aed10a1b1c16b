package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "cotai-security"

// Metrics holds the service's OTel instruments. The zero value is not usable; use NewMetrics.
type Metrics struct {
	auditEvents  metric.Int64Counter
	findings     metric.Int64Counter
	tokenOps     metric.Int64Counter
	purged       metric.Int64Counter
	refreshTimer metric.Float64Histogram
}

// NewMetrics creates instruments on mp, or on the global MeterProvider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	var (
		m   Metrics
		err error
	)
	if m.auditEvents, err = meter.Int64Counter("audit.events",
		metric.WithDescription("Audit events recorded, by action and status")); err != nil {
		return nil, err
	}
	if m.findings, err = meter.Int64Counter("security.findings",
		metric.WithDescription("Anomaly detector findings, by action")); err != nil {
		return nil, err
	}
	if m.tokenOps, err = meter.Int64Counter("token.operations",
		metric.WithDescription("Token lifecycle operations, by operation and outcome")); err != nil {
		return nil, err
	}
	if m.purged, err = meter.Int64Counter("session.purged",
		metric.WithDescription("Expired sessions removed by cleanup")); err != nil {
		return nil, err
	}
	if m.refreshTimer, err = meter.Float64Histogram("token.refresh.duration",
		metric.WithDescription("Refresh latency"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &m, nil
}

// AuditEvent counts one recorded audit event. Safe on a nil receiver.
func (m *Metrics) AuditEvent(ctx context.Context, action, status string) {
	if m == nil {
		return
	}
	m.auditEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action), attribute.String("status", status)))
	if isFinding(action) {
		m.findings.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	}
}

// TokenOp counts one token operation outcome. Safe on a nil receiver.
func (m *Metrics) TokenOp(ctx context.Context, op, outcome string) {
	if m == nil {
		return
	}
	m.tokenOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op), attribute.String("outcome", outcome)))
}

// RefreshDuration records the latency of one refresh call. Safe on a nil receiver.
func (m *Metrics) RefreshDuration(ctx context.Context, ms float64, outcome string) {
	if m == nil {
		return
	}
	m.refreshTimer.Record(ctx, ms, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// SessionsPurged counts sessions removed by cleanup. Safe on a nil receiver.
func (m *Metrics) SessionsPurged(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.Add(ctx, n)
}

func isFinding(action string) bool {
	switch action {
	case "BRUTE_FORCE_DETECTED_EMAIL", "BRUTE_FORCE_DETECTED_IP", "RAPID_ACTIONS_DETECTED",
		"GEOGRAPHIC_ANOMALY_DETECTED", "PRIVILEGE_ESCALATION_ATTEMPT", "SUSPICIOUS_USER_AGENT":
		return true
	}
	return false
}
