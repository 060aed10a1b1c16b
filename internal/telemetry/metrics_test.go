package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func TestMetrics_CountsEventsAndFindings(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.AuditEvent(ctx, "TOKEN_CREATED", "SUCCESS")
	m.AuditEvent(ctx, "RAPID_ACTIONS_DETECTED", "WARNING")
	m.TokenOp(ctx, "refresh", "rotated")
	m.SessionsPurged(ctx, 4)
	m.SessionsPurged(ctx, 0)

	got := collect(t, reader)
	assert.Equal(t, int64(2), got["audit.events"])
	assert.Equal(t, int64(1), got["security.findings"])
	assert.Equal(t, int64(1), got["token.operations"])
	assert.Equal(t, int64(4), got["session.purged"])
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.AuditEvent(ctx, "LOGIN_SUCCESS", "SUCCESS")
	m.TokenOp(ctx, "issue", "ok")
	m.RefreshDuration(ctx, 1.5, "ok")
	m.SessionsPurged(ctx, 1)
}
