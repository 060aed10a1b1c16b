package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the servers stop before shutting down OTel providers,
// so in-flight async emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// Enricher adds data to an event before it is emitted, e.g. a geolocation lookup.
type Enricher func(ctx context.Context, event *SecurityEvent)

// EmitAsync runs enrich and Emit in a goroutine with a short timeout so the caller is not blocked.
// Use from request paths for fire-and-forget export; errors are logged.
//
// emitter and event may be nil; EmitAsync then returns immediately without starting a goroutine.
// The goroutine uses context.Background() so request cancellation does not abort in-flight emits.
func EmitAsync(emitter EventEmitter, event *SecurityEvent, enrich Enricher) {
	if emitter == nil || event == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if enrich != nil {
			enrich(emitCtx, event)
		}
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Warn().Err(err).Str("action", event.Action).Msg("telemetry: async emit failed")
		}
	}()
}
