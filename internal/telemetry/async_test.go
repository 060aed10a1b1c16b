package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*SecurityEvent
	emitErr error
	delay   time.Duration
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *SecurityEvent) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*SecurityEvent(nil), m.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, &SecurityEvent{Action: "TOKEN_REUSE_ATTACK"}, nil)
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, nil, nil)
	time.Sleep(10 * time.Millisecond)
	if n := len(emitter.getEvents()); n != 0 {
		t.Errorf("expected 0 events, got %d", n)
	}
}

func TestEmitAsync_EnrichesBeforeEmit(t *testing.T) {
	emitter := &mockEventEmitter{}
	event := &SecurityEvent{ID: "ev-1", Action: "TOKEN_REUSE_ATTACK", IPAddress: "10.0.0.1"}

	EmitAsync(emitter, event, func(_ context.Context, e *SecurityEvent) {
		e.LocationClass = "Internal"
	})

	waitFor(t, func() bool { return len(emitter.getEvents()) == 1 })
	got := emitter.getEvents()[0]
	if got.LocationClass != "Internal" {
		t.Errorf("LocationClass = %q, want Internal", got.LocationClass)
	}
	if got.ID != "ev-1" {
		t.Errorf("ID = %q, want ev-1", got.ID)
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: errors.New("sink down")}
	EmitAsync(emitter, &SecurityEvent{Action: "ACCOUNT_LOCKED"}, nil)
	waitFor(t, func() bool { return len(emitter.getEvents()) == 1 })
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := &mockEventEmitter{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(emitter, &SecurityEvent{Action: "API_REQUEST"}, nil)
		}()
	}
	wg.Wait()
	waitFor(t, func() bool { return len(emitter.getEvents()) == 10 })
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &mockEventEmitter{}
	bad := &mockEventEmitter{emitErr: errors.New("kafka unavailable")}
	m := Multi{ok, nil, bad}

	err := m.Emit(context.Background(), &SecurityEvent{Action: "TOKEN_ROTATED"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(ok.getEvents()) != 1 || len(bad.getEvents()) != 1 {
		t.Error("both emitters should receive the event")
	}
}
