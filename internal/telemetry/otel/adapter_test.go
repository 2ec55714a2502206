package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"warehouse-service/backend/internal/telemetry/domain"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), &domain.SessionEvent{EventType: domain.EventLogin}); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestEmit_NilEvent_ReturnsNil(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
	n   int
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
	r.n++
}

func attrs(rec otellog.Record) map[string]otellog.Value {
	out := make(map[string]otellog.Value)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value
		return true
	})
	return out
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	created := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	event := &domain.SessionEvent{
		EventType:    domain.EventConflict,
		Source:       "coordinator",
		Username:     "driver1",
		SessionID:    5,
		PowerUnit:    "PU1",
		ManifestDate: "10152026",
		ConflictType: "same_user",
		Attributes:   map[string]string{"holder_session_id": "3"},
		CreatedAt:    created,
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := cap.rec
	if !rec.Timestamp().Equal(created) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), created)
	}
	if got := string(rec.Body().AsBytes()); got != `{"holder_session_id":"3"}` {
		t.Errorf("body = %q", got)
	}
	a := attrs(rec)
	wantStr := map[string]string{
		"event_type": "manifest.conflict", "source": "coordinator", "username": "driver1",
		"powerunit": "PU1", "manifest_date": "10152026", "conflict_type": "same_user",
	}
	for k, v := range wantStr {
		if a[k].AsString() != v {
			t.Errorf("attr %q = %q, want %q", k, a[k].AsString(), v)
		}
	}
	if a["session_id"].AsInt64() != 5 {
		t.Errorf("session_id = %d, want 5", a["session_id"].AsInt64())
	}
}

func TestEmit_SparseEvent(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	before := time.Now().Add(-time.Second)
	if err := em.Emit(context.Background(), &domain.SessionEvent{EventType: domain.EventSwept, Count: 4}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := cap.rec
	if !rec.Body().Empty() {
		t.Error("body should be empty without attributes")
	}
	if rec.Timestamp().Before(before) {
		t.Error("zero CreatedAt should be replaced with the current time")
	}
	a := attrs(rec)
	if _, ok := a["username"]; ok {
		t.Error("empty username should not be recorded")
	}
	if a["count"].AsInt64() != 4 {
		t.Errorf("count = %d, want 4", a["count"].AsInt64())
	}
}
