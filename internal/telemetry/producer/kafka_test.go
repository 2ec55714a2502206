package producer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"warehouse-service/backend/internal/telemetry/domain"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   int
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed++
	return nil
}

func TestNewKafkaProducer_DisabledWithoutBrokers(t *testing.T) {
	if p := NewKafkaProducer(nil, "topic", nil); p != nil {
		t.Error("no brokers should disable the producer")
	}
	if p := NewKafkaProducer([]string{"localhost:9092"}, "", nil); p != nil {
		t.Error("empty topic should disable the producer")
	}
	var p *KafkaProducer
	if err := p.Emit(context.Background(), &domain.SessionEvent{}); err != nil {
		t.Errorf("nil producer Emit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil producer Close: %v", err)
	}
}

func TestKafkaProducer_Emit(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaProducer(w, "warehouse-session-events", nil)
	event := &domain.SessionEvent{
		EventType:    domain.EventClaimed,
		Source:       "coordinator",
		Username:     "driver1",
		SessionID:    12,
		PowerUnit:    "PU1",
		ManifestDate: "10152026",
		CreatedAt:    time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC),
	}
	if err := p.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(w.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != "12" {
		t.Errorf("key = %q, want %q", msg.Key, "12")
	}
	var got domain.SessionEvent
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.EventType != domain.EventClaimed || got.PowerUnit != "PU1" || !got.CreatedAt.Equal(event.CreatedAt) {
		t.Errorf("payload = %+v", got)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(domain.EventClaimed) {
		t.Errorf("headers = %+v", msg.Headers)
	}
}

func TestKafkaProducer_EmitError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := newKafkaProducer(w, "topic", nil)
	if err := p.Emit(context.Background(), &domain.SessionEvent{EventType: domain.EventLogin}); err == nil {
		t.Fatal("Emit should return the writer error")
	}
	if err := p.Emit(context.Background(), nil); err != nil {
		t.Errorf("nil event: %v", err)
	}
	if err := p.Close(); err != nil || w.closed != 1 {
		t.Errorf("Close err=%v closed=%d", err, w.closed)
	}
}
