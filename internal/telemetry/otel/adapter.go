package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"warehouse-service/backend/internal/telemetry"
	"warehouse-service/backend/internal/telemetry/domain"
)

// recordEmitter is the subset of otellog.Logger used by the adapter.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger("warehouse.sessions"))
}

// NewEventEmitterWithLogger returns an EventEmitter over any record emitter. Used by tests.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.SessionEvent) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the session event to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.SessionEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetEventName(string(event.EventType))
	if len(event.Attributes) > 0 {
		if body, err := json.Marshal(event.Attributes); err == nil {
			rec.SetBody(otellog.BytesValue(body))
		}
	}
	rec.AddAttributes(otellog.String("event_type", string(event.EventType)))
	if event.Source != "" {
		rec.AddAttributes(otellog.String("source", event.Source))
	}
	if event.Username != "" {
		rec.AddAttributes(otellog.String("username", event.Username))
	}
	if event.SessionID != 0 {
		rec.AddAttributes(otellog.Int64("session_id", event.SessionID))
	}
	if event.PowerUnit != "" {
		rec.AddAttributes(otellog.String("powerunit", event.PowerUnit))
	}
	if event.ManifestDate != "" {
		rec.AddAttributes(otellog.String("manifest_date", event.ManifestDate))
	}
	if event.ConflictType != "" {
		rec.AddAttributes(otellog.String("conflict_type", event.ConflictType))
	}
	if event.Count != 0 {
		rec.AddAttributes(otellog.Int64("count", event.Count))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
