package telemetry

import (
	"context"
	"errors"

	"warehouse-service/backend/internal/telemetry/domain"
)

// EventEmitter emits session events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.SessionEvent) error
}

// MultiEmitter fans an event out to every configured emitter. Nil entries are skipped.
type MultiEmitter []EventEmitter

// NewMultiEmitter returns an emitter over the non-nil emitters, or nil if there are none.
func NewMultiEmitter(emitters ...EventEmitter) EventEmitter {
	var out MultiEmitter
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Emit sends the event to every emitter and joins their errors.
func (m MultiEmitter) Emit(ctx context.Context, event *domain.SessionEvent) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
