// Package producer defines the interface for publishing session events (e.g. to Kafka).
package producer

import (
	"context"

	"warehouse-service/backend/internal/telemetry/domain"
)

// Producer publishes session events. Callers use it best-effort: log and ignore errors.
// It satisfies telemetry.EventEmitter so it can be combined with other emitters.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, event *domain.SessionEvent) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
