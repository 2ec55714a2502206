package domain

import "time"

// EventType names a session lifecycle transition.
type EventType string

const (
	EventLogin     EventType = "session.login"
	EventRefresh   EventType = "session.refresh"
	EventLogout    EventType = "session.logout"
	EventDeleted   EventType = "session.deleted"
	EventClaimed   EventType = "manifest.claimed"
	EventConflict  EventType = "manifest.conflict"
	EventReleased  EventType = "manifest.released"
	EventTakenOver EventType = "manifest.taken_over"
	EventSwept     EventType = "session.swept"
)

// SessionEvent is the wire form of a session lifecycle event. It is published to Kafka as JSON,
// emitted as an OTel log record, and shipped to Loki by the worker.
type SessionEvent struct {
	EventType    EventType         `json:"eventType"`
	Source       string            `json:"source"`
	Username     string            `json:"username,omitempty"`
	SessionID    int64             `json:"sessionId,omitempty"`
	PowerUnit    string            `json:"powerUnit,omitempty"`
	ManifestDate string            `json:"manifestDate,omitempty"`
	ConflictType string            `json:"conflictType,omitempty"`
	Count        int64             `json:"count,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}
