// Package message defines the sole persisted entity that flows through
// solid-mcp-go's pub/sub engine.
package message

import "time"

// Message is an immutable record of one event published to a session.
//
// ID is assigned by the store on insert and is strictly increasing in
// insert order within a single store; the engine never compares IDs across
// sessions semantically, only within a session. SessionID is an opaque
// caller-supplied identifier, never interpreted by the core. EventType is a
// short tag (e.g. "message", "ping") the core does not interpret either.
type Message struct {
	ID          int64
	SessionID   string
	EventType   string
	Data        string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// New constructs a Message ready for publish. ID is left zero; the store
// assigns it on insert.
func New(sessionID, eventType, data string) Message {
	return Message{
		SessionID: sessionID,
		EventType: eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// IsDelivered reports whether the message has already been acknowledged via
// mark_delivered.
func (m Message) IsDelivered() bool {
	return m.DeliveredAt != nil
}
