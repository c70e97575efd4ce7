package message_test

import (
	"testing"
	"time"

	"github.com/seuros/solid-mcp-go/message"
)

func TestNewSetsCreatedAtAndLeavesIDZero(t *testing.T) {
	before := time.Now().UTC()
	m := message.New("session-1", "tool_call", `{"foo":"bar"}`)
	after := time.Now().UTC()

	if m.ID != 0 {
		t.Errorf("ID = %d, want 0 before a store assigns one", m.ID)
	}
	if m.SessionID != "session-1" {
		t.Errorf("SessionID = %q, want %q", m.SessionID, "session-1")
	}
	if m.CreatedAt.Before(before) || m.CreatedAt.After(after) {
		t.Errorf("CreatedAt = %v, want between %v and %v", m.CreatedAt, before, after)
	}
	if m.IsDelivered() {
		t.Error("IsDelivered() = true for a freshly constructed message")
	}
}

func TestIsDelivered(t *testing.T) {
	m := message.New("session-1", "tool_call", "{}")
	if m.IsDelivered() {
		t.Fatal("IsDelivered() = true, want false before DeliveredAt is set")
	}

	now := time.Now().UTC()
	m.DeliveredAt = &now
	if !m.IsDelivered() {
		t.Fatal("IsDelivered() = false, want true once DeliveredAt is set")
	}
}
