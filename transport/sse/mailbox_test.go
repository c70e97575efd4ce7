package sse

import (
	"testing"
	"time"

	"github.com/seuros/solid-mcp-go/message"
)

func TestMailboxDrainReturnsPushedMessages(t *testing.T) {
	m := newMailbox(8)
	m.push(message.New("s1", "a", "1"))
	m.push(message.New("s1", "b", "2"))

	wake := make(chan time.Time)
	stop := make(chan struct{})

	got, ok := m.drain(wake, stop)
	if !ok {
		t.Fatal("drain() ok = false, want true")
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

func TestMailboxDropsWhenFull(t *testing.T) {
	m := newMailbox(1)
	m.push(message.New("s1", "a", "1"))
	m.push(message.New("s1", "b", "2")) // dropped, mailbox already full

	wake := make(chan time.Time)
	stop := make(chan struct{})

	got, ok := m.drain(wake, stop)
	if !ok {
		t.Fatal("drain() ok = false, want true")
	}
	if len(got) != 1 || got[0].EventType != "a" {
		t.Fatalf("got = %+v, want just message a", got)
	}
}

func TestMailboxDrainWakesOnTimeout(t *testing.T) {
	m := newMailbox(8)

	wake := make(chan time.Time, 1)
	wake <- time.Now()
	stop := make(chan struct{})

	got, ok := m.drain(wake, stop)
	if !ok {
		t.Fatal("drain() ok = false, want true")
	}
	if got != nil {
		t.Fatalf("got = %v, want nil on a timeout wakeup", got)
	}
}

func TestMailboxDrainReturnsFalseOnClose(t *testing.T) {
	m := newMailbox(8)
	m.close()

	wake := make(chan time.Time)
	stop := make(chan struct{})

	_, ok := m.drain(wake, stop)
	if ok {
		t.Fatal("drain() ok = true after close, want false")
	}
}

func TestMailboxPushAfterCloseIsSilentlyIgnored(t *testing.T) {
	m := newMailbox(8)
	m.close()
	m.push(message.New("s1", "a", "1")) // must not panic on closed channel
}
