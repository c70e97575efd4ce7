package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seuros/solid-mcp-go/message"
	"github.com/seuros/solid-mcp-go/store"
	"github.com/seuros/solid-mcp-go/store/sqlite"
)

func open(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestInsertBatchAssignsAscendingIDs(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	msgs := []message.Message{
		message.New("session-1", "a", "1"),
		message.New("session-1", "b", "2"),
	}
	if err := st.InsertBatch(ctx, msgs); err != nil {
		t.Fatalf("InsertBatch() error: %v", err)
	}
	if msgs[0].ID == 0 || msgs[1].ID <= msgs[0].ID {
		t.Fatalf("IDs not ascending: %d, %d", msgs[0].ID, msgs[1].ID)
	}
}

func TestFetchAfterFiltersBySessionAndCursor(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	msgs := []message.Message{
		message.New("session-1", "a", "1"),
		message.New("session-1", "b", "2"),
		message.New("session-2", "c", "3"),
	}
	if err := st.InsertBatch(ctx, msgs); err != nil {
		t.Fatalf("InsertBatch() error: %v", err)
	}

	got, err := st.FetchAfter(ctx, "session-1", msgs[0].ID, 10)
	if err != nil {
		t.Fatalf("FetchAfter() error: %v", err)
	}
	if len(got) != 1 || got[0].EventType != "b" {
		t.Fatalf("got = %+v, want just message b", got)
	}
}

func TestMarkDeliveredIsIdempotent(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	msgs := []message.Message{message.New("session-1", "a", "1")}
	if err := st.InsertBatch(ctx, msgs); err != nil {
		t.Fatalf("InsertBatch() error: %v", err)
	}

	if err := st.MarkDelivered(ctx, []int64{msgs[0].ID}); err != nil {
		t.Fatalf("first MarkDelivered() error: %v", err)
	}
	if err := st.MarkDelivered(ctx, []int64{msgs[0].ID}); err != nil {
		t.Fatalf("second MarkDelivered() error: %v", err)
	}

	got, err := st.FetchAfter(ctx, "session-1", 0, 10)
	if err != nil {
		t.Fatalf("FetchAfter() error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("FetchAfter() returned %d delivered messages, want 0", len(got))
	}
}

func TestCleanupDeliveredRemovesOnlyOldDeliveredRows(t *testing.T) {
	st := open(t)
	ctx := context.Background()

	msgs := []message.Message{message.New("session-1", "a", "1")}
	if err := st.InsertBatch(ctx, msgs); err != nil {
		t.Fatalf("InsertBatch() error: %v", err)
	}
	if err := st.MarkDelivered(ctx, []int64{msgs[0].ID}); err != nil {
		t.Fatalf("MarkDelivered() error: %v", err)
	}

	removed, err := st.CleanupDelivered(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupDelivered() error: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0 (row is fresh)", removed)
	}

	removed, err = st.CleanupDelivered(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("CleanupDelivered() error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1 (cutoff in the future)", removed)
	}
}

func TestMaxIDOnEmptyStoreIsZero(t *testing.T) {
	st := open(t)
	id, err := st.MaxID(context.Background())
	if err != nil {
		t.Fatalf("MaxID() error: %v", err)
	}
	if id != 0 {
		t.Fatalf("MaxID() = %d, want 0", id)
	}
}

func TestListenReturnsErrPushUnsupported(t *testing.T) {
	st := open(t)
	if st.SupportsPush() {
		t.Fatal("SupportsPush() = true, want false for the embedded backend")
	}
	if _, err := st.Listen(context.Background(), "session-1"); !errors.Is(err, store.ErrPushUnsupported) {
		t.Fatalf("Listen() error = %v, want store.ErrPushUnsupported", err)
	}
}
