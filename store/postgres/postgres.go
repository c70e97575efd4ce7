// Package postgres implements the networked store.Store backend on top of
// pgx/v5, using LISTEN/NOTIFY for real-time wakeups so subscribers never
// need to poll.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seuros/solid-mcp-go/mcperr"
	"github.com/seuros/solid-mcp-go/message"
	"github.com/seuros/solid-mcp-go/store"
)

// bulkInsertThreshold is the batch size at or above which InsertBatch
// switches from multi-row VALUES to a COPY-based bulk path.
const bulkInsertThreshold = 100

// Store is the networked PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
	dsn  string
}

var _ store.Store = (*Store)(nil)

// New connects to dsn with a small bounded pool and runs the lazy
// migration described in spec §4.1 (schema + notify trigger) before
// returning.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, mcperr.WrapStore("parse_config", err)
	}
	cfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, mcperr.WrapStore("connect", err)
	}

	s := &Store{pool: pool, dsn: dsn}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS solid_mcp_messages (
			id BIGSERIAL PRIMARY KEY,
			session_id VARCHAR(36) NOT NULL,
			event_type VARCHAR(50) NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			delivered_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_solid_mcp_messages_session_id
			ON solid_mcp_messages(session_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_solid_mcp_messages_delivered
			ON solid_mcp_messages(delivered_at, created_at)`,
		`CREATE OR REPLACE FUNCTION solid_mcp_notify()
			RETURNS TRIGGER AS $$
			BEGIN
				PERFORM pg_notify('solid_mcp_' || NEW.session_id, NEW.id::text);
				RETURN NEW;
			END;
			$$ LANGUAGE plpgsql`,
		`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_trigger WHERE tgname = 'solid_mcp_insert_trigger'
				) THEN
					CREATE TRIGGER solid_mcp_insert_trigger
					AFTER INSERT ON solid_mcp_messages
					FOR EACH ROW
					EXECUTE FUNCTION solid_mcp_notify();
				END IF;
			END $$`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return mcperr.WrapStore("migrate", err)
		}
	}
	return nil
}

func (s *Store) SupportsPush() bool { return true }

// Listen opens a dedicated connection (outside the pool, per spec §5's
// "separate from the pool" requirement) and issues LISTEN on the session's
// derived channel name.
func (s *Store) Listen(ctx context.Context, sessionID string) (store.Listener, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, mcperr.WrapStore("listen connect", err)
	}

	channel := store.NotifyPrefix + "_" + sessionID
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Close(ctx)
		return nil, mcperr.WrapStore("listen", err)
	}

	l := &listener{conn: conn, notifications: make(chan int64, 64), done: make(chan struct{})}
	go l.run(ctx)
	return l, nil
}

func (s *Store) InsertBatch(ctx context.Context, msgs []message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs) >= bulkInsertThreshold {
		return s.insertBatchCopy(ctx, msgs)
	}
	return s.insertBatchValues(ctx, msgs)
}

// insertBatchValues inserts msgs with a single multi-row VALUES statement
// and scans the server-assigned ids back onto msgs, matching the SQLite
// backend's InsertBatch contract. PostgreSQL processes a single INSERT's
// VALUES list in order, so the RETURNING rows come back in the same order
// the values were listed.
func (s *Store) insertBatchValues(ctx context.Context, msgs []message.Message) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO solid_mcp_messages (session_id, event_type, data, created_at) VALUES ")

	args := make([]any, 0, len(msgs)*4)
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*4 + 1
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", base, base+1, base+2, base+3)
		args = append(args, m.SessionID, m.EventType, m.Data, m.CreatedAt)
	}
	sb.WriteString(" RETURNING id")

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return mcperr.WrapStore("insert_batch_values", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		if i >= len(msgs) {
			break
		}
		if err := rows.Scan(&msgs[i].ID); err != nil {
			return mcperr.WrapStore("insert_batch_values scan", err)
		}
		i++
	}
	return mcperr.WrapStore("insert_batch_values", rows.Err())
}

// insertBatchCopy uses the pgx COPY protocol for large batches, resolving
// spec §9's bulk/COPY open question for the networked backend. COPY has no
// RETURNING equivalent, so unlike insertBatchValues this does not assign
// ids back onto msgs; callers on the bulk path are expected to rely on
// FetchAfter rather than the input struct's ID field.
func (s *Store) insertBatchCopy(ctx context.Context, msgs []message.Message) error {
	rows := make([][]any, len(msgs))
	for i, m := range msgs {
		rows[i] = []any{m.SessionID, m.EventType, m.Data, m.CreatedAt}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"solid_mcp_messages"},
		[]string{"session_id", "event_type", "data", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return mcperr.WrapStore("insert_batch_copy", err)
}

func (s *Store) FetchAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]message.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, event_type, data, created_at, delivered_at
		FROM solid_mcp_messages
		WHERE session_id = $1 AND delivered_at IS NULL AND id > $2
		ORDER BY id
		LIMIT $3
	`, sessionID, afterID, limit)
	if err != nil {
		return nil, mcperr.WrapStore("fetch_after", err)
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		var m message.Message
		var delivered *time.Time
		if err := rows.Scan(&m.ID, &m.SessionID, &m.EventType, &m.Data, &m.CreatedAt, &delivered); err != nil {
			return nil, mcperr.WrapStore("fetch_after scan", err)
		}
		m.DeliveredAt = delivered
		out = append(out, m)
	}
	return out, mcperr.WrapStore("fetch_after rows", rows.Err())
}

func (s *Store) MarkDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE solid_mcp_messages SET delivered_at = NOW()
		WHERE id = ANY($1) AND delivered_at IS NULL
	`, ids)
	return mcperr.WrapStore("mark_delivered", err)
}

func (s *Store) CleanupDelivered(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM solid_mcp_messages WHERE delivered_at IS NOT NULL AND delivered_at < $1
	`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, mcperr.WrapStore("cleanup_delivered", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CleanupUndelivered(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM solid_mcp_messages WHERE delivered_at IS NULL AND created_at < $1
	`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, mcperr.WrapStore("cleanup_undelivered", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) MaxID(ctx context.Context) (int64, error) {
	var id *int64
	err := s.pool.QueryRow(ctx, `SELECT MAX(id) FROM solid_mcp_messages`).Scan(&id)
	if err != nil {
		return 0, mcperr.WrapStore("max_id", err)
	}
	if id == nil {
		return 0, nil
	}
	return *id, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
