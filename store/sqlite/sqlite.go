// Package sqlite implements the embedded store.Store backend on top of
// modernc.org/sqlite, a pure-Go SQLite driver (no cgo). It is selected when
// the configured URL has a sqlite: prefix or a .db/.sqlite/.sqlite3 suffix;
// it has no push capability, so its subscribers always fall back to polling.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/seuros/solid-mcp-go/mcperr"
	"github.com/seuros/solid-mcp-go/message"
	"github.com/seuros/solid-mcp-go/store"
)

// Schema is the logical schema shared with the PostgreSQL backend (spec
// §6), adapted to SQLite's type affinities.
const Schema = `
CREATE TABLE IF NOT EXISTS solid_mcp_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	delivered_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_solid_mcp_messages_session_id ON solid_mcp_messages(session_id, id);
CREATE INDEX IF NOT EXISTS idx_solid_mcp_messages_delivered ON solid_mcp_messages(delivered_at, created_at);
`

// Store is the embedded SQLite backend.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) a SQLite database at dsn and configures it for the
// single-writer, WAL-journaled, busy-tolerant mode solid-mcp-go expects.
// It does not run Migrate; callers that need a fresh schema (tests, the
// demo binary) must call Migrate explicitly — a pre-provisioned database is
// the production assumption for this backend.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, mcperr.WrapStore("open", err)
	}

	// Single-writer concurrency model: SQLite serializes writers anyway,
	// but capping the pool avoids SQLITE_BUSY storms under the 30s
	// busy_timeout rather than surfacing them as driver errors.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, mcperr.WrapStore("pragma", err)
		}
	}

	return &Store{db: db}, nil
}

// Migrate creates the schema if it does not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return mcperr.WrapStore("migrate", err)
}

func (s *Store) SupportsPush() bool { return false }

func (s *Store) Listen(ctx context.Context, sessionID string) (store.Listener, error) {
	return nil, store.ErrPushUnsupported
}

func (s *Store) InsertBatch(ctx context.Context, msgs []message.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mcperr.WrapStore("insert_batch begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO solid_mcp_messages (session_id, event_type, data, created_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return mcperr.WrapStore("insert_batch prepare", err)
	}
	defer stmt.Close()

	for i := range msgs {
		res, err := stmt.ExecContext(ctx, msgs[i].SessionID, msgs[i].EventType, msgs[i].Data, msgs[i].CreatedAt)
		if err != nil {
			return mcperr.WrapStore("insert_batch exec", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			msgs[i].ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return mcperr.WrapStore("insert_batch commit", err)
	}
	return nil
}

func (s *Store) FetchAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]message.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, event_type, data, created_at, delivered_at
		FROM solid_mcp_messages
		WHERE session_id = ? AND delivered_at IS NULL AND id > ?
		ORDER BY id
		LIMIT ?
	`, sessionID, afterID, limit)
	if err != nil {
		return nil, mcperr.WrapStore("fetch_after", err)
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		var m message.Message
		var delivered sql.NullTime
		if err := rows.Scan(&m.ID, &m.SessionID, &m.EventType, &m.Data, &m.CreatedAt, &delivered); err != nil {
			return nil, mcperr.WrapStore("fetch_after scan", err)
		}
		if delivered.Valid {
			t := delivered.Time
			m.DeliveredAt = &t
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mcperr.WrapStore("fetch_after rows", err)
	}
	return out, nil
}

func (s *Store) MarkDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	q := fmt.Sprintf(`
		UPDATE solid_mcp_messages
		SET delivered_at = ?
		WHERE id IN (%s) AND delivered_at IS NULL
	`, strings.Join(placeholders, ","))

	_, err := s.db.ExecContext(ctx, q, args...)
	return mcperr.WrapStore("mark_delivered", err)
}

func (s *Store) CleanupDelivered(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM solid_mcp_messages WHERE delivered_at IS NOT NULL AND delivered_at < ?
	`, cutoff)
	if err != nil {
		return 0, mcperr.WrapStore("cleanup_delivered", err)
	}
	n, err := res.RowsAffected()
	return n, mcperr.WrapStore("cleanup_delivered rows", err)
}

func (s *Store) CleanupUndelivered(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM solid_mcp_messages WHERE delivered_at IS NULL AND created_at < ?
	`, cutoff)
	if err != nil {
		return 0, mcperr.WrapStore("cleanup_undelivered", err)
	}
	n, err := res.RowsAffected()
	return n, mcperr.WrapStore("cleanup_undelivered rows", err)
}

func (s *Store) MaxID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM solid_mcp_messages`).Scan(&id)
	if err != nil {
		return 0, mcperr.WrapStore("max_id", err)
	}
	if !id.Valid {
		return 0, nil
	}
	return id.Int64, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
