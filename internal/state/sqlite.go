// internal/state/sqlite.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/agentconsole/internal/types"
)

// SQLStore is the SQLite-backed session and message store.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite has a single writer; one connection keeps transactions from contending.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS cli_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		agent TEXT NOT NULL,
		resume_handle TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(user_id, name)
	);

	CREATE TABLE IF NOT EXISTS cli_messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT REFERENCES cli_sessions(id),
		kind TEXT NOT NULL,
		query TEXT NOT NULL,
		response TEXT NOT NULL,
		flags_used TEXT,
		failed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cli_messages_session ON cli_messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_cli_messages_user ON cli_messages(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a session. A (user, name) collision returns types.ErrDuplicateName.
func (s *SQLStore) CreateSession(ctx context.Context, sess *types.Session) error {
	query := `
	INSERT INTO cli_sessions (id, user_id, name, agent, resume_handle, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		string(sess.ID), string(sess.UserID), sess.Name, sess.Agent,
		nullString(sess.ResumeHandle),
		sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create session %q: %w", sess.Name, types.ErrDuplicateName)
		}
		return fmt.Errorf("%w: insert session: %w", types.ErrStorage, err)
	}
	return nil
}

const sessionColumns = `id, user_id, name, agent, resume_handle, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var sess types.Session
	var id, user string
	var handle sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&id, &user, &sess.Name, &sess.Agent, &handle, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sess.ID = types.SessionID(id)
	sess.UserID = types.UserID(user)
	sess.ResumeHandle = handle.String
	sess.CreatedAt = time.Unix(0, createdAt)
	sess.UpdatedAt = time.Unix(0, updatedAt)
	return &sess, nil
}

// GetSessionByName returns types.ErrNotFound when the user has no such session.
func (s *SQLStore) GetSessionByName(ctx context.Context, user types.UserID, name string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM cli_sessions WHERE user_id = ? AND name = ?`,
		string(user), name)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", name, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan session: %w", types.ErrStorage, err)
	}
	return sess, nil
}

// ListSessions returns the user's sessions oldest first.
func (s *SQLStore) ListSessions(ctx context.Context, user types.UserID) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM cli_sessions WHERE user_id = ? ORDER BY created_at ASC, rowid ASC`,
		string(user))
	if err != nil {
		return nil, fmt.Errorf("%w: query sessions: %w", types.ErrStorage, err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan session: %w", types.ErrStorage, err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate sessions: %w", types.ErrStorage, err)
	}
	return sessions, nil
}

// SetResumeHandle writes the handle only while none is stored.
func (s *SQLStore) SetResumeHandle(ctx context.Context, id types.SessionID, handle string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cli_sessions SET resume_handle = ?, updated_at = ? WHERE id = ? AND resume_handle IS NULL`,
		handle, time.Now().UnixNano(), string(id))
	if err != nil {
		return false, fmt.Errorf("%w: set resume handle: %w", types.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %w", types.ErrStorage, err)
	}
	return n == 1, nil
}

// DeleteSession nulls session_id on every message of the session and then removes the
// session, both in one transaction. It returns the number of messages orphaned.
func (s *SQLStore) DeleteSession(ctx context.Context, user types.UserID, name string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin delete: %w", types.ErrStorage, err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM cli_sessions WHERE user_id = ? AND name = ?`, string(user), name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("session %q: %w", name, types.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: find session: %w", types.ErrStorage, err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE cli_messages SET session_id = NULL WHERE session_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("%w: orphan messages: %w", types.ErrStorage, err)
	}
	orphaned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %w", types.ErrStorage, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cli_sessions WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("%w: delete session: %w", types.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit delete: %w", types.ErrStorage, err)
	}
	return orphaned, nil
}

// InsertMessage stores m. If m.SessionID no longer exists the message is stored
// orphaned and m.SessionID is cleared to match.
func (s *SQLStore) InsertMessage(ctx context.Context, m *types.Message) error {
	query := `
	INSERT INTO cli_messages (id, user_id, session_id, kind, query, response, flags_used, failed, created_at)
	VALUES (?, ?, (SELECT id FROM cli_sessions WHERE id = ?), ?, ?, ?, ?, ?, ?)
	RETURNING session_id`

	var stored sql.NullString
	err := s.db.QueryRowContext(ctx, query,
		string(m.ID), string(m.UserID), string(m.SessionID), string(m.Kind),
		m.Query, m.Response, nullString(m.FlagsUsed), boolInt(m.Failed), m.CreatedAt.UnixNano(),
	).Scan(&stored)
	if err != nil {
		return fmt.Errorf("%w: insert message: %w", types.ErrStorage, err)
	}
	m.SessionID = types.SessionID(stored.String)
	return nil
}

// ListMessages returns the newest filter.Limit matching messages in chronological order.
func (s *SQLStore) ListMessages(ctx context.Context, filter types.MessageFilter) ([]*types.Message, error) {
	where := `user_id = ?`
	args := []any{string(filter.UserID)}
	switch {
	case filter.Orphaned:
		where += ` AND session_id IS NULL`
	case filter.SessionID != "":
		where += ` AND session_id = ?`
		args = append(args, string(filter.SessionID))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	query := `
	SELECT id, user_id, session_id, kind, query, response, flags_used, failed, created_at FROM (
		SELECT rowid AS seq, * FROM cli_messages WHERE ` + where + `
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	) ORDER BY created_at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query messages: %w", types.ErrStorage, err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		var m types.Message
		var id, user, kind string
		var session, flags sql.NullString
		var failed int
		var createdAt int64
		if err := rows.Scan(&id, &user, &session, &kind, &m.Query, &m.Response, &flags, &failed, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %w", types.ErrStorage, err)
		}
		m.ID = types.MessageID(id)
		m.UserID = types.UserID(user)
		m.SessionID = types.SessionID(session.String)
		m.Kind = types.MessageKind(kind)
		m.FlagsUsed = flags.String
		m.Failed = failed != 0
		m.CreatedAt = time.Unix(0, createdAt)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate messages: %w", types.ErrStorage, err)
	}
	return messages, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
