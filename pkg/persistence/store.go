// Package persistence stores session turns and lifecycle events in
// SQLite. Writes are small and serialized (SQLite has one writer); the
// Writer wraps the store in a fire-and-forget channel for callers that
// must never block on disk.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"aide/pkg/logx"
	"aide/pkg/proto"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	model      TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP
);

CREATE TABLE IF NOT EXISTS turns (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL REFERENCES sessions(id),
	seq          INTEGER NOT NULL,
	timestamp    TIMESTAMP NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	tool_call_id TEXT NOT NULL DEFAULT '',
	tool_name    TEXT NOT NULL DEFAULT '',
	tool_calls   TEXT NOT NULL DEFAULT '',
	images       TEXT NOT NULL DEFAULT '',
	UNIQUE(session_id, seq)
);

CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	timestamp  TIMESTAMP NOT NULL,
	kind       TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
`

// Event is one lifecycle event of a session (start, exit, compaction,
// fault).
type Event struct {
	Timestamp time.Time
	Kind      string
	Detail    string
}

// Store is the SQLite-backed session store. Safe for concurrent use; the
// connection pool is capped at one writer.
type Store struct {
	db        *sql.DB
	sessionID string
	logger    *logx.Logger
}

// Open opens (creating if needed) the store at dbPath and registers the
// session row.
func Open(dbPath, sessionID, model string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	// SQLite supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, sessionID: sessionID, logger: logx.NewLogger("persistence")}
	if _, err := db.Exec(
		`INSERT INTO sessions (id, model, started_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sessionID, model, time.Now().UTC(),
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register session: %w", err)
	}

	s.logger.Info("database opened: %s (session %s)", dbPath, sessionID)
	return s, nil
}

// SessionID returns the session this store writes under.
func (s *Store) SessionID() string { return s.sessionID }

// SaveTurns replaces the stored turn sequence for this session with the
// snapshot. Snapshots are authoritative: the history owner resends the
// full sequence after clears and compactions.
func (s *Store) SaveTurns(ctx context.Context, turns []proto.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, s.sessionID); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO turns (session_id, seq, timestamp, role, content, tool_call_id, tool_name, tool_calls, images)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for seq, turn := range turns {
		toolCalls, err := marshalJSON(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("turn %d tool calls: %w", seq, err)
		}
		images, err := marshalJSON(turn.Images)
		if err != nil {
			return fmt.Errorf("turn %d images: %w", seq, err)
		}
		if _, err := stmt.ExecContext(ctx,
			s.sessionID, seq, turn.Timestamp.UTC(), string(turn.Role), turn.Content,
			turn.ToolCallID, turn.ToolName, toolCalls, images,
		); err != nil {
			return fmt.Errorf("insert turn %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// LoadTurns returns the stored turn sequence of one session in order.
func (s *Store) LoadTurns(ctx context.Context, sessionID string) ([]proto.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, role, content, tool_call_id, tool_name, tool_calls, images
		FROM turns WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []proto.Turn
	for rows.Next() {
		var turn proto.Turn
		var role, toolCalls, images string
		if err := rows.Scan(&turn.Timestamp, &role, &turn.Content,
			&turn.ToolCallID, &turn.ToolName, &toolCalls, &images); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = proto.Role(role)
		if err := unmarshalJSON(toolCalls, &turn.ToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
		if err := unmarshalJSON(images, &turn.Images); err != nil {
			return nil, fmt.Errorf("decode images: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// RecordEvent appends one lifecycle event for this session.
func (s *Store) RecordEvent(ctx context.Context, ev Event) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, timestamp, kind, detail) VALUES (?, ?, ?, ?)`,
		s.sessionID, ts, ev.Kind, ev.Detail,
	); err != nil {
		return fmt.Errorf("record event %s: %w", ev.Kind, err)
	}
	return nil
}

// Events returns this session's lifecycle events in order.
func (s *Store) Events(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, kind, detail FROM events WHERE session_id = ? ORDER BY id`, s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Timestamp, &ev.Kind, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// EndSession marks the session finished.
func (s *Store) EndSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`, time.Now().UTC(), s.sessionID); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalJSON(raw string, dest any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}
