package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/appforge/appforge/internal/agent"
	"github.com/appforge/appforge/internal/common/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	role         TEXT NOT NULL,
	message_type TEXT NOT NULL,
	content      TEXT NOT NULL,
	metadata     TEXT,
	session_id   TEXT,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_project ON messages(project_id, created_at);

CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	agent_kind  TEXT NOT NULL,
	model       TEXT,
	instruction TEXT,
	status      TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);

CREATE TABLE IF NOT EXISTS agent_sessions (
	project_id TEXT NOT NULL,
	agent_kind TEXT NOT NULL,
	session_id TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (project_id, agent_kind)
);
`

// SQLiteStore is the durable Store backed by a local SQLite file. The pool
// is capped at one connection because SQLite serializes writers anyway.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database file and applies
// the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveMessage inserts one canonical message. Metadata is stored as JSON.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *agent.Message) error {
	var metadata []byte
	if msg.Metadata != nil {
		var err error
		metadata, err = json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, project_id, role, message_type, content, metadata, session_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ProjectID, msg.Role, msg.MessageType, msg.Content,
		nullableString(string(metadata)), nullableString(msg.SessionID), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// SaveSession inserts or replaces a session record.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *agent.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, project_id, agent_kind, model, instruction, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.ProjectID, string(session.AgentKind),
		nullableString(session.Model), nullableString(session.Instruction),
		session.Status, session.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*agent.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, agent_kind, model, instruction, status, started_at
		 FROM sessions WHERE id = ?`, sessionID)

	var session agent.Session
	var kind string
	var model, instruction sql.NullString
	if err := row.Scan(&session.ID, &session.ProjectID, &kind, &model, &instruction,
		&session.Status, &session.StartedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("session", sessionID)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	session.AgentKind = agent.Kind(kind)
	session.Model = model.String
	session.Instruction = instruction.String
	return &session, nil
}

// SessionID returns the stored continuation session id for a project and
// agent kind.
func (s *SQLiteStore) SessionID(ctx context.Context, projectID string, kind agent.Kind) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id FROM agent_sessions WHERE project_id = ? AND agent_kind = ?`,
		projectID, string(kind))

	var sessionID string
	if err := row.Scan(&sessionID); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to load agent session id: %w", err)
	}
	return sessionID, nil
}

// SetSessionID stores the continuation session id for a project and agent
// kind.
func (s *SQLiteStore) SetSessionID(ctx context.Context, projectID string, kind agent.Kind, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO agent_sessions (project_id, agent_kind, session_id, updated_at)
		 VALUES (?, ?, ?, ?)`,
		projectID, string(kind), sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store agent session id: %w", err)
	}
	return nil
}

// Messages returns a project's messages in creation order, newest last.
func (s *SQLiteStore) Messages(ctx context.Context, projectID string, limit int) ([]*agent.Message, error) {
	query := `SELECT id, project_id, role, message_type, content, metadata, session_id, created_at
		 FROM messages WHERE project_id = ? ORDER BY created_at`
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*agent.Message
	for rows.Next() {
		var msg agent.Message
		var metadata, sessionID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ProjectID, &msg.Role, &msg.MessageType,
			&msg.Content, &metadata, &sessionID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		msg.SessionID = sessionID.String
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

var _ Store = (*SQLiteStore)(nil)
