// Package storage persists messages, sessions, and per-project agent
// session continuity.
package storage

import (
	"context"

	"github.com/appforge/appforge/internal/agent"
)

// Store is the persistence surface used by the execution manager and the
// agent adapters. Implementations must be safe for concurrent use.
type Store interface {
	// SaveMessage inserts one canonical message.
	SaveMessage(ctx context.Context, msg *agent.Message) error

	// SaveSession inserts or replaces a session record.
	SaveSession(ctx context.Context, session *agent.Session) error

	// GetSession returns a session by id, or a not-found error.
	GetSession(ctx context.Context, sessionID string) (*agent.Session, error)

	// SessionID returns the stored continuation session id for a project
	// and agent kind, or empty when none is stored.
	SessionID(ctx context.Context, projectID string, kind agent.Kind) (string, error)

	// SetSessionID stores the continuation session id for a project and
	// agent kind, replacing any previous value.
	SetSessionID(ctx context.Context, projectID string, kind agent.Kind, sessionID string) error

	// Close releases the underlying resources.
	Close() error
}
