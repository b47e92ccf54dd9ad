package storage

import (
	"context"
	"sync"

	"github.com/appforge/appforge/internal/agent"
	"github.com/appforge/appforge/internal/common/errors"
)

// MemoryStore is the in-memory Store used in tests and when no database
// path is configured.
type MemoryStore struct {
	mu            sync.RWMutex
	messages      map[string][]*agent.Message // keyed by project id
	sessions      map[string]*agent.Session
	agentSessions map[string]string // projectID + "/" + kind
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:      make(map[string][]*agent.Message),
		sessions:      make(map[string]*agent.Session),
		agentSessions: make(map[string]string),
	}
}

// SaveMessage appends one message to its project's history.
func (s *MemoryStore) SaveMessage(ctx context.Context, msg *agent.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *msg
	s.messages[msg.ProjectID] = append(s.messages[msg.ProjectID], &copied)
	return nil
}

// SaveSession inserts or replaces a session record.
func (s *MemoryStore) SaveSession(ctx context.Context, session *agent.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

// GetSession returns a session by id.
func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*agent.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session", sessionID)
	}
	copied := *session
	return &copied, nil
}

// SessionID returns the stored continuation session id.
func (s *MemoryStore) SessionID(ctx context.Context, projectID string, kind agent.Kind) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentSessions[projectID+"/"+string(kind)], nil
}

// SetSessionID stores the continuation session id.
func (s *MemoryStore) SetSessionID(ctx context.Context, projectID string, kind agent.Kind, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentSessions[projectID+"/"+string(kind)] = sessionID
	return nil
}

// Messages returns a project's messages in insertion order.
func (s *MemoryStore) Messages(ctx context.Context, projectID string, limit int) ([]*agent.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.messages[projectID]
	if limit > 0 && limit < len(stored) {
		stored = stored[:limit]
	}
	out := make([]*agent.Message, len(stored))
	for i, msg := range stored {
		copied := *msg
		out[i] = &copied
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
