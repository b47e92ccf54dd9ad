package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/appforge/appforge/internal/common/logger"
)

// SessionStore persists continuation session ids per project and agent
// kind. Implemented by the storage collaborator.
type SessionStore interface {
	SessionID(ctx context.Context, projectID string, kind Kind) (string, error)
	SetSessionID(ctx context.Context, projectID string, kind Kind, sessionID string) error
}

// sessionTracker wraps a durable SessionStore with an in-memory fallback so
// continuity survives a missing or failing store within one process.
type sessionTracker struct {
	kind   Kind
	store  SessionStore // may be nil
	logger *logger.Logger

	mu    sync.RWMutex
	cache map[string]string
}

func newSessionTracker(kind Kind, store SessionStore, log *logger.Logger) *sessionTracker {
	return &sessionTracker{
		kind:   kind,
		store:  store,
		logger: log,
		cache:  make(map[string]string),
	}
}

// get returns the stored session id for a project, preferring the durable
// store and falling back to the in-memory cache.
func (t *sessionTracker) get(ctx context.Context, projectID string) string {
	if t.store != nil {
		sessionID, err := t.store.SessionID(ctx, projectID, t.kind)
		if err != nil {
			t.logger.Warn("failed to read session id from store, using memory fallback",
				zap.String("project_id", projectID), zap.Error(err))
		} else if sessionID != "" {
			return sessionID
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cache[projectID]
}

// set persists the session id immediately so a crash mid-run still leaves
// continuity for the next attempt. The memory cache is always updated.
func (t *sessionTracker) set(ctx context.Context, projectID, sessionID string) {
	t.mu.Lock()
	t.cache[projectID] = sessionID
	t.mu.Unlock()

	if t.store == nil {
		return
	}
	if err := t.store.SetSessionID(ctx, projectID, t.kind, sessionID); err != nil {
		t.logger.Warn("failed to persist session id, kept in memory only",
			zap.String("project_id", projectID), zap.Error(err))
	}
}
