package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/appforge/internal/common/errors"
)

// fakeStore records everything the manager persists.
type fakeStore struct {
	mu         sync.Mutex
	messages   []*Message
	sessions   map[string]*Session
	sessionIDs map[string]string
	saveErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:   make(map[string]*Session),
		sessionIDs: make(map[string]string),
	}
}

func (s *fakeStore) SaveMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeStore) SaveSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *fakeStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session", sessionID)
	}
	return session, nil
}

func (s *fakeStore) SessionID(ctx context.Context, projectID string, kind Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionIDs[projectID+"/"+string(kind)], nil
}

func (s *fakeStore) SetSessionID(ctx context.Context, projectID string, kind Kind, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionIDs[projectID+"/"+string(kind)] = sessionID
	return nil
}

// fakePublisher records non-hidden broadcasts.
type fakePublisher struct {
	mu     sync.Mutex
	events []*Message
}

func (p *fakePublisher) Publish(projectID string, eventType string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg, ok := data.(*Message); ok {
		p.events = append(p.events, msg)
	}
}

// fakeAdapter replays a scripted message stream.
type fakeAdapter struct {
	kind         Kind
	availability Availability
	messages     []*Message
	spawnErr     error
	store        SessionStore
	sessionID    string
}

func (a *fakeAdapter) Kind() Kind { return a.kind }

func (a *fakeAdapter) CheckAvailability(ctx context.Context) Availability {
	return a.availability
}

func (a *fakeAdapter) ExecuteWithStreaming(ctx context.Context, req ExecuteRequest) (<-chan *Message, error) {
	if a.spawnErr != nil {
		return nil, a.spawnErr
	}
	out := make(chan *Message, len(a.messages))
	go func() {
		defer close(out)
		for _, msg := range a.messages {
			if eventType, _ := msg.Metadata[MetaEventType].(string); eventType == "result" && a.sessionID != "" && a.store != nil {
				_ = a.store.SetSessionID(ctx, req.ProjectID, a.kind, a.sessionID)
			}
			out <- msg
		}
	}()
	return out, nil
}

func (a *fakeAdapter) SessionID(ctx context.Context, projectID string) string {
	if a.store == nil {
		return ""
	}
	id, _ := a.store.SessionID(ctx, projectID, a.kind)
	return id
}

func (a *fakeAdapter) SetSessionID(ctx context.Context, projectID, sessionID string) {
	if a.store != nil {
		_ = a.store.SetSessionID(ctx, projectID, a.kind, sessionID)
	}
}

func TestManagerExecute_CursorStyleRun(t *testing.T) {
	store := newFakeStore()
	publisher := &fakePublisher{}

	adapter := &fakeAdapter{
		kind:         KindCursor,
		availability: Availability{Available: true, Configured: true},
		store:        store,
		sessionID:    "abc",
		messages: []*Message{
			NewMessage("p1", RoleSystem, TypeSystem, "Cursor Agent initialized", "", map[string]any{
				MetaEventType: "system",
				MetaHidden:    true,
			}),
			NewMessage("p1", RoleAssistant, TypeChat, "Hello", "", nil),
			NewMessage("p1", RoleSystem, TypeSystem, "Execution completed", "", map[string]any{
				MetaEventType: "result",
				"is_error":    false,
				MetaHidden:    true,
			}),
		},
	}

	m := NewManager([]Adapter{adapter}, store, publisher, testLogger(t))
	result, err := m.Execute(context.Background(), KindCursor, ExecuteRequest{
		ProjectID:   "p1",
		Instruction: "say hello",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, KindCursor, result.AgentUsed)
	assert.Equal(t, 3, result.MessageCount)

	// Exactly one non-hidden chat message reaches observers.
	require.Len(t, publisher.events, 1)
	assert.Equal(t, "Hello", publisher.events[0].Content)
	assert.Equal(t, TypeChat, publisher.events[0].MessageType)

	// All messages are persisted, hidden ones included.
	assert.Len(t, store.messages, 3)

	// The continuation session id from the result event is durable.
	id, _ := store.SessionID(context.Background(), "p1", KindCursor)
	assert.Equal(t, "abc", id)
}

func TestManagerExecute_ExplicitVerdictWins(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		kind:         KindCursor,
		availability: Availability{Available: true},
		messages: []*Message{
			NewMessage("p1", RoleSystem, TypeError, "transient tool failure", "", nil),
			NewMessage("p1", RoleSystem, TypeSystem, "done", "", map[string]any{
				MetaEventType: "result",
				"is_error":    false,
				MetaHidden:    true,
			}),
		},
	}

	m := NewManager([]Adapter{adapter}, store, &fakePublisher{}, testLogger(t))
	result, err := m.Execute(context.Background(), KindCursor, ExecuteRequest{
		ProjectID:   "p1",
		Instruction: "x",
	})
	require.NoError(t, err)
	assert.True(t, result.Success, "explicit result verdict overrides error messages")
}

func TestManagerExecute_ErrorSubtypeIsExplicitFailure(t *testing.T) {
	// A result event may carry its verdict as subtype=error with no
	// is_error flag at all.
	store := newFakeStore()
	adapter := &fakeAdapter{
		kind:         KindCursor,
		availability: Availability{Available: true},
		messages: []*Message{
			NewMessage("p1", RoleAssistant, TypeChat, "partial answer", "", nil),
			NewMessage("p1", RoleSystem, TypeSystem, "done", "", map[string]any{
				MetaEventType:     "result",
				MetaOriginalEvent: map[string]any{"type": "result", "subtype": "error"},
				MetaHidden:        true,
			}),
		},
	}

	m := NewManager([]Adapter{adapter}, store, &fakePublisher{}, testLogger(t))
	result, err := m.Execute(context.Background(), KindCursor, ExecuteRequest{
		ProjectID:   "p1",
		Instruction: "x",
	})
	require.NoError(t, err)
	assert.False(t, result.Success, "subtype=error is an explicit failure verdict")
}

func TestManagerExecute_SuccessSubtypeOverridesErrors(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		kind:         KindCursor,
		availability: Availability{Available: true},
		messages: []*Message{
			NewMessage("p1", RoleSystem, TypeError, "transient tool failure", "", nil),
			NewMessage("p1", RoleSystem, TypeSystem, "done", "", map[string]any{
				MetaEventType:     "result",
				MetaOriginalEvent: map[string]any{"type": "result", "subtype": "success"},
				MetaHidden:        true,
			}),
		},
	}

	m := NewManager([]Adapter{adapter}, store, &fakePublisher{}, testLogger(t))
	result, err := m.Execute(context.Background(), KindCursor, ExecuteRequest{
		ProjectID:   "p1",
		Instruction: "x",
	})
	require.NoError(t, err)
	assert.True(t, result.Success, "subtype=success is an explicit success verdict")
}

func TestManagerExecute_InferredFailure(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		kind:         KindClaude,
		availability: Availability{Available: true},
		messages: []*Message{
			NewMessage("p1", RoleSystem, TypeError, "execution blew up", "", nil),
		},
	}

	m := NewManager([]Adapter{adapter}, store, &fakePublisher{}, testLogger(t))
	result, err := m.Execute(context.Background(), KindClaude, ExecuteRequest{
		ProjectID:   "p1",
		Instruction: "x",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "execution blew up", result.Error)
}

func TestManagerExecute_AmbiguousRunIsSuccess(t *testing.T) {
	// No result event and no error message: success by default.
	store := newFakeStore()
	adapter := &fakeAdapter{
		kind:         KindClaude,
		availability: Availability{Available: true},
		messages: []*Message{
			NewMessage("p1", RoleAssistant, TypeChat, "changed two files", "", nil),
		},
	}

	m := NewManager([]Adapter{adapter}, store, &fakePublisher{}, testLogger(t))
	result, err := m.Execute(context.Background(), KindClaude, ExecuteRequest{
		ProjectID:   "p1",
		Instruction: "x",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestManagerExecute_UnavailableFailsFast(t *testing.T) {
	adapter := &fakeAdapter{
		kind:         KindClaude,
		availability: Availability{Available: false, Error: "not installed"},
	}

	m := NewManager([]Adapter{adapter}, newFakeStore(), &fakePublisher{}, testLogger(t))
	_, err := m.Execute(context.Background(), KindClaude, ExecuteRequest{
		ProjectID:   "p1",
		Instruction: "x",
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAgentUnavailable))
}

func TestManagerExecute_ValidatesRequest(t *testing.T) {
	m := NewManager(nil, newFakeStore(), &fakePublisher{}, testLogger(t))

	_, err := m.Execute(context.Background(), Kind("gemini"), ExecuteRequest{ProjectID: "p", Instruction: "x"})
	assert.True(t, errors.IsValidation(err))

	_, err = m.Execute(context.Background(), KindClaude, ExecuteRequest{Instruction: "x"})
	assert.True(t, errors.IsValidation(err))

	_, err = m.Execute(context.Background(), KindClaude, ExecuteRequest{ProjectID: "p"})
	assert.True(t, errors.IsValidation(err))
}

func TestManagerCheckAllAvailability(t *testing.T) {
	claude := &fakeAdapter{kind: KindClaude, availability: Availability{Available: true, Configured: true}}
	cursor := &fakeAdapter{kind: KindCursor, availability: Availability{Available: false, Error: "not installed"}}

	m := NewManager([]Adapter{claude, cursor}, newFakeStore(), &fakePublisher{}, testLogger(t))
	results := m.CheckAllAvailability(context.Background())

	require.Len(t, results, 2)
	assert.True(t, results[KindClaude].Available)
	assert.False(t, results[KindCursor].Available)
	assert.Equal(t, "not installed", results[KindCursor].Error)
}

func TestManagerExecute_SessionLifecycle(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		kind:         KindCursor,
		availability: Availability{Available: true},
		messages: []*Message{
			NewMessage("p1", RoleAssistant, TypeChat, "hi", "", nil),
		},
	}

	m := NewManager([]Adapter{adapter}, store, &fakePublisher{}, testLogger(t))
	_, err := m.Execute(context.Background(), KindCursor, ExecuteRequest{
		ProjectID:   "p1",
		Instruction: "x",
		SessionID:   "run-1",
	})
	require.NoError(t, err)

	session, err := store.GetSession(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, session.Status)
	assert.Equal(t, KindCursor, session.AgentKind)
}
