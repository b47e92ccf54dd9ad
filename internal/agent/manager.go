package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/appforge/appforge/internal/common/errors"
	"github.com/appforge/appforge/internal/common/logger"
)

// RunStore is the persistence surface the manager needs. Implemented by the
// storage collaborator; persistence failures are mirrored, logged, and never
// abort a run.
type RunStore interface {
	SessionStore
	SaveMessage(ctx context.Context, msg *Message) error
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

// Publisher broadcasts run output to live observers. Delivery is
// best-effort; implemented by the websocket hub.
type Publisher interface {
	Publish(projectID string, eventType string, data any)
}

// Manager routes execution requests to the configured agent adapters and
// runs the shared per-message pipeline: tag, persist, publish, inspect.
type Manager struct {
	adapters  map[Kind]Adapter
	store     RunStore
	publisher Publisher
	logger    *logger.Logger
}

// NewManager creates a manager over the given adapters. store and publisher
// may be nil; the corresponding pipeline stages then become no-ops.
func NewManager(adapters []Adapter, store RunStore, publisher Publisher, log *logger.Logger) *Manager {
	byKind := make(map[Kind]Adapter, len(adapters))
	for _, adapter := range adapters {
		byKind[adapter.Kind()] = adapter
	}
	return &Manager{
		adapters:  byKind,
		store:     store,
		publisher: publisher,
		logger:    log.WithFields(zap.String("component", "agent_manager")),
	}
}

// Adapter returns the adapter for a kind, or nil when unknown.
func (m *Manager) Adapter(kind Kind) Adapter {
	return m.adapters[kind]
}

// CheckAvailability probes one agent kind.
func (m *Manager) CheckAvailability(ctx context.Context, kind Kind) (Availability, error) {
	adapter, ok := m.adapters[kind]
	if !ok {
		return Availability{}, errors.Validation("agent", "unknown agent kind: "+string(kind))
	}
	return adapter.CheckAvailability(ctx), nil
}

// CheckAllAvailability probes every configured adapter concurrently.
func (m *Manager) CheckAllAvailability(ctx context.Context) map[Kind]Availability {
	var mu sync.Mutex
	results := make(map[Kind]Availability, len(m.adapters))

	g, ctx := errgroup.WithContext(ctx)
	for kind, adapter := range m.adapters {
		kind, adapter := kind, adapter
		g.Go(func() error {
			availability := adapter.CheckAvailability(ctx)
			mu.Lock()
			results[kind] = availability
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Execute runs one instruction against the selected agent and consumes the
// whole stream. It blocks until the run ends and returns the terminal
// verdict. The caller serializes runs per project.
func (m *Manager) Execute(ctx context.Context, kind Kind, req ExecuteRequest) (*RunResult, error) {
	if !kind.Valid() {
		return nil, errors.Validation("agent", "unknown agent kind: "+string(kind))
	}
	if req.ProjectID == "" {
		return nil, errors.Validation("project_id", "project id is required")
	}
	if req.Instruction == "" {
		return nil, errors.Validation("instruction", "instruction is required")
	}

	adapter := m.adapters[kind]
	if adapter == nil {
		return nil, errors.AgentUnavailable(string(kind), "adapter not configured")
	}

	// Fail fast before touching any state.
	availability := adapter.CheckAvailability(ctx)
	if !availability.Available {
		return nil, errors.AgentUnavailable(string(kind), availability.Error)
	}

	// The run record id is distinct from req.SessionID, which stays the
	// agent-level resume token owned by the adapter.
	runID := req.SessionID
	if runID == "" {
		runID = uuid.New().String()
	}
	m.ensureSession(ctx, kind, req, runID)

	log := m.logger.WithProjectID(req.ProjectID).WithSessionID(runID)
	log.Info("agent run starting",
		zap.String("agent", string(kind)),
		zap.Bool("initial_run", req.InitialRun))

	stream, err := adapter.ExecuteWithStreaming(ctx, req)
	if err != nil {
		m.finishSession(ctx, runID, SessionFailed)
		return nil, err
	}

	result := m.consumeStream(ctx, kind, req, runID, stream, log)

	status := SessionCompleted
	if !result.Success {
		status = SessionFailed
	}
	m.finishSession(ctx, runID, status)

	log.Info("agent run finished",
		zap.Bool("success", result.Success),
		zap.Int("message_count", result.MessageCount))
	return result, nil
}

// consumeStream is the shared per-message pipeline. An explicit result
// verdict from the agent wins; otherwise success means no error-typed
// message was observed.
func (m *Manager) consumeStream(ctx context.Context, kind Kind, req ExecuteRequest, runID string, stream <-chan *Message, log *logger.Logger) *RunResult {
	var (
		messageCount   int
		hasChanges     bool
		hasError       bool
		errorText      string
		resultObserved bool
		resultIsError  bool
	)

	for msg := range stream {
		messageCount++

		if msg.Metadata == nil {
			msg.Metadata = make(map[string]any)
		}
		if _, ok := msg.Metadata[MetaAgent]; !ok {
			msg.Metadata[MetaAgent] = string(kind)
		}
		if msg.SessionID == "" {
			msg.SessionID = runID
		}

		if m.store != nil {
			if err := m.store.SaveMessage(ctx, msg); err != nil {
				log.Warn("failed to persist message", zap.Error(err))
			}
		}

		if m.publisher != nil && !msg.Hidden() {
			m.publisher.Publish(req.ProjectID, "message", msg)
		}

		if changed, ok := msg.Metadata[MetaChangesMade].(bool); ok && changed {
			hasChanges = true
		}

		if msg.MessageType == TypeError {
			hasError = true
			if errorText == "" {
				errorText = msg.Content
			}
		}

		if eventType, _ := msg.Metadata[MetaEventType].(string); eventType == "result" {
			resultObserved = true
			resultIsError = resultVerdictIsError(msg)
		}
	}

	success := !hasError
	if resultObserved {
		success = !resultIsError
	}

	result := &RunResult{
		Success:      success,
		AgentUsed:    kind,
		HasChanges:   hasChanges,
		MessageCount: messageCount,
	}
	if !success && errorText != "" {
		result.Error = errorText
	}
	return result
}

// resultVerdictIsError reads the explicit verdict out of a result message:
// the is_error flag when present, otherwise the result subtype ("error" or
// "success"). A result carrying neither means success.
func resultVerdictIsError(msg *Message) bool {
	raw, _ := msg.Metadata[MetaOriginalEvent].(map[string]any)

	if isError, ok := msg.Metadata["is_error"].(bool); ok {
		return isError
	}
	if raw != nil {
		if isError, ok := raw["is_error"].(bool); ok {
			return isError
		}
	}

	if subtype, _ := msg.Metadata["subtype"].(string); subtype != "" {
		return subtype == "error"
	}
	if raw != nil {
		if subtype, _ := raw["subtype"].(string); subtype != "" {
			return subtype == "error"
		}
	}
	return false
}

// ensureSession creates the session record if it does not already exist.
// Re-running with the same session id keeps the original record.
func (m *Manager) ensureSession(ctx context.Context, kind Kind, req ExecuteRequest, runID string) {
	if m.store == nil {
		return
	}
	if existing, err := m.store.GetSession(ctx, runID); err == nil && existing != nil {
		return
	}

	session := &Session{
		ID:          runID,
		ProjectID:   req.ProjectID,
		AgentKind:   kind,
		Model:       req.Model,
		Instruction: truncate(req.Instruction, 500),
		Status:      SessionActive,
		StartedAt:   time.Now().UTC(),
	}
	if err := m.store.SaveSession(ctx, session); err != nil {
		m.logger.Warn("failed to create session record",
			zap.String("session_id", runID), zap.Error(err))
	}
}

func (m *Manager) finishSession(ctx context.Context, sessionID, status string) {
	if m.store == nil {
		return
	}
	session, err := m.store.GetSession(context.WithoutCancel(ctx), sessionID)
	if err != nil || session == nil {
		return
	}
	session.Status = status
	if err := m.store.SaveSession(context.WithoutCancel(ctx), session); err != nil {
		m.logger.Warn("failed to update session status",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}
