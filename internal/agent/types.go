// Package agent normalizes heterogeneous coding-agent CLI output into a
// canonical message model and drives streaming runs against the external
// agent processes.
package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a supported coding agent. The set is closed: adding an
// agent means adding an adapter implementation and extending the switches
// that match on Kind.
type Kind string

const (
	KindClaude Kind = "claude"
	KindCursor Kind = "cursor"
)

// Valid reports whether the kind names a known adapter.
func (k Kind) Valid() bool {
	return k == KindClaude || k == KindCursor
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message types.
const (
	TypeChat       = "chat"
	TypeSystem     = "system"
	TypeError      = "error"
	TypeToolResult = "tool_result"
)

// Metadata keys attached to canonical messages.
const (
	MetaAgent         = "agent"
	MetaEventType     = "event_type"
	MetaOriginalEvent = "original_event"
	MetaHidden        = "hidden_from_ui"
	MetaParseError    = "parse_error"
	MetaRawOutput     = "raw_output"
	MetaChangesMade   = "changes_made"
	MetaModel         = "model"
	MetaErrorCode     = "error_code"
	MetaToolName      = "tool_name"
	MetaToolInput     = "tool_input"
)

// Message is the canonical, agent-independent representation of one unit of
// agent output. Immutable once created.
type Message struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Role        string         `json:"role"`
	MessageType string         `json:"message_type"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewMessage creates a canonical message with a fresh id and timestamp.
func NewMessage(projectID, role, messageType, content, sessionID string, metadata map[string]any) *Message {
	return &Message{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Role:        role,
		MessageType: messageType,
		Content:     content,
		Metadata:    metadata,
		SessionID:   sessionID,
		CreatedAt:   time.Now().UTC(),
	}
}

// Hidden reports whether the message is marked as hidden from observers.
func (m *Message) Hidden() bool {
	if m.Metadata == nil {
		return false
	}
	hidden, _ := m.Metadata[MetaHidden].(bool)
	return hidden
}

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// Session is the execution-session record created lazily on the first
// message of a run. One session id is reused for the whole streaming run.
type Session struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	AgentKind   Kind      `json:"agent_kind"`
	Model       string    `json:"model,omitempty"`
	Instruction string    `json:"instruction,omitempty"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
}

// RunResult is the terminal value returned once streaming ends.
type RunResult struct {
	Success      bool   `json:"success"`
	AgentUsed    Kind   `json:"agent_used"`
	HasChanges   bool   `json:"has_changes"`
	MessageCount int    `json:"message_count"`
	Error        string `json:"error,omitempty"`
}

// Availability describes the result of probing an external agent tool.
type Availability struct {
	Available  bool   `json:"available"`
	Configured bool   `json:"configured"`
	Error      string `json:"error,omitempty"`
}

// ImageRef is an image attachment passed through to the agent process.
type ImageRef struct {
	Path     string `json:"path,omitempty"`
	Base64   string `json:"base64,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ExecuteRequest carries one streaming run's inputs.
type ExecuteRequest struct {
	ProjectID   string
	Instruction string
	WorkingDir  string
	SessionID   string
	Model       string
	Images      []ImageRef
	InitialRun  bool
}

// Adapter is implemented once per agent kind. Each adapter knows how to
// invoke its external tool and parse its streaming wire format into
// canonical messages.
type Adapter interface {
	// Kind returns the agent kind this adapter serves.
	Kind() Kind

	// CheckAvailability probes the external tool's presence and health.
	// It may shell out with a short timeout and never retries.
	CheckAvailability(ctx context.Context) Availability

	// ExecuteWithStreaming starts one run and returns a finite,
	// non-restartable stream of canonical messages. The channel is closed
	// when the run ends. Spawn and communication failures are returned
	// from the call; malformed protocol data degrades to raw passthrough
	// messages instead of aborting the stream.
	ExecuteWithStreaming(ctx context.Context, req ExecuteRequest) (<-chan *Message, error)

	// SessionID returns the stored continuation session id for a project,
	// or empty when none is known.
	SessionID(ctx context.Context, projectID string) string

	// SetSessionID persists the continuation session id for a project.
	SetSessionID(ctx context.Context, projectID, sessionID string)
}
