package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/appforge/appforge/internal/common/errors"
	"github.com/appforge/appforge/internal/common/logger"
	"github.com/appforge/appforge/internal/validation"
)

// CursorAdapter drives the Cursor Agent CLI using its stream-json protocol:
// newline-delimited JSON events on stdout, one final result event carrying
// the terminal verdict and the continuation session id.
type CursorAdapter struct {
	binary       string
	probeTimeout time.Duration
	sessions     *sessionTracker
	logger       *logger.Logger
}

// NewCursorAdapter creates a Cursor Agent adapter. store may be nil, in
// which case session continuity is memory-only.
func NewCursorAdapter(binary string, probeTimeout time.Duration, store SessionStore, log *logger.Logger) *CursorAdapter {
	adapterLog := log.WithFields(zap.String("adapter", "cursor"))
	return &CursorAdapter{
		binary:       binary,
		probeTimeout: probeTimeout,
		sessions:     newSessionTracker(KindCursor, store, adapterLog),
		logger:       adapterLog,
	}
}

// Kind returns KindCursor.
func (a *CursorAdapter) Kind() Kind { return KindCursor }

// CheckAvailability probes the cursor-agent binary with a bounded help
// invocation. Unavailability is reported, never retried.
func (a *CursorAdapter) CheckAvailability(ctx context.Context) Availability {
	probeCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	output, err := exec.CommandContext(probeCtx, a.binary, "-h").CombinedOutput()
	if err != nil {
		return Availability{
			Available:  false,
			Configured: false,
			Error:      "Cursor Agent CLI not installed or not working. Install with: curl https://cursor.com/install -fsS | bash, then run cursor-agent login.",
		}
	}
	if !strings.Contains(strings.ToLower(string(output)), "cursor-agent") {
		return Availability{
			Available:  false,
			Configured: false,
			Error:      "Cursor Agent CLI not responding correctly. Reinstall and run cursor-agent login.",
		}
	}
	return Availability{Available: true, Configured: true}
}

// SessionID returns the stored continuation session id for a project.
func (a *CursorAdapter) SessionID(ctx context.Context, projectID string) string {
	return a.sessions.get(ctx, projectID)
}

// SetSessionID persists the continuation session id for a project.
func (a *CursorAdapter) SetSessionID(ctx context.Context, projectID, sessionID string) {
	a.sessions.set(ctx, projectID, sessionID)
}

// ExecuteWithStreaming spawns cursor-agent and converts its NDJSON event
// stream into canonical messages. The returned channel is closed when the
// result event arrives (the process is then terminated early) or the
// process exits.
func (a *CursorAdapter) ExecuteWithStreaming(ctx context.Context, req ExecuteRequest) (<-chan *Message, error) {
	instruction, err := validation.SanitizeArgument(req.Instruction, true)
	if err != nil {
		return nil, err
	}

	argv := []string{a.binary, "--force", "-p", instruction, "--output-format", "stream-json"}

	// Stored session id takes precedence over the caller-supplied one.
	activeSessionID := a.sessions.get(ctx, req.ProjectID)
	if activeSessionID == "" {
		activeSessionID = req.SessionID
	}
	if activeSessionID != "" {
		resumeID, err := validation.SanitizeArgument(activeSessionID, false)
		if err != nil {
			return nil, err
		}
		argv = append(argv, "--resume", resumeID)
	}

	if apiKey := os.Getenv("CURSOR_API_KEY"); apiKey != "" {
		argv = append(argv, "--api-key", apiKey)
	}

	if model := ResolveModel(KindCursor, req.Model, a.logger); model != "" {
		validModel, err := validation.ValidateModelName(model)
		if err != nil {
			return nil, err
		}
		argv = append(argv, "-m", validModel)
	}

	if _, err := validation.ValidateCommand(argv); err != nil {
		return nil, err
	}

	a.ensureAgentInstructions(req.WorkingDir)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = req.WorkingDir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.AgentExecution("cursor", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, errors.AgentExecution("cursor", fmt.Errorf("failed to start %s: %w", a.binary, err))
	}

	a.logger.Info("cursor-agent started",
		zap.String("project_id", req.ProjectID),
		zap.String("resume_session", activeSessionID),
		zap.Int("pid", cmd.Process.Pid))

	out := make(chan *Message, 64)
	go a.streamEvents(ctx, cmd, bufio.NewScanner(stdout), req, activeSessionID, out)
	return out, nil
}

// streamEvents is the stream read loop. It runs on its own goroutine so
// blocking pipe reads never stall anything else.
func (a *CursorAdapter) streamEvents(ctx context.Context, cmd *exec.Cmd, scanner *bufio.Scanner, req ExecuteRequest, activeSessionID string, out chan<- *Message) {
	defer close(out)

	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		discoveredSessionID string
		assistantBuffer     strings.Builder
		resultReceived      bool
	)

	flushAssistant := func() {
		if assistantBuffer.Len() == 0 {
			return
		}
		out <- NewMessage(req.ProjectID, RoleAssistant, TypeChat, assistantBuffer.String(), req.SessionID, map[string]any{
			MetaAgent:     string(KindCursor),
			MetaEventType: "assistant_aggregated",
		})
		assistantBuffer.Reset()
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		event, err := parseStreamEvent(line)
		if err != nil {
			// A parse failure for one line does not abort the stream: the
			// raw line degrades to an unparsed chat message.
			a.logger.Warn("stream-json decode error",
				zap.Error(err), zap.String("raw_line", truncate(line, 200)))
			out <- NewMessage(req.ProjectID, RoleAssistant, TypeChat, line, req.SessionID, map[string]any{
				MetaAgent:      string(KindCursor),
				MetaRawOutput:  line,
				MetaParseError: err.Error(),
			})
			continue
		}

		// The result event is authoritative for the continuation session id.
		if event.Type == "result" {
			resultReceived = true
			if discoveredSessionID == "" && event.SessionID != "" {
				discoveredSessionID = event.SessionID
				a.sessions.set(ctx, req.ProjectID, discoveredSessionID)
				a.logger.Info("session id extracted from result event",
					zap.String("session_id", discoveredSessionID))
			}
		}

		// Any other event carrying a session id updates continuity
		// immediately, so a crash mid-run still leaves a resume token.
		if discoveredSessionID == "" && event.SessionID != "" && event.SessionID != activeSessionID {
			discoveredSessionID = event.SessionID
			a.sessions.set(ctx, req.ProjectID, discoveredSessionID)
			a.logger.Info("session id updated mid-stream",
				zap.String("session_id", discoveredSessionID))
		}

		// A non-assistant event interrupts the logical assistant turn.
		if event.Type != "assistant" {
			flushAssistant()
		}

		if msg := a.eventToMessage(event, req.ProjectID, req.SessionID); msg != nil {
			if msg.Role == RoleAssistant && msg.MessageType == TypeChat {
				assistantBuffer.WriteString(msg.Content)
			} else {
				out <- msg
			}
		}

		// The result event closes the run: terminate the external process
		// rather than waiting for natural exit.
		if resultReceived {
			a.logger.Debug("result event received, terminating stream early")
			if err := cmd.Process.Kill(); err != nil {
				a.logger.Warn("failed to terminate cursor-agent", zap.Error(err))
			}
			break
		}
	}

	flushAssistant()

	// A read failure (broken pipe, over-long line) ends the loop without a
	// result event; the run must not be inferred successful.
	if err := scanner.Err(); err != nil && !resultReceived {
		a.logger.Error("stream read failed", zap.Error(err))
		out <- NewMessage(req.ProjectID, RoleSystem, TypeError,
			fmt.Sprintf("Agent stream read failed: %v", err), req.SessionID, map[string]any{
				MetaAgent:     string(KindCursor),
				MetaEventType: "stream_error",
			})
	}

	if err := cmd.Wait(); err != nil && !resultReceived {
		a.logger.Warn("cursor-agent exited with error", zap.Error(err))
	}
}

// streamEvent is one decoded NDJSON event. Raw keeps the full payload for
// metadata and fallback extraction; the typed fields cover the shapes the
// adapter matches on. Events with an unknown Type stay representable: they
// match no case and produce no message.
type streamEvent struct {
	Type      string
	Subtype   string
	SessionID string
	IsError   bool
	Raw       map[string]any
}

// parseStreamEvent decodes one NDJSON line and pulls out the fields the
// adapter dispatches on, including the session id under any of the names
// the protocol has used.
func parseStreamEvent(line string) (*streamEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, err
	}

	event := &streamEvent{Raw: raw}
	event.Type, _ = raw["type"].(string)
	event.Subtype, _ = raw["subtype"].(string)
	event.IsError, _ = raw["is_error"].(bool)
	event.SessionID = extractSessionID(raw)
	return event, nil
}

var sessionIDKeys = []string{"session_id", "sessionId", "chat_id", "chatId", "thread_id", "threadId"}

func extractSessionID(raw map[string]any) string {
	for _, key := range sessionIDKeys {
		if id, ok := raw[key].(string); ok && id != "" {
			return id
		}
	}
	if nested, ok := raw["message"].(map[string]any); ok {
		for _, key := range sessionIDKeys {
			if id, ok := nested[key].(string); ok && id != "" {
				return id
			}
		}
	}
	return ""
}

// eventToMessage maps one stream event to a canonical message, or nil when
// the event produces no observer-visible output.
func (a *CursorAdapter) eventToMessage(event *streamEvent, projectID, sessionID string) *Message {
	switch event.Type {
	case "system":
		model, _ := event.Raw["model"].(string)
		if model == "" {
			model = "unknown"
		}
		return NewMessage(projectID, RoleSystem, TypeSystem,
			fmt.Sprintf("Cursor Agent initialized (Model: %s)", model), sessionID, map[string]any{
				MetaAgent:         string(KindCursor),
				MetaEventType:     "system",
				MetaModel:         model,
				MetaOriginalEvent: event.Raw,
				MetaHidden:        true,
			})

	case "user":
		// Cursor echoes back the user's prompt. Suppress it to avoid duplicates.
		return nil

	case "assistant":
		content := assistantTextContent(event.Raw)
		if content == "" {
			return nil
		}
		return NewMessage(projectID, RoleAssistant, TypeChat, content, sessionID, map[string]any{
			MetaAgent:         string(KindCursor),
			MetaEventType:     "assistant",
			MetaOriginalEvent: event.Raw,
		})

	case "tool_call":
		return a.toolCallToMessage(event, projectID, sessionID)

	case "result":
		duration, _ := event.Raw["duration_ms"].(float64)
		resultText, _ := event.Raw["result"].(string)
		if resultText == "" {
			return nil
		}
		return NewMessage(projectID, RoleSystem, TypeSystem,
			fmt.Sprintf("Execution completed in %dms. Final result: %s", int64(duration), resultText), sessionID, map[string]any{
				MetaAgent:         string(KindCursor),
				MetaEventType:     "result",
				MetaOriginalEvent: event.Raw,
				MetaHidden:        true,
			})
	}

	return nil
}

// toolCallToMessage renders tool_call started/completed events. The tool
// name arrives as the single key of the tool_call object, suffixed with
// "ToolCall" (e.g. lsToolCall).
func (a *CursorAdapter) toolCallToMessage(event *streamEvent, projectID, sessionID string) *Message {
	toolCall, ok := event.Raw["tool_call"].(map[string]any)
	if !ok || len(toolCall) == 0 {
		return nil
	}

	var rawName string
	var callData map[string]any
	for key, value := range toolCall {
		rawName = key
		callData, _ = value.(map[string]any)
		break
	}
	if rawName == "" {
		return nil
	}
	toolName := strings.TrimSuffix(rawName, "ToolCall")

	switch event.Subtype {
	case "started":
		var input map[string]any
		if callData != nil {
			input, _ = callData["args"].(map[string]any)
		}
		return NewMessage(projectID, RoleAssistant, TypeChat, ToolSummary(toolName, input), sessionID, map[string]any{
			MetaAgent:         string(KindCursor),
			MetaEventType:     "tool_call_started",
			MetaToolName:      toolName,
			MetaToolInput:     input,
			MetaOriginalEvent: event.Raw,
		})

	case "completed":
		var content string
		if callData != nil {
			if result, ok := callData["result"].(map[string]any); ok {
				if success, ok := result["success"]; ok {
					content = jsonCompact(success)
				} else if errResult, ok := result["error"]; ok {
					content = jsonCompact(errResult)
				}
			}
		}
		return NewMessage(projectID, RoleSystem, TypeToolResult, content, sessionID, map[string]any{
			MetaAgent:         string(KindCursor),
			MetaEventType:     "tool_call_completed",
			MetaToolName:      toolName,
			MetaOriginalEvent: event.Raw,
			MetaHidden:        true,
		})
	}

	return nil
}

// assistantTextContent concatenates the text parts of an assistant event's
// message content array.
func assistantTextContent(raw map[string]any) string {
	message, ok := raw["message"].(map[string]any)
	if !ok {
		return ""
	}
	items, ok := message["content"].([]any)
	if !ok {
		return ""
	}

	var sb strings.Builder
	for _, rawItem := range items {
		item, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		if item["type"] == "text" {
			if text, ok := item["text"].(string); ok {
				sb.WriteString(text)
			}
		}
	}
	return sb.String()
}

func jsonCompact(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}

// ensureAgentInstructions writes AGENT.md into the working directory when
// absent so the agent picks up the project system prompt.
func (a *CursorAdapter) ensureAgentInstructions(workingDir string) {
	agentPath := filepath.Join(workingDir, "AGENT.md")
	if _, err := os.Stat(agentPath); err == nil {
		return
	}
	if err := os.WriteFile(agentPath, []byte(defaultAgentInstructions), 0644); err != nil {
		a.logger.Warn("failed to create AGENT.md", zap.Error(err))
	}
}

const defaultAgentInstructions = `# Agent Instructions

You are an AI coding assistant specialized in building modern web
applications. Keep changes minimal and focused on the user's request.
`

var _ Adapter = (*CursorAdapter)(nil)
