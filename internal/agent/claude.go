package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/appforge/appforge/internal/common/logger"
	"github.com/appforge/appforge/internal/validation"
)

// ClaudeAdapter drives the Claude Code CLI in batched print mode: one
// invocation per run, stdout collected as a whole and emitted as a single
// assistant message.
type ClaudeAdapter struct {
	binary       string
	probeTimeout time.Duration
	sessions     *sessionTracker
	logger       *logger.Logger
}

// NewClaudeAdapter creates a Claude CLI adapter. store may be nil, in which
// case session continuity is memory-only.
func NewClaudeAdapter(binary string, probeTimeout time.Duration, store SessionStore, log *logger.Logger) *ClaudeAdapter {
	adapterLog := log.WithFields(zap.String("adapter", "claude"))
	return &ClaudeAdapter{
		binary:       binary,
		probeTimeout: probeTimeout,
		sessions:     newSessionTracker(KindClaude, store, adapterLog),
		logger:       adapterLog,
	}
}

// Kind returns KindClaude.
func (a *ClaudeAdapter) Kind() Kind { return KindClaude }

// CheckAvailability probes the claude binary with a bounded help invocation.
// Unavailability is reported, never retried.
func (a *ClaudeAdapter) CheckAvailability(ctx context.Context) Availability {
	probeCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	output, err := exec.CommandContext(probeCtx, a.binary, "-h").CombinedOutput()
	if err != nil {
		return Availability{
			Available:  false,
			Configured: false,
			Error:      "Claude CLI not installed or not working. Install with: npm install -g @anthropic-ai/claude-code, then run claude login.",
		}
	}
	if !strings.Contains(strings.ToLower(string(output)), "claude") {
		return Availability{
			Available:  false,
			Configured: false,
			Error:      "Claude CLI not responding correctly. Reinstall and authenticate with claude login.",
		}
	}
	return Availability{Available: true, Configured: true}
}

// SessionID returns the stored continuation session id for a project.
func (a *ClaudeAdapter) SessionID(ctx context.Context, projectID string) string {
	return a.sessions.get(ctx, projectID)
}

// SetSessionID persists the continuation session id for a project.
func (a *ClaudeAdapter) SetSessionID(ctx context.Context, projectID, sessionID string) {
	a.sessions.set(ctx, projectID, sessionID)
}

// ExecuteWithStreaming runs one batched claude invocation. The stream holds
// a hidden system start message followed by either one assistant message
// (the full stdout) or one error message when the process fails.
func (a *ClaudeAdapter) ExecuteWithStreaming(ctx context.Context, req ExecuteRequest) (<-chan *Message, error) {
	instruction := req.Instruction
	if req.InitialRun {
		instruction = augmentInitialInstruction(instruction, req.WorkingDir)
	}

	instruction, err := validation.SanitizeArgument(instruction, true)
	if err != nil {
		return nil, err
	}

	argv := []string{a.binary}
	if model := ResolveModel(KindClaude, req.Model, a.logger); model != "" {
		validModel, err := validation.ValidateModelName(model)
		if err != nil {
			return nil, err
		}
		argv = append(argv, "--model", validModel)
	}
	argv = append(argv, "-p", instruction)

	if _, err := validation.ValidateCommand(argv); err != nil {
		return nil, err
	}

	out := make(chan *Message, 4)
	go a.runBatched(ctx, argv, req, out)
	return out, nil
}

func (a *ClaudeAdapter) runBatched(ctx context.Context, argv []string, req ExecuteRequest, out chan<- *Message) {
	defer close(out)

	out <- NewMessage(req.ProjectID, RoleSystem, TypeSystem,
		"Claude execution started", req.SessionID, map[string]any{
			MetaAgent:     string(KindClaude),
			MetaEventType: "start",
			MetaHidden:    true,
		})

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = req.WorkingDir

	a.logger.Info("claude started",
		zap.String("project_id", req.ProjectID),
		zap.String("working_dir", req.WorkingDir))

	output, err := cmd.CombinedOutput()
	if err != nil {
		a.logger.Error("claude execution failed",
			zap.Error(err), zap.String("output", truncate(string(output), 500)))
		out <- NewMessage(req.ProjectID, RoleSystem, TypeError,
			fmt.Sprintf("Claude execution failed: %v", err), req.SessionID, map[string]any{
				MetaAgent:     string(KindClaude),
				MetaEventType: "error",
				MetaRawOutput: string(output),
			})
		return
	}

	content := strings.TrimSpace(string(output))
	if content == "" {
		content = "Execution completed with no output."
	}
	out <- NewMessage(req.ProjectID, RoleAssistant, TypeChat, content, req.SessionID, map[string]any{
		MetaAgent:       string(KindClaude),
		MetaEventType:   "batch_result",
		MetaChangesMade: true,
	})
}

// augmentInitialInstruction appends a directory listing of the fresh
// scaffold so the first run starts from an accurate picture of the project
// instead of guessing at file names.
func augmentInitialInstruction(instruction, workingDir string) string {
	entries, err := os.ReadDir(workingDir)
	if err != nil {
		return instruction
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || name == "node_modules" {
			continue
		}
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return instruction
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\nThe project scaffold already contains these top-level entries:\n")
	for _, name := range names {
		sb.WriteString("- ")
		sb.WriteString(name)
		sb.WriteString("\n")
	}
	sb.WriteString("Modify the existing scaffold rather than recreating it.")
	return sb.String()
}

var _ Adapter = (*ClaudeAdapter)(nil)
