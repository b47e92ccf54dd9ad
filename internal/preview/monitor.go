package preview

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/appforge/appforge/internal/common/logger"
)

// Publisher delivers preview events to live observers. Implemented by the
// websocket hub; delivery is best-effort.
type Publisher interface {
	Publish(projectID string, eventType string, data any)
}

// Ordered pattern sets. Order matters: the first matching pattern wins.
var errorPatterns = []string{
	"Build Error",
	"Failed to compile",
	"Syntax Error",
	"TypeError:",
	"ReferenceError:",
	"Module not found",
	"Expected",
	"⨯",
	"Error:",
	"runtime error",
	"Runtime Error",
	"Uncaught",
	"Cannot read",
	"Cannot access",
	"is not defined",
	"is not a function",
	"Cannot resolve module",
	"Error occurred prerendering",
	"Unhandled Runtime Error",
	"GET / 500",
	"POST / 500",
	"Internal server error",
	"Application error",
}

var successPatterns = []string{
	"✓ Ready in",
	"○ Compiling",
	"✓ Compiled",
	"✓ Starting",
}

// relatedKeywords gate which lines join an open error context block.
var relatedKeywords = []string{
	"error", "failed", "expected", "at ", "module",
	"cannot", "uncaught", "undefined", "null",
}

const (
	errorContextCap = 15
	errorDedupFor   = 5 * time.Second
	contextPreview  = 5
)

var (
	timestampPattern = regexp.MustCompile(`\d{2}:\d{2}:\d{2}`)
	locationPattern  = regexp.MustCompile(`at .*?:\d+:\d+`)
)

// errorID derives a stable id from an error line: timestamps and file:line
// locations are stripped first so reformatted retries of the same error
// dedup to the same id.
func errorID(line string) string {
	core := strings.TrimSpace(line)
	core = timestampPattern.ReplaceAllString(core, "")
	core = locationPattern.ReplaceAllString(core, "")
	sum := md5.Sum([]byte(core))
	return hex.EncodeToString(sum[:])[:8]
}

// logMonitor watches one dev-server process's combined output for error and
// success markers. Not safe for concurrent use; one monitor goroutine owns
// each instance.
type logMonitor struct {
	projectID string
	buffer    *logBuffer
	publisher Publisher
	logger    *logger.Logger

	currentError string
	errorLines   []string
	recentErrors map[string]time.Time

	now func() time.Time
}

func newLogMonitor(projectID string, buffer *logBuffer, publisher Publisher, log *logger.Logger) *logMonitor {
	return &logMonitor{
		projectID:    projectID,
		buffer:       buffer,
		publisher:    publisher,
		logger:       log.WithProjectID(projectID),
		recentErrors: make(map[string]time.Time),
		now:          time.Now,
	}
}

// run consumes the process output until EOF or cancellation, then flushes
// any open error block. Blocking reads stay on this goroutine.
func (m *logMonitor) run(ctx context.Context, output io.Reader) {
	scanner := bufio.NewScanner(output)
	scanner.Buffer(make([]byte, 0, 16*1024), 256*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		m.processLine(scanner.Text())
	}

	m.flushError()
	m.logger.Debug("log monitor stopped")
}

// processLine runs one line through the detection pipeline: buffer with
// duplicate suppression, success markers, error markers, context
// accumulation.
func (m *logMonitor) processLine(line string) {
	if !m.buffer.Append(line) {
		return
	}
	trimmed := strings.TrimSpace(line)

	for _, pattern := range successPatterns {
		if strings.Contains(line, pattern) {
			m.flushError()
			m.publisher.Publish(m.projectID, "preview_success", map[string]any{
				"message":   trimmed,
				"timestamp": m.now().UnixMilli(),
			})
			return
		}
	}

	for _, pattern := range errorPatterns {
		if strings.Contains(line, pattern) {
			m.flushError()
			m.currentError = errorID(trimmed)
			m.errorLines = []string{trimmed}
			return
		}
	}

	// Non-matching lines extend an open block only when they look related.
	if m.currentError == "" {
		return
	}
	lowered := strings.ToLower(line)
	for _, keyword := range relatedKeywords {
		if strings.Contains(lowered, keyword) {
			m.errorLines = append(m.errorLines, trimmed)
			if len(m.errorLines) > errorContextCap {
				m.flushError()
			}
			return
		}
	}
}

// flushError emits the accumulated error block, if any, and clears the
// accumulation state. Re-emission of the same error id within the dedup
// window is suppressed.
func (m *logMonitor) flushError() {
	if m.currentError == "" || len(m.errorLines) == 0 {
		m.currentError = ""
		m.errorLines = nil
		return
	}

	id := m.currentError
	lines := m.errorLines
	m.currentError = ""
	m.errorLines = nil

	if !m.shouldSend(id) {
		return
	}

	contextLines := lines
	if len(contextLines) > contextPreview {
		contextLines = contextLines[:contextPreview]
	}

	m.publisher.Publish(m.projectID, "preview_error", map[string]any{
		"id":        id,
		"message":   truncateOutputHead(lines[0], 200),
		"context":   strings.Join(contextLines, "\n"),
		"timestamp": m.now().UnixMilli(),
	})
	m.logger.Debug("preview error published",
		zap.String("error_id", id),
		zap.Int("context_lines", len(lines)))
}

// shouldSend records the emission time for an error id and reports whether
// it may be emitted, suppressing repeats inside the dedup window. Entries
// past the window are dropped so the map stays bounded over a long-lived
// server.
func (m *logMonitor) shouldSend(id string) bool {
	now := m.now()
	for past, last := range m.recentErrors {
		if now.Sub(last) >= errorDedupFor {
			delete(m.recentErrors, past)
		}
	}
	if _, ok := m.recentErrors[id]; ok {
		return false
	}
	m.recentErrors[id] = now
	return true
}

func truncateOutputHead(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
