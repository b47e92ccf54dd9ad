// Package preview owns the lifecycle of one live dev-server process per
// project: dependency install behind a cross-process lock, port allocation,
// spawn and teardown, and log monitoring with error detection.
package preview

import (
	"strings"
	"sync"
)

const logBufferCap = 1000

// logBuffer is a bounded line buffer for one project's process output.
// Oldest lines are dropped first; empty lines and immediate repeats of the
// previous line are not stored.
type logBuffer struct {
	mu    sync.Mutex
	lines []string
}

func newLogBuffer() *logBuffer {
	return &logBuffer{lines: make([]string, 0, 64)}
}

// Append stores one line. Returns false when the line was suppressed as
// empty or an immediate duplicate.
func (b *logBuffer) Append(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.lines) > 0 && b.lines[len(b.lines)-1] == trimmed {
		return false
	}

	b.lines = append(b.lines, trimmed)
	if len(b.lines) > logBufferCap {
		b.lines = b.lines[len(b.lines)-logBufferCap:]
	}
	return true
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *logBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Tail returns the last n lines, or all lines when n exceeds the buffer.
func (b *logBuffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]string, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}

// Len returns the number of buffered lines.
func (b *logBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
