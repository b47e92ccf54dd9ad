// Package validation sanitizes externally supplied strings before they
// reach a process boundary. Violations are rejected, never auto-corrected.
package validation

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/appforge/appforge/internal/common/errors"
)

const (
	// MaxArgumentLength caps non-freeform CLI arguments.
	MaxArgumentLength = 10000

	// MaxMessageLength caps freeform message content.
	MaxMessageLength = 100000

	// MaxCommandArgs caps the number of argv elements.
	MaxCommandArgs = 50
)

// dangerousPatterns are rejected in non-freeform CLI arguments.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile("[;&|`$()]"),         // command injection characters
	regexp.MustCompile(`\.\.`),              // directory traversal
	regexp.MustCompile(`(?i)rm\s+`),         // delete commands
	regexp.MustCompile(`(?i)del\s+`),        // Windows delete
	regexp.MustCompile(`(?i)format\s+`),     // format commands
	regexp.MustCompile(`(?i)shutdown`),      // system shutdown
	regexp.MustCompile(`(?i)reboot`),        // system reboot
}

// catastrophicPatterns are rejected even in freeform message content.
// Natural-language instructions legitimately contain punctuation, so only
// unambiguously destructive command strings are denied here.
var catastrophicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf\s+/`),
	regexp.MustCompile(`(?i)del\s+/[sq]`),
	regexp.MustCompile(`(?i)format\s+c:`),
	regexp.MustCompile(`(?i)shutdown\s+`),
	regexp.MustCompile(`(?i)reboot\s+`),
	regexp.MustCompile(`(?i)sudo\s+rm`),
}

var modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9\-._]+$`)

// messageFlags mark the argv element whose successor is freeform content.
var messageFlags = map[string]bool{
	"-p":        true,
	"--message": true,
}

// SanitizeArgument validates a single CLI argument. When freeform is true
// the narrower catastrophic denylist and the larger length cap apply, since
// the value is natural-language message content rather than a flag value.
func SanitizeArgument(value string, freeform bool) (string, error) {
	if freeform {
		return sanitizeMessageContent(value)
	}

	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(value) {
			return "", errors.Validation("argument", "potentially dangerous pattern detected: "+pattern.String())
		}
	}

	// Strip null bytes and normalize newlines to spaces
	sanitized := strings.ReplaceAll(value, "\x00", "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	sanitized = strings.ReplaceAll(sanitized, "\n", " ")

	if containsControlChars(sanitized) {
		return "", errors.Validation("argument", "control characters are not allowed")
	}

	if len(sanitized) > MaxArgumentLength {
		return "", errors.Validation("argument", "argument too long (max 10000 characters)")
	}

	return strings.TrimSpace(sanitized), nil
}

// sanitizeMessageContent validates freeform message content.
func sanitizeMessageContent(message string) (string, error) {
	sanitized := strings.TrimSpace(strings.ReplaceAll(message, "\x00", ""))

	if sanitized == "" {
		return "", errors.Validation("message", "message cannot be empty")
	}

	if len(sanitized) > MaxMessageLength {
		return "", errors.Validation("message", "message too long (max 100000 characters)")
	}

	for _, pattern := range catastrophicPatterns {
		if pattern.MatchString(sanitized) {
			return "", errors.Validation("message", "potentially dangerous command detected: "+pattern.String())
		}
	}

	return sanitized, nil
}

// ValidateCommand validates a full argv list. The element immediately
// following a recognized message flag is sanitized as freeform content;
// everything else gets the strict argument sanitizer. Elements are never
// dropped: the result has the same length as the input or the whole
// command is rejected.
func ValidateCommand(argv []string) ([]string, error) {
	if len(argv) == 0 {
		return nil, errors.Validation("command", "command cannot be empty")
	}
	if len(argv) > MaxCommandArgs {
		return nil, errors.Validation("command", "command has too many arguments (max 50)")
	}

	sanitized := make([]string, 0, len(argv))
	for i, arg := range argv {
		freeform := i > 0 && messageFlags[argv[i-1]]
		value, err := SanitizeArgument(arg, freeform)
		if err != nil {
			return nil, err
		}
		sanitized = append(sanitized, value)
	}

	return sanitized, nil
}

// ValidateModelName validates an AI model identifier.
func ValidateModelName(model string) (string, error) {
	trimmed := strings.TrimSpace(model)
	if trimmed == "" {
		return "", errors.Validation("model", "model name cannot be empty")
	}
	if !modelNamePattern.MatchString(trimmed) {
		return "", errors.Validation("model", "invalid model name format")
	}
	if len(trimmed) > 100 {
		return "", errors.Validation("model", "model name too long (max 100 characters)")
	}
	return trimmed, nil
}

// ValidateRelativePath rejects absolute paths and any path containing a
// parent-directory segment.
func ValidateRelativePath(path string) (string, error) {
	sanitized, err := SanitizeArgument(path, false)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(sanitized) {
		return "", errors.Validation("path", "absolute paths not allowed")
	}
	for _, part := range strings.Split(filepath.ToSlash(sanitized), "/") {
		if part == ".." {
			return "", errors.Validation("path", "directory traversal not allowed")
		}
	}
	return sanitized, nil
}

// containsControlChars reports whether s contains control characters other
// than tab.
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 0x20 && r != '\t' {
			return true
		}
		if r == 0x7f {
			return true
		}
	}
	return false
}
