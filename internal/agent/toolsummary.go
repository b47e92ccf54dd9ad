package agent

import (
	"fmt"
	"path"
	"strings"
)

// toolNameMapping collapses agent-native tool names to canonical verbs so
// observers see the same summary regardless of which agent ran the tool.
var toolNameMapping = map[string]string{
	// File operations
	"read_file": "Read", "read": "Read",
	"write_file": "Write", "write": "Write",
	"edit_file": "Edit", "replace": "Edit", "edit": "Edit",
	"delete": "Delete",

	// Terminal operations
	"shell":                "Bash",
	"run_terminal_command": "Bash",

	// Search operations
	"search_file_content": "Grep",
	"codebase_search":     "Grep", "grep": "Grep",
	"find_files": "Glob", "glob": "Glob",
	"list_directory": "LS", "list_dir": "LS", "ls": "LS",
	"semSearch": "SemSearch",

	// Web operations
	"google_web_search": "WebSearch",
	"web_search":        "WebSearch",
	"web_fetch":         "WebFetch",

	// Task/memory operations
	"save_memory": "SaveMemory",
}

// NormalizeToolName maps an agent-native tool name to its canonical verb.
// Unknown names pass through unchanged.
func NormalizeToolName(name string) string {
	if normalized, ok := toolNameMapping[name]; ok {
		return normalized
	}
	return name
}

// ToolSummary renders a short markdown summary for one tool invocation,
// keyed by the normalized tool name.
func ToolSummary(toolName string, input map[string]any) string {
	normalized := NormalizeToolName(toolName)

	switch normalized {
	case "Read", "Write", "Edit", "MultiEdit":
		if filePath := fileArg(input); filePath != "" {
			return fmt.Sprintf("**%s** `%s`", normalized, displayPath(filePath))
		}
		return fmt.Sprintf("**%s** `file`", normalized)

	case "Delete":
		if filePath := stringArg(input, "path"); filePath != "" {
			return fmt.Sprintf("**Delete** `%s`", displayPath(filePath))
		}
		return "**Delete** `file`"

	case "Bash":
		if cmd := firstStringArg(input, "command", "cmd", "script"); cmd != "" {
			return fmt.Sprintf("**Bash** `%s`", truncate(cmd, 40))
		}
		return "**Bash** `command`"

	case "Grep":
		pattern := firstStringArg(input, "pattern", "query", "search")
		searchPath := firstStringArg(input, "path", "file", "directory")
		if pattern != "" && searchPath != "" {
			return fmt.Sprintf("**Search** `%s` in `%s`", pattern, displayPath(searchPath))
		}
		if pattern != "" {
			return fmt.Sprintf("**Search** `%s`", pattern)
		}
		return "**Search** `pattern`"

	case "Glob":
		if pattern := firstStringArg(input, "pattern", "globPattern", "name"); pattern != "" {
			return fmt.Sprintf("**Glob** `%s`", pattern)
		}
		return "**Glob** `pattern`"

	case "LS":
		if dir := firstStringArg(input, "path", "directory", "dir"); dir != "" {
			return fmt.Sprintf("**LS** `%s`", displayPath(dir))
		}
		return "**LS** `directory`"

	case "TodoWrite":
		return "`Planning for next moves...`"

	case "SaveMemory":
		if fact := stringArg(input, "fact"); fact != "" {
			return fmt.Sprintf("**SaveMemory** `%s`", truncate(fact, 40))
		}
		return "**SaveMemory** `storing information`"

	case "SemSearch":
		if query := stringArg(input, "query"); query != "" {
			return fmt.Sprintf("**SemSearch** `%s`", truncate(query, 40))
		}
		return "**SemSearch** `query`"

	case "WebFetch":
		if url := stringArg(input, "url"); url != "" {
			return fmt.Sprintf("**WebFetch** [%s](%s)", urlDomain(url), url)
		}
		return "**WebFetch** `url`"

	case "WebSearch":
		if query := firstStringArg(input, "query", "search_query"); query != "" {
			return fmt.Sprintf("**WebSearch** `%s`", truncate(query, 40))
		}
		return "**WebSearch** `query`"

	case "Task":
		description := stringArg(input, "description")
		subagent := stringArg(input, "subagent_type")
		if description != "" && subagent != "" {
			return fmt.Sprintf("**Task** `%s`\n> %s", subagent, truncate(description, 50))
		}
		if description != "" {
			return fmt.Sprintf("**Task** `%s`", truncate(description, 40))
		}
		return "**Task** `subtask`"

	case "ExitPlanMode":
		return "**ExitPlanMode** `planning complete`"

	case "NotebookEdit":
		if nb := stringArg(input, "notebook_path"); nb != "" {
			return fmt.Sprintf("**NotebookEdit** `%s`", path.Base(nb))
		}
		return "**NotebookEdit** `notebook`"

	default:
		return fmt.Sprintf("**%s** `executing...`", toolName)
	}
}

// fileArg pulls the file path out of the varying argument names agents use.
func fileArg(input map[string]any) string {
	return firstStringArg(input, "file_path", "path", "file")
}

func stringArg(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	value, _ := input[key].(string)
	return value
}

func firstStringArg(input map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := stringArg(input, key); value != "" {
			return value
		}
	}
	return ""
}

// displayPath shortens long paths to their last two segments.
func displayPath(filePath string) string {
	cleaned := filepathToSlash(filePath)
	if len(cleaned) <= 40 {
		return cleaned
	}
	parts := strings.Split(cleaned, "/")
	if len(parts) < 2 {
		return cleaned
	}
	return "…/" + strings.Join(parts[len(parts)-2:], "/")
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func urlDomain(url string) string {
	trimmed := url
	if idx := strings.Index(trimmed, "//"); idx >= 0 {
		trimmed = trimmed[idx+2:]
	}
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}
