package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// roleMapping normalizes the role names different agents emit.
var roleMapping = map[string]string{
	"model": RoleAssistant,
	"ai":    RoleAssistant,
	"bot":   RoleAssistant,
	"human": RoleUser,
}

// NormalizeRole maps an agent-specific role to a canonical one.
func NormalizeRole(role string) string {
	lowered := strings.ToLower(role)
	if mapped, ok := roleMapping[lowered]; ok {
		return mapped
	}
	return lowered
}

// ExtractContent produces the canonical content string for one event
// payload. The cases form a strict precedence chain: the first matching
// case wins and later cases are not applied even if also present.
//
//  1. structured content array (text + tool_use items)
//  2. simple content string
//  3. parts (Gemini-style)
//  4. choices (OpenAI-style)
//  5. direct text field
//  6. nested message
//  7. response field
//  8. delta streaming content
//  9. fallback stringification of the whole event
func ExtractContent(data map[string]any) string {
	if content, ok := data["content"]; ok {
		if items, ok := content.([]any); ok {
			return extractContentItems(items)
		}
		return stringify(content)
	}

	if parts, ok := data["parts"].([]any); ok {
		return extractParts(parts)
	}

	if choices, ok := data["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				return stringify(message["content"])
			}
			if text, ok := choice["text"]; ok {
				return stringify(text)
			}
		}
	}

	if text, ok := data["text"]; ok {
		return stringify(text)
	}

	if message, ok := data["message"]; ok {
		if nested, ok := message.(map[string]any); ok {
			return ExtractContent(nested)
		}
		return stringify(message)
	}

	if response, ok := data["response"]; ok {
		return stringify(response)
	}

	if delta, ok := data["delta"].(map[string]any); ok {
		if content, ok := delta["content"]; ok {
			return stringify(content)
		}
	}

	return stringifyEvent(data)
}

// extractContentItems concatenates a structured content array: text items
// verbatim, tool_use items through the tool-summary formatter.
func extractContentItems(items []any) string {
	var sb strings.Builder
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch item["type"] {
		case "text":
			if text, ok := item["text"].(string); ok {
				sb.WriteString(text)
			}
		case "tool_use":
			name, _ := item["name"].(string)
			if name == "" {
				name = "Unknown"
			}
			input, _ := item["input"].(map[string]any)
			sb.WriteString(ToolSummary(name, input))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// extractParts handles the parts format: text parts verbatim, function
// calls through the tool-summary formatter.
func extractParts(parts []any) string {
	var sb strings.Builder
	for _, raw := range parts {
		part, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := part["text"].(string); ok {
			sb.WriteString(text)
			continue
		}
		if call, ok := part["functionCall"].(map[string]any); ok {
			name, _ := call["name"].(string)
			if name == "" {
				name = "Unknown"
			}
			args, _ := call["args"].(map[string]any)
			sb.WriteString(ToolSummary(name, args))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func stringify(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

// stringifyEvent renders the whole payload as JSON, the final fallback when
// no known field matched.
func stringifyEvent(data map[string]any) string {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(encoded)
}
