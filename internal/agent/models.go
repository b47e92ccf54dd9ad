package agent

import (
	"go.uber.org/zap"

	"github.com/appforge/appforge/internal/common/logger"
)

// modelMapping translates unified model identifiers to agent-specific ones.
// Resolution order: exact unified-name match, then already-native
// passthrough, then best-effort passthrough with a warning.
var modelMapping = map[Kind]map[string]string{
	KindClaude: {
		"opus-4.1":  "claude-opus-4-1-20250805",
		"sonnet-4":  "claude-sonnet-4-20250514",
		"opus-4":    "claude-opus-4-20250514",
		"haiku-3.5": "claude-3-5-haiku-20241022",
		// claude-prefixed unified names
		"claude-sonnet-4":  "claude-sonnet-4-20250514",
		"claude-opus-4.1":  "claude-opus-4-1-20250805",
		"claude-opus-4":    "claude-opus-4-20250514",
		"claude-haiku-3.5": "claude-3-5-haiku-20241022",
	},
	KindCursor: {
		"gpt-5":             "gpt-5",
		"sonnet-4":          "sonnet-4",
		"opus-4.1":          "opus-4.1",
		"sonnet-4-thinking": "sonnet-4-thinking",
		// unified Claude model names
		"claude-sonnet-4":          "sonnet-4",
		"claude-opus-4.1":          "opus-4.1",
		"claude-sonnet-4-20250514": "sonnet-4",
		"claude-opus-4-1-20250805": "opus-4.1",
	},
}

// ResolveModel converts a unified model name to the agent-specific name for
// the given kind. Unknown names pass through unchanged with a warning so an
// agent-native name supplied directly still works.
func ResolveModel(kind Kind, model string, log *logger.Logger) string {
	if model == "" {
		return ""
	}

	mapping := modelMapping[kind]

	if mapped, ok := mapping[model]; ok {
		log.Debug("mapped model name",
			zap.String("agent", string(kind)),
			zap.String("model", model),
			zap.String("mapped", mapped))
		return mapped
	}

	// Already agent-specific
	for _, native := range mapping {
		if native == model {
			return model
		}
	}

	log.Warn("model not found in mapping, using as-is",
		zap.String("agent", string(kind)),
		zap.String("model", model))
	return model
}

// SupportedModels returns the unified and native model names the given
// agent kind accepts.
func SupportedModels(kind Kind) []string {
	mapping := modelMapping[kind]
	seen := make(map[string]bool, len(mapping)*2)
	models := make([]string, 0, len(mapping)*2)
	for unified, native := range mapping {
		if !seen[unified] {
			seen[unified] = true
			models = append(models, unified)
		}
		if !seen[native] {
			seen[native] = true
			models = append(models, native)
		}
	}
	return models
}

// ModelSupported reports whether the model name is known to the agent kind,
// either as a unified name or a native one.
func ModelSupported(kind Kind, model string) bool {
	mapping := modelMapping[kind]
	if _, ok := mapping[model]; ok {
		return true
	}
	for _, native := range mapping {
		if native == model {
			return true
		}
	}
	return false
}
