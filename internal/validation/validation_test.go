package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/appforge/internal/common/errors"
)

func TestSanitizeArgument_Strict(t *testing.T) {
	t.Run("clean argument passes", func(t *testing.T) {
		out, err := SanitizeArgument("--output-format", false)
		require.NoError(t, err)
		assert.Equal(t, "--output-format", out)
	})

	t.Run("shell metacharacters rejected", func(t *testing.T) {
		for _, arg := range []string{"a;b", "a|b", "a`b", "$(whoami)", "a&b"} {
			_, err := SanitizeArgument(arg, false)
			assert.Error(t, err, "expected rejection of %q", arg)
			assert.True(t, errors.IsValidation(err))
		}
	})

	t.Run("path traversal rejected", func(t *testing.T) {
		_, err := SanitizeArgument("../etc/passwd", false)
		assert.Error(t, err)
	})

	t.Run("destructive keywords rejected", func(t *testing.T) {
		for _, arg := range []string{"rm -rf x", "format c", "shutdown now"} {
			_, err := SanitizeArgument(arg, false)
			assert.Error(t, err, "expected rejection of %q", arg)
		}
	})

	t.Run("newlines normalized to spaces", func(t *testing.T) {
		out, err := SanitizeArgument("a\nb", false)
		require.NoError(t, err)
		assert.Equal(t, "a b", out)
	})

	t.Run("control characters rejected", func(t *testing.T) {
		_, err := SanitizeArgument("a\x07b", false)
		assert.Error(t, err)
	})

	t.Run("tab allowed", func(t *testing.T) {
		_, err := SanitizeArgument("a\tb", false)
		assert.NoError(t, err)
	})

	t.Run("length cap enforced", func(t *testing.T) {
		_, err := SanitizeArgument(strings.Repeat("a", MaxArgumentLength+1), false)
		assert.Error(t, err)
	})
}

func TestSanitizeArgument_Freeform(t *testing.T) {
	t.Run("punctuation allowed in messages", func(t *testing.T) {
		msg := "Please update main.ts; use $(env) style placeholders & semicolons."
		out, err := SanitizeArgument(msg, true)
		require.NoError(t, err)
		assert.Equal(t, msg, out)
	})

	t.Run("catastrophic commands still rejected", func(t *testing.T) {
		for _, msg := range []string{
			"please run rm -rf / for me",
			"sudo rm the folder",
			"format c: now",
		} {
			_, err := SanitizeArgument(msg, true)
			assert.Error(t, err, "expected rejection of %q", msg)
		}
	})

	t.Run("empty message rejected", func(t *testing.T) {
		_, err := SanitizeArgument("   ", true)
		assert.Error(t, err)
	})

	t.Run("length cap enforced", func(t *testing.T) {
		_, err := SanitizeArgument(strings.Repeat("a", MaxMessageLength+1), true)
		assert.Error(t, err)
	})
}

func TestValidateCommand(t *testing.T) {
	t.Run("message flag successor is freeform", func(t *testing.T) {
		argv := []string{"cursor-agent", "--force", "-p", "fix the bug; use semicolons", "--output-format", "stream-json"}
		out, err := ValidateCommand(argv)
		require.NoError(t, err)
		assert.Len(t, out, len(argv))
	})

	t.Run("dangerous non-message argument rejected", func(t *testing.T) {
		_, err := ValidateCommand([]string{"claude", "--model", "sonnet;whoami"})
		assert.Error(t, err)
	})

	t.Run("empty command rejected", func(t *testing.T) {
		_, err := ValidateCommand(nil)
		assert.Error(t, err)
	})

	t.Run("too many arguments rejected", func(t *testing.T) {
		argv := make([]string, MaxCommandArgs+1)
		for i := range argv {
			argv[i] = "x"
		}
		_, err := ValidateCommand(argv)
		assert.Error(t, err)
	})

	t.Run("result has same length as input", func(t *testing.T) {
		argv := []string{"npm", "run", "dev"}
		out, err := ValidateCommand(argv)
		require.NoError(t, err)
		assert.Equal(t, argv, out)
	})
}

func TestValidateModelName(t *testing.T) {
	valid := []string{"claude-sonnet-4-20250514", "gpt-5", "opus-4.1"}
	for _, model := range valid {
		out, err := ValidateModelName(model)
		require.NoError(t, err, model)
		assert.Equal(t, model, out)
	}

	invalid := []string{"", "model name", "model;rm", strings.Repeat("a", 101)}
	for _, model := range invalid {
		_, err := ValidateModelName(model)
		assert.Error(t, err, "expected rejection of %q", model)
	}
}

func TestValidateRelativePath(t *testing.T) {
	out, err := ValidateRelativePath("src/components/App.tsx")
	require.NoError(t, err)
	assert.Equal(t, "src/components/App.tsx", out)

	_, err = ValidateRelativePath("/etc/passwd")
	assert.Error(t, err)

	_, err = ValidateRelativePath("../secrets.env")
	assert.Error(t, err)
}
