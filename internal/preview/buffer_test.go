package preview

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogBuffer_AppendAndRead(t *testing.T) {
	b := newLogBuffer()

	assert.True(t, b.Append("first"))
	assert.True(t, b.Append("  second  "))
	assert.Equal(t, []string{"first", "second"}, b.Lines())
}

func TestLogBuffer_SuppressesEmptyAndDuplicates(t *testing.T) {
	b := newLogBuffer()

	assert.False(t, b.Append(""))
	assert.False(t, b.Append("   "))
	assert.True(t, b.Append("same"))
	assert.False(t, b.Append("same"))
	assert.True(t, b.Append("different"))
	assert.True(t, b.Append("same"), "non-consecutive repeat is kept")

	assert.Equal(t, 3, b.Len())
}

func TestLogBuffer_Bounded(t *testing.T) {
	b := newLogBuffer()
	for i := 0; i < logBufferCap+100; i++ {
		b.Append(fmt.Sprintf("line-%d", i))
	}

	lines := b.Lines()
	assert.Len(t, lines, logBufferCap, "buffer never exceeds its bound")
	assert.Equal(t, "line-100", lines[0], "oldest entries dropped first")
	assert.Equal(t, fmt.Sprintf("line-%d", logBufferCap+99), lines[len(lines)-1])
}

func TestLogBuffer_Tail(t *testing.T) {
	b := newLogBuffer()
	for i := 0; i < 10; i++ {
		b.Append(fmt.Sprintf("line-%d", i))
	}

	assert.Equal(t, []string{"line-7", "line-8", "line-9"}, b.Tail(3))
	assert.Len(t, b.Tail(100), 10, "oversized tail returns everything")
	assert.Len(t, b.Tail(0), 10)
}
