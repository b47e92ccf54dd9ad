package preview

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/appforge/internal/common/errors"
)

func TestAllocatePort_WithinRange(t *testing.T) {
	port, err := allocatePort(34100, 34110, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 34100)
	assert.LessOrEqual(t, port, 34110)
}

func TestAllocatePort_SkipsHeldPorts(t *testing.T) {
	held := map[int]bool{34200: true, 34201: true}
	port, err := allocatePort(34200, 34210, held)
	require.NoError(t, err)
	assert.False(t, held[port], "allocated port must not be held by a live record")
	assert.GreaterOrEqual(t, port, 34202)
}

func TestAllocatePort_SkipsBoundPorts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	bound := ln.Addr().(*net.TCPAddr).Port

	port, err := allocatePort(bound, bound+5, nil)
	require.NoError(t, err)
	assert.NotEqual(t, bound, port)
}

func TestAllocatePort_Exhausted(t *testing.T) {
	held := map[int]bool{34300: true, 34301: true, 34302: true}
	_, err := allocatePort(34300, 34302, held)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePortExhausted))
}

func TestPortFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	assert.False(t, portFree(port), fmt.Sprintf("port %d is bound", port))
	ln.Close()
	assert.True(t, portFree(port))
}
