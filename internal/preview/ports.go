package preview

import (
	"fmt"
	"net"

	"github.com/appforge/appforge/internal/common/errors"
)

// portFree reports whether the port can be bound on the loopback interface.
func portFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// allocatePort linearly probes the inclusive range for the first bindable
// port, skipping ports already held by live preview records.
func allocatePort(start, end int, held map[int]bool) (int, error) {
	for port := start; port <= end; port++ {
		if held[port] {
			continue
		}
		if portFree(port) {
			return port, nil
		}
	}
	return 0, errors.PortExhausted(start, end)
}
