package port

import (
	"fmt"
	"net"

	"github.com/pozicube/logdy-runner/internal/model"
)

// Scanner checks whether specific TCP ports are available on the host.
//
// It uses net.Listen to determine if a port is free. This is the most
// reliable method because it asks the OS directly, rather than parsing
// /proc/net/* or relying on external commands like `lsof` or `ss`.
type Scanner struct {
	// host is the bind address used for probing. Empty means all
	// interfaces, which also catches listeners bound to 127.0.0.1 only.
	host string
}

// NewScanner creates a Scanner probing all interfaces.
func NewScanner() *Scanner {
	return &Scanner{}
}

// NewScannerForHost creates a Scanner that probes a specific bind address,
// e.g. "127.0.0.1".
func NewScannerForHost(host string) *Scanner {
	return &Scanner{host: host}
}

// IsPortAvailable checks whether a single TCP port is free.
//
// If the bind succeeds the port is available and the listener is closed
// before returning. Ports outside 1-65535 are reported as unavailable.
func (s *Scanner) IsPortAvailable(port int) bool {
	if port < 1 || port > model.MaxPort {
		return false
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(s.host, fmt.Sprint(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// FindAvailablePort scans the range in ascending order and returns the first
// free port. The ordering is deterministic, so the same free port is picked
// consistently for the same host state.
func (s *Scanner) FindAvailablePort(r model.PortRange) (int, error) {
	for p := r.Start; p <= r.End; p++ {
		if s.IsPortAvailable(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("no available port found in range %s", r)
}

// UsedPorts returns the ports inside the range that are currently bound.
// It backs the `ports` command, which reports occupancy of the configured
// range together with the owner of each port.
func (s *Scanner) UsedPorts(r model.PortRange) []int {
	var used []int
	for p := r.Start; p <= r.End; p++ {
		if !s.IsPortAvailable(p) {
			used = append(used, p)
		}
	}
	return used
}
