// Package portutil allocates local TCP ports for spawned agent servers.
package portutil

import (
	"fmt"
	"net"
)

// AllocatePort allocates an available port on the loopback interface using OS assignment.
// The listener is closed before returning, so the port is only reserved by convention;
// callers hand it to the child process immediately.
func AllocatePort() (int, error) {
	return AllocatePortOn("127.0.0.1")
}

// AllocatePortOn allocates an available port on the given host.
func AllocatePortOn(host string) (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

// IsAvailable reports whether host:port can currently be bound.
func IsAvailable(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
