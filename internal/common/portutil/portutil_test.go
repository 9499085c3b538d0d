package portutil

import (
	"net"
	"strconv"
	"testing"
)

func TestAllocatePort(t *testing.T) {
	port, err := AllocatePort()
	if err != nil {
		t.Fatalf("AllocatePort() failed: %v", err)
	}

	if port <= 0 || port > 65535 {
		t.Errorf("AllocatePort() returned invalid port: %d", port)
	}

	t.Logf("Allocated port: %d", port)
}

func TestAllocatePortUniqueness(t *testing.T) {
	// Hold each allocated port open so the OS cannot hand it out twice
	ports := make(map[int]bool)
	var listeners []net.Listener
	defer func() {
		for _, ln := range listeners {
			_ = ln.Close()
		}
	}()

	for i := 0; i < 10; i++ {
		port, err := AllocatePort()
		if err != nil {
			t.Fatalf("AllocatePort() failed on iteration %d: %v", i, err)
		}
		if ports[port] {
			t.Errorf("AllocatePort() returned duplicate port: %d", port)
		}
		ports[port] = true

		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil {
			listeners = append(listeners, ln)
		}
	}
}

func TestIsAvailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port
	if IsAvailable("127.0.0.1", port) {
		t.Errorf("IsAvailable() = true for port %d held by a listener", port)
	}
}
