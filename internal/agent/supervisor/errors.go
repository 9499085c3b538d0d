package supervisor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyStarted is returned by Start and Attach while the server is
// starting or running.
var ErrAlreadyStarted = errors.New("agent server already started")

// ErrNotRunning is returned by calls that need a running server.
var ErrNotRunning = errors.New("agent server is not running")

// errStoppedDuringStartup is returned by Start when Stop wins the race.
var errStoppedDuringStartup = errors.New("agent server stopped during startup")

// BinaryNotFoundError lists every location searched for the agent binary.
type BinaryNotFoundError struct {
	Searched []string
}

func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("goosed binary not found; searched: %s", strings.Join(e.Searched, ", "))
}

// ExitError reports that the agent process exited before it became ready.
type ExitError struct {
	Err error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "agent server exited during startup"
	}
	return fmt.Sprintf("agent server exited during startup: %v", e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
