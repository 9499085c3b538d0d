//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"strconv"
)

// gracefulStop kills the agent and every descendant. Windows has no process
// group signal the agent would honour, so this is already forceful.
func gracefulStop(pid int) error {
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}

// forceKill terminates the agent process itself.
func forceKill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
