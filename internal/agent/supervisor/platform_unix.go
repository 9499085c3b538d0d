//go:build !windows

package supervisor

import (
	"syscall"
)

// gracefulStop sends SIGTERM to the agent's process group. The agent starts
// with Setpgid, so its pid is also its group id.
func gracefulStop(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		return syscall.Kill(pid, syscall.SIGTERM)
	}
	return nil
}

// forceKill sends SIGKILL to the whole process group.
func forceKill(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}
