// Package procutil holds platform-specific helpers for managing child
// process groups.
package procutil

import "os/exec"

// ConfigureProcessGroup places cmd in its own process group so the whole
// tree can be signalled together.
func ConfigureProcessGroup(cmd *exec.Cmd) {
	configureProcessGroup(cmd)
}

// TerminateTree asks the process group led by pid to exit.
func TerminateTree(pid int) error {
	return terminateTree(pid)
}

// KillTree forcibly ends the process group led by pid.
func KillTree(pid int) error {
	return killTree(pid)
}

// IsProcessAlive reports whether a process with the given pid exists.
func IsProcessAlive(pid int) bool {
	return isProcessAlive(pid)
}
