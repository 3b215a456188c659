//go:build windows

package procutil

import (
	"errors"
	"os/exec"
	"strconv"
	"syscall"
)

func configureProcessGroup(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= syscall.CREATE_NEW_PROCESS_GROUP
}

// Windows has no graceful group signal for console-less children, so both
// paths go through taskkill.
func terminateTree(pid int) error {
	return taskkill(pid, false)
}

func killTree(pid int) error {
	return taskkill(pid, true)
}

func taskkill(pid int, force bool) error {
	if pid <= 0 {
		return errors.New("invalid pid")
	}
	args := []string{"/pid", strconv.Itoa(pid), "/t"}
	if force {
		args = append(args, "/f")
	}
	return exec.Command("taskkill", args...).Run()
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	handle, err := syscall.OpenProcess(syscall.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer syscall.CloseHandle(handle)
	return true
}
