//go:build unix

package bridge

import (
	"errors"
	"os/exec"
	"sync/atomic"
	"syscall"
)

// configureProcess starts the child in its own process group so a timeout
// kills the tool together with anything it spawned.
func configureProcess(cmd *exec.Cmd, killed *atomic.Bool) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		killed.Store(true)
		return killProcessGroup(cmd)
	}
}

// killProcessGroup kills every process left in the tool's group. The group
// id stays reserved while any member is alive, so this is safe after Wait.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
