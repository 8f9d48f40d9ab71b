//go:build !unix

package bridge

import (
	"errors"
	"os"
	"os/exec"
	"sync/atomic"
)

func configureProcess(cmd *exec.Cmd, killed *atomic.Bool) {
	cmd.Cancel = func() error {
		killed.Store(true)
		err := cmd.Process.Kill()
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}
}

// killProcessGroup is a no-op without process groups; the tool itself has
// already been waited for.
func killProcessGroup(*exec.Cmd) error {
	return nil
}
