//go:build linux

package engine

import (
	"os/exec"
	"syscall"
)

// bindToParent kills the engine when this process dies.
func bindToParent(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}
