//go:build unix

package main

import (
	"os/exec"
	"syscall"
)

// detach puts pylearnerd in its own process group so it outlives the shell.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
