//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

// detachProcess starts the daemon in a new process group, away from the console.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
