//go:build !windows

// ABOUTME: Unix process-tree signalling and process-group setup for supervised children.

package supervisor

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Children get their own process group so a terminal's Ctrl-C reaches
// only the launcher, which then forwards it once.
func childProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func signalTree(pid int, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		s = unix.SIGTERM
	}
	kids := descendants(pid)
	err := unix.Kill(pid, s)
	for _, k := range kids {
		_ = unix.Kill(k, s)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func killTree(pid int) error {
	return signalTree(pid, unix.SIGKILL)
}

func signalName(state *os.ProcessState) string {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return unix.SignalName(ws.Signal())
}
