//go:build windows

// ABOUTME: Windows has no forwardable signals; shutdown ends the process tree directly.

package supervisor

import (
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

func childProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func signalTree(pid int, _ os.Signal) error {
	return killTree(pid)
}

func killTree(pid int) error {
	for _, k := range descendants(pid) {
		if p, err := process.NewProcess(int32(k)); err == nil {
			_ = p.Kill()
		}
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func signalName(*os.ProcessState) string { return "" }
