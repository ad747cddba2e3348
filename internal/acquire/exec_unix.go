//go:build !windows

// ABOUTME: Exec-bit check for cached backends on unix via access(2).

package acquire

import "golang.org/x/sys/unix"

func isExecutable(path string) bool {
	return unix.Access(path, unix.X_OK) == nil
}
