//go:build windows

// ABOUTME: Exec-bit check stub for Windows.

package acquire

// Windows has no exec bit; any regular file is runnable by extension.
func isExecutable(string) bool { return true }
