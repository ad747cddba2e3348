//go:build !windows

// ABOUTME: Atomic install of a downloaded backend on unix using renameio.

package acquire

import (
	"fmt"
	"io"

	"github.com/google/renameio/v2"
)

// installFile streams r into dest. dest only ever holds a complete file:
// the data is written to a pending file next to it, synced, then renamed.
func installFile(dest string, r io.Reader) (int64, error) {
	pending, err := renameio.NewPendingFile(dest, renameio.WithPermissions(0o755))
	if err != nil {
		return 0, fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	n, err := io.Copy(pending, r)
	if err != nil {
		return n, fmt.Errorf("write backend: %w", err)
	}
	if n == 0 {
		return 0, errEmptyAsset
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return n, fmt.Errorf("atomically replace %s: %w", dest, err)
	}
	return n, nil
}
