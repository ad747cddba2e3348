//go:build windows

// ABOUTME: Install of a downloaded backend on Windows via temp file and rename.

package acquire

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// installFile streams r into dest through a temporary file in the same
// directory. renameio does not support Windows.
func installFile(dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write backend: %w", err)
	}
	if n == 0 {
		return 0, errEmptyAsset
	}
	_ = os.Remove(dest)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return n, fmt.Errorf("replace %s: %w", dest, err)
	}
	return n, nil
}
