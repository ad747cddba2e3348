// ABOUTME: Download cache layout <cache>/backend/<version>/<platform>/<name> and explicit pruning.

package acquire

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// CacheRoot is the directory holding every cached backend.
func (a *Acquirer) CacheRoot() string {
	dir := a.opts.CacheDir
	if dir == "" {
		dir = a.getenv(EnvCacheDir)
	}
	if dir == "" {
		if base, err := os.UserCacheDir(); err == nil {
			dir = filepath.Join(base, "codex-monitor-web")
		} else {
			dir = filepath.Join(os.TempDir(), "codex-monitor-web")
		}
	}
	return filepath.Join(dir, "backend")
}

// CachePath is the cache entry for the configured version and platform.
func (a *Acquirer) CachePath() string {
	return filepath.Join(a.CacheRoot(), a.opts.Version, a.opts.Platform, ExecutableName(a.opts.Platform))
}

// Prune removes every cached version other than keep and returns the
// versions it removed. Nothing calls it implicitly.
func (a *Acquirer) Prune(keep string) ([]string, error) {
	if keep == "" {
		return nil, errors.New("prune: a version to keep is required")
	}
	root := a.CacheRoot()
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache: %w", err)
	}

	var removed []string
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, entry.Name())
		a.logger.Info("pruned cached backend", "version", entry.Name())
	}
	return removed, errors.Join(errs...)
}
