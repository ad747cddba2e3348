// ABOUTME: Acquirer resolves the backend executable through a fixed fallback chain.
// ABOUTME: explicit path > env > cache > download > PATH > cargo source checkout.

package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"time"
)

// Environment variables read by the Acquirer.
const (
	EnvBackendBin     = "CODEX_MONITOR_WEB_BACKEND_BIN"
	EnvDownloadURL    = "CODEX_MONITOR_WEB_DOWNLOAD_URL"
	EnvReleaseBase    = "CODEX_MONITOR_WEB_RELEASE_BASE"
	EnvReleaseTag     = "CODEX_MONITOR_WEB_RELEASE_TAG"
	EnvAssetName      = "CODEX_MONITOR_WEB_ASSET_NAME"
	EnvCacheDir       = "CODEX_MONITOR_WEB_CACHE_DIR"
	EnvSkipDownload   = "CODEX_MONITOR_WEB_SKIP_DOWNLOAD"
	EnvStrictDownload = "CODEX_MONITOR_WEB_STRICT_DOWNLOAD"
)

// DefaultReleaseBase is where release assets are published.
const DefaultReleaseBase = "https://github.com/abigmiu/codex-monitor-webui/releases/download"

const defaultDownloadTimeout = 5 * time.Minute

// ErrBackendUnavailable means no source in the chain produced a backend.
var ErrBackendUnavailable = errors.New("backend executable unavailable")

// remediation is appended to ErrBackendUnavailable.
const remediation = "set " + EnvBackendBin + ", run `codex-monitor-web install`, or put " +
	BinaryName + " on PATH"

// pathNames are looked up on PATH, in order.
var pathNames = []string{"codex_monitor_web", "codex-monitor-web"}

// Source records which step of the chain produced a Descriptor.
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceEnv      Source = "env"
	SourceCache    Source = "cache"
	SourceDownload Source = "download"
	SourcePath     Source = "path"
	SourceCargo    Source = "cargo"
)

// Descriptor is everything needed to start the backend. It is not
// modified after Resolve returns it.
type Descriptor struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Source  Source
}

// WithArgs returns a copy of d with args appended.
func (d Descriptor) WithArgs(args ...string) Descriptor {
	d.Args = append(slices.Clone(d.Args), args...)
	d.Env = slices.Clone(d.Env)
	return d
}

// Options configures an Acquirer. The zero value resolves against the real
// environment with downloads enabled.
type Options struct {
	// ExplicitPath short-circuits the chain. It is not validated.
	ExplicitPath string
	// Version selects the cache entry and the default release tag.
	Version string
	// CacheDir overrides EnvCacheDir and the user cache directory.
	CacheDir string
	// SourceDir is a source checkout used for the cargo fallback.
	SourceDir string
	// ReleaseBase overrides DefaultReleaseBase; EnvReleaseBase still wins.
	ReleaseBase string
	// SkipDownload disables step four, as does EnvSkipDownload.
	SkipDownload bool
	// Platform overrides Platform().
	Platform string

	HTTPClient *http.Client
	Getenv     func(string) string
	LookPath   func(string) (string, error)
	Logger     *slog.Logger
}

// Acquirer locates or downloads the backend.
type Acquirer struct {
	opts     Options
	getenv   func(string) string
	lookPath func(string) (string, error)
	client   *http.Client
	logger   *slog.Logger
}

// New creates an Acquirer.
func New(opts Options) *Acquirer {
	a := &Acquirer{
		opts:     opts,
		getenv:   opts.Getenv,
		lookPath: opts.LookPath,
		client:   opts.HTTPClient,
		logger:   opts.Logger,
	}
	if a.getenv == nil {
		a.getenv = os.Getenv
	}
	if a.lookPath == nil {
		a.lookPath = exec.LookPath
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: defaultDownloadTimeout}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "acquire")
	if a.opts.Version == "" {
		a.opts.Version = "dev"
	}
	if a.opts.Platform == "" {
		a.opts.Platform = Platform()
	}
	return a
}

// Resolve walks the chain and returns the first backend it finds.
func (a *Acquirer) Resolve(ctx context.Context) (*Descriptor, error) {
	if a.opts.ExplicitPath != "" {
		return a.found(&Descriptor{Command: a.opts.ExplicitPath, Source: SourceExplicit}), nil
	}
	if bin := a.getenv(EnvBackendBin); bin != "" {
		return a.found(&Descriptor{Command: bin, Source: SourceEnv}), nil
	}

	cached := a.CachePath()
	if usable(cached) {
		return a.found(&Descriptor{Command: cached, Source: SourceCache}), nil
	}

	if a.downloadAllowed() {
		if err := a.download(ctx, cached); err != nil {
			a.logger.Warn("backend download failed, trying other sources", "error", err)
		} else {
			return a.found(&Descriptor{Command: cached, Source: SourceDownload}), nil
		}
	}

	for _, name := range pathNames {
		if p, err := a.lookPath(name); err == nil {
			return a.found(&Descriptor{Command: p, Source: SourcePath}), nil
		}
	}

	if d, ok := a.cargoFallback(); ok {
		return a.found(d), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, remediation)
}

func (a *Acquirer) found(d *Descriptor) *Descriptor {
	a.logger.Info("backend resolved", "source", d.Source, "command", d.Command)
	return d
}

func (a *Acquirer) downloadAllowed() bool {
	return !a.opts.SkipDownload && !truthy(a.getenv(EnvSkipDownload))
}

func (a *Acquirer) cargoFallback() (*Descriptor, bool) {
	if a.opts.SourceDir == "" {
		return nil, false
	}
	manifest := filepath.Join(a.opts.SourceDir, "src-tauri", "Cargo.toml")
	if fi, err := os.Stat(manifest); err != nil || !fi.Mode().IsRegular() {
		return nil, false
	}
	cargo, err := a.lookPath("cargo")
	if err != nil {
		a.logger.Debug("source checkout found but cargo is not on PATH", "manifest", manifest)
		return nil, false
	}
	return &Descriptor{
		Command: cargo,
		Args:    []string{"run", "--manifest-path", manifest, "--bin", BinaryName, "--"},
		Dir:     a.opts.SourceDir,
		Source:  SourceCargo,
	}, true
}

// Install downloads the backend into the cache even when one is available
// on PATH. An existing cache entry is kept. Failures are returned only
// when strict is set; otherwise they are logged and Install returns "".
func (a *Acquirer) Install(ctx context.Context, strict bool) (string, error) {
	cached := a.CachePath()
	if usable(cached) {
		a.logger.Info("backend already installed", "path", cached)
		return cached, nil
	}
	if !a.downloadAllowed() {
		a.logger.Info("backend download skipped", "env", EnvSkipDownload)
		return "", nil
	}
	if err := a.download(ctx, cached); err != nil {
		if strict {
			return "", err
		}
		a.logger.Warn("backend download failed", "error", err)
		return "", nil
	}
	return cached, nil
}

// StrictFromEnv reports whether EnvStrictDownload is set to a true value.
func (a *Acquirer) StrictFromEnv() bool {
	return truthy(a.getenv(EnvStrictDownload))
}

func truthy(v string) bool {
	switch v {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	}
	return false
}

// usable reports whether path is a non-empty regular file we may execute.
func usable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
		return false
	}
	return isExecutable(path)
}
