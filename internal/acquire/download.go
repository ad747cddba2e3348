// ABOUTME: Release URL construction and streaming download of the backend into the cache.
// ABOUTME: .gz and .zst assets are decompressed on the fly with klauspost/compress.

package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var errEmptyAsset = errors.New("release asset is empty")

// DownloadError reports a failed download. StatusCode is zero when the
// request itself failed.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("downloading %s: unexpected status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("downloading %s: %v", e.URL, e.Err)
	default:
		return "downloading " + e.URL
	}
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ReleaseURL joins a release base, tag and asset. GitLab-style bases
// ending in "/-/releases" get the "downloads" segment.
func ReleaseURL(base, tag, asset string) string {
	base = strings.TrimRight(base, "/")
	tag = url.PathEscape(tag)
	asset = url.PathEscape(asset)
	if strings.HasSuffix(base, "/-/releases") {
		return base + "/" + tag + "/downloads/" + asset
	}
	return base + "/" + tag + "/" + asset
}

// DownloadURL is where step four of the chain fetches the backend from.
func (a *Acquirer) DownloadURL() string {
	if u := a.getenv(EnvDownloadURL); u != "" {
		return u
	}
	base := a.getenv(EnvReleaseBase)
	if base == "" {
		base = a.opts.ReleaseBase
	}
	if base == "" {
		base = DefaultReleaseBase
	}
	tag := a.getenv(EnvReleaseTag)
	if tag == "" {
		tag = "v" + strings.TrimPrefix(a.opts.Version, "v")
	}
	asset := a.getenv(EnvAssetName)
	if asset == "" {
		asset = AssetName(a.opts.Platform)
	}
	return ReleaseURL(base, tag, asset)
}

func (a *Acquirer) download(ctx context.Context, dest string) error {
	src := a.DownloadURL()
	a.logger.Info("downloading backend", "url", src, "dest", dest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return &DownloadError{URL: src, Err: err}
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return &DownloadError{URL: src, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &DownloadError{URL: src, StatusCode: resp.StatusCode}
	}

	body, err := decompress(src, resp.Body)
	if err != nil {
		return &DownloadError{URL: src, Err: err}
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &DownloadError{URL: src, Err: err}
	}
	n, err := installFile(dest, body)
	if err != nil {
		return &DownloadError{URL: src, Err: err}
	}
	a.logger.Info("backend downloaded", "path", dest, "bytes", n)
	return nil
}

// decompress picks a decoder from the asset's extension.
func decompress(src string, r io.Reader) (io.ReadCloser, error) {
	name := src
	if u, err := url.Parse(src); err == nil {
		name = u.Path
	}
	switch {
	case strings.HasSuffix(name, ".gz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}
