// ABOUTME: Platform keys and asset names for release downloads and the cache layout.
// ABOUTME: Keys use node-style os/arch names so they match the published npm package assets.

package acquire

import (
	"runtime"
	"strings"
)

// BinaryName is the backend executable's base name.
const BinaryName = "codex_monitor_web"

// Platform returns the key for the running OS and architecture, such as
// "linux-x64" or "darwin-arm64".
func Platform() string {
	return PlatformKey(runtime.GOOS, runtime.GOARCH)
}

// PlatformKey maps a GOOS/GOARCH pair onto the release naming scheme.
func PlatformKey(goos, goarch string) string {
	switch goos {
	case "windows":
		goos = "win32"
	}
	switch goarch {
	case "amd64":
		goarch = "x64"
	case "386":
		goarch = "ia32"
	}
	return goos + "-" + goarch
}

func isWindowsPlatform(platform string) bool {
	return strings.HasPrefix(platform, "win32-")
}

// ExecutableName is the backend's file name on platform.
func ExecutableName(platform string) string {
	if isWindowsPlatform(platform) {
		return BinaryName + ".exe"
	}
	return BinaryName
}

// AssetName is the default release asset for platform.
func AssetName(platform string) string {
	name := BinaryName + "-" + platform
	if isWindowsPlatform(platform) {
		name += ".exe"
	}
	return name
}
