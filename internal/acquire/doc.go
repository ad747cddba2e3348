// Package acquire finds or fetches the backend executable.
//
// Resolution walks a fixed chain and stops at the first hit:
//
//  1. Options.ExplicitPath, used as-is
//  2. CODEX_MONITOR_WEB_BACKEND_BIN
//  3. the download cache, <cache>/backend/<version>/<platform>/codex_monitor_web
//  4. a release download into that cache entry, unless downloads are skipped
//  5. codex_monitor_web or codex-monitor-web on PATH
//  6. `cargo run` against a source checkout's src-tauri/Cargo.toml
//
// A failed download is logged and the chain continues. When nothing
// matches, Resolve returns ErrBackendUnavailable with a remediation hint.
//
// Downloads are written to a pending file and renamed into place, so a
// cache entry is either absent or complete. The cache is never evicted
// automatically; Prune removes other versions on request.
package acquire
