// ABOUTME: GET /api/workspaces/{id}/file?path=&token= serves a file from inside a workspace root
// ABOUTME: Paths that resolve outside the root, including through symlinks, are rejected

package fakebackend

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if s.opts.Token != "" && !s.tokenMatches(r.URL.Query().Get("token")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	ws := s.workspaceLocked(r.PathValue("id"))
	var root string
	if ws != nil {
		root = ws.Path
	}
	s.mu.Unlock()
	if ws == nil {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}

	path, err := resolveWorkspaceFile(root, r.URL.Query().Get("path"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(path))
	_, _ = w.Write(content)
}

var errOutsideWorkspace = errors.New("invalid file path")

// resolveWorkspaceFile returns the real path of rel under root.
func resolveWorkspaceFile(root, rel string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	realPath, err := filepath.EvalSymlinks(filepath.Join(realRoot, rel))
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	within, err := filepath.Rel(realRoot, realPath)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", errOutsideWorkspace
	}
	fi, err := os.Stat(realPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file metadata: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return "", errors.New("path is not a file")
	}
	return realPath, nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "svg":
		return "image/svg+xml"
	case "txt", "md", "json", "toml", "yaml", "yml":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
