// ABOUTME: Resolves where the backend lives and derives its /rpc and file-retrieval URLs.
// ABOUTME: Precedence: explicit override > environment > runtime-injected > same-origin > default.

package target

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	// EnvBackendURL overrides the backend base address.
	EnvBackendURL = "CODEX_MONITOR_WEB_BACKEND_URL"

	// DefaultAddr is the daemon's default listen address.
	DefaultAddr = "127.0.0.1:4732"
)

// ErrInvalidAddress is returned when a configured address cannot be parsed.
var ErrInvalidAddress = errors.New("invalid backend address")

// Source names the precedence level a Target was resolved from.
type Source string

const (
	SourceOverride Source = "override"
	SourceEnv      Source = "env"
	SourceInjected Source = "injected"
	SourceOrigin   Source = "origin"
	SourceDefault  Source = "default"
)

// Inputs are the candidate addresses, any of which may be empty.
type Inputs struct {
	// Override is an explicit caller-supplied address (flag, option).
	Override string
	// Getenv looks up environment variables. Nil means no environment.
	Getenv func(string) string
	// Injected is an address handed over at runtime, e.g. by the launcher
	// that started the backend.
	Injected string
	// Origin is the origin the client itself was served from. When the
	// client and backend share an origin the backend address is inferred
	// from it.
	Origin string
}

// Target is a resolved backend base address.
type Target struct {
	Base   *url.URL
	Source Source
}

// Resolve applies the precedence rules. It performs no I/O.
func Resolve(in Inputs) (Target, error) {
	candidates := []struct {
		raw    string
		source Source
	}{
		{in.Override, SourceOverride},
		{lookup(in.Getenv, EnvBackendURL), SourceEnv},
		{in.Injected, SourceInjected},
		{in.Origin, SourceOrigin},
	}
	for _, c := range candidates {
		raw := strings.TrimSpace(c.raw)
		if raw == "" {
			continue
		}
		base, err := parseBase(raw)
		if err != nil {
			return Target{}, fmt.Errorf("%s address %q: %w", c.source, raw, err)
		}
		return Target{Base: base, Source: c.source}, nil
	}

	base, _ := parseBase(DefaultAddr)
	return Target{Base: base, Source: SourceDefault}, nil
}

func lookup(getenv func(string) string, key string) string {
	if getenv == nil {
		return ""
	}
	return getenv(key)
}

// parseBase accepts http(s)/ws(s) URLs or a bare host:port and normalises
// them to an http(s) base without path, query or fragment.
func parseBase(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidAddress)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// Addr returns host:port, filling in the scheme's default port.
func (t Target) Addr() string {
	host, port := t.Base.Hostname(), t.Base.Port()
	if port == "" {
		port = "80"
		if t.Base.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(host, port)
}

// HTTPURL returns the base address as an http(s) URL string.
func (t Target) HTTPURL() string {
	return t.Base.String()
}

// RPCURL returns the websocket URL of the message endpoint. The token is
// appended as a query parameter when non-empty.
func (t Target) RPCURL(token string) string {
	u := *t.Base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/rpc"
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String()
}

// FileURL returns the side-channel URL for fetching a workspace file.
func (t Target) FileURL(workspaceID, path, token string) string {
	u := *t.Base
	u.Path = "/api/workspaces/" + workspaceID + "/file"
	q := url.Values{"path": {path}}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
