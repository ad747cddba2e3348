// ABOUTME: Error taxonomy for the session client: connection, timeout, disconnect and backend errors.
// ABOUTME: Protocol violations never surface here; they are dropped by the read loop.

package rpc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCallTimeout is returned when no correlated reply arrives in time.
	ErrCallTimeout = errors.New("rpc call timed out")

	// ErrDisconnected is returned to calls that were pending when the
	// connection closed, and to calls that raced a close.
	ErrDisconnected = errors.New("rpc connection closed")
)

// ConnectionError reports that the transport failed to open.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", redactToken(e.URL), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CallError is an explicit error reply from the backend.
type CallError struct {
	Method  string
	Message string
	Code    *int
	Data    []byte
}

func (e *CallError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("%s: %s (code %d)", e.Method, e.Message, *e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// redactToken keeps bearer tokens out of logs and error strings.
func redactToken(raw string) string {
	i := strings.Index(raw, "token=")
	if i < 0 {
		return raw
	}
	end := strings.IndexByte(raw[i:], '&')
	if end < 0 {
		return raw[:i] + "token=REDACTED"
	}
	return raw[:i] + "token=REDACTED" + raw[i+end:]
}
