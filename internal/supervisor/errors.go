// ABOUTME: Supervisor error types: readiness timeout, backend exit before ready, and the run's exit code.

package supervisor

import (
	"errors"
	"fmt"
)

// ErrReadinessTimeout means the backend never accepted a connection
// before the probe deadline.
var ErrReadinessTimeout = errors.New("backend did not become ready in time")

// BackendExitedError means the backend exited while the probe was waiting.
type BackendExitedError struct {
	Status ExitStatus
}

func (e *BackendExitedError) Error() string {
	return "backend exited before becoming ready: " + e.Status.String()
}

// ExitError is a run that did not end by request. Code is the exit code
// the launcher should use.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("%v (exit status %d)", e.Err, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }
