// Package supervisor runs the backend and the frontend asset server as one
// unit.
//
// # Startup
//
// The backend starts first. WaitReady dials its TCP port every
// DefaultProbeInterval until a connection succeeds, the backend exits, or
// the probe deadline passes. The frontend is started only after the probe
// succeeded, so a backend that fails early never leaves a frontend behind.
//
// # Shutdown
//
// The first termination signal, context cancellation, or unexpected child
// exit starts shutdown. Every other running child receives the same signal
// exactly once, including its descendants. Children still running after
// the grace period, or after a second signal, are killed.
//
// Run returns nil for a requested shutdown. Anything else is an
// *ExitError whose Code is the triggering child's exit code, or 1 when
// the child was killed by a signal or never started.
package supervisor
