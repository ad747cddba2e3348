// ABOUTME: Readiness probe: dial the backend's TCP port until it answers, it exits, or the deadline passes.

package supervisor

import (
	"context"
	"net"
	"time"

	"github.com/abigmiu/codex-monitor-webui/internal/clock"
)

const (
	DefaultReadyTimeout  = 180 * time.Second
	DefaultProbeInterval = 300 * time.Millisecond

	probeDialTimeout = time.Second
)

// Probe describes how to wait for the backend.
type Probe struct {
	// Addr is the host:port the backend listens on.
	Addr     string
	Timeout  time.Duration
	Interval time.Duration
	Clock    clock.Clock
}

func (p Probe) withDefaults() Probe {
	if p.Timeout <= 0 {
		p.Timeout = DefaultReadyTimeout
	}
	if p.Interval <= 0 {
		p.Interval = DefaultProbeInterval
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	return p
}

// WaitReady returns nil once a TCP connection to p.Addr succeeds. It
// returns *BackendExitedError if exited delivers first, ErrReadinessTimeout
// when the deadline passes, or ctx.Err().
func WaitReady(ctx context.Context, p Probe, exited <-chan ExitStatus) error {
	p = p.withDefaults()
	deadline := p.Clock.After(p.Timeout)
	var d net.Dialer

	for {
		dialCtx, cancel := context.WithTimeout(ctx, probeDialTimeout)
		conn, err := d.DialContext(dialCtx, "tcp", p.Addr)
		cancel()
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case status := <-exited:
			return &BackendExitedError{Status: status}
		case <-deadline:
			return ErrReadinessTimeout
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Clock.After(p.Interval):
		}
	}
}
