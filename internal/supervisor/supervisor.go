// ABOUTME: Supervisor starts the backend, waits for it to accept connections, then starts the frontend.
// ABOUTME: The first signal or unexpected exit cascades shutdown to every other child exactly once.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/abigmiu/codex-monitor-webui/internal/clock"
)

// DefaultGracePeriod is how long children get to exit after being
// signalled before they are killed.
const DefaultGracePeriod = 5 * time.Second

// Mode selects which children a run starts.
type Mode string

const (
	ModeAll          Mode = "all"
	ModeBackendOnly  Mode = "backend-only"
	ModeFrontendOnly Mode = "frontend-only"
)

// Options configures a Supervisor.
type Options struct {
	Mode     Mode
	Backend  ChildSpec
	Frontend ChildSpec
	// Probe.Addr is required unless Mode is ModeFrontendOnly.
	Probe       Probe
	GracePeriod time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Supervisor runs the backend and frontend as one unit.
type Supervisor struct {
	opts     Options
	clock    clock.Clock
	logger   *slog.Logger
	children []*child
}

// New validates opts and returns a Supervisor ready to Run once.
func New(opts Options) (*Supervisor, error) {
	if opts.Mode == "" {
		opts.Mode = ModeAll
	}
	switch opts.Mode {
	case ModeAll, ModeBackendOnly, ModeFrontendOnly:
	default:
		return nil, fmt.Errorf("unknown supervisor mode %q", opts.Mode)
	}
	if opts.Mode != ModeFrontendOnly {
		if opts.Backend.Command == "" {
			return nil, errors.New("backend command is required")
		}
		if opts.Probe.Addr == "" {
			return nil, errors.New("backend probe address is required")
		}
	}
	if opts.Mode != ModeBackendOnly && opts.Frontend.Command == "" {
		return nil, errors.New("frontend command is required")
	}
	if opts.Backend.Name == "" {
		opts.Backend.Name = "backend"
	}
	if opts.Frontend.Name == "" {
		opts.Frontend.Name = "frontend"
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}

	s := &Supervisor{opts: opts, clock: opts.Clock, logger: opts.Logger}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.opts.Probe.Clock == nil {
		s.opts.Probe.Clock = s.clock
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "supervisor", "run_id", uuid.NewString())
	return s, nil
}

// Run blocks until every child has exited. It returns nil only when the
// shutdown was requested through signals or ctx; otherwise it returns
// *ExitError carrying the code of the child that caused it.
func (s *Supervisor) Run(ctx context.Context, signals <-chan os.Signal) error {
	s.logger.Info("starting", "mode", s.opts.Mode)

	if s.opts.Mode != ModeFrontendOnly {
		backend, err := startChild(s.opts.Backend, s.logger)
		if err != nil {
			return &ExitError{Code: 1, Err: err}
		}
		s.children = append(s.children, backend)

		if err := s.awaitBackend(ctx, backend, signals); err != nil {
			if errors.Is(err, errInterrupted) {
				return nil
			}
			return err
		}
	}

	if s.opts.Mode != ModeBackendOnly {
		frontend, err := startChild(s.opts.Frontend, s.logger)
		if err != nil {
			s.shutdown(signals, syscall.SIGTERM, nil)
			return &ExitError{Code: 1, Err: err}
		}
		s.children = append(s.children, frontend)
	}

	return s.supervise(ctx, signals)
}

// awaitBackend returns nil once the backend is ready. Any other outcome
// has already shut the backend down and is the run's result.
func (s *Supervisor) awaitBackend(ctx context.Context, backend *child, signals <-chan os.Signal) error {
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readyCh := make(chan error, 1)
	go func() {
		readyCh <- WaitReady(probeCtx, s.opts.Probe, backend.exitEvent())
	}()

	select {
	case err := <-readyCh:
		var exited *BackendExitedError
		switch {
		case err == nil:
			s.logger.Info("backend ready", "addr", s.opts.Probe.Addr)
			return nil
		case errors.As(err, &exited):
			s.logger.Error("backend exited before it was ready; check its output above",
				"status", exited.Status.String())
			// Exiting before ready is a failure even when the child says 0.
			code := exited.Status.exitCode()
			if code == 0 {
				code = 1
			}
			return &ExitError{Code: code, Err: err}
		case errors.Is(err, ErrReadinessTimeout):
			s.logger.Error("backend is not accepting connections; check its output above or pass --listen",
				"addr", s.opts.Probe.Addr, "timeout", s.opts.Probe.withDefaults().Timeout)
			s.shutdown(signals, syscall.SIGTERM, nil)
			return &ExitError{Code: 1, Err: err}
		default:
			// ctx ended while probing.
			s.shutdown(signals, syscall.SIGTERM, nil)
			return errInterrupted
		}
	case sig := <-signals:
		cancel()
		s.logger.Info("signal received before backend was ready", "signal", sig.String())
		s.shutdown(signals, sig, nil)
		return errInterrupted
	case <-ctx.Done():
		cancel()
		s.shutdown(signals, syscall.SIGTERM, nil)
		return errInterrupted
	}
}

// errInterrupted stops Run after a requested shutdown during startup.
// Run turns it back into nil.
var errInterrupted = errors.New("interrupted")

func (s *Supervisor) supervise(ctx context.Context, signals <-chan os.Signal) error {
	exits := make(chan *child, len(s.children))
	for _, c := range s.children {
		go func() {
			<-c.done
			exits <- c
		}()
	}

	select {
	case sig := <-signals:
		s.logger.Info("signal received, shutting down", "signal", sig.String())
		s.shutdown(signals, sig, nil)
		return nil
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
		s.shutdown(signals, syscall.SIGTERM, nil)
		return nil
	case c := <-exits:
		s.logger.Error("child exited unexpectedly, shutting down", "child", c.spec.Name, "status", c.status.String())
		s.shutdown(signals, syscall.SIGTERM, c)
		return &ExitError{
			Code: c.status.exitCode(),
			Err:  fmt.Errorf("%s exited: %s", c.spec.Name, c.status),
		}
	}
}

// shutdown sends sig once to every running child except the trigger,
// then waits for all of them. Stragglers are killed after the grace
// period, or immediately on a second signal.
func (s *Supervisor) shutdown(signals <-chan os.Signal, sig os.Signal, trigger *child) {
	for _, c := range s.children {
		if c != trigger {
			c.signal(sig)
		}
	}

	allDone := make(chan struct{})
	var g errgroup.Group
	for _, c := range s.children {
		g.Go(func() error {
			<-c.done
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		return
	case <-s.clock.After(s.opts.GracePeriod):
		s.logger.Warn("children still running after grace period", "grace", s.opts.GracePeriod)
	case again := <-signals:
		s.logger.Warn("second signal, killing children", "signal", again.String())
	}
	for _, c := range s.children {
		c.kill()
	}
	<-allDone
}
