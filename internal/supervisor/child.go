// ABOUTME: A supervised child process: start, forward its output to slog, report its exit status once.
// ABOUTME: Signals are delivered to the child's whole process tree, at most once per child.

package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// outputWaitDelay bounds how long Wait keeps reading output held open by
// orphaned grandchildren.
const outputWaitDelay = 2 * time.Second

// ChildSpec is a command to run under supervision.
type ChildSpec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	// Env is appended to the launcher's own environment.
	Env []string
}

// ExitStatus is how a child ended. Code is -1 when it was killed by a
// signal.
type ExitStatus struct {
	Code   int
	Signal string
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return "signal " + s.Signal
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// exitCode is the code a launcher should propagate for s.
func (s ExitStatus) exitCode() int {
	if s.Code < 0 {
		return 1
	}
	return s.Code
}

type child struct {
	spec     ChildSpec
	cmd      *exec.Cmd
	logger   *slog.Logger
	done     chan struct{}
	status   ExitStatus
	signaled atomic.Bool
	stdout   *lineLogger
	stderr   *lineLogger
}

func startChild(spec ChildSpec, logger *slog.Logger) (*child, error) {
	c := &child{
		spec:   spec,
		logger: logger.With("child", spec.Name),
		done:   make(chan struct{}),
	}
	c.stdout = &lineLogger{logger: c.logger, stream: "stdout"}
	c.stderr = &lineLogger{logger: c.logger, stream: "stderr"}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr
	cmd.WaitDelay = outputWaitDelay
	cmd.SysProcAttr = childProcAttr()
	c.cmd = cmd

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s (%s): %w", spec.Name, spec.Command, err)
	}
	c.logger.Info("child started", "pid", cmd.Process.Pid, "command", spec.Command, "args", spec.Args)

	go c.wait()
	return c, nil
}

func (c *child) wait() {
	err := c.cmd.Wait()
	c.stdout.flush()
	c.stderr.flush()

	c.status = exitStatusOf(c.cmd.ProcessState, err)
	c.logger.Info("child exited", "status", c.status.String())
	close(c.done)
}

func exitStatusOf(state *os.ProcessState, err error) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		return ExitStatus{Code: -1}
	}
	return ExitStatus{Code: state.ExitCode(), Signal: signalName(state)}
}

// exitEvent delivers the exit status once the child has exited.
func (c *child) exitEvent() <-chan ExitStatus {
	ch := make(chan ExitStatus, 1)
	go func() {
		<-c.done
		ch <- c.status
	}()
	return ch
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// signal forwards sig to the child's process tree. Only the first call
// has any effect.
func (c *child) signal(sig os.Signal) {
	if !c.signaled.CompareAndSwap(false, true) || c.exited() {
		return
	}
	c.logger.Info("forwarding signal", "signal", sig.String())
	if err := signalTree(c.cmd.Process.Pid, sig); err != nil {
		c.logger.Debug("signal delivery failed", "signal", sig.String(), "error", err)
	}
}

// kill ends the child and its descendants unconditionally.
func (c *child) kill() {
	if c.exited() {
		return
	}
	c.logger.Warn("killing child after grace period")
	if err := killTree(c.cmd.Process.Pid); err != nil {
		c.logger.Debug("kill failed", "error", err)
	}
}

// lineLogger turns a child's output stream into one log record per line.
type lineLogger struct {
	mu     sync.Mutex
	logger *slog.Logger
	stream string
	buf    bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(l.buf.Next(i + 1))
		l.emit(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() > 0 {
		l.emit(l.buf.String())
		l.buf.Reset()
	}
}

func (l *lineLogger) emit(line string) {
	l.logger.Info(line, "stream", l.stream)
}
