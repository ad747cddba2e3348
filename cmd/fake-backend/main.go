// ABOUTME: Minimal fake backend for E2E testing: serves /rpc and the workspace file route from memory.
// ABOUTME: Usage: fake-backend [-listen 127.0.0.1:4732] [-token T] [-workspace name=path] [-events 5s]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abigmiu/codex-monitor-webui/internal/fakebackend"
)

// workspaceFlags collects repeated -workspace name=path values.
type workspaceFlags []fakebackend.Workspace

func (w *workspaceFlags) String() string { return fmt.Sprint(*w) }

func (w *workspaceFlags) Set(v string) error {
	name, path, ok := strings.Cut(v, "=")
	if !ok {
		path, name = v, filepath.Base(v)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	*w = append(*w, fakebackend.Workspace{ID: fmt.Sprintf("ws-%d", len(*w)+1), Name: name, Path: abs})
	return nil
}

func main() {
	listen := flag.String("listen", "127.0.0.1:4732", "listen address")
	token := flag.String("token", "", "token clients must present")
	_ = flag.String("data-dir", "", "accepted for compatibility with the real daemon; unused")
	events := flag.Duration("events", 5*time.Second, "heartbeat interval; 0 disables")
	var workspaces workspaceFlags
	flag.Var(&workspaces, "workspace", "workspace as name=path; repeatable")
	flag.Parse()

	if *token == "" {
		*token = os.Getenv("CODEX_MONITOR_WEB_TOKEN")
	}
	if len(workspaces) == 0 {
		cwd, _ := os.Getwd()
		_ = workspaces.Set("demo=" + cwd)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(logger, *listen, fakebackend.Options{
		Token:         *token,
		Workspaces:    workspaces,
		EventInterval: *events,
		Logger:        logger,
	}); err != nil {
		logger.Error("fake backend failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, addr string, opts fakebackend.Options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	backend := fakebackend.New(opts)
	defer backend.Close()
	srv := &http.Server{Handler: backend, ReadHeaderTimeout: 10 * time.Second}

	logger.Info("fake backend listening", "addr", lis.Addr().String(), "token", opts.Token != "")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return backend.RunEvents(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
