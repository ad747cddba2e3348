// ABOUTME: The call subcommand: one RPC against a running backend, printing the JSON result.
// ABOUTME: With --subscribe it keeps the session open and prints notifications until interrupted.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/abigmiu/codex-monitor-webui/internal/rpc"
	"github.com/abigmiu/codex-monitor-webui/internal/target"
)

type callFlags struct {
	backendURL string
	token      string
	timeout    time.Duration
	subscribe  []string
}

func newCallCmd(g *globalFlags) *cobra.Command {
	f := &callFlags{}
	cmd := &cobra.Command{
		Use:   "call <method> [json-params]",
		Short: "Call one backend method and print its result",
		Example: `  codex-monitor-web call ping
  codex-monitor-web call connect_workspace '{"id":"ws-1"}'
  codex-monitor-web call list_workspaces --subscribe app-server-event`,
		Args: usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, g, f, args)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.backendURL, "backend-url", "", "backend address (default $"+target.EnvBackendURL+" or "+target.DefaultAddr+")")
	fl.StringVar(&f.token, "token", "", "backend token")
	fl.DurationVar(&f.timeout, "timeout", 0, "call timeout (default client.call_timeout or 30s)")
	fl.StringSliceVar(&f.subscribe, "subscribe", nil, "notification method to print after the call; repeatable")
	return cmd
}

func runCall(cmd *cobra.Command, g *globalFlags, f *callFlags, args []string) error {
	ctx := cmd.Context()

	var params json.RawMessage
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return usageErrorf("params for %s are not valid JSON", args[0])
		}
		params = json.RawMessage(args[1])
	}

	cfg, _, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	t, err := target.Resolve(target.Inputs{
		Override: f.backendURL,
		Getenv:   os.Getenv,
		Injected: cfg.Client.URL,
	})
	if err != nil {
		return &usageError{err: err}
	}
	token := f.token
	if token == "" {
		token = cfg.EffectiveToken()
	}

	session := rpc.New(rpc.Options{
		URL:            t.RPCURL(""),
		Token:          token,
		CallTimeout:    cfg.Client.CallTimeout,
		ReconnectDelay: cfg.Client.ReconnectDelay,
		Logger:         logger,
	})
	defer session.Close()

	out := cmd.OutOrStdout()
	printer := &jsonPrinter{w: out}
	for _, method := range f.subscribe {
		session.Subscribe(method, func(p json.RawMessage) {
			printer.print(map[string]any{"method": method, "params": p})
		})
	}

	var opts []rpc.CallOption
	if f.timeout > 0 {
		opts = append(opts, rpc.WithTimeout(f.timeout))
	}
	result, err := session.Call(ctx, args[0], params, opts...)
	if err != nil {
		return err
	}
	printer.print(result)

	if len(f.subscribe) == 0 {
		return nil
	}
	<-ctx.Done()
	return nil
}

// jsonPrinter writes one indented JSON document per call. Notification
// handlers and the call result may race, hence the lock.
type jsonPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *jsonPrinter) print(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, ok := v.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(v); err != nil {
			fmt.Fprintf(p.w, "%v\n", v)
			return
		}
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	buf.WriteByte('\n')
	_, _ = p.w.Write(buf.Bytes())
}
