// ABOUTME: A small in-memory backend that speaks the daemon's /rpc protocol over websockets
// ABOUTME: Used by end-to-end tests and for frontend work without a real agent server

package fakebackend

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/abigmiu/codex-monitor-webui/internal/clock"
	"github.com/abigmiu/codex-monitor-webui/internal/rpc"
)

const writeTimeout = 10 * time.Second

// Workspace seeds the server with a workspace rooted at Path.
type Workspace struct {
	ID   string
	Name string
	Path string
}

// Options configures a Server.
type Options struct {
	// Token, when set, must be presented as ?token=, a bearer header, or
	// through the in-band auth method before any other call is served.
	Token      string
	Workspaces []Workspace
	// EventInterval is how often RunEvents emits a heartbeat
	// app-server-event per connected workspace. Zero disables it.
	EventInterval time.Duration
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Server is an http.Handler serving /rpc and the workspace file route.
type Server struct {
	opts     Options
	clock    clock.Clock
	logger   *slog.Logger
	events   *Broadcaster
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu         sync.Mutex
	workspaces []*rpc.WorkspaceInfo
	threads    map[string]string // thread id -> workspace id
}

// New creates a Server.
func New(opts Options) *Server {
	s := &Server{
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger,
		threads: make(map[string]string),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "fakebackend")
	s.events = NewBroadcaster(s.logger)

	for _, w := range opts.Workspaces {
		id := w.ID
		if id == "" {
			id = uuid.NewString()
		}
		s.workspaces = append(s.workspaces, &rpc.WorkspaceInfo{ID: id, Name: w.Name, Path: w.Path})
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /rpc", s.handleRPC)
	s.mux.HandleFunc("GET /api/workspaces/{id}/file", s.handleFile)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close drops every event subscription.
func (s *Server) Close() {
	s.events.Close()
}

// Emit broadcasts a notification to every authenticated connection.
func (s *Server) Emit(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}
	frame, err := json.Marshal(notification{Method: method, Params: raw})
	if err != nil {
		return err
	}
	s.events.Publish(frame)
	return nil
}

// RunEvents emits heartbeats until ctx is done.
func (s *Server) RunEvents(ctx context.Context) error {
	if s.opts.EventInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-s.clock.After(s.opts.EventInterval):
			for _, ws := range s.connected() {
				err := s.Emit(rpc.AppServerEvents.Name, rpc.AppServerEvent{
					WorkspaceID: ws,
					Message:     heartbeat(now),
				})
				if err != nil {
					return err
				}
			}
		}
	}
}

func heartbeat(now time.Time) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"method": "heartbeat",
		"params": map[string]string{"at": now.UTC().Format(time.RFC3339)},
	})
	return raw
}

func (s *Server) connected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, w := range s.workspaces {
		if w.Connected {
			ids = append(ids, w.ID)
		}
	}
	return ids
}

// Wire records.
type (
	incoming struct {
		ID     *uint64         `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	result struct {
		ID     uint64 `json:"id"`
		Result any    `json:"result"`
	}
	errorReply struct {
		ID    uint64            `json:"id"`
		Error map[string]string `json:"error"`
	}
	notification struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
)

// client is one websocket connection. Writes are serialized.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *client) reply(id *uint64, v any, err error) {
	if id == nil {
		return
	}
	var frame []byte
	if err != nil {
		frame, _ = json.Marshal(errorReply{ID: *id, Error: map[string]string{"message": err.Error()}})
	} else {
		frame, _ = json.Marshal(result{ID: *id, Result: v})
	}
	_ = c.write(frame)
}

func (s *Server) tokenMatches(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) == 1
}

func (s *Server) preAuthenticated(r *http.Request) bool {
	if s.opts.Token == "" {
		return true
	}
	if s.tokenMatches(r.URL.Query().Get("token")) {
		return true
	}
	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && s.tokenMatches(bearer)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	authenticated := s.preAuthenticated(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &client{conn: conn}
	if authenticated {
		s.forwardEvents(ctx, c)
	}
	s.logger.Info("client connected", "remote", r.RemoteAddr, "authenticated", authenticated)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("client disconnected", "remote", r.RemoteAddr)
			return
		}
		line := bytes.TrimSpace(data)
		if len(line) == 0 {
			continue
		}
		var msg incoming
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}

		if !authenticated {
			if msg.Method != rpc.Auth.Name {
				c.reply(msg.ID, nil, errors.New("unauthorized"))
				continue
			}
			if !s.tokenMatches(authToken(msg.Params)) {
				c.reply(msg.ID, nil, errors.New("invalid token"))
				continue
			}
			authenticated = true
			c.reply(msg.ID, rpc.OK{OK: true}, nil)
			s.forwardEvents(ctx, c)
			continue
		}

		v, err := s.handle(msg.Method, msg.Params)
		c.reply(msg.ID, v, err)
	}
}

func (s *Server) forwardEvents(ctx context.Context, c *client) {
	frames, _ := s.events.Subscribe(ctx)
	go func() {
		for frame := range frames {
			if err := c.write(frame); err != nil {
				return
			}
		}
	}()
}

// authToken accepts either a bare string or {"token": "..."}.
func authToken(params json.RawMessage) string {
	var tok string
	if err := json.Unmarshal(params, &tok); err == nil {
		return tok
	}
	var obj struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(params, &obj); err == nil {
		return obj.Token
	}
	return ""
}
