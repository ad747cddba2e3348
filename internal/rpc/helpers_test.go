// ABOUTME: In-memory transport and fake backend used by the session client tests.

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abigmiu/codex-monitor-webui/internal/clock"
)

var errPipeClosed = errors.New("pipe closed")

// pipeConn is the client half of an in-memory message stream. The test
// plays the backend through the same value.
type pipeConn struct {
	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	once       sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		toClient:   make(chan []byte, 64),
		fromClient: make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.toClient:
		return data, nil
	case <-c.closed:
		return nil, errPipeClosed
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errPipeClosed
	default:
	}
	c.fromClient <- append([]byte(nil), data...)
	return nil
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// nextRequest waits for the client to send a request.
func (c *pipeConn) nextRequest(t *testing.T) request {
	t.Helper()
	select {
	case data := <-c.fromClient:
		var req request
		require.NoError(t, json.Unmarshal(data, &req))
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a request frame")
		return request{}
	}
}

func (c *pipeConn) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.toClient <- data
}

func (c *pipeConn) sendRaw(data string) {
	c.toClient <- []byte(data)
}

func (c *pipeConn) reply(t *testing.T, id uint64, result any) {
	t.Helper()
	c.send(t, map[string]any{"id": id, "result": result})
}

func (c *pipeConn) notify(t *testing.T, method string, params any) {
	t.Helper()
	c.send(t, map[string]any{"method": method, "params": params})
}

// pipeDialer hands out pipeConns and records every dial.
type pipeDialer struct {
	mu    sync.Mutex
	fail  error
	gate  chan struct{}
	dials int
	urls  []string
	hdrs  []http.Header
	conns chan *pipeConn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{conns: make(chan *pipeConn, 16)}
}

func (d *pipeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.urls = append(d.urls, url)
	d.hdrs = append(d.hdrs, header)
	gate, fail := d.gate, d.fail
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	c := newPipeConn()
	d.conns <- c
	return c, nil
}

func (d *pipeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *pipeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// accept returns the next connection the client opened.
func (d *pipeDialer) accept(t *testing.T) *pipeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the client to connect")
		return nil
	}
}

type harness struct {
	session *Session
	dialer  *pipeDialer
	clock   *clock.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dialer: newPipeDialer(),
		clock:  clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	h.session = New(Options{
		URL:    "ws://backend.test/rpc",
		Dialer: h.dialer,
		Clock:  h.clock,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(h.session.Disconnect)
	return h
}

// callResult is the outcome of a Call issued from a goroutine.
type callResult struct {
	result json.RawMessage
	err    error
}

func (h *harness) goCall(ctx context.Context, method string, params any, opts ...CallOption) <-chan callResult {
	ch := make(chan callResult, 1)
	go func() {
		res, err := h.session.Call(ctx, method, params, opts...)
		ch <- callResult{res, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan callResult) callResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("call never returned")
		return callResult{}
	}
}

func waitState(t *testing.T, s *Session, want ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		2*time.Second, 5*time.Millisecond, "state never became %s", want)
}
