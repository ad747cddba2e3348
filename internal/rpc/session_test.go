// ABOUTME: Tests for call correlation, timeouts, disconnects and the reconnect policy.
// ABOUTME: Runs against an in-memory transport and a fake clock so timing is deterministic.

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCallResolvesWithResult(t *testing.T) {
	h := newHarness(t)

	ch := h.goCall(t.Context(), "ping", nil)
	conn := h.dialer.accept(t)

	req := conn.nextRequest(t)
	assert.Equal(t, uint64(1), req.ID)
	assert.Equal(t, "ping", req.Method)
	assert.Empty(t, req.Params)

	conn.reply(t, req.ID, map[string]bool{"ok": true})

	r := await(t, ch)
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"ok":true}`, string(r.result))
	assert.Equal(t, 0, h.session.Pending())
	assert.Equal(t, StateOpen, h.session.State())
}

func TestCallErrorReply(t *testing.T) {
	h := newHarness(t)

	ch := h.goCall(t.Context(), "nope", map[string]string{"x": "y"})
	conn := h.dialer.accept(t)
	req := conn.nextRequest(t)
	assert.JSONEq(t, `{"x":"y"}`, string(req.Params))

	conn.send(t, map[string]any{
		"id":    req.ID,
		"error": map[string]any{"message": "unknown method: nope", "code": -32601},
	})

	r := await(t, ch)
	var callErr *CallError
	require.ErrorAs(t, r.err, &callErr)
	assert.Equal(t, "nope", callErr.Method)
	assert.Equal(t, "unknown method: nope", callErr.Message)
	require.NotNil(t, callErr.Code)
	assert.Equal(t, -32601, *callErr.Code)
}

func TestCallIDsIncreaseAndRepliesCorrelate(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	const n = 5
	results := make([]<-chan callResult, n)
	results[0] = h.goCall(ctx, "echo", 0)
	conn := h.dialer.accept(t)
	for i := 1; i < n; i++ {
		results[i] = h.goCall(ctx, "echo", i)
	}

	reqs := make([]request, 0, n)
	seen := map[uint64]bool{}
	for range n {
		req := conn.nextRequest(t)
		assert.False(t, seen[req.ID], "id %d reused", req.ID)
		seen[req.ID] = true
		reqs = append(reqs, req)
	}

	// Reply in reverse order; each caller must still get its own echo.
	for i := len(reqs) - 1; i >= 0; i-- {
		conn.send(t, map[string]any{"id": reqs[i].ID, "result": reqs[i].Params})
	}
	for i, ch := range results {
		r := await(t, ch)
		require.NoError(t, r.err)
		assert.Equal(t, strconv.Itoa(i), string(r.result))
	}

	// Sequential calls get strictly increasing ids.
	var last uint64
	for range 3 {
		ch := h.goCall(ctx, "ping", nil)
		req := conn.nextRequest(t)
		assert.Greater(t, req.ID, last)
		last = req.ID
		conn.reply(t, req.ID, true)
		require.NoError(t, await(t, ch).err)
	}
	assert.Equal(t, uint64(n+3), last)
}

func TestCallTimeoutDiscardsLateReply(t *testing.T) {
	h := newHarness(t)

	ch := h.goCall(t.Context(), "slow", nil, WithTimeout(1000*time.Millisecond))
	conn := h.dialer.accept(t)
	req := conn.nextRequest(t)
	h.clock.WaitForTimers(1)

	h.clock.Advance(999 * time.Millisecond)
	select {
	case r := <-ch:
		t.Fatalf("call settled early: %v", r.err)
	default:
	}

	h.clock.Advance(time.Millisecond)
	r := await(t, ch)
	require.ErrorIs(t, r.err, ErrCallTimeout)
	assert.Equal(t, 0, h.session.Pending())

	// A reply arriving after the timeout is dropped and the connection survives.
	conn.reply(t, req.ID, "late")

	next := h.goCall(t.Context(), "ping", nil)
	req2 := conn.nextRequest(t)
	assert.Equal(t, req.ID+1, req2.ID)
	conn.reply(t, req2.ID, "pong")

	r2 := await(t, next)
	require.NoError(t, r2.err)
	assert.Equal(t, `"pong"`, string(r2.result))
	assert.Equal(t, StateOpen, h.session.State())
}

func TestContextCancelRemovesPendingCall(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(t.Context())

	ch := h.goCall(ctx, "slow", nil)
	conn := h.dialer.accept(t)
	req := conn.nextRequest(t)

	cancel()
	r := await(t, ch)
	require.ErrorIs(t, r.err, context.Canceled)
	assert.Equal(t, 0, h.session.Pending())

	conn.reply(t, req.ID, "late")
	assert.Equal(t, StateOpen, h.session.State())
}

func TestDisconnectRejectsPendingCalls(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	first := h.goCall(ctx, "a", nil)
	conn := h.dialer.accept(t)
	second := h.goCall(ctx, "b", nil)
	conn.nextRequest(t)
	conn.nextRequest(t)
	require.Equal(t, 2, h.session.Pending())

	h.session.Disconnect()

	require.ErrorIs(t, await(t, first).err, ErrDisconnected)
	require.ErrorIs(t, await(t, second).err, ErrDisconnected)
	assert.Equal(t, 0, h.session.Pending())
	assert.Equal(t, StateClosed, h.session.State())
	assert.Equal(t, 0, h.clock.PendingCount(), "no timers or retries may survive a disconnect")
}

func TestConnectionLossWithPendingCallReconnects(t *testing.T) {
	h := newHarness(t)

	ch := h.goCall(t.Context(), "ping", nil)
	conn := h.dialer.accept(t)
	conn.nextRequest(t)

	require.NoError(t, conn.Close())
	require.ErrorIs(t, await(t, ch).err, ErrDisconnected)
	assert.Equal(t, StateClosed, h.session.State())
	assert.Equal(t, 1, h.clock.PendingCount())

	h.clock.Advance(DefaultReconnectDelay - time.Millisecond)
	assert.Equal(t, 1, h.dialer.dialCount())

	h.clock.Advance(time.Millisecond)
	h.dialer.accept(t)
	waitState(t, h.session, StateOpen)
	assert.Equal(t, 2, h.dialer.dialCount())
}

func TestIdleSessionDoesNotReconnect(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.session.Connect(t.Context()))
	conn := h.dialer.accept(t)

	require.NoError(t, conn.Close())
	waitState(t, h.session, StateClosed)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
	assert.Equal(t, 0, h.clock.PendingCount())
}

func TestFailedRetryRearmsUntilConnected(t *testing.T) {
	h := newHarness(t)
	got := make(chan AppServerEvent, 1)

	unsubscribe := On(h.session, AppServerEvents, func(ev AppServerEvent) { got <- ev })
	defer unsubscribe()
	conn := h.dialer.accept(t)
	waitState(t, h.session, StateOpen)

	h.dialer.setFail(errors.New("connection refused"))
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.clock.PendingCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.clock.Advance(DefaultReconnectDelay)
	require.Eventually(t, func() bool { return h.dialer.dialCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.clock.PendingCount() == 1 }, 2*time.Second, 5*time.Millisecond,
		"a failed retry must schedule another")
	assert.Equal(t, StateClosed, h.session.State())

	h.dialer.setFail(nil)
	h.clock.Advance(DefaultReconnectDelay)
	conn2 := h.dialer.accept(t)
	waitState(t, h.session, StateOpen)
	assert.Equal(t, 3, h.dialer.dialCount())

	conn2.notify(t, "app-server-event", map[string]any{
		"workspace_id": "ws-1",
		"message":      map[string]string{"method": "turn/started"},
	})
	select {
	case ev := <-got:
		assert.Equal(t, "ws-1", ev.WorkspaceID)
		assert.JSONEq(t, `{"method":"turn/started"}`, string(ev.Message))
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not survive the reconnect")
	}
}

func TestDisconnectSuppressesReconnection(t *testing.T) {
	h := newHarness(t)

	h.session.Subscribe("terminal-output", func(json.RawMessage) {})
	h.dialer.accept(t)
	waitState(t, h.session, StateOpen)

	h.session.Disconnect()
	assert.Equal(t, StateClosed, h.session.State())

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
	assert.Equal(t, 0, h.clock.PendingCount())

	// Using the session again lifts the suppression.
	ch := h.goCall(t.Context(), "ping", nil)
	conn := h.dialer.accept(t)
	req := conn.nextRequest(t)
	conn.reply(t, req.ID, true)
	require.NoError(t, await(t, ch).err)
	assert.Equal(t, 2, h.dialer.dialCount())
}

func TestDisconnectAbandonsInFlightDial(t *testing.T) {
	h := newHarness(t)
	h.dialer.gate = make(chan struct{})

	errCh := make(chan error, 1)
	go func() { errCh <- h.session.Connect(t.Context()) }()
	require.Eventually(t, func() bool { return h.dialer.dialCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.session.Disconnect()

	select {
	case err := <-errCh:
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		require.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}
	assert.Equal(t, StateClosed, h.session.State())
}

func TestConcurrentConnectSharesOneAttempt(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.dialer.gate = gate

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.session.Connect(t.Context())
		}()
	}
	require.Eventually(t, func() bool { return h.dialer.dialCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnecting, h.session.State())

	close(gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.dialer.dialCount())
	h.dialer.accept(t)
}

func TestCallFailsWithoutSendingWhenDialFails(t *testing.T) {
	h := newHarness(t)
	h.dialer.setFail(errors.New("connection refused"))

	_, err := h.session.Call(t.Context(), "ping", nil)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 0, h.session.Pending())
	assert.Empty(t, h.dialer.conns, "no connection may be handed out")
	assert.Equal(t, 0, h.clock.PendingCount(), "nothing is listening, so no retry")
}

func TestCallRejectsUnencodableParams(t *testing.T) {
	h := newHarness(t)

	_, err := h.session.Call(t.Context(), "ping", make(chan int))
	require.Error(t, err)
	assert.Equal(t, 0, h.dialer.dialCount())
	assert.Equal(t, StateIdle, h.session.State())
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 2)
	record := func(name string) Handler {
		return func(json.RawMessage) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			done <- struct{}{}
		}
	}

	h.session.Subscribe("terminal-output", record("first"))
	h.session.Subscribe("terminal-output", record("second"))
	conn := h.dialer.accept(t)

	conn.notify(t, "terminal-output", map[string]string{"data": "hi"})
	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestHandlerMayCallBackend(t *testing.T) {
	h := newHarness(t)
	got := make(chan callResult, 1)

	h.session.Subscribe("thread/event", func(json.RawMessage) {
		res, err := h.session.Call(t.Context(), "get_thread", map[string]string{"id": "th-1"})
		got <- callResult{res, err}
	})
	conn := h.dialer.accept(t)

	conn.notify(t, "thread/event", map[string]string{"threadId": "th-1"})
	req := conn.nextRequest(t)
	assert.Equal(t, "get_thread", req.Method)
	conn.reply(t, req.ID, map[string]string{"id": "th-1"})

	r := await(t, got)
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"id":"th-1"}`, string(r.result))
}

func TestNotificationsKeepArrivalOrder(t *testing.T) {
	h := newHarness(t)
	got := make(chan int, 8)

	h.session.Subscribe("evt", func(p json.RawMessage) {
		var n struct{ N int }
		_ = json.Unmarshal(p, &n)
		got <- n.N
	})
	conn := h.dialer.accept(t)
	for i := range 5 {
		conn.notify(t, "evt", map[string]int{"n": i})
	}

	for want := range 5 {
		select {
		case n := <-got:
			assert.Equal(t, want, n)
		case <-time.After(2 * time.Second):
			t.Fatalf("notification %d never delivered", want)
		}
	}
}

func TestStaleRetryKeepsNewerTimer(t *testing.T) {
	h := newHarness(t)
	h.session.Subscribe("evt", func(json.RawMessage) {})
	conn := h.dialer.accept(t)
	waitState(t, h.session, StateOpen)

	h.dialer.setFail(errors.New("connection refused"))
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.clock.PendingCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.session.mu.Lock()
	stale := h.session.retryGen - 1
	h.session.mu.Unlock()
	h.session.fireRetry(stale)

	h.session.mu.Lock()
	armed := h.session.retry != nil
	h.session.mu.Unlock()
	assert.True(t, armed, "a stale timer must not drop the armed retry")

	h.session.Disconnect()
	assert.Equal(t, 0, h.clock.PendingCount())
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	h := newHarness(t)
	got := make(chan json.RawMessage, 1)

	h.session.Subscribe("evt", func(json.RawMessage) { panic("boom") })
	h.session.Subscribe("evt", func(p json.RawMessage) { got <- p })
	conn := h.dialer.accept(t)

	conn.notify(t, "evt", map[string]int{"n": 1})
	select {
	case p := <-got:
		assert.JSONEq(t, `{"n":1}`, string(p))
	case <-time.After(2 * time.Second):
		t.Fatal("second handler never ran")
	}

	ch := h.goCall(t.Context(), "ping", nil)
	req := conn.nextRequest(t)
	conn.reply(t, req.ID, true)
	require.NoError(t, await(t, ch).err)
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestUnsubscribeRemovesOnlyThatRegistration(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	handler := func(json.RawMessage) { calls.Add(1) }

	unsubA := h.session.Subscribe("evt", handler)
	unsubB := h.session.Subscribe("evt", handler)
	assert.Equal(t, map[string]int{"evt": 2}, h.session.Topics())

	unsubA()
	unsubA()
	assert.Equal(t, map[string]int{"evt": 1}, h.session.Topics())

	marked := make(chan struct{})
	unsubMark := h.session.Subscribe("mark", func(json.RawMessage) { close(marked) })
	defer unsubMark()

	conn := h.dialer.accept(t)
	conn.notify(t, "evt", nil)
	// Notifications are handled in arrival order, so once mark runs the
	// evt handlers have finished.
	conn.notify(t, "mark", nil)
	select {
	case <-marked:
	case <-time.After(2 * time.Second):
		t.Fatal("mark handler never ran")
	}
	assert.Equal(t, int32(1), calls.Load())

	unsubB()
	assert.Equal(t, map[string]int{"mark": 1}, h.session.Topics())
}

func TestMalformedAndUnmatchedFramesAreDropped(t *testing.T) {
	h := newHarness(t)
	notified := make(chan struct{}, 4)
	h.session.Subscribe("evt", func(json.RawMessage) { notified <- struct{}{} })

	ch := h.goCall(t.Context(), "ping", nil)
	conn := h.dialer.accept(t)
	req := conn.nextRequest(t)

	conn.sendRaw("not json")
	conn.sendRaw(`[1,2,3]`)
	conn.sendRaw(`{"id":"abc","result":true}`)
	conn.sendRaw(`{"id":999,"result":true}`)
	conn.sendRaw(`{"result":true}`)
	conn.reply(t, req.ID, "pong")

	r := await(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, `"pong"`, string(r.result))
	assert.Empty(t, notified)
	assert.Equal(t, StateOpen, h.session.State())
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestTokenIsAttachedAndRedacted(t *testing.T) {
	dialer := newPipeDialer()
	dialer.setFail(errors.New("refused"))
	s := New(Options{
		URL:    "ws://127.0.0.1:4732/rpc",
		Token:  "s3cret",
		Dialer: dialer,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(s.Disconnect)

	err := s.Connect(t.Context())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cret")

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	require.Len(t, dialer.urls, 1)
	assert.Equal(t, "ws://127.0.0.1:4732/rpc?token=s3cret", dialer.urls[0])
	assert.Equal(t, "Bearer s3cret", dialer.hdrs[0].Get("Authorization"))
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "ConnectionState(9)", ConnectionState(9).String())
}
