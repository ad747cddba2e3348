// ABOUTME: Session multiplexes one persistent /rpc connection into correlated calls and topic subscriptions.
// ABOUTME: Owns the pending-call map, topic map, connection state machine and reconnect timer.

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abigmiu/codex-monitor-webui/internal/clock"
)

const (
	// DefaultCallTimeout bounds a call when no timeout option is given.
	DefaultCallTimeout = 30 * time.Second

	// DefaultReconnectDelay is the fixed delay before a reconnection attempt.
	DefaultReconnectDelay = 1200 * time.Millisecond

	defaultDialTimeout = 10 * time.Second
)

// ConnectionState is the lifecycle of a Session's connection.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// Handler receives the raw params of a notification. Handlers run one at
// a time in arrival order on a goroutine separate from the connection
// reader, so a handler may itself Call the backend.
type Handler func(params json.RawMessage)

// Options configures a Session. Only URL is required.
type Options struct {
	// URL is the websocket URL of the /rpc endpoint.
	URL string
	// Token, when set, is attached as a token query parameter and as a
	// bearer Authorization header on the upgrade request.
	Token string

	Dialer         Dialer
	Clock          clock.Clock
	Logger         *slog.Logger
	CallTimeout    time.Duration
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
}

// Session is a request-correlated client over a single message stream.
// A Session is safe for concurrent use; the zero value is not usable.
type Session struct {
	url            string
	header         http.Header
	dialer         Dialer
	clock          clock.Clock
	logger         *slog.Logger
	callTimeout    time.Duration
	reconnectDelay time.Duration
	dialTimeout    time.Duration

	mu          sync.Mutex
	state       ConnectionState
	conn        Conn
	attempt     *attempt
	intentional bool
	retry       clock.Timer
	retryGen    uint64
	nextID      uint64
	pending     map[uint64]*pendingCall
	topics      map[string][]*registration
	nextSub     uint64

	notesMu  sync.Mutex
	notes    []notification
	draining bool
}

// notification is one inbound frame waiting for its handlers.
type notification struct {
	method string
	params json.RawMessage
}

// attempt is one in-flight dial shared by every caller waiting on it.
type attempt struct {
	done      chan struct{}
	err       error
	cancel    context.CancelFunc
	fromRetry bool
}

type pendingCall struct {
	id      uint64
	method  string
	timeout time.Duration
	reply   chan reply
	timer   clock.Timer
}

type reply struct {
	result json.RawMessage
	err    error
}

type registration struct {
	id      uint64
	handler Handler
}

// New creates an idle Session. Nothing touches the network until the
// first Connect, Call or Subscribe.
func New(opts Options) *Session {
	s := &Session{
		url:            withToken(opts.URL, opts.Token),
		header:         http.Header{},
		dialer:         opts.Dialer,
		clock:          opts.Clock,
		logger:         opts.Logger,
		callTimeout:    opts.CallTimeout,
		reconnectDelay: opts.ReconnectDelay,
		dialTimeout:    opts.DialTimeout,
		pending:        make(map[uint64]*pendingCall),
		topics:         make(map[string][]*registration),
	}
	if s.dialer == nil {
		s.dialer = WebsocketDialer{}
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.callTimeout <= 0 {
		s.callTimeout = DefaultCallTimeout
	}
	if s.reconnectDelay <= 0 {
		s.reconnectDelay = DefaultReconnectDelay
	}
	if s.dialTimeout <= 0 {
		s.dialTimeout = defaultDialTimeout
	}
	if opts.Token != "" {
		s.header.Set("Authorization", "Bearer "+opts.Token)
	}
	s.logger = s.logger.With("component", "rpc", "session_id", uuid.NewString())
	return s
}

func withToken(raw, token string) string {
	if token == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Get("token") == "" {
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the connection if it is not open yet. Concurrent callers
// share a single attempt. It clears a previous Disconnect.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.intentional = false
	a := s.startAttemptLocked(false)
	s.mu.Unlock()

	if a == nil {
		return nil
	}
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startAttemptLocked returns the in-flight attempt, starts a new one, or
// returns nil when the connection is already open.
func (s *Session) startAttemptLocked(fromRetry bool) *attempt {
	if s.state == StateOpen {
		return nil
	}
	if s.attempt != nil {
		return s.attempt
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.dialTimeout)
	a := &attempt{done: make(chan struct{}), cancel: cancel, fromRetry: fromRetry}
	s.attempt = a
	s.state = StateConnecting
	go s.dial(ctx, a)
	return a
}

func (s *Session) dial(ctx context.Context, a *attempt) {
	defer a.cancel()
	s.logger.Debug("dialing backend", "url", redactToken(s.url), "retry", a.fromRetry)

	conn, err := s.dialer.Dial(ctx, s.url, s.header.Clone())

	s.mu.Lock()
	if s.attempt != a {
		// Abandoned by Disconnect while dialing.
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		a.err = &ConnectionError{URL: s.url, Err: ErrDisconnected}
		close(a.done)
		return
	}
	s.attempt = nil

	if err != nil {
		s.state = StateClosed
		a.err = &ConnectionError{URL: s.url, Err: err}
		rearm := !s.intentional && (a.fromRetry || s.hasInterestLocked())
		if rearm {
			s.scheduleRetryLocked()
		}
		s.mu.Unlock()
		s.logger.Warn("backend connection failed", "error", a.err, "will_retry", rearm)
		close(a.done)
		return
	}

	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	s.logger.Info("backend connected", "url", redactToken(s.url))
	close(a.done)
	go s.readLoop(conn)
}

func (s *Session) hasInterestLocked() bool {
	return len(s.topics) > 0 || len(s.pending) > 0
}

func (s *Session) scheduleRetryLocked() {
	if s.retry != nil {
		return
	}
	s.retryGen++
	gen := s.retryGen
	s.retry = s.clock.AfterFunc(s.reconnectDelay, func() { s.fireRetry(gen) })
}

// fireRetry runs when the retry timer armed as gen expires. A stale timer
// must not clear the handle of a newer one.
func (s *Session) fireRetry(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retry == nil || s.retryGen != gen {
		return
	}
	s.retry = nil
	if s.intentional {
		return
	}
	s.startAttemptLocked(true)
}

func (s *Session) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.connectionLost(conn, err)
			return
		}
		s.dispatch(data)
	}
}

// connectionLost handles the end of a connection that Disconnect did not
// already claim.
func (s *Session) connectionLost(conn Conn, cause error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateClosed
	warranted := !s.intentional && s.hasInterestLocked()
	dropped := s.takePendingLocked()
	if warranted {
		s.scheduleRetryLocked()
	}
	s.mu.Unlock()

	_ = conn.Close()
	s.logger.Warn("backend connection lost",
		"error", cause,
		"pending_dropped", len(dropped),
		"will_retry", warranted,
	)
	rejectAll(dropped)
}

func (s *Session) takePendingLocked() []*pendingCall {
	dropped := make([]*pendingCall, 0, len(s.pending))
	for id, pc := range s.pending {
		dropped = append(dropped, pc)
		delete(s.pending, id)
	}
	return dropped
}

func rejectAll(calls []*pendingCall) {
	for _, pc := range calls {
		pc.timer.Stop()
		pc.reply <- reply{err: fmt.Errorf("%s (id %d): %w", pc.method, pc.id, ErrDisconnected)}
	}
}

// Disconnect closes the connection and suppresses automatic reconnection
// until the next Connect, Call or Subscribe. Pending calls are rejected
// with ErrDisconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.intentional = true
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.attempt != nil {
		s.attempt.cancel()
		s.attempt = nil
	}
	conn := s.conn
	s.conn = nil
	if s.state != StateIdle {
		s.state = StateClosed
	}
	dropped := s.takePendingLocked()
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		s.logger.Info("backend disconnected", "pending_dropped", len(dropped))
	}
	rejectAll(dropped)
}

// Close is Disconnect, for io.Closer.
func (s *Session) Close() error {
	s.Disconnect()
	return nil
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the Session's default call timeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// Call sends method with params and waits for the correlated reply.
// params may be nil, a json.RawMessage, or any JSON-marshalable value.
func (s *Session) Call(ctx context.Context, method string, params any, opts ...CallOption) (json.RawMessage, error) {
	co := callOptions{timeout: s.callTimeout}
	for _, opt := range opts {
		opt(&co)
	}
	if co.timeout <= 0 {
		co.timeout = s.callTimeout
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params for %s: %w", method, err)
	}

	if err := s.Connect(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	conn := s.conn
	if s.state != StateOpen || conn == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, ErrDisconnected)
	}
	s.nextID++
	pc := &pendingCall{
		id:      s.nextID,
		method:  method,
		timeout: co.timeout,
		reply:   make(chan reply, 1),
	}
	s.pending[pc.id] = pc
	id := pc.id
	pc.timer = s.clock.AfterFunc(co.timeout, func() { s.expire(id) })
	s.mu.Unlock()

	frame, err := encodeRequest(pc.id, method, raw)
	if err == nil {
		err = conn.WriteMessage(frame)
	}
	if err != nil {
		s.settle(pc.id, reply{err: fmt.Errorf("sending %s: %w: %v", method, ErrDisconnected, err)})
	}

	select {
	case r := <-pc.reply:
		return r.result, r.err
	case <-ctx.Done():
		s.settle(pc.id, reply{err: ctx.Err()})
		r := <-pc.reply
		return r.result, r.err
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// settle removes a pending call and delivers its one and only reply. It
// reports false when the call was already settled.
func (s *Session) settle(id uint64, r reply) bool {
	s.mu.Lock()
	pc, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	pc.timer.Stop()
	pc.reply <- r
	return true
}

func (s *Session) expire(id uint64) {
	s.mu.Lock()
	pc, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.settle(id, reply{err: fmt.Errorf("%s (id %d) after %s: %w", pc.method, id, pc.timeout, ErrCallTimeout)})
}

// dispatch routes one inbound frame. Malformed frames and replies for
// unknown ids are dropped.
func (s *Session) dispatch(data []byte) {
	msg, ok := decodeInbound(data)
	if !ok {
		s.logger.Debug("dropping malformed frame", "bytes", len(data))
		return
	}

	if msg.ID != nil {
		if s.deliverReply(*msg.ID, msg) {
			return
		}
		if msg.Method == "" {
			s.logger.Debug("dropping reply for unknown call", "id", *msg.ID)
			return
		}
	}

	if msg.Method == "" {
		s.logger.Debug("dropping frame without id or method")
		return
	}
	s.enqueue(notification{method: msg.Method, params: msg.Params})
}

// enqueue hands a notification to the drain goroutine, starting one when
// none is running. At most one drains at a time, which keeps arrival order.
func (s *Session) enqueue(n notification) {
	s.notesMu.Lock()
	s.notes = append(s.notes, n)
	if s.draining {
		s.notesMu.Unlock()
		return
	}
	s.draining = true
	s.notesMu.Unlock()
	go s.drain()
}

func (s *Session) drain() {
	for {
		s.notesMu.Lock()
		if len(s.notes) == 0 {
			s.draining = false
			s.notesMu.Unlock()
			return
		}
		n := s.notes[0]
		s.notes[0] = notification{}
		s.notes = s.notes[1:]
		s.notesMu.Unlock()

		s.notify(n.method, n.params)
	}
}

func (s *Session) deliverReply(id uint64, msg inbound) bool {
	s.mu.Lock()
	pc, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return false
	}

	if msg.Error != nil {
		return s.settle(id, reply{err: &CallError{
			Method:  pc.method,
			Message: msg.Error.Message,
			Code:    msg.Error.Code,
			Data:    msg.Error.Data,
		}})
	}
	result := msg.Result
	if len(result) == 0 {
		result = nil
	}
	return s.settle(id, reply{result: result})
}

func (s *Session) notify(method string, params json.RawMessage) {
	s.mu.Lock()
	regs := append([]*registration(nil), s.topics[method]...)
	s.mu.Unlock()

	for _, reg := range regs {
		s.invoke(method, reg, params)
	}
}

func (s *Session) invoke(method string, reg *registration, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notification handler panicked",
				"method", method,
				"subscription", reg.id,
				"panic", r,
			)
		}
	}()
	reg.handler(params)
}

// Subscribe registers handler for notifications named method and starts
// connecting in the background. The returned function removes exactly
// this registration; calling it more than once is harmless.
func (s *Session) Subscribe(method string, handler Handler) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSub++
	reg := &registration{id: s.nextSub, handler: handler}
	s.topics[method] = append(s.topics[method], reg)
	s.intentional = false
	s.startAttemptLocked(false)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(method, reg.id) })
	}
}

func (s *Session) unsubscribe(method string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regs := s.topics[method]
	for i, reg := range regs {
		if reg.id == id {
			regs = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(s.topics, method)
		return
	}
	s.topics[method] = regs
}

// Topics returns the number of handlers per subscribed method.
func (s *Session) Topics() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.topics))
	for method, regs := range s.topics {
		out[method] = len(regs)
	}
	return out
}

// Pending returns the number of calls awaiting a reply.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
