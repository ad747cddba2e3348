// Package rpc is the client side of the backend's /rpc endpoint.
//
// # Overview
//
// A Session owns one persistent websocket connection and multiplexes it
// into request/response calls and topic subscriptions. Every outbound
// request carries a numeric id allocated from a per-session counter; the
// backend echoes the id on its reply. Frames without an id are
// notifications and are fanned out to the handlers registered for their
// method name. Handlers run in arrival order on a goroutine separate from
// the reader, so a handler may call back into the Session.
//
//	s := rpc.New(rpc.Options{URL: "ws://127.0.0.1:4732/rpc", Token: token})
//	defer s.Disconnect()
//
//	stop := s.Subscribe("app-server-event", func(p json.RawMessage) { ... })
//	defer stop()
//
//	res, err := s.Call(ctx, "ping", nil)
//
// # Connection lifecycle
//
// The connection moves through idle, connecting, open and closed. The
// first Connect, Call or Subscribe dials; concurrent callers share one
// in-flight attempt. When an open connection drops, every pending call is
// rejected with ErrDisconnected, and a single reconnection is scheduled
// after DefaultReconnectDelay if there is at least one subscription or
// pending call. A session nobody is listening on stays closed until it is
// used again. Disconnect closes the connection and suppresses reconnection
// until the next Connect, Call or Subscribe.
//
// # Errors
//
//   - *ConnectionError: the transport could not be opened
//   - ErrCallTimeout: no reply arrived within the call's timeout
//   - ErrDisconnected: the connection closed while the call was pending
//   - *CallError: the backend replied with an explicit error
//
// Malformed frames, replies for unknown ids and replies arriving after a
// timeout are dropped and logged at debug level; they never reach a
// caller and never close the connection.
//
// # Typed methods
//
// Method and Topic bind a method name to request, response and payload
// types. Types implementing Validator are checked before a request is
// sent and after a reply or notification is decoded.
package rpc
