// Package fakebackend serves the daemon's client-facing surface from memory.
//
// The /rpc endpoint accepts websocket connections carrying one JSON record
// per frame. Requests are {id, method, params}; replies are {id, result} or
// {id, error: {message}}; notifications are {method, params} and are
// broadcast to every authenticated connection.
//
// When a token is configured a connection is authenticated either on the
// upgrade request (?token= or a bearer header) or in-band by calling the
// auth method with the token as a string or {"token": "..."}. Until then
// every other call is answered with an "unauthorized" error.
//
// The seeded workspaces can be connected, threads started in them, and
// user messages sent; each message is echoed back as an app-server-event.
// Files under a workspace root are served by /api/workspaces/{id}/file.
package fakebackend
