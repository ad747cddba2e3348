// ABOUTME: Typed method and topic descriptors layered over the untyped Session.
// ABOUTME: Payloads are decoded and validated at the boundary so call sites stay strongly typed.

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// Validator is implemented by request and response types that check
// their own invariants. Invoke calls it before sending and after decoding.
type Validator interface {
	Validate() error
}

// Method describes one backend method with its request and response types.
type Method[Req, Resp any] struct {
	Name string
}

// NewMethod declares a typed method.
func NewMethod[Req, Resp any](name string) Method[Req, Resp] {
	return Method[Req, Resp]{Name: name}
}

// Invoke performs a typed call on s.
func Invoke[Req, Resp any](ctx context.Context, s *Session, m Method[Req, Resp], req Req, opts ...CallOption) (Resp, error) {
	var zero Resp
	if v, ok := any(req).(Validator); ok {
		if err := v.Validate(); err != nil {
			return zero, fmt.Errorf("%s: invalid request: %w", m.Name, err)
		}
	}

	raw, err := s.Call(ctx, m.Name, req, opts...)
	if err != nil {
		return zero, err
	}

	var resp Resp
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return zero, fmt.Errorf("%s: decoding result: %w", m.Name, err)
		}
	}
	if v, ok := any(&resp).(Validator); ok {
		if err := v.Validate(); err != nil {
			return zero, fmt.Errorf("%s: invalid result: %w", m.Name, err)
		}
	}
	return resp, nil
}

// Topic describes a notification method with its payload type.
type Topic[T any] struct {
	Name string
}

// NewTopic declares a typed notification topic.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{Name: name}
}

// On subscribes fn to topic t on s. Payloads that fail to decode or
// validate are logged and dropped; fn never sees them.
func On[T any](s *Session, t Topic[T], fn func(T)) (unsubscribe func()) {
	return s.Subscribe(t.Name, func(params json.RawMessage) {
		var payload T
		if err := json.Unmarshal(params, &payload); err != nil {
			s.logger.Warn("dropping undecodable notification", "method", t.Name, "error", err)
			return
		}
		if v, ok := any(&payload).(Validator); ok {
			if err := v.Validate(); err != nil {
				s.logger.Warn("dropping invalid notification", "method", t.Name, "error", err)
				return
			}
		}
		fn(payload)
	})
}
