// ABOUTME: Method table of the fake backend; anything unlisted answers "unknown method: X"

package fakebackend

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/abigmiu/codex-monitor-webui/internal/rpc"
)

var errWorkspaceNotFound = errors.New("workspace not found")

func (s *Server) handle(method string, params json.RawMessage) (any, error) {
	switch method {
	case rpc.Ping.Name, rpc.Auth.Name:
		return rpc.OK{OK: true}, nil

	case rpc.ListWorkspaces.Name:
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]rpc.WorkspaceInfo, 0, len(s.workspaces))
		for _, w := range s.workspaces {
			out = append(out, *w)
		}
		return out, nil

	case rpc.ConnectWorkspace.Name:
		var req rpc.WorkspaceRef
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		w := s.workspaceLocked(req.ID)
		if w == nil {
			return nil, errWorkspaceNotFound
		}
		w.Connected = true
		return rpc.OK{OK: true}, nil

	case rpc.StartThread.Name:
		var req rpc.ThreadStart
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.workspaceLocked(req.WorkspaceID) == nil {
			return nil, errWorkspaceNotFound
		}
		id := uuid.NewString()
		s.threads[id] = req.WorkspaceID
		return map[string]any{"thread": map[string]string{"id": id}}, nil

	case rpc.SendUserMessage.Name:
		var req rpc.UserMessage
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		s.mu.Lock()
		ws, ok := s.threads[req.ThreadID]
		s.mu.Unlock()
		if !ok || ws != req.WorkspaceID {
			return nil, fmt.Errorf("thread not found: %s", req.ThreadID)
		}
		turn := uuid.NewString()
		echo, _ := json.Marshal(map[string]any{
			"method": "item/agentMessage/delta",
			"params": map[string]string{"threadId": req.ThreadID, "turnId": turn, "delta": req.Text},
		})
		if err := s.Emit(rpc.AppServerEvents.Name, rpc.AppServerEvent{WorkspaceID: ws, Message: echo}); err != nil {
			return nil, err
		}
		return map[string]any{"turn": map[string]string{"id": turn}}, nil

	case rpc.GetAppSettings.Name:
		return map[string]any{}, nil

	default:
		return nil, fmt.Errorf("unknown method: %s", method)
	}
}

func (s *Server) workspaceLocked(id string) *rpc.WorkspaceInfo {
	for _, w := range s.workspaces {
		if w.ID == id {
			return w
		}
	}
	return nil
}

// decodeParams fills dst and runs its Validate method when it has one.
func decodeParams(params json.RawMessage, dst any) error {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	if v, ok := dst.(rpc.Validator); ok {
		return v.Validate()
	}
	return nil
}
