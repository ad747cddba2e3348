// ABOUTME: Declared backend methods and notification topics used by the launcher and UI callers.
// ABOUTME: Mirrors the daemon's JSON field names; bodies of the methods live in the backend.

package rpc

import (
	"encoding/json"
	"errors"
)

// OK is the {"ok": true} acknowledgement many daemon methods return.
type OK struct {
	OK bool `json:"ok"`
}

// Empty is a request with no parameters.
type Empty struct{}

// AuthRequest authenticates a connection in-band when the token was not
// supplied on the URL.
type AuthRequest struct {
	Token string `json:"token"`
}

func (r AuthRequest) Validate() error {
	if r.Token == "" {
		return errors.New("token is required")
	}
	return nil
}

// WorkspaceInfo is the daemon's summary of a registered workspace.
type WorkspaceInfo struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Path      string          `json:"path"`
	Connected bool            `json:"connected"`
	Kind      string          `json:"kind,omitempty"`
	Settings  json.RawMessage `json:"settings,omitempty"`
}

// WorkspaceRef addresses a workspace by id.
type WorkspaceRef struct {
	ID string `json:"id"`
}

func (r WorkspaceRef) Validate() error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	return nil
}

// ThreadStart requests a new agent thread in a workspace.
type ThreadStart struct {
	WorkspaceID string `json:"workspaceId"`
}

func (r ThreadStart) Validate() error {
	if r.WorkspaceID == "" {
		return errors.New("workspaceId is required")
	}
	return nil
}

// UserMessage sends user input into a thread.
type UserMessage struct {
	WorkspaceID string   `json:"workspaceId"`
	ThreadID    string   `json:"threadId"`
	Text        string   `json:"text"`
	Model       string   `json:"model,omitempty"`
	Effort      string   `json:"effort,omitempty"`
	AccessMode  string   `json:"accessMode,omitempty"`
	Images      []string `json:"images,omitempty"`
}

func (r UserMessage) Validate() error {
	switch {
	case r.WorkspaceID == "":
		return errors.New("workspaceId is required")
	case r.ThreadID == "":
		return errors.New("threadId is required")
	case r.Text == "" && len(r.Images) == 0:
		return errors.New("text or images are required")
	}
	return nil
}

var (
	Ping             = NewMethod[Empty, OK]("ping")
	Auth             = NewMethod[AuthRequest, OK]("auth")
	ListWorkspaces   = NewMethod[Empty, []WorkspaceInfo]("list_workspaces")
	ConnectWorkspace = NewMethod[WorkspaceRef, OK]("connect_workspace")
	StartThread      = NewMethod[ThreadStart, json.RawMessage]("start_thread")
	SendUserMessage  = NewMethod[UserMessage, json.RawMessage]("send_user_message")
	GetAppSettings   = NewMethod[Empty, json.RawMessage]("get_app_settings")
)

// AppServerEvent wraps one event emitted by a workspace's agent server.
type AppServerEvent struct {
	WorkspaceID string          `json:"workspace_id"`
	Message     json.RawMessage `json:"message"`
}

func (e *AppServerEvent) Validate() error {
	if e.WorkspaceID == "" {
		return errors.New("workspace_id is required")
	}
	return nil
}

// TerminalOutput is a chunk of output from a workspace terminal.
type TerminalOutput struct {
	WorkspaceID string `json:"workspaceId"`
	TerminalID  string `json:"terminalId"`
	Data        string `json:"data"`
}

// TerminalExit reports that a workspace terminal closed.
type TerminalExit struct {
	WorkspaceID string `json:"workspaceId"`
	TerminalID  string `json:"terminalId"`
}

var (
	AppServerEvents = NewTopic[AppServerEvent]("app-server-event")
	TerminalOutputs = NewTopic[TerminalOutput]("terminal-output")
	TerminalExits   = NewTopic[TerminalExit]("terminal-exit")
)
