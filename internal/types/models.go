// internal/types/models.go
package types

import (
	"strings"
	"time"
)

type Session struct {
	ID           SessionID `json:"id"`
	UserID       UserID    `json:"user_id"`
	Name         string    `json:"name"`
	Agent        string    `json:"agent"`
	ResumeHandle string    `json:"resume_handle,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type MessageKind string

const (
	MessageQuery MessageKind = "query"
	MessageHost  MessageKind = "host"
)

// Message is one recorded exchange. An empty SessionID marks it orphaned.
type Message struct {
	ID        MessageID   `json:"id"`
	UserID    UserID      `json:"user_id"`
	SessionID SessionID   `json:"session_id,omitempty"`
	Kind      MessageKind `json:"kind"`
	Query     string      `json:"query"`
	Response  string      `json:"response"`
	FlagsUsed string      `json:"flags_used,omitempty"`
	Failed    bool        `json:"failed"`
	CreatedAt time.Time   `json:"created_at"`
}

type MessageFilter struct {
	UserID    UserID
	SessionID SessionID
	// Orphaned restricts the result to messages with no session.
	Orphaned bool
	Limit    int
}

type ActionKind string

const (
	ActionNone   ActionKind = ""
	ActionSelect ActionKind = "select"
	ActionNew    ActionKind = "new"
	ActionFlags  ActionKind = "flags"
	ActionSend   ActionKind = "send"
	ActionExit   ActionKind = "exit"
	ActionDelete ActionKind = "delete"
	ActionMenu   ActionKind = "menu"
)

// Action is a button press or command. Session is set only for ActionSelect.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Session string     `json:"session,omitempty"`
}

// Token encodes the action as callback data, e.g. "select:prod".
func (a Action) Token() string {
	if a.Kind == ActionSelect {
		return string(ActionSelect) + ":" + a.Session
	}
	return string(a.Kind)
}

// ParseAction decodes a callback token. Unknown tokens yield ActionNone and false.
func ParseAction(token string) (Action, bool) {
	token = strings.TrimSpace(token)
	if name, ok := strings.CutPrefix(token, string(ActionSelect)+":"); ok {
		if name == "" {
			return Action{}, false
		}
		return Action{Kind: ActionSelect, Session: name}, true
	}
	switch k := ActionKind(token); k {
	case ActionNew, ActionFlags, ActionSend, ActionExit, ActionDelete, ActionMenu:
		return Action{Kind: k}, true
	}
	return Action{}, false
}

type InboundEvent struct {
	Source   string   `json:"source"`
	UserID   UserID   `json:"user_id"`
	ReplyKey ReplyKey `json:"reply_key"`
	Text     string   `json:"text,omitempty"`
	Action   Action   `json:"action,omitempty"`
}

type Button struct {
	Label  string `json:"label"`
	Action Action `json:"action"`
}

// Reply is plain text plus optional rows of buttons.
type Reply struct {
	Text    string     `json:"text"`
	Buttons [][]Button `json:"buttons,omitempty"`
}

// HostAuditEntry records one host directive that reached the sandbox policy gate.
type HostAuditEntry struct {
	Seq        int64     `json:"seq"`
	UserID     UserID    `json:"user_id"`
	Command    string    `json:"command"`
	Args       []string  `json:"args,omitempty"`
	Allowed    bool      `json:"allowed"`
	Tier       string    `json:"tier,omitempty"`
	HostScoped bool      `json:"host_scoped"`
	ExitCode   int       `json:"exit_code"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}
