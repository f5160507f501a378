package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/user/agentconsole/internal/sandbox"
	"github.com/user/agentconsole/internal/types"
)

const (
	msgAskName        = "Send a name for the new session (letters, digits, - and _)."
	msgCreated        = "Session %s created. Send your first query."
	msgSelected       = "Session %s selected. Send a query."
	msgNotFound       = "Session %s no longer exists."
	msgDuplicateName  = "A session named %s already exists. Try another name."
	msgInvalidName    = "That name is not valid. Use up to 48 letters, digits, - or _."
	msgDeleted        = "Session %s deleted. %d messages kept in history without a session."
	msgExited         = "Left the session."
	msgIdleHint       = "Pick a session or create a new one."
	msgSelectFirst    = "Select a session first."
	msgNothingToSend  = "Nothing to send."
	msgFlagsStarted   = "Session %s: building a query. Send text to append, then Send.\n\nDraft: %s"
	msgDraft          = "Draft: %s"
	msgBusy           = "Still working on session %s. Wait for the answer before sending more."
	msgBadInput       = "Could not read that: %v"
	msgAgentMissing   = "Agent %s is not configured."
	msgHostDisabled   = "Host commands are disabled."
	msgStorageFailure = "Something went wrong storing your data. Try again."
	msgRunningQuery   = "Session %s: working..."
	msgRunningHost    = "Running %s..."
	msgTruncated      = "\n\n[output truncated]"
)

// Button labels.
const (
	labelNew    = "New Session"
	labelFlags  = "Flags"
	labelSend   = "Send"
	labelExit   = "Exit"
	labelDelete = "Delete Session"
)

const buttonsPerRow = 2

func menuText(s State) string {
	switch st := s.(type) {
	case AwaitingSessionName:
		return msgAskName
	case AwaitingQuery:
		if st.Draft != "" {
			return fmt.Sprintf("Session %s. Last unsent query: %s", st.Session, st.Draft)
		}
		return fmt.Sprintf("Session %s. Send a query.", st.Session)
	case AccumulatingFlags:
		return fmt.Sprintf("Session %s.\n\nDraft: %s", st.Session, st.Draft)
	}
	return msgIdleHint
}

// reply attaches the keyboard for state to text.
func (m *Machine) reply(ctx context.Context, user types.UserID, state State, text string) Outcome {
	return Outcome{Reply: types.Reply{Text: text, Buttons: m.keyboard(ctx, user, state)}}
}

// keyboard lays out the buttons offered in state. A storage failure drops the
// session buttons but keeps the rest.
func (m *Machine) keyboard(ctx context.Context, user types.UserID, state State) [][]types.Button {
	rows := [][]types.Button{{{Label: labelNew, Action: types.Action{Kind: types.ActionNew}}}}

	current, ok := addressed(state)
	if ok {
		row := []types.Button{{Label: labelFlags, Action: types.Action{Kind: types.ActionFlags}}}
		if _, acc := state.(AccumulatingFlags); acc {
			row = append(row, types.Button{Label: labelSend, Action: types.Action{Kind: types.ActionSend}})
		}
		rows = append(rows, row)
	}

	sessions, err := m.reg.ListSessions(ctx, user)
	if err != nil {
		slog.Warn("list sessions for keyboard failed", "user_id", string(user), "error", err)
	}
	var row []types.Button
	for _, sess := range sessions {
		label := sess.Name
		if sess.Name == current {
			label = "* " + label
		}
		row = append(row, types.Button{Label: label, Action: types.Action{Kind: types.ActionSelect, Session: sess.Name}})
		if len(row) == buttonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	last := []types.Button{{Label: labelExit, Action: types.Action{Kind: types.ActionExit}}}
	if ok {
		last = append(last, types.Button{Label: labelDelete, Action: types.Action{Kind: types.ActionDelete}})
	}
	return append(rows, last)
}

// sessionReply formats agent output for session.
func (m *Machine) sessionReply(session, output string) string {
	return fmt.Sprintf("Session %s:\n\n%s", session, m.clip(output))
}

// hostReply formats a host command result with its tier.
func (m *Machine) hostReply(res *sandbox.Result, timedOut bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s", strings.Join(append([]string{res.Command}, res.Args...), " "))
	fmt.Fprintf(&b, "\n[tier: %s", res.Tier)
	if !res.HostScoped {
		b.WriteString(", not verified to be the host")
	}
	b.WriteString("]")
	switch {
	case timedOut:
		b.WriteString("\n[timed out]")
	case res.ExitCode != 0:
		fmt.Fprintf(&b, "\n[exit %d]", res.ExitCode)
	}
	out := strings.TrimRight(res.Output, "\n")
	if out == "" {
		out = "(no output)"
	}
	b.WriteString("\n\n")
	b.WriteString(m.clip(out))
	if res.Truncated && utf8.RuneCountInString(out) <= m.opts.MaxReplyChars {
		b.WriteString(msgTruncated)
	}
	return b.String()
}

// clip bounds s to MaxReplyChars runes.
func (m *Machine) clip(s string) string {
	limit := m.opts.MaxReplyChars
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + msgTruncated
		}
		n++
	}
	return s
}
