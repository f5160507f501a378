// Package console is the per-user interaction state machine that turns chat
// events into session management, agent queries and host directives.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/agentconsole/internal/directive"
	"github.com/user/agentconsole/internal/invoker"
	"github.com/user/agentconsole/internal/registry"
	"github.com/user/agentconsole/internal/sandbox"
	"github.com/user/agentconsole/internal/types"
)

// SessionRegistry is the storage-facing half of the console.
type SessionRegistry interface {
	CreateSession(ctx context.Context, user types.UserID, name string) (*types.Session, error)
	ListSessions(ctx context.Context, user types.UserID) ([]*types.Session, error)
	GetSession(ctx context.Context, user types.UserID, name string) (*types.Session, error)
	ResolveHandle(sess *types.Session) (string, bool)
	BindHandle(ctx context.Context, sess *types.Session, handle string) error
	DeleteSession(ctx context.Context, user types.UserID, name string) (int64, error)
	RecordMessage(ctx context.Context, in registry.MessageInput) (*types.Message, error)
}

// Agents resolves a session's agent by name.
type Agents interface {
	Get(name string) (invoker.Agent, bool)
}

// HostExecutor runs host directives.
type HostExecutor interface {
	Execute(ctx context.Context, command string, args []string) (*sandbox.Result, error)
}

// Auditor journals host directives.
type Auditor interface {
	Append(ctx context.Context, entry *types.HostAuditEntry) error
}

type Options struct {
	// MaxReplyChars bounds the agent or host output shown in one reply.
	MaxReplyChars int
	// RecordFailures stores failed invocations with an error response body.
	RecordFailures bool
	// Host may be nil to disable host directives.
	Host  HostExecutor
	Audit Auditor
}

const DefaultMaxReplyChars = 4000

// Outcome is the immediate result of one event. Job, when set, must be either
// Run or Discarded by the caller, outside any lock.
type Outcome struct {
	Reply types.Reply
	Job   *Job
}

// Machine holds every user's interaction state. Events for one user are
// decided one at a time; different users never contend.
type Machine struct {
	reg    SessionRegistry
	agents Agents
	parser *directive.Parser
	opts   Options
	now    func() time.Time

	mu    sync.Mutex
	users map[types.UserID]*slot
}

type slot struct {
	mu       sync.Mutex
	state    State
	touched  time.Time
	inflight *Job
	replyKey types.ReplyKey
	evicted  bool
}

// New creates a Machine.
func New(reg SessionRegistry, agents Agents, parser *directive.Parser, opts Options) *Machine {
	if opts.MaxReplyChars <= 0 {
		opts.MaxReplyChars = DefaultMaxReplyChars
	}
	if parser == nil {
		parser = directive.New("", nil)
	}
	return &Machine{
		reg:    reg,
		agents: agents,
		parser: parser,
		opts:   opts,
		now:    time.Now,
		users:  make(map[types.UserID]*slot),
	}
}

// acquire returns the user's slot locked.
func (m *Machine) acquire(user types.UserID) *slot {
	for {
		m.mu.Lock()
		s, ok := m.users[user]
		if !ok {
			s = &slot{state: Idle{}}
			m.users[user] = s
		}
		m.mu.Unlock()

		s.mu.Lock()
		if !s.evicted {
			return s
		}
		s.mu.Unlock()
	}
}

// State returns the user's current state.
func (m *Machine) State(user types.UserID) State {
	m.mu.Lock()
	s, ok := m.users[user]
	m.mu.Unlock()
	if !ok {
		return Idle{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return Idle{}
	}
	return s.state
}

// Busy reports whether the user has a job in flight.
func (m *Machine) Busy(user types.UserID) bool {
	s := m.acquire(user)
	defer s.mu.Unlock()
	return s.inflight != nil
}

// Handle decides what an event does. Storage calls happen under the user's
// lock; agent and host execution happen later in the returned Job.
func (m *Machine) Handle(ctx context.Context, ev *types.InboundEvent) Outcome {
	s := m.acquire(ev.UserID)
	defer s.mu.Unlock()

	s.touched = m.now()
	if ev.ReplyKey != "" {
		s.replyKey = ev.ReplyKey
	}

	before := s.state.Name()
	out := m.step(ctx, ev.UserID, s, ev)
	if after := s.state.Name(); after != before {
		slog.Debug("console transition", "user_id", string(ev.UserID), "from", before, "to", after)
	}
	return out
}

func (m *Machine) step(ctx context.Context, user types.UserID, s *slot, ev *types.InboundEvent) Outcome {
	switch ev.Action.Kind {
	case types.ActionNew:
		s.state = AwaitingSessionName{}
		return m.reply(ctx, user, s.state, msgAskName)

	case types.ActionSelect:
		return m.selectSession(ctx, user, s, ev.Action.Session)

	case types.ActionFlags:
		return m.startFlags(ctx, user, s)

	case types.ActionSend:
		return m.send(ctx, user, s)

	case types.ActionExit:
		s.state = Idle{}
		return m.reply(ctx, user, s.state, msgExited)

	case types.ActionDelete:
		return m.deleteSession(ctx, user, s)

	case types.ActionMenu:
		return m.reply(ctx, user, s.state, menuText(s.state))
	}

	text := ev.Text
	if strings.TrimSpace(text) == "" {
		return m.reply(ctx, user, s.state, menuText(s.state))
	}

	switch st := s.state.(type) {
	case Idle:
		return m.reply(ctx, user, st, msgIdleHint)

	case AwaitingSessionName:
		return m.createSession(ctx, user, s, text)

	case AwaitingQuery:
		return m.dispatch(ctx, user, s, st.Session, text)

	case AccumulatingFlags:
		st.Draft = joinDraft(st.Draft, text)
		s.state = st
		return m.reply(ctx, user, st, fmt.Sprintf(msgDraft, st.Draft))
	}
	return m.reply(ctx, user, s.state, msgIdleHint)
}

func (m *Machine) createSession(ctx context.Context, user types.UserID, s *slot, name string) Outcome {
	sess, err := m.reg.CreateSession(ctx, user, name)
	switch {
	case errors.Is(err, types.ErrDuplicateName):
		return m.reply(ctx, user, s.state, fmt.Sprintf(msgDuplicateName, strings.TrimSpace(name)))
	case errors.Is(err, types.ErrInvalidName):
		return m.reply(ctx, user, s.state, msgInvalidName)
	case err != nil:
		slog.Error("create session failed", "user_id", string(user), "error", err)
		return m.reply(ctx, user, s.state, msgStorageFailure)
	}
	s.state = AwaitingQuery{Session: sess.Name}
	return m.reply(ctx, user, s.state, fmt.Sprintf(msgCreated, sess.Name))
}

func (m *Machine) selectSession(ctx context.Context, user types.UserID, s *slot, name string) Outcome {
	sess, err := m.reg.GetSession(ctx, user, name)
	switch {
	case errors.Is(err, types.ErrNotFound):
		s.state = Idle{}
		return m.reply(ctx, user, s.state, fmt.Sprintf(msgNotFound, name))
	case err != nil:
		slog.Error("select session failed", "user_id", string(user), "session", name, "error", err)
		return m.reply(ctx, user, s.state, msgStorageFailure)
	}

	next := AwaitingQuery{Session: sess.Name}
	if cur, ok := s.state.(AwaitingQuery); ok && cur.Session == sess.Name {
		next.Draft = cur.Draft
	}
	s.state = next
	return m.reply(ctx, user, s.state, fmt.Sprintf(msgSelected, sess.Name))
}

func (m *Machine) startFlags(ctx context.Context, user types.UserID, s *slot) Outcome {
	switch st := s.state.(type) {
	case AwaitingQuery:
		next := AccumulatingFlags{Session: st.Session, Draft: joinDraft(st.Draft, m.parser.Marker())}
		s.state = next
		return m.reply(ctx, user, next, fmt.Sprintf(msgFlagsStarted, next.Session, next.Draft))
	case AccumulatingFlags:
		return m.reply(ctx, user, st, fmt.Sprintf(msgDraft, st.Draft))
	}
	return m.reply(ctx, user, s.state, msgSelectFirst)
}

func (m *Machine) send(ctx context.Context, user types.UserID, s *slot) Outcome {
	switch st := s.state.(type) {
	case AccumulatingFlags:
		return m.dispatch(ctx, user, s, st.Session, st.Draft)
	case AwaitingQuery:
		if strings.TrimSpace(st.Draft) != "" {
			return m.dispatch(ctx, user, s, st.Session, st.Draft)
		}
	}
	return m.reply(ctx, user, s.state, msgNothingToSend)
}

func (m *Machine) deleteSession(ctx context.Context, user types.UserID, s *slot) Outcome {
	name, ok := addressed(s.state)
	if !ok {
		return m.reply(ctx, user, s.state, msgSelectFirst)
	}
	orphaned, err := m.reg.DeleteSession(ctx, user, name)
	switch {
	case errors.Is(err, types.ErrNotFound):
		s.state = Idle{}
		return m.reply(ctx, user, s.state, fmt.Sprintf(msgNotFound, name))
	case err != nil:
		slog.Error("delete session failed", "user_id", string(user), "session", name, "error", err)
		return m.reply(ctx, user, s.state, msgStorageFailure)
	}
	s.state = Idle{}
	return m.reply(ctx, user, s.state, fmt.Sprintf(msgDeleted, name, orphaned))
}

// dispatch validates a submission and hands back the Job that executes it.
// The user is left in AwaitingQuery on the session.
func (m *Machine) dispatch(ctx context.Context, user types.UserID, s *slot, name, text string) Outcome {
	if s.inflight != nil {
		return m.reply(ctx, user, s.state, fmt.Sprintf(msgBusy, s.inflight.session))
	}

	d, err := m.parser.Parse(text)
	if err != nil {
		return m.reply(ctx, user, s.state, fmt.Sprintf(msgBadInput, err))
	}
	if d.Kind == directive.KindQuery && strings.TrimSpace(d.Query) == "" && len(d.Flags) == 0 {
		return m.reply(ctx, user, s.state, msgNothingToSend)
	}

	sess, err := m.reg.GetSession(ctx, user, name)
	switch {
	case errors.Is(err, types.ErrNotFound):
		s.state = Idle{}
		return m.reply(ctx, user, s.state, fmt.Sprintf(msgNotFound, name))
	case err != nil:
		slog.Error("resolve session failed", "user_id", string(user), "session", name, "error", err)
		return m.reply(ctx, user, s.state, msgStorageFailure)
	}

	job := &Job{
		m:       m,
		ID:      types.NewJobID(),
		User:    user,
		session: sess.Name,
		sess:    sess,
		dir:     d,
		clean:   m.parser.StripFlags(text),
		raw:     strings.TrimSpace(text),
	}

	switch d.Kind {
	case directive.KindHost:
		if m.opts.Host == nil {
			return m.reply(ctx, user, s.state, msgHostDisabled)
		}
		job.clean = job.raw
	default:
		agent, ok := m.agents.Get(sess.Agent)
		if !ok {
			slog.Error("agent not configured", "user_id", string(user), "agent", sess.Agent)
			return m.reply(ctx, user, s.state, fmt.Sprintf(msgAgentMissing, sess.Agent))
		}
		job.agent = agent
	}

	s.state = AwaitingQuery{Session: sess.Name, Draft: job.clean}
	s.inflight = job

	ack := fmt.Sprintf(msgRunningQuery, sess.Name)
	if d.Kind == directive.KindHost {
		ack = fmt.Sprintf(msgRunningHost, d.Command)
	}
	return Outcome{Reply: types.Reply{Text: ack}, Job: job}
}

// complete clears the in-flight marker and settles the draft when the user
// is still on the job's session.
func (m *Machine) complete(j *Job, ok bool) State {
	s := m.acquire(j.User)
	defer s.mu.Unlock()

	if s.inflight == j {
		s.inflight = nil
	}
	s.touched = m.now()
	if q, isQuery := s.state.(AwaitingQuery); isQuery && q.Session == j.session {
		if ok {
			q.Draft = ""
		} else {
			q.Draft = j.clean
		}
		s.state = q
	}
	return s.state
}

func joinDraft(draft, text string) string {
	return strings.TrimSpace(strings.TrimSpace(draft) + " " + strings.TrimSpace(text))
}
