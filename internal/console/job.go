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
	"github.com/user/agentconsole/internal/types"
)

// Job is one accepted submission waiting to execute. Exactly one of Run or
// Discard must be called.
type Job struct {
	m  *Machine
	ID types.JobID
	// User owns the job.
	User types.UserID

	session string
	sess    *types.Session
	dir     directive.Directive
	agent   invoker.Agent
	clean   string
	raw     string

	once sync.Once
}

// Session returns the name of the session the job runs against.
func (j *Job) Session() string { return j.session }

// Host reports whether the job is a host directive.
func (j *Job) Host() bool { return j.dir.Kind == directive.KindHost }

// Discard releases the job without running it. The user's draft keeps the
// submission so it can be resent.
func (j *Job) Discard() {
	j.once.Do(func() { j.m.complete(j, false) })
}

// Run executes the job and returns the reply for the user.
func (j *Job) Run(ctx context.Context) types.Reply {
	var (
		text string
		ok   bool
	)
	ran := false
	j.once.Do(func() {
		ran = true
		if j.Host() {
			text, ok = j.runHost(ctx)
		} else {
			text, ok = j.runQuery(ctx)
		}
	})
	if !ran {
		return types.Reply{}
	}
	state := j.m.complete(j, ok)
	return types.Reply{Text: text, Buttons: j.m.keyboard(context.WithoutCancel(ctx), j.User, state)}
}

func (j *Job) runQuery(ctx context.Context) (string, bool) {
	m := j.m
	handle, _ := m.reg.ResolveHandle(j.sess)
	log := slog.With("user_id", string(j.User), "session", j.session, "agent", j.agent.Name(), "job_id", string(j.ID))

	res, err := j.agent.Invoke(ctx, invoker.Request{Query: j.dir.Query, Handle: handle, Flags: j.dir.Flags})

	// Persistence outlives a cancelled request.
	store := context.WithoutCancel(ctx)

	var notes []string
	switch {
	case err == nil:
		if res.Rotated {
			log.Warn("agent reported a different resume handle", "stored", handle, "reported", res.Handle)
			notes = append(notes, "Note: the agent reported a new conversation id; this session keeps the original.")
		} else if res.Fresh {
			switch berr := m.reg.BindHandle(store, j.sess, res.Handle); {
			case errors.Is(berr, types.ErrHandleStale):
				log.Warn("resume handle already bound", "reported", res.Handle)
				notes = append(notes, "Note: this session was already linked to another conversation; that link is kept.")
			case berr != nil:
				log.Error("bind resume handle failed", "error", berr)
				notes = append(notes, "Note: the conversation link could not be saved; the next query starts fresh.")
			}
		}

	case errors.Is(err, types.ErrHandleNotFound):
		log.Warn("agent reported no resume handle")
		notes = append(notes, "Note: the agent did not report a conversation id; the next query starts fresh.")

	default:
		return j.queryFailed(store, log, res, err), false
	}

	j.record(store, log, registry.MessageInput{
		UserID:   j.User,
		Session:  j.sess,
		Kind:     types.MessageQuery,
		Query:    j.dir.Query,
		Response: res.Response,
		Flags:    j.dir.Flags,
	})

	out := res.Response
	if strings.TrimSpace(out) == "" {
		out = "(empty response)"
	}
	text := m.sessionReply(j.session, out)
	if len(notes) > 0 {
		text += "\n\n" + strings.Join(notes, "\n")
	}
	return text, true
}

// queryFailed logs and records a failed invocation and returns the user-facing text.
func (j *Job) queryFailed(ctx context.Context, log *slog.Logger, res *invoker.Result, err error) string {
	var summary string
	switch {
	case errors.Is(err, types.ErrTimedOut):
		summary = "the agent took too long and was stopped."
	case errors.Is(err, types.ErrToolUnavailable):
		summary = "the agent is not available right now."
	case errors.Is(err, types.ErrToolExecutionFailed):
		summary = "the agent failed to answer."
		if res != nil && res.ExitCode != 0 {
			summary = fmt.Sprintf("the agent failed to answer (exit %d).", res.ExitCode)
		}
	case errors.Is(err, context.Canceled):
		summary = "the request was cancelled."
	default:
		summary = "the query could not be run."
	}
	log.Error("agent invocation failed", "error", err)

	if j.m.opts.RecordFailures {
		body := "error: " + err.Error()
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			body += "\n" + strings.TrimSpace(res.Stderr)
		}
		j.record(ctx, log, registry.MessageInput{
			UserID:   j.User,
			Session:  j.sess,
			Kind:     types.MessageQuery,
			Query:    j.dir.Query,
			Response: body,
			Flags:    j.dir.Flags,
			Failed:   true,
		})
	}
	return fmt.Sprintf("Session %s: %s Your query was kept; send it again to retry.", j.session, summary)
}

func (j *Job) runHost(ctx context.Context) (string, bool) {
	m := j.m
	store := context.WithoutCancel(ctx)
	log := slog.With("user_id", string(j.User), "session", j.session, "command", j.dir.Command, "job_id", string(j.ID))

	start := m.now()
	res, err := m.opts.Host.Execute(ctx, j.dir.Command, j.dir.Args)
	timedOut := errors.Is(err, types.ErrTimedOut)

	entry := &types.HostAuditEntry{
		UserID:   j.User,
		Command:  j.dir.Command,
		Args:     j.dir.Args,
		Allowed:  !errors.Is(err, types.ErrCommandNotAllowed),
		TimedOut: timedOut,
		At:       start,
	}
	if res != nil {
		entry.Tier = string(res.Tier)
		entry.HostScoped = res.HostScoped
		entry.ExitCode = res.ExitCode
		entry.DurationMS = res.Duration.Milliseconds()
	} else {
		entry.DurationMS = time.Since(start).Milliseconds()
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if m.opts.Audit != nil {
		if aerr := m.opts.Audit.Append(store, entry); aerr != nil {
			log.Error("host audit append failed", "error", aerr)
		}
	}

	var text string
	switch {
	case errors.Is(err, types.ErrCommandNotAllowed):
		log.Info("host directive rejected", "error", err)
		return fmt.Sprintf("Not allowed: %s. Only read-only diagnostic commands can run on the host.", j.dir.Command), false
	case errors.Is(err, types.ErrToolUnavailable):
		log.Warn("host command unavailable", "error", err)
		return fmt.Sprintf("%s is not available on the host.", j.dir.Command), false
	case timedOut && res != nil:
		text = m.hostReply(res, true)
	case err != nil:
		log.Error("host command failed", "error", err)
		return fmt.Sprintf("%s could not be run.", j.dir.Command), false
	default:
		text = m.hostReply(res, false)
	}

	j.record(store, log, registry.MessageInput{
		UserID:   j.User,
		Session:  j.sess,
		Kind:     types.MessageHost,
		Query:    j.raw,
		Response: res.Output,
		Failed:   timedOut || res.ExitCode != 0,
	})
	return text, !timedOut
}

func (j *Job) record(ctx context.Context, log *slog.Logger, in registry.MessageInput) {
	if _, err := j.m.reg.RecordMessage(ctx, in); err != nil {
		log.Error("record message failed", "error", err)
	}
}
