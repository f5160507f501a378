package invoker

import (
	"fmt"
	"strings"
	"time"
)

// Profile describes how to call one external CLI agent.
type Profile struct {
	Name           string   `json:"-"`
	Binary         string   `json:"binary"`
	ModeArgs       []string `json:"mode_args,omitempty"`
	ExtraArgs      []string `json:"extra_args,omitempty"`
	StructuredArgs []string `json:"structured_args,omitempty"`
	ResumeFlag     string   `json:"resume_flag"`
	// StructuredResume requests structured output on resumed calls too, which
	// lets the invoker notice a rotated handle.
	StructuredResume bool     `json:"structured_resume,omitempty"`
	HandleFields     []string `json:"handle_fields,omitempty"`
	ResponseFields   []string `json:"response_fields,omitempty"`
	TimeoutSeconds   int      `json:"timeout_seconds,omitempty"`

	// Runner selects "local" (default) or "docker".
	Runner    string   `json:"runner,omitempty"`
	Container string   `json:"container,omitempty"`
	User      string   `json:"user,omitempty"`
	WorkDir   string   `json:"work_dir,omitempty"`
	Env       []string `json:"env,omitempty"`
}

var (
	defaultHandleFields   = []string{"session_id", "sessionId", "chat_id", "chatId", "conversation_id"}
	defaultResponseFields = []string{"result", "response", "text", "content"}
)

// DefaultProfiles returns the built-in agent profiles.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"claude": {
			Binary:         "claude",
			ModeArgs:       []string{"-p"},
			StructuredArgs: []string{"--output-format", "json"},
			ResumeFlag:     "--resume",
			TimeoutSeconds: 300,
		},
		"cursor": {
			Binary:         "cursor-agent",
			ModeArgs:       []string{"-p"},
			StructuredArgs: []string{"--output-format", "json"},
			ResumeFlag:     "--resume",
			HandleFields:   []string{"session_id", "chat_id", "chatId", "id"},
			TimeoutSeconds: 300,
		},
	}
}

// Validate checks that the profile can build an invocation.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Binary) == "" {
		return fmt.Errorf("agent %q: binary is required", p.Name)
	}
	if p.ResumeFlag == "" {
		return fmt.Errorf("agent %q: resume_flag is required", p.Name)
	}
	switch p.Runner {
	case "", "local":
	case "docker":
		if p.Container == "" {
			return fmt.Errorf("agent %q: docker runner needs a container", p.Name)
		}
	default:
		return fmt.Errorf("agent %q: unknown runner %q", p.Name, p.Runner)
	}
	return nil
}

func (p Profile) timeout() time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return 300 * time.Second
}

func (p Profile) handleFields() []string {
	if len(p.HandleFields) > 0 {
		return p.HandleFields
	}
	return defaultHandleFields
}

func (p Profile) responseFields() []string {
	if len(p.ResponseFields) > 0 {
		return p.ResponseFields
	}
	return defaultResponseFields
}

// structured reports whether an invocation with or without a handle asks for
// structured output.
func (p Profile) structured(resume bool) bool {
	if len(p.StructuredArgs) == 0 {
		return false
	}
	return !resume || p.StructuredResume
}

// Argv builds
//
//	<binary> <mode args> <extra args> [structured args] [resume flag handle] <query> [flags...]
//
// The query is always one argument.
func (p Profile) Argv(query, handle string, flags []string) []string {
	argv := make([]string, 0, 8+len(flags))
	argv = append(argv, p.Binary)
	argv = append(argv, p.ModeArgs...)
	argv = append(argv, p.ExtraArgs...)
	if p.structured(handle != "") {
		argv = append(argv, p.StructuredArgs...)
	}
	if handle != "" {
		argv = append(argv, p.ResumeFlag, handle)
	}
	argv = append(argv, query)
	argv = append(argv, flags...)
	return argv
}
