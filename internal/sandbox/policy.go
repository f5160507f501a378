package sandbox

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/user/agentconsole/internal/types"
)

type Category string

const (
	CategoryNetwork    Category = "network"
	CategorySystem     Category = "system"
	CategoryFilesystem Category = "filesystem"
)

// DefaultAllowList is the read-only command set permitted on the host.
func DefaultAllowList() map[Category][]string {
	return map[Category][]string{
		CategoryNetwork:    {"ping", "traceroute", "mtr", "dig", "host", "nslookup", "ss", "netstat", "ip", "curl"},
		CategorySystem:     {"df", "free", "ps", "uptime", "uname"},
		CategoryFilesystem: {"ls", "cat", "grep", "find", "du", "stat"},
	}
}

// Policy decides whether a command may run. It is immutable once built.
type Policy struct {
	commands map[string]Category
}

// NewPolicy builds a policy from categorized command names.
func NewPolicy(allow map[Category][]string) (*Policy, error) {
	p := &Policy{commands: make(map[string]Category)}
	for cat, cmds := range allow {
		switch cat {
		case CategoryNetwork, CategorySystem, CategoryFilesystem:
		default:
			return nil, fmt.Errorf("unknown allow-list category %q", cat)
		}
		for _, c := range cmds {
			c = strings.TrimSpace(c)
			if c == "" || strings.ContainsAny(c, "/ \t") {
				return nil, fmt.Errorf("invalid allow-list entry %q", c)
			}
			if prev, dup := p.commands[c]; dup && prev != cat {
				return nil, fmt.Errorf("command %q listed under %s and %s", c, prev, cat)
			}
			p.commands[c] = cat
		}
	}
	return p, nil
}

// Check returns the command's category, or types.ErrCommandNotAllowed.
// Commands are matched by bare name; any path component is rejected.
func (p *Policy) Check(command string, args []string) (Category, error) {
	if command == "" || command != filepath.Base(command) {
		return "", fmt.Errorf("%q: %w", command, types.ErrCommandNotAllowed)
	}
	cat, ok := p.commands[command]
	if !ok {
		return "", fmt.Errorf("%q: %w", command, types.ErrCommandNotAllowed)
	}
	if rule, ok := argRules[command]; ok {
		if err := rule(args); err != nil {
			return "", fmt.Errorf("%s: %w", command, err)
		}
	}
	return cat, nil
}

// Commands lists allowed commands per category, sorted.
func (p *Policy) Commands() map[Category][]string {
	out := make(map[Category][]string)
	for c, cat := range p.commands {
		out[cat] = append(out[cat], c)
	}
	for cat := range out {
		sort.Strings(out[cat])
	}
	return out
}

// argRules reject the write or exec capable options of allowed commands.
var argRules = map[string]func(args []string) error{
	"find": denyArgs(func(a string) bool {
		switch a {
		case "-exec", "-execdir", "-ok", "-okdir", "-delete", "-fls":
			return true
		}
		return strings.HasPrefix(a, "-fprint")
	}),
	"curl": denyArgs(func(a string) bool {
		if strings.HasPrefix(a, "--") {
			name, _, _ := strings.Cut(a, "=")
			switch name {
			case "--output", "--output-dir", "--remote-name", "--remote-name-all", "--upload-file",
				"--config", "--dump-header", "--cookie-jar", "--trace", "--trace-ascii",
				"--libcurl", "--stderr", "--create-dirs":
				return true
			}
			return false
		}
		// Short option clusters such as -sSLo.
		return strings.HasPrefix(a, "-") && strings.ContainsAny(a[1:], "oOTKDc")
	}),
	"ss": denyArgs(func(a string) bool {
		if a == "--kill" {
			return true
		}
		// -K alone or inside a cluster such as -tK.
		return strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && strings.ContainsRune(a[1:], 'K')
	}),
	"ip": denyArgs(func(a string) bool {
		switch strings.ToLower(a) {
		case "add", "del", "delete", "change", "replace", "set", "flush", "append", "prepend",
			"exec", "attach", "-b", "-batch", "-force":
			return true
		}
		return false
	}),
}

func denyArgs(denied func(string) bool) func([]string) error {
	return func(args []string) error {
		for _, a := range args {
			if denied(a) {
				return fmt.Errorf("argument %q: %w", a, types.ErrCommandNotAllowed)
			}
		}
		return nil
	}
}
