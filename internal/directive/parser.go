// Package directive splits raw user text into an agent query with CLI flags,
// or a host directive.
package directive

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/shlex"

	"github.com/user/agentconsole/internal/types"
)

const DefaultFlagMarker = "#flags"

var DefaultHostPrefixes = []string{"!host", "#host", "!exec", "#exec"}

type Kind int

const (
	KindQuery Kind = iota
	KindHost
)

func (k Kind) String() string {
	if k == KindHost {
		return "host"
	}
	return "query"
}

// Directive is the parsed form of one submission.
type Directive struct {
	Kind Kind

	// KindQuery
	Query string
	Flags []string

	// KindHost
	Command string
	Args    []string
}

// Parser is immutable after construction and safe for concurrent use.
type Parser struct {
	marker   string
	prefixes []string
}

// New creates a Parser. Empty arguments select the defaults.
func New(marker string, hostPrefixes []string) *Parser {
	if strings.TrimSpace(marker) == "" {
		marker = DefaultFlagMarker
	}
	if len(hostPrefixes) == 0 {
		hostPrefixes = DefaultHostPrefixes
	}
	prefixes := make([]string, 0, len(hostPrefixes))
	for _, p := range hostPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &Parser{marker: strings.TrimSpace(marker), prefixes: prefixes}
}

// Marker returns the flag marker token.
func (p *Parser) Marker() string {
	return p.marker
}

// Parse classifies text. Host directives win over flag markers.
func (p *Parser) Parse(text string) (Directive, error) {
	if rest, ok := p.cutHostPrefix(text); ok {
		words, err := split(rest)
		if err != nil {
			return Directive{}, fmt.Errorf("%w: malformed host command: %v", types.ErrInvalidInput, err)
		}
		if len(words) == 0 {
			return Directive{}, fmt.Errorf("%w: host directive needs a command", types.ErrInvalidInput)
		}
		return Directive{Kind: KindHost, Command: words[0], Args: words[1:]}, nil
	}

	i := indexFold(text, p.marker)
	if i < 0 {
		return Directive{Kind: KindQuery, Query: text}, nil
	}

	query := strings.TrimSpace(text[:i])
	flags, err := split(text[i+len(p.marker):])
	if err != nil {
		return Directive{}, fmt.Errorf("%w: malformed flags: %v", types.ErrInvalidInput, err)
	}
	return Directive{Kind: KindQuery, Query: query, Flags: flags}, nil
}

// StripFlags returns the query part of text without any flag section.
func (p *Parser) StripFlags(text string) string {
	if i := indexFold(text, p.marker); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return strings.TrimSpace(text)
}

func (p *Parser) cutHostPrefix(text string) (string, bool) {
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	for _, prefix := range p.prefixes {
		if len(trimmed) < len(prefix) || !strings.EqualFold(trimmed[:len(prefix)], prefix) {
			continue
		}
		rest := trimmed[len(prefix):]
		if rest == "" {
			return "", true
		}
		if r, _ := utf8.DecodeRuneInString(rest); unicode.IsSpace(r) {
			return rest, true
		}
	}
	return "", false
}

// indexFold is a case-insensitive strings.Index for an ASCII needle.
func indexFold(s, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], needle) {
			return i
		}
	}
	return -1
}

// split tokenizes like a shell, keeping quoted groups whole. A '#' that starts
// a word is kept literally rather than opening a comment.
func split(s string) ([]string, error) {
	words, err := shlex.Split(escapeHashes(s))
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, nil
	}
	return words, nil
}

func escapeHashes(s string) string {
	if !strings.Contains(s, "#") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	var quote rune
	escaped := false
	wordStart := true
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case quote != 0:
			if r == quote {
				quote = 0
			} else if r == '\\' && quote == '"' {
				escaped = true
			}
		case r == '\\':
			escaped = true
		case r == '\'' || r == '"':
			quote = r
		case r == '#' && wordStart:
			b.WriteRune('\\')
		}
		b.WriteRune(r)
		wordStart = quote == 0 && !escaped && unicode.IsSpace(r)
	}
	return b.String()
}
