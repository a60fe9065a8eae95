package agentdef

import (
	"strconv"
	"strings"

	"github.com/sibyl-run/sibyl/pkg/errors"
)

// ExecCall is one parsed exec expression: either a call against a dotted
// capability path (`agent.skills.talk(response, french)`) or an assignment
// to one (`system.response = {'ready': True}`). Parsed once at build time,
// evaluated fresh per invocation.
type ExecCall struct {
	Raw    string
	Path   []string
	Args   []Arg
	Assign bool
	// Value is the parsed right-hand side of an assignment.
	Value any
}

// Target returns the dotted path as a single string.
func (c ExecCall) Target() string {
	return strings.Join(c.Path, ".")
}

// Arg is one call argument. Bare identifiers stay unresolved until
// invocation time: they are looked up in the execution context first and
// fall back to their literal text. Quoted and structured values are
// resolved literals.
type Arg struct {
	Name      string
	Raw       string
	Literal   any
	IsLiteral bool
}

// ParseExecCall parses a single exec expression. Malformed expressions are
// configuration errors surfaced at build time.
func ParseExecCall(raw string) (ExecCall, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ExecCall{}, errors.Newf(errors.CodeConfig, "empty exec expression")
	}

	if idx := topLevelAssign(trimmed); idx >= 0 {
		path, err := parsePath(trimmed[:idx])
		if err != nil {
			return ExecCall{}, err
		}
		value, err := ParseLiteral(trimmed[idx+1:])
		if err != nil {
			return ExecCall{}, errors.New(errors.CodeConfig, "parse assignment value in "+strconv.Quote(raw), err)
		}
		return ExecCall{Raw: trimmed, Path: path, Assign: true, Value: value}, nil
	}

	open := strings.IndexByte(trimmed, '(')
	if open < 0 {
		// Bare dotted path; treated as a zero-argument call.
		path, err := parsePath(trimmed)
		if err != nil {
			return ExecCall{}, err
		}
		return ExecCall{Raw: trimmed, Path: path}, nil
	}
	if !strings.HasSuffix(trimmed, ")") {
		return ExecCall{}, errors.Newf(errors.CodeConfig, "unterminated call %q", raw)
	}
	path, err := parsePath(trimmed[:open])
	if err != nil {
		return ExecCall{}, err
	}
	args, err := parseArgs(trimmed[open+1 : len(trimmed)-1])
	if err != nil {
		return ExecCall{}, errors.New(errors.CodeConfig, "parse arguments of "+strconv.Quote(raw), err)
	}
	return ExecCall{Raw: trimmed, Path: path, Args: args}, nil
}

// IsCallShaped reports whether raw looks like a call or assignment rather
// than a plain label.
func IsCallShaped(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return strings.ContainsAny(trimmed, "(=")
}

func parsePath(raw string) ([]string, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	for _, part := range parts {
		if !isIdentifier(part) {
			return nil, errors.Newf(errors.CodeConfig, "invalid capability path %q", strings.TrimSpace(raw))
		}
	}
	return parts, nil
}

func parseArgs(raw string) ([]Arg, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	tokens, err := splitTopLevel(raw, ',')
	if err != nil {
		return nil, err
	}
	args := make([]Arg, 0, len(tokens))
	for _, token := range tokens {
		arg, err := parseArg(token)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func parseArg(token string) (Arg, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Arg{}, errors.Newf(errors.CodeConfig, "empty argument")
	}
	name := ""
	if idx := topLevelAssign(token); idx >= 0 {
		candidate := strings.TrimSpace(token[:idx])
		if isIdentifier(candidate) {
			name = candidate
			token = strings.TrimSpace(token[idx+1:])
		}
	}
	if value, ok, err := tryParseLiteral(token); err != nil {
		return Arg{}, err
	} else if ok {
		return Arg{Name: name, Raw: token, Literal: value, IsLiteral: true}, nil
	}
	// Bare token: variable reference with literal fallback, per the source
	// grammar's permissiveness (`french`, `10mph`).
	return Arg{Name: name, Raw: token}, nil
}

// topLevelAssign returns the index of a top-level assignment '=' in s, or -1.
// Ignores '==' and anything nested in quotes, parens, brackets or braces.
func topLevelAssign(s string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(s) && s[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && (s[i-1] == '!' || s[i-1] == '<' || s[i-1] == '>') {
				continue
			}
			return i
		}
	}
	return -1
}

// splitTopLevel splits s at sep, respecting quotes and bracket nesting.
func splitTopLevel(s string, sep byte) ([]string, error) {
	var out []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return nil, errors.Newf(errors.CodeConfig, "unbalanced brackets in %q", s)
			}
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	if quote != 0 {
		return nil, errors.Newf(errors.CodeConfig, "unterminated string in %q", s)
	}
	if depth != 0 {
		return nil, errors.Newf(errors.CodeConfig, "unbalanced brackets in %q", s)
	}
	out = append(out, s[start:])
	return out, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
