package agentdef

import (
	"strconv"
	"strings"

	"github.com/sibyl-run/sibyl/pkg/errors"
)

// ParseLiteral parses a Python-ish literal as written in exec expressions:
// quoted strings, integers, floats, True/False/None, {key: value} dicts and
// [item, ...] lists. Reference definitions write assignment values this way
// (`system.response = {'ready': True}`).
func ParseLiteral(raw string) (any, error) {
	value, ok, err := tryParseLiteral(raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.CodeConfig, "not a literal: %q", strings.TrimSpace(raw))
	}
	return value, nil
}

// tryParseLiteral attempts a literal parse. A bare token that is neither
// quoted, numeric, structured nor a keyword is not an error; it reports
// ok=false and stays a deferred variable-or-literal reference.
func tryParseLiteral(raw string) (any, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false, errors.Newf(errors.CodeConfig, "empty literal")
	}
	switch s {
	case "True":
		return true, true, nil
	case "False":
		return false, true, nil
	case "None":
		return nil, true, nil
	}
	switch s[0] {
	case '\'', '"':
		value, err := parseQuoted(s)
		if err != nil {
			return nil, false, err
		}
		return value, true, nil
	case '{':
		value, err := parseDict(s)
		if err != nil {
			return nil, false, err
		}
		return value, true, nil
	case '[':
		value, err := parseList(s)
		if err != nil {
			return nil, false, err
		}
		return value, true, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true, nil
	}
	return nil, false, nil
}

func parseQuoted(s string) (string, error) {
	if len(s) < 2 || s[len(s)-1] != s[0] {
		return "", errors.Newf(errors.CodeConfig, "unterminated string literal %q", s)
	}
	inner := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\\' && i+1 < len(inner) {
			i++
			switch inner[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(inner[i])
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

func parseDict(s string) (map[string]any, error) {
	if !strings.HasSuffix(s, "}") {
		return nil, errors.Newf(errors.CodeConfig, "unterminated dict literal %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	out := make(map[string]any)
	if body == "" {
		return out, nil
	}
	entries, err := splitTopLevel(body, ',')
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		parts, err := splitTopLevel(entry, ':')
		if err != nil {
			return nil, err
		}
		if len(parts) != 2 {
			return nil, errors.Newf(errors.CodeConfig, "invalid dict entry %q", strings.TrimSpace(entry))
		}
		key := strings.TrimSpace(parts[0])
		if len(key) > 0 && (key[0] == '\'' || key[0] == '"') {
			key, err = parseQuoted(key)
			if err != nil {
				return nil, err
			}
		} else if !isIdentifier(key) {
			return nil, errors.Newf(errors.CodeConfig, "invalid dict key %q", key)
		}
		value, err := ParseLiteral(parts[1])
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

func parseList(s string) ([]any, error) {
	if !strings.HasSuffix(s, "]") {
		return nil, errors.Newf(errors.CodeConfig, "unterminated list literal %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []any{}, nil
	}
	entries, err := splitTopLevel(body, ',')
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(entries))
	for _, entry := range entries {
		value, err := ParseLiteral(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}
