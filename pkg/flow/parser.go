package flow

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sibyl-run/sibyl/pkg/agentdef"
	"github.com/sibyl-run/sibyl/pkg/errors"
)

var (
	statusPattern = regexp.MustCompile(`(^|\n)\s*status\s*=\s*(\d+)`)
	labelPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ParseProgram parses a flow's string-embedded conditional program into its
// AST. The only accepted shape is a top-level if/else whose predicate
// references input and whose branches each assign a status integer literal
// and a response list of labels and call-shaped strings.
func ParseProgram(src string) (*Program, error) {
	lines := significantLines(src)
	if len(lines) == 0 {
		return nil, errors.Newf(errors.CodeConfig, "flow logic is empty")
	}

	head := lines[0]
	if !strings.HasPrefix(head, "if ") || !strings.HasSuffix(head, ":") {
		return nil, errors.Newf(errors.CodeConfig, "flow logic must start with an if statement, got %q", head)
	}
	predicate := strings.TrimSpace(head[3 : len(head)-1])
	if !strings.Contains(predicate, "input") {
		return nil, errors.Newf(errors.CodeConfig, "flow predicate must test input, got %q", predicate)
	}

	elseAt := -1
	for i, line := range lines[1:] {
		if trimmed := strings.TrimSuffix(strings.TrimSpace(line), ":"); strings.TrimSpace(trimmed) == "else" {
			elseAt = i + 1
			break
		}
	}
	if elseAt < 0 {
		return nil, errors.Newf(errors.CodeConfig, "flow logic has no else branch")
	}

	thenBranch, err := parseBranch(strings.Join(lines[1:elseAt], "\n"))
	if err != nil {
		return nil, err
	}
	elseBranch, err := parseBranch(strings.Join(lines[elseAt+1:], "\n"))
	if err != nil {
		return nil, err
	}

	program := &Program{Predicate: predicate}
	// The invalid branch is the 400-coded one regardless of predicate
	// polarity; when neither branch carries 400 the then-branch is taken
	// as the failure arm, since the predicate tests invalidity.
	switch {
	case thenBranch.Status == 400 && elseBranch.Status == 400:
		return nil, errors.Newf(errors.CodeConfig, "both flow branches carry status 400")
	case elseBranch.Status == 400:
		program.Invalid, program.Valid = elseBranch, thenBranch
	default:
		program.Invalid, program.Valid = thenBranch, elseBranch
	}
	return program, nil
}

func significantLines(src string) []string {
	var out []string
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseBranch(src string) (Branch, error) {
	var branch Branch

	match := statusPattern.FindStringSubmatch("\n" + src)
	if match == nil {
		return Branch{}, errors.Newf(errors.CodeConfig, "flow branch assigns no status literal")
	}
	status, err := strconv.Atoi(match[2])
	if err != nil {
		return Branch{}, errors.New(errors.CodeConfig, "parse status literal", err)
	}
	branch.Status = status

	list, err := captureResponseList(src)
	if err != nil {
		return Branch{}, err
	}
	items, err := splitEntries(list)
	if err != nil {
		return Branch{}, err
	}
	for _, item := range items {
		// Multi-line lists may carry a trailing comma.
		if strings.TrimSpace(item) == "" {
			continue
		}
		entry, err := parseEntry(item)
		if err != nil {
			return Branch{}, err
		}
		branch.Entries = append(branch.Entries, entry)
	}
	if len(branch.Entries) == 0 {
		return Branch{}, errors.Newf(errors.CodeConfig, "flow branch assigns an empty response list")
	}
	return branch, nil
}

// captureResponseList extracts the bracket-balanced contents of the
// response = [...] assignment, which may span lines.
func captureResponseList(src string) (string, error) {
	idx := strings.Index(src, "response")
	if idx < 0 {
		return "", errors.Newf(errors.CodeConfig, "flow branch assigns no response list")
	}
	rest := src[idx+len("response"):]
	rest = strings.TrimLeft(rest, " \t")
	if !strings.HasPrefix(rest, "=") {
		return "", errors.Newf(errors.CodeConfig, "flow branch response is not an assignment")
	}
	rest = strings.TrimLeft(rest[1:], " \t\n")
	if !strings.HasPrefix(rest, "[") {
		return "", errors.Newf(errors.CodeConfig, "flow branch response must be a list")
	}

	depth := 0
	var quote byte
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return rest[1:i], nil
			}
		}
	}
	return "", errors.Newf(errors.CodeConfig, "unterminated response list")
}

func splitEntries(list string) ([]string, error) {
	var out []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(list); i++ {
		c := list[i]
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
		case ',':
			if depth == 0 {
				out = append(out, list[start:i])
				start = i + 1
			}
		}
	}
	if quote != 0 || depth != 0 {
		return nil, errors.Newf(errors.CodeConfig, "malformed response list %q", list)
	}
	out = append(out, list[start:])
	return out, nil
}

func parseEntry(raw string) (Entry, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Entry{}, errors.Newf(errors.CodeConfig, "empty response list entry")
	}
	if trimmed[0] == '\'' || trimmed[0] == '"' {
		if len(trimmed) < 2 || trimmed[len(trimmed)-1] != trimmed[0] {
			return Entry{}, errors.Newf(errors.CodeConfig, "unterminated response entry %q", raw)
		}
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	if agentdef.IsCallShaped(trimmed) {
		call, err := agentdef.ParseExecCall(trimmed)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Call: &call}, nil
	}
	if !labelPattern.MatchString(trimmed) {
		return Entry{}, errors.Newf(errors.CodeConfig, "response entry %q is neither a label nor a call", trimmed)
	}
	return Entry{Label: trimmed}, nil
}
