package agentdef

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sibyl-run/sibyl/pkg/errors"
)

var placeholderPattern = regexp.MustCompile(`<[A-Za-z_][A-Za-z0-9_]*>`)

// RequestFormat is a declared input shape, e.g. TEXT="""<content>""". It is
// used for structural validation only; stricter validation belongs to
// skills, not this layer.
type RequestFormat struct {
	Name     string
	Template string

	prefix string
	suffix string
}

// CompileRequestFormat validates the template and precomputes the wrapper
// tokens around its single content placeholder.
func CompileRequestFormat(name, template string) (RequestFormat, error) {
	matches := placeholderPattern.FindAllStringIndex(template, -1)
	if len(matches) != 1 {
		return RequestFormat{}, errors.Newf(errors.CodeConfig,
			"request format %q must contain exactly one content placeholder, found %d", name, len(matches))
	}
	return RequestFormat{
		Name:     name,
		Template: template,
		prefix:   template[:matches[0][0]],
		suffix:   template[matches[0][1]:],
	}, nil
}

// Validate checks an input value against the format. The check is
// intentionally permissive: the input must be representable as non-empty
// text, and when the wrapper tokens are present they must enclose a
// non-empty content span. Bare unwrapped text is accepted.
func (f RequestFormat) Validate(input any) (bool, string) {
	if input == nil {
		return false, "input is absent"
	}
	text, ok := asText(input)
	if !ok {
		return false, fmt.Sprintf("input of type %T is not representable as text", input)
	}
	if strings.TrimSpace(text) == "" {
		return false, "input is empty"
	}
	if f.prefix != "" && strings.Contains(text, f.prefix) {
		content := text[strings.Index(text, f.prefix)+len(f.prefix):]
		if f.suffix != "" {
			end := strings.LastIndex(content, f.suffix)
			if end < 0 {
				return false, fmt.Sprintf("missing closing token %q", f.suffix)
			}
			content = content[:end]
		}
		if strings.TrimSpace(content) == "" {
			return false, "content span is empty"
		}
	}
	return true, ""
}

func asText(input any) (string, bool) {
	switch v := input.(type) {
	case string:
		return v, true
	case int:
		return fmt.Sprintf("%d", v), true
	case float64:
		return fmt.Sprintf("%g", v), true
	case bool:
		return fmt.Sprintf("%t", v), true
	default:
		return "", false
	}
}
