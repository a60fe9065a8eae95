package agentdef

import (
	"strings"

	"github.com/sibyl-run/sibyl/pkg/document"
	"github.com/sibyl-run/sibyl/pkg/errors"
)

// DefaultRequestTemplate is installed under the "default" request name when
// a definition declares no request formats.
const DefaultRequestTemplate = `TEXT="""<content>"""`

// Build constructs a validated AgentDefinition from the message sequence.
// Exactly one system message with an agent payload must be present. Build is
// a pure function of its input; it never mutates the messages.
func Build(messages []document.Message) (*AgentDefinition, error) {
	var payload *document.Map
	var sourceID string
	for _, msg := range messages {
		if msg.Type != document.TypeSystem {
			continue
		}
		m, ok := document.AsMap(msg.Payload)
		if !ok {
			continue
		}
		if kind, _ := document.StringAt(m, "type"); kind != "agent" {
			continue
		}
		if payload != nil {
			return nil, errors.Newf(errors.CodeConfig,
				"multiple agent messages declared (%s, %s)", sourceID, msg.ID)
		}
		payload = m
		sourceID = msg.ID
	}
	if payload == nil {
		return nil, errors.Newf(errors.CodeConfig, "no system message with an agent payload")
	}

	name, ok := document.StringAt(payload, "name")
	if !ok || strings.TrimSpace(name) == "" {
		return nil, errors.Newf(errors.CodeConfig, "agent message %s has no name", sourceID)
	}

	def := &AgentDefinition{
		Name:      name,
		skills:    make(map[string]SkillSignature),
		requests:  make(map[string]RequestFormat),
		responses: make(map[string]*ResponseTemplate),
	}
	def.Directive, _ = document.StringAt(payload, "directive")
	if rules, ok := document.StringsAt(payload, "core_rules"); ok {
		def.CoreRules = rules
	}

	if err := buildSkills(def, payload); err != nil {
		return nil, err
	}
	if err := buildRequests(def, payload); err != nil {
		return nil, err
	}
	if err := buildResponses(def, payload); err != nil {
		return nil, err
	}
	if err := checkSkillReferences(def); err != nil {
		return nil, err
	}
	return def, nil
}

func buildSkills(def *AgentDefinition, payload *document.Map) error {
	skills, ok := document.MapAt(payload, "skills")
	if !ok {
		return nil
	}
	for _, group := range skills.Keys() {
		visibility := Visibility(group)
		if visibility != VisibilityPublic && visibility != VisibilityPrivate {
			return errors.Newf(errors.CodeConfig, "unknown skill visibility %q", group)
		}
		entries, ok := document.SliceAt(skills, group)
		if !ok {
			return errors.Newf(errors.CodeConfig, "%s skills must be a sequence", group)
		}
		for _, entry := range entries {
			sig, err := parseSkillEntry(entry, visibility)
			if err != nil {
				return err
			}
			if _, exists := def.skills[sig.Name]; exists {
				return errors.Newf(errors.CodeConfig, "duplicate skill %q", sig.Name)
			}
			def.skills[sig.Name] = sig
			def.skillOrder = append(def.skillOrder, sig.Name)
		}
	}
	return nil
}

// parseSkillEntry accepts a plain signature string, or a single-pair mapping
// whose key is the signature and whose value is the advisory step sequence.
func parseSkillEntry(entry any, visibility Visibility) (SkillSignature, error) {
	if raw, ok := document.AsString(entry); ok {
		return ParseSignature(raw, visibility, nil)
	}
	if m, ok := document.AsMap(entry); ok && m.Len() == 1 {
		raw := m.Keys()[0]
		steps, ok := document.StringsAt(m, raw)
		if !ok {
			return SkillSignature{}, errors.Newf(errors.CodeConfig,
				"skill %q body must be a sequence of steps", raw)
		}
		return ParseSignature(raw, visibility, steps)
	}
	return SkillSignature{}, errors.Newf(errors.CodeConfig, "malformed skill entry %v", entry)
}

// ParseSignature parses a declared signature like "fight(name)" or
// "drive(speed: int)". Parameters are name or name: type pairs.
func ParseSignature(raw string, visibility Visibility, body []string) (SkillSignature, error) {
	trimmed := strings.TrimSpace(raw)
	name := trimmed
	var params []Param
	if open := strings.IndexByte(trimmed, '('); open >= 0 {
		if !strings.HasSuffix(trimmed, ")") {
			return SkillSignature{}, errors.Newf(errors.CodeConfig, "malformed skill signature %q", raw)
		}
		name = strings.TrimSpace(trimmed[:open])
		inner := strings.TrimSpace(trimmed[open+1 : len(trimmed)-1])
		if inner != "" {
			for _, part := range strings.Split(inner, ",") {
				pname, ptype := part, ""
				if idx := strings.IndexByte(part, ':'); idx >= 0 {
					pname, ptype = part[:idx], strings.TrimSpace(part[idx+1:])
				}
				pname = strings.TrimSpace(pname)
				if !isIdentifier(pname) {
					return SkillSignature{}, errors.Newf(errors.CodeConfig,
						"malformed parameter %q in skill signature %q", strings.TrimSpace(part), raw)
				}
				params = append(params, Param{Name: pname, Type: ptype})
			}
		}
	}
	if !isIdentifier(name) {
		return SkillSignature{}, errors.Newf(errors.CodeConfig, "malformed skill signature %q", raw)
	}
	return SkillSignature{Name: name, Params: params, Visibility: visibility, Body: body}, nil
}

func buildRequests(def *AgentDefinition, payload *document.Map) error {
	requests, ok := document.MapAt(payload, "requests")
	if !ok || requests.Len() == 0 {
		format, err := CompileRequestFormat("default", DefaultRequestTemplate)
		if err != nil {
			return err
		}
		def.requests["default"] = format
		def.requestOrder = []string{"default"}
		return nil
	}
	for _, name := range requests.Keys() {
		template, ok := document.StringAt(requests, name)
		if !ok {
			return errors.Newf(errors.CodeConfig, "request format %q must be a string", name)
		}
		format, err := CompileRequestFormat(name, template)
		if err != nil {
			return err
		}
		def.requests[name] = format
		def.requestOrder = append(def.requestOrder, name)
	}
	return nil
}

func buildResponses(def *AgentDefinition, payload *document.Map) error {
	responses, ok := document.MapAt(payload, "responses")
	if !ok || responses.Len() == 0 {
		return errors.Newf(errors.CodeConfig, "agent declares no response templates")
	}
	for _, key := range responses.Keys() {
		body, ok := document.MapAt(responses, key)
		if !ok {
			return errors.Newf(errors.CodeConfig, "response %q must be a mapping", key)
		}
		status, ok := intAt(body, "status")
		if !ok {
			return errors.Newf(errors.CodeConfig, "response %q has no integer status", key)
		}
		template := &ResponseTemplate{Key: key, Status: status}
		sections, ok := document.MapAt(body, "sections")
		if !ok {
			return errors.Newf(errors.CodeConfig, "response %q has no sections", key)
		}
		for _, sectionName := range sections.Keys() {
			section, err := buildSection(key, sectionName, sections)
			if err != nil {
				return err
			}
			template.Sections = append(template.Sections, section)
		}
		def.responses[key] = template
		def.responseOrder = append(def.responseOrder, key)
	}
	return nil
}

func buildSection(responseKey, name string, sections *document.Map) (Section, error) {
	body, ok := document.MapAt(sections, name)
	if !ok {
		return Section{}, errors.Newf(errors.CodeConfig,
			"section %q of response %q must be a mapping", name, responseKey)
	}
	section := Section{Name: name, Presence: PresenceMandatory}
	section.Meta, _ = document.StringAt(body, "meta")
	section.Constraint, _ = document.StringAt(body, "constraint")
	if presence, ok := document.StringAt(body, "presence"); ok {
		switch Presence(presence) {
		case PresenceMandatory, PresenceOptional:
			section.Presence = Presence(presence)
		default:
			return Section{}, errors.Newf(errors.CodeConfig,
				"section %q of response %q has unknown presence %q", name, responseKey, presence)
		}
	}
	if execs, ok := document.StringsAt(body, "exec"); ok {
		for _, raw := range execs {
			call, err := ParseExecCall(raw)
			if err != nil {
				return Section{}, err
			}
			section.Exec = append(section.Exec, call)
		}
	} else if _, declared := body.Get("exec"); declared {
		return Section{}, errors.Newf(errors.CodeConfig,
			"section %q of response %q has a non-sequence exec", name, responseKey)
	}
	return section, nil
}

// checkSkillReferences verifies every agent.skills.* exec path names a
// declared skill.
func checkSkillReferences(def *AgentDefinition) error {
	for _, template := range def.Templates() {
		for _, section := range template.Sections {
			for _, call := range section.Exec {
				if len(call.Path) == 3 && call.Path[0] == "agent" && call.Path[1] == "skills" {
					if _, ok := def.skills[call.Path[2]]; !ok {
						return errors.Newf(errors.CodeConfig,
							"section %q references undeclared skill %q", section.Name, call.Path[2])
					}
				}
			}
		}
	}
	return nil
}

func intAt(m *document.Map, key string) (int, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}
