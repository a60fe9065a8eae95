// Package agentdef builds the in-memory agent model from declared messages.
// An AgentDefinition is immutable after construction and safe for concurrent
// reads across invocations.
package agentdef

// Visibility partitions skills into externally callable and internal-only.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Param is one declared skill parameter.
type Param struct {
	Name string
	Type string
}

// SkillSignature describes a named, parameterized capability of the agent.
// Body carries the advisory step list declared under the signature; it is
// descriptive metadata only and is never interpreted by the engine.
type SkillSignature struct {
	Name       string
	Params     []Param
	Visibility Visibility
	Body       []string
}

// Presence states whether a section must render for composition to succeed.
type Presence string

const (
	PresenceMandatory Presence = "mandatory"
	PresenceOptional  Presence = "optional"
)

// Section is a named, policy-governed unit of a response template. Meta and
// Constraint pass through to the composed output verbatim.
type Section struct {
	Name       string
	Meta       string
	Exec       []ExecCall
	Constraint string
	Presence   Presence
}

// ResponseTemplate is a status-coded set of sections. Sections keep their
// declaration order; that order is the render order.
type ResponseTemplate struct {
	Key      string
	Status   int
	Sections []Section
}

// Section returns the named section of the template.
func (t *ResponseTemplate) Section(name string) (*Section, bool) {
	for i := range t.Sections {
		if t.Sections[i].Name == name {
			return &t.Sections[i], true
		}
	}
	return nil, false
}

// AgentDefinition is the fully constructed, validated agent model.
type AgentDefinition struct {
	Name      string
	Directive string
	CoreRules []string

	skills     map[string]SkillSignature
	skillOrder []string

	requests     map[string]RequestFormat
	requestOrder []string

	responses     map[string]*ResponseTemplate
	responseOrder []string
}

// Skill returns the declared skill with the given name.
func (a *AgentDefinition) Skill(name string) (SkillSignature, bool) {
	s, ok := a.skills[name]
	return s, ok
}

// Skills returns all declared skills in declaration order.
func (a *AgentDefinition) Skills() []SkillSignature {
	out := make([]SkillSignature, 0, len(a.skillOrder))
	for _, name := range a.skillOrder {
		out = append(out, a.skills[name])
	}
	return out
}

// Request returns the named request format, or the "default" format, or the
// first declared one when no name is given.
func (a *AgentDefinition) Request(name string) (RequestFormat, bool) {
	if name != "" {
		f, ok := a.requests[name]
		return f, ok
	}
	if f, ok := a.requests["default"]; ok {
		return f, true
	}
	if len(a.requestOrder) > 0 {
		return a.requests[a.requestOrder[0]], true
	}
	return RequestFormat{}, false
}

// Template returns the response template stored under the given status key.
func (a *AgentDefinition) Template(key string) (*ResponseTemplate, bool) {
	t, ok := a.responses[key]
	return t, ok
}

// Templates returns all response templates in declaration order.
func (a *AgentDefinition) Templates() []*ResponseTemplate {
	out := make([]*ResponseTemplate, 0, len(a.responseOrder))
	for _, key := range a.responseOrder {
		out = append(out, a.responses[key])
	}
	return out
}

// TemplateForStatus returns the first template whose declared status matches,
// falling back to the template keyed "default" when present.
func (a *AgentDefinition) TemplateForStatus(status int) (*ResponseTemplate, bool) {
	for _, key := range a.responseOrder {
		if a.responses[key].Status == status {
			return a.responses[key], true
		}
	}
	if t, ok := a.responses["default"]; ok {
		return t, true
	}
	return nil, false
}
