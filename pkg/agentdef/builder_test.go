package agentdef_test

import (
	"testing"

	"github.com/sibyl-run/sibyl/pkg/agentdef"
	"github.com/sibyl-run/sibyl/pkg/errors"
	"github.com/sibyl-run/sibyl/pkg/loader"
)

const weatherAgent = `
- id: agent_def
  type: system
  payload:
    type: agent
    name: forecaster
    directive: Answer weather questions.
    core_rules:
      - never invent measurements
      - cite the observation time
    skills:
      public:
        - get_weather(location):
            - look up the location
            - fetch the current observation
        - talk(message, language)
      private:
        - calibrate(sensor)
    requests:
      default: TEXT="""<content>"""
    responses:
      success:
        status: 200
        sections:
          frontend:
            meta: user-facing answer
            exec:
              - agent.skills.get_weather(input)
            presence: mandatory
          backend:
            exec:
              - agent.skills.talk(response, french)
            presence: optional
      error:
        status: 400
        sections:
          clean:
            meta: validation failure notice
            constraint: no internal details
            exec:
              - "system.response = {'error': 'invalid input'}"
`

func buildAgent(t *testing.T, src string) *agentdef.AgentDefinition {
	t.Helper()
	messages, err := loader.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	agent, err := agentdef.Build(messages)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return agent
}

func TestBuild(t *testing.T) {
	agent := buildAgent(t, weatherAgent)

	if agent.Name != "forecaster" {
		t.Errorf("expected name forecaster, got %q", agent.Name)
	}
	if agent.Directive == "" {
		t.Errorf("expected directive to be set")
	}
	if len(agent.CoreRules) != 2 {
		t.Errorf("expected 2 core rules, got %d", len(agent.CoreRules))
	}

	skills := agent.Skills()
	if len(skills) != 3 {
		t.Fatalf("expected 3 skills, got %d", len(skills))
	}
	getWeather, ok := agent.Skill("get_weather")
	if !ok {
		t.Fatalf("missing skill get_weather")
	}
	if getWeather.Visibility != agentdef.VisibilityPublic {
		t.Errorf("expected get_weather to be public")
	}
	if len(getWeather.Params) != 1 || getWeather.Params[0].Name != "location" {
		t.Errorf("unexpected params: %+v", getWeather.Params)
	}
	if len(getWeather.Body) != 2 {
		t.Errorf("expected 2 advisory steps, got %d", len(getWeather.Body))
	}
	calibrate, _ := agent.Skill("calibrate")
	if calibrate.Visibility != agentdef.VisibilityPrivate {
		t.Errorf("expected calibrate to be private")
	}
}

func TestBuildTemplates(t *testing.T) {
	agent := buildAgent(t, weatherAgent)

	success, ok := agent.Template("success")
	if !ok {
		t.Fatalf("missing success template")
	}
	if success.Status != 200 {
		t.Errorf("expected status 200, got %d", success.Status)
	}
	if len(success.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(success.Sections))
	}
	if success.Sections[0].Name != "frontend" || success.Sections[1].Name != "backend" {
		t.Errorf("sections out of declared order: %v", success.Sections)
	}
	if success.Sections[0].Presence != agentdef.PresenceMandatory {
		t.Errorf("expected frontend to be mandatory")
	}
	if success.Sections[1].Presence != agentdef.PresenceOptional {
		t.Errorf("expected backend to be optional")
	}

	if tmpl, ok := agent.TemplateForStatus(400); !ok || tmpl.Key != "error" {
		t.Errorf("expected status 400 to select the error template")
	}
	if _, ok := agent.TemplateForStatus(503); ok {
		t.Errorf("expected no template for status 503")
	}
}

func TestBuildDefaultPresenceIsMandatory(t *testing.T) {
	agent := buildAgent(t, weatherAgent)
	errTemplate, _ := agent.Template("error")
	if errTemplate.Sections[0].Presence != agentdef.PresenceMandatory {
		t.Errorf("sections without a declared presence must default to mandatory")
	}
}

func TestBuildInstallsDefaultRequestFormat(t *testing.T) {
	agent := buildAgent(t, `
- id: a
  type: system
  payload:
    type: agent
    name: minimal
    responses:
      default:
        status: 200
        sections:
          body:
            exec: []
`)
	format, ok := agent.Request("")
	if !ok {
		t.Fatalf("expected a default request format")
	}
	if format.Template != agentdef.DefaultRequestTemplate {
		t.Errorf("expected %q, got %q", agentdef.DefaultRequestTemplate, format.Template)
	}
}

func TestBuildRejections(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{
			name: "no agent message",
			src:  "- id: a\n  type: run_loop\n  payload:\n    type: flow\n    flow: x\n",
		},
		{
			name: "missing name",
			src: `
- id: a
  type: system
  payload:
    type: agent
    responses:
      default:
        status: 200
        sections: {}
`,
		},
		{
			name: "no responses",
			src: `
- id: a
  type: system
  payload:
    type: agent
    name: x
`,
		},
		{
			name: "unknown visibility",
			src: `
- id: a
  type: system
  payload:
    type: agent
    name: x
    skills:
      internal:
        - talk(msg)
    responses:
      default:
        status: 200
        sections: {}
`,
		},
		{
			name: "duplicate skill",
			src: `
- id: a
  type: system
  payload:
    type: agent
    name: x
    skills:
      public:
        - talk(msg)
      private:
        - talk(msg)
    responses:
      default:
        status: 200
        sections: {}
`,
		},
		{
			name: "non-integer status",
			src: `
- id: a
  type: system
  payload:
    type: agent
    name: x
    responses:
      default:
        status: ok
        sections: {}
`,
		},
		{
			name: "undeclared skill reference",
			src: `
- id: a
  type: system
  payload:
    type: agent
    name: x
    responses:
      default:
        status: 200
        sections:
          body:
            exec:
              - agent.skills.missing(input)
`,
		},
		{
			name: "unknown presence",
			src: `
- id: a
  type: system
  payload:
    type: agent
    name: x
    responses:
      default:
        status: 200
        sections:
          body:
            presence: sometimes
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages, err := loader.Parse([]byte(tt.src))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			_, err = agentdef.Build(messages)
			if err == nil {
				t.Fatalf("expected build error")
			}
			if !errors.Is(err, errors.CodeConfig) {
				t.Errorf("expected CONFIG_ERROR, got %v", err)
			}
		})
	}
}

func TestBuildRejectsMultipleAgents(t *testing.T) {
	src := `
- id: a
  type: system
  payload:
    type: agent
    name: one
    responses:
      default:
        status: 200
        sections: {}
- id: b
  type: system
  payload:
    type: agent
    name: two
    responses:
      default:
        status: 200
        sections: {}
`
	messages, err := loader.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := agentdef.Build(messages); err == nil {
		t.Fatalf("expected error for multiple agent messages")
	}
}

func TestParseSignature(t *testing.T) {
	sig, err := agentdef.ParseSignature("drive(speed: int, direction)", agentdef.VisibilityPublic, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Name != "drive" {
		t.Errorf("expected name drive, got %q", sig.Name)
	}
	if len(sig.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(sig.Params))
	}
	if sig.Params[0].Name != "speed" || sig.Params[0].Type != "int" {
		t.Errorf("unexpected first param: %+v", sig.Params[0])
	}
	if sig.Params[1].Name != "direction" || sig.Params[1].Type != "" {
		t.Errorf("unexpected second param: %+v", sig.Params[1])
	}

	for _, raw := range []string{"", "talk(", "talk(1st)", "not a name()"} {
		if _, err := agentdef.ParseSignature(raw, agentdef.VisibilityPublic, nil); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}
