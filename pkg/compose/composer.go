// Package compose renders the structured response for a resolved status by
// walking the matching template's sections in declared order, enforcing
// section presence policy.
package compose

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sibyl-run/sibyl/pkg/agentdef"
	"github.com/sibyl-run/sibyl/pkg/capability"
	"github.com/sibyl-run/sibyl/pkg/errors"
	"github.com/sibyl-run/sibyl/pkg/telemetry"
)

// RenderedSection is one composed output unit. Meta and Constraint pass
// through verbatim from the template; Results holds each exec's value in
// declared order.
type RenderedSection struct {
	Name       string `json:"name"`
	Meta       string `json:"meta,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Results    []any  `json:"results"`
}

// ComposedResponse is the ordered section mapping returned to the caller.
type ComposedResponse struct {
	Status   int               `json:"status"`
	Template string            `json:"template"`
	Sections []RenderedSection `json:"sections"`
}

// Section returns the named rendered section.
func (r *ComposedResponse) Section(name string) (RenderedSection, bool) {
	for _, s := range r.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return RenderedSection{}, false
}

// Composer selects and renders response templates against an agent model.
type Composer struct {
	agent    *agentdef.AgentDefinition
	resolver *capability.Resolver
	metrics  *telemetry.EngineMetrics
	tracer   trace.Tracer
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithMetrics records skipped optional sections.
func WithMetrics(m *telemetry.EngineMetrics) ComposerOption {
	return func(c *Composer) { c.metrics = m }
}

// NewComposer creates a composer over the agent model and resolver.
func NewComposer(agent *agentdef.AgentDefinition, resolver *capability.Resolver, opts ...ComposerOption) *Composer {
	c := &Composer{
		agent:    agent,
		resolver: resolver,
		tracer:   otel.Tracer("sibyl/compose"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose renders the response for the resolved status. A non-empty selector
// (a template key named by flow logic) wins; otherwise the template is
// matched by status, then by the "default" key. Mandatory sections must
// render fully or composition fails with a section error and no partial
// response; optional sections degrade by omission.
func (c *Composer) Compose(ctx context.Context, status int, selector string, inv capability.Invocation) (*ComposedResponse, error) {
	template, err := c.selectTemplate(status, selector)
	if err != nil {
		return nil, err
	}

	out := &ComposedResponse{Status: status, Template: template.Key}
	for _, section := range template.Sections {
		rendered, err := c.renderSection(ctx, section, inv)
		if err != nil {
			if section.Presence == agentdef.PresenceOptional && errors.IsRecoverable(err) {
				c.metrics.RecordSectionSkip(ctx, section.Name)
				slog.WarnContext(ctx, "optional section skipped",
					"section", section.Name, "error", err)
				continue
			}
			return nil, errors.New(errors.CodeSection,
				"mandatory section "+section.Name+" failed", err).
				WithContext("section", section.Name).
				WithContext("template", template.Key)
		}
		out.Sections = append(out.Sections, rendered)
	}
	return out, nil
}

func (c *Composer) selectTemplate(status int, selector string) (*agentdef.ResponseTemplate, error) {
	if selector != "" {
		if t, ok := c.agent.Template(selector); ok {
			return t, nil
		}
	}
	if t, ok := c.agent.TemplateForStatus(status); ok {
		return t, nil
	}
	return nil, errors.Newf(errors.CodeNoTemplate,
		"no response template matches status %d and no default exists", status)
}

func (c *Composer) renderSection(ctx context.Context, section agentdef.Section, inv capability.Invocation) (RenderedSection, error) {
	ctx, span := c.tracer.Start(ctx, "Compose.Section",
		trace.WithAttributes(
			attribute.String("section.name", section.Name),
			attribute.String("section.presence", string(section.Presence)),
		),
	)
	defer span.End()

	rendered := RenderedSection{
		Name:       section.Name,
		Meta:       section.Meta,
		Constraint: section.Constraint,
	}
	for _, call := range section.Exec {
		value, err := c.resolver.Invoke(ctx, call, capability.ScopeExternal, inv)
		if err != nil {
			return RenderedSection{}, err
		}
		rendered.Results = append(rendered.Results, value)
	}
	return rendered, nil
}
