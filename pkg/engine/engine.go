// SPDX-License-Identifier: Apache-2.0
// Package engine is the facade over the declared agent: it builds the agent
// model and flow registry from loaded messages, registers system
// capabilities, validates the wiring at startup, and processes inputs into
// composed responses.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sibyl-run/sibyl/pkg/agentdef"
	"github.com/sibyl-run/sibyl/pkg/audit"
	"github.com/sibyl-run/sibyl/pkg/capability"
	"github.com/sibyl-run/sibyl/pkg/compose"
	"github.com/sibyl-run/sibyl/pkg/document"
	"github.com/sibyl-run/sibyl/pkg/errors"
	"github.com/sibyl-run/sibyl/pkg/flow"
	"github.com/sibyl-run/sibyl/pkg/resilience"
	"github.com/sibyl-run/sibyl/pkg/telemetry"
)

type ctxKey int

const invocationIDKey ctxKey = iota

func invocationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(invocationIDKey).(string)
	return id
}

// Engine interprets a declared agent. It is safe for concurrent Process
// calls: the agent model and flow registry are immutable after New, the rule
// book serializes its own appends, and each invocation runs on its own
// execution context.
type Engine struct {
	agent    *agentdef.AgentDefinition
	flows    *flow.Registry
	registry *capability.Registry
	resolver *capability.Resolver
	composer *compose.Composer
	rules    *RuleBook

	system *systemState

	auditStore audit.Store
	metrics    *telemetry.EngineMetrics
	tracer     trace.Tracer

	capabilityTimeout time.Duration
	capabilityRetry   *resilience.RetryConfig
}

// Option configures an Engine.
type Option func(*Engine)

// WithCapabilityTimeout bounds each capability invocation. Zero disables the
// boundary.
func WithCapabilityTimeout(d time.Duration) Option {
	return func(e *Engine) { e.capabilityTimeout = d }
}

// WithCapabilityRetry retries failed capability invocations with backoff.
func WithCapabilityRetry(config resilience.RetryConfig) Option {
	return func(e *Engine) { e.capabilityRetry = &config }
}

// WithAuditStore records invocations, injected rules and capability failures
// to the given store.
func WithAuditStore(store audit.Store) Option {
	return func(e *Engine) { e.auditStore = store }
}

// WithMetrics attaches OTEL engine metrics.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an engine from loaded messages. The registry holds the caller's
// skill implementations; system capabilities are registered on top of it.
// Startup fails fast on any wiring defect: unparseable flows, flow statuses
// with no matching template, or mandatory sections whose exec paths nothing
// can dispatch.
func New(messages []document.Message, registry *capability.Registry, opts ...Option) (*Engine, error) {
	agent, err := agentdef.Build(messages)
	if err != nil {
		return nil, err
	}
	flows, err := flow.BuildRegistry(messages)
	if err != nil {
		return nil, err
	}
	if registry == nil {
		registry = capability.NewRegistry()
	}

	e := &Engine{
		agent:      agent,
		flows:      flows,
		registry:   registry,
		rules:      NewRuleBook(agent.CoreRules),
		system:     newSystemState(),
		auditStore: audit.NewMemoryStore(),
		tracer:     otel.Tracer("sibyl/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.registerBuiltins(); err != nil {
		return nil, err
	}
	resolverOpts := []capability.ResolverOption{capability.WithTimeout(e.capabilityTimeout)}
	if e.capabilityRetry != nil {
		resolverOpts = append(resolverOpts, capability.WithRetry(*e.capabilityRetry))
	}
	e.resolver = capability.NewResolver(agent, registry, resolverOpts...)
	e.composer = compose.NewComposer(agent, e.resolver, compose.WithMetrics(e.metrics))

	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Agent returns the immutable agent model.
func (e *Engine) Agent() *agentdef.AgentDefinition { return e.agent }

// Flows returns the flow registry.
func (e *Engine) Flows() *flow.Registry { return e.flows }

// CoreRules returns a snapshot of the shared rule book.
func (e *Engine) CoreRules() []string { return e.rules.Snapshot() }

// ProcessOption configures one Process call.
type ProcessOption func(*processConfig)

type processConfig struct {
	flowID        string
	requestFormat string
}

// WithFlow selects the flow to evaluate; empty means the first declared one.
func WithFlow(id string) ProcessOption {
	return func(c *processConfig) { c.flowID = id }
}

// WithRequestFormat selects the request format used to validate the input.
func WithRequestFormat(name string) ProcessOption {
	return func(c *processConfig) { c.requestFormat = name }
}

// Process runs one input through the selected flow and composes the response
// for the resolved status. Recoverable action failures are logged and
// audited, then processing continues; composition failures surface to the
// caller with no partial response.
func (e *Engine) Process(ctx context.Context, input any, opts ...ProcessOption) (*compose.ComposedResponse, error) {
	var cfg processConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	def, ok := e.flows.Flow(cfg.flowID)
	if !ok {
		return nil, errors.Newf(errors.CodeConfig, "no flow registered under %q", cfg.flowID)
	}
	format, ok := e.agent.Request(cfg.requestFormat)
	if !ok {
		return nil, errors.Newf(errors.CodeConfig, "no request format %q", cfg.requestFormat)
	}

	exec := newExecutionContext(input, e.system.snapshot(), e.rules.Snapshot(), e.system.set)
	ctx = context.WithValue(ctx, invocationIDKey, exec.ID)

	ctx, span := e.tracer.Start(ctx, "Engine.Process",
		trace.WithAttributes(
			attribute.String("invocation.id", exec.ID),
			attribute.String("flow.id", def.ID),
			attribute.String("agent.name", e.agent.Name),
		),
	)
	defer span.End()

	result := flow.Evaluate(def, input, format)
	exec.Status = result.Status
	span.SetAttributes(attribute.Int("invocation.status", result.Status))
	if result.Reason != "" {
		slog.DebugContext(ctx, "input rejected", "flow", def.ID, "reason", result.Reason)
	}

	for _, action := range result.Actions {
		if action.Kind != flow.ActionInvoke {
			continue
		}
		if _, err := e.resolver.Invoke(ctx, action.Call, capability.ScopeExternal, exec); err != nil {
			target := action.Call.Target()
			e.recordCapabilityFailure(ctx, exec, target, err)
			if errors.IsRecoverable(err) {
				slog.WarnContext(ctx, "flow action failed", "capability", target, "error", err)
				continue
			}
			e.recordInvocation(ctx, exec, result.Status, "error", nil)
			return nil, err
		}
	}

	composed, err := e.composer.Compose(ctx, result.Status, result.Selector, exec)
	if err != nil {
		e.recordInvocation(ctx, exec, result.Status, "error", nil)
		return nil, err
	}

	e.recordInvocation(ctx, exec, result.Status, "ok", composed)
	return composed, nil
}

// Directive executes one exec expression at internal scope, the engine's own
// side of the visibility boundary: private skills are reachable here, unlike
// from flow actions and response sections. System assignments persist
// engine-wide as with any invocation.
func (e *Engine) Directive(ctx context.Context, raw string) (any, error) {
	call, err := agentdef.ParseExecCall(raw)
	if err != nil {
		return nil, err
	}
	exec := newExecutionContext(nil, e.system.snapshot(), e.rules.Snapshot(), e.system.set)
	ctx = context.WithValue(ctx, invocationIDKey, exec.ID)
	ctx, span := e.tracer.Start(ctx, "Engine.Directive",
		trace.WithAttributes(
			attribute.String("invocation.id", exec.ID),
			attribute.String("capability.path", call.Target()),
		),
	)
	defer span.End()
	return e.resolver.Invoke(ctx, call, capability.ScopeInternal, exec)
}

func (e *Engine) recordInvocation(ctx context.Context, exec *ExecutionContext, status int, outcome string, output any) {
	finished := time.Now().UTC()
	e.metrics.RecordInvocation(ctx, status, outcome, finished.Sub(exec.StartedAt))
	e.record(ctx, audit.Event{
		InvocationID: exec.ID,
		Agent:        e.agent.Name,
		Kind:         audit.KindInvocation,
		Status:       outcome,
		Output:       output,
		StartedAt:    exec.StartedAt,
		FinishedAt:   finished,
	})
}

func (e *Engine) recordCapabilityFailure(ctx context.Context, exec *ExecutionContext, target string, err error) {
	e.metrics.RecordCapabilityFailure(ctx, target)
	e.record(ctx, audit.Event{
		InvocationID: exec.ID,
		Agent:        e.agent.Name,
		Kind:         audit.KindCapabilityFailure,
		Target:       target,
		Status:       "error",
		Detail:       err.Error(),
		StartedAt:    time.Now().UTC(),
	})
}

func (e *Engine) record(ctx context.Context, event audit.Event) {
	if e.auditStore == nil {
		return
	}
	if err := e.auditStore.Record(ctx, event); err != nil {
		slog.WarnContext(ctx, "audit record failed", "kind", event.Kind, "error", err)
	}
}

// registerBuiltins installs the system capabilities every agent gets.
func (e *Engine) registerBuiltins() error {
	builtins := map[string]capability.Callable{
		"inject_rule":         e.injectRule,
		"system.inject_rule":  e.injectRule,
		"system.reset_memory": e.resetMemory,
		"system.load":         e.loadState,
	}
	for path, fn := range builtins {
		if _, taken := e.registry.Lookup(path); taken {
			continue
		}
		if err := e.registry.Register(path, fn); err != nil {
			return err
		}
	}
	return nil
}

// injectRule appends a rule to the shared core rules. The rule is taken from
// the keyword argument `rule` or the first positional argument.
func (e *Engine) injectRule(ctx context.Context, args []capability.ArgValue) (any, error) {
	value, ok := capability.Find(args, "rule")
	if !ok {
		if len(args) == 0 {
			return nil, errors.Newf(errors.CodeCapability, "inject_rule requires a rule argument")
		}
		value = args[0].Value
	}
	rule, ok := value.(string)
	if !ok || rule == "" {
		return nil, errors.Newf(errors.CodeCapability, "inject_rule requires a non-empty string rule")
	}

	e.rules.Append(rule)
	e.metrics.RecordRuleInjection(ctx)
	e.record(ctx, audit.Event{
		InvocationID: invocationIDFromContext(ctx),
		Agent:        e.agent.Name,
		Kind:         audit.KindRuleInjected,
		Target:       "inject_rule",
		Status:       "ok",
		Detail:       rule,
		StartedAt:    time.Now().UTC(),
	})
	slog.InfoContext(ctx, "rule injected", "rules", e.rules.Len())
	return rule, nil
}

// resetMemory clears the engine's persistent system variables. The rule book
// is append-only and is not touched.
func (e *Engine) resetMemory(ctx context.Context, _ []capability.ArgValue) (any, error) {
	e.system.reset()
	slog.InfoContext(ctx, "system memory reset")
	return nil, nil
}

// loadState returns the agent's current declared state: identity, directive
// and the live rule snapshot.
func (e *Engine) loadState(_ context.Context, _ []capability.ArgValue) (any, error) {
	return map[string]any{
		"agent":     e.agent.Name,
		"directive": e.agent.Directive,
		"rules":     e.rules.Snapshot(),
	}, nil
}

// validate cross-checks flows against templates and capabilities so that
// wiring defects surface at startup rather than mid-invocation.
func (e *Engine) validate() error {
	for _, def := range e.flows.Flows() {
		for _, branch := range []flow.Branch{def.Program.Invalid, def.Program.Valid} {
			if err := e.validateBranch(def.ID, branch); err != nil {
				return err
			}
		}
	}
	for _, template := range e.agent.Templates() {
		for _, section := range template.Sections {
			if section.Presence != agentdef.PresenceMandatory {
				continue
			}
			for _, call := range section.Exec {
				if !e.resolver.Resolvable(call) {
					return errors.Newf(errors.CodeConfig,
						"template %q section %q: mandatory exec %q has no registered capability",
						template.Key, section.Name, call.Target())
				}
			}
		}
	}
	return nil
}

func (e *Engine) validateBranch(flowID string, branch flow.Branch) error {
	labeled := false
	for _, entry := range branch.Entries {
		if entry.Call != nil {
			if err := e.validateFlowCall(flowID, entry.Call); err != nil {
				return err
			}
			continue
		}
		labeled = true
		if _, ok := e.agent.Template(entry.Label); !ok {
			return errors.Newf(errors.CodeConfig,
				"flow %q names template %q which is not declared", flowID, entry.Label)
		}
	}
	if !labeled {
		if _, ok := e.agent.TemplateForStatus(branch.Status); !ok {
			return errors.Newf(errors.CodeConfig,
				"flow %q status %d matches no declared template", flowID, branch.Status)
		}
	}
	return nil
}

func (e *Engine) validateFlowCall(flowID string, call *agentdef.ExecCall) error {
	if call.Assign {
		return nil
	}
	if len(call.Path) == 3 && call.Path[0] == "agent" && call.Path[1] == "skills" {
		if _, ok := e.agent.Skill(call.Path[2]); !ok {
			return errors.Newf(errors.CodeConfig,
				"flow %q calls undeclared skill %q", flowID, call.Path[2])
		}
	}
	return nil
}

// systemState is the engine's persistent variable store: values assigned to
// the system namespace during one invocation seed every later invocation's
// execution context.
type systemState struct {
	mu   sync.RWMutex
	vars map[string]any
}

func newSystemState() *systemState {
	return &systemState{vars: make(map[string]any)}
}

func (s *systemState) snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

func (s *systemState) set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[key] = value
}

func (s *systemState) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars = make(map[string]any)
}
