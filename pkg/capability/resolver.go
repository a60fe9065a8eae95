package capability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sibyl-run/sibyl/pkg/agentdef"
	"github.com/sibyl-run/sibyl/pkg/errors"
	"github.com/sibyl-run/sibyl/pkg/resilience"
)

// systemResponsePath is the one assignment target the system namespace
// accepts.
const systemResponsePath = "system.response"

// Scope states where an exec expression was authored. Private skills are
// reachable only from internal scope (other skills or the engine's own
// directives); response-section execs and flow entries are external.
type Scope int

const (
	ScopeExternal Scope = iota
	ScopeInternal
)

// Invocation is the view the resolver needs of a single run's execution
// context: run-scoped variable lookup, positional result storage, and the
// persistent system assignment sink. NextPos hands out the position key
// each exec result is stored under.
type Invocation interface {
	Var(name string) (any, bool)
	NextPos() int
	SetResult(pos int, value any)
	AssignSystem(key string, value any)
}

// Resolver maps exec calls onto the agent and system namespaces, resolves
// arguments against the execution context, and invokes the registered
// callable through a cancellable timeout boundary.
type Resolver struct {
	agent    *agentdef.AgentDefinition
	registry *Registry
	timeout  time.Duration
	retry    *resilience.RetryConfig
	tracer   trace.Tracer
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithTimeout bounds each capability invocation. Zero disables the boundary.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// WithRetry retries failed capability invocations with backoff. Timeouts are
// not retried; the per-call boundary is final.
func WithRetry(config resilience.RetryConfig) ResolverOption {
	return func(r *Resolver) { r.retry = &config }
}

// NewResolver creates a resolver over the given agent model and registry.
func NewResolver(agent *agentdef.AgentDefinition, registry *Registry, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		agent:    agent,
		registry: registry,
		tracer:   otel.Tracer("sibyl/capability"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invoke executes one exec call. The result, if any, is stored in the
// invocation keyed by the exec's position and returned. Unknown paths,
// visibility violations, callable failures and timeouts all surface as
// capability errors, recoverable per section presence policy.
func (r *Resolver) Invoke(ctx context.Context, call agentdef.ExecCall, scope Scope, inv Invocation) (any, error) {
	target := call.Target()
	ctx, span := r.tracer.Start(ctx, "Capability.Invoke",
		trace.WithAttributes(attribute.String("capability.path", target)),
	)
	defer span.End()

	if call.Assign {
		if target != systemResponsePath {
			return nil, errors.Newf(errors.CodeCapability, "assignment target %q is not assignable", target)
		}
		inv.AssignSystem("response", call.Value)
		inv.SetResult(inv.NextPos(), call.Value)
		return call.Value, nil
	}

	if err := r.authorize(call, scope); err != nil {
		return nil, err
	}
	fn, ok := r.registry.Lookup(target)
	if !ok {
		return nil, errors.Newf(errors.CodeCapability, "no capability registered at %q", target)
	}

	args := r.resolveArgs(call.Args, inv)
	value, err := r.execute(ctx, fn, args)
	if err != nil {
		if errors.Is(err, errors.CodeTimeout) {
			return nil, errors.New(errors.CodeCapability, "capability "+target+" timed out", err).
				WithRecoverable(true)
		}
		return nil, errors.New(errors.CodeCapability, "capability "+target+" failed", err).
			WithRecoverable(true)
	}

	inv.SetResult(inv.NextPos(), value)
	return value, nil
}

// execute runs the callable through the timeout boundary, retrying per the
// configured policy. A timeout ends the attempt sequence; retrying past the
// per-call boundary would let one exec stall the whole section render.
func (r *Resolver) execute(ctx context.Context, fn Callable, args []ArgValue) (any, error) {
	boundary := func(ctx context.Context) (any, error) {
		return fn(ctx, args)
	}
	if r.retry == nil {
		return resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: r.timeout}, boundary)
	}
	rc := *r.retry
	// Callable errors are not yet classified here; retry them all except
	// the boundary's own timeout.
	rc.IsRecoverable = func(err error) bool {
		return !errors.Is(err, errors.CodeTimeout)
	}
	return rc.DoWithResult(ctx, func() (any, error) {
		return resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: r.timeout}, boundary)
	})
}

// Resolvable reports whether a call's target would dispatch: used for
// build-time checks of mandatory section execs.
func (r *Resolver) Resolvable(call agentdef.ExecCall) bool {
	if call.Assign {
		return call.Target() == systemResponsePath
	}
	_, ok := r.registry.Lookup(call.Target())
	return ok
}

func (r *Resolver) authorize(call agentdef.ExecCall, scope Scope) error {
	if len(call.Path) == 3 && call.Path[0] == "agent" && call.Path[1] == "skills" {
		skill, ok := r.agent.Skill(call.Path[2])
		if !ok {
			return errors.Newf(errors.CodeCapability, "agent declares no skill %q", call.Path[2])
		}
		if skill.Visibility == agentdef.VisibilityPrivate && scope == ScopeExternal {
			return errors.Newf(errors.CodeCapability, "skill %q is private", skill.Name)
		}
	}
	return nil
}

// resolveArgs evaluates arguments left to right. Literals resolve to their
// parsed values; bare identifiers resolve against the execution context
// first and fall back to their literal text, mirroring the source grammar's
// permissiveness with tokens like `french` or `10mph`.
func (r *Resolver) resolveArgs(args []agentdef.Arg, inv Invocation) []ArgValue {
	out := make([]ArgValue, 0, len(args))
	for _, arg := range args {
		if arg.IsLiteral {
			out = append(out, ArgValue{Name: arg.Name, Value: arg.Literal})
			continue
		}
		if value, ok := inv.Var(arg.Raw); ok {
			out = append(out, ArgValue{Name: arg.Name, Value: value})
			continue
		}
		out = append(out, ArgValue{Name: arg.Name, Value: arg.Raw})
	}
	return out
}
