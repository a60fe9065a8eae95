package capability

import (
	"context"
	"testing"
	"time"

	"github.com/sibyl-run/sibyl/pkg/agentdef"
	"github.com/sibyl-run/sibyl/pkg/errors"
	"github.com/sibyl-run/sibyl/pkg/loader"
	"github.com/sibyl-run/sibyl/pkg/resilience"
)

// fakeInvocation is a minimal Invocation for resolver tests.
type fakeInvocation struct {
	vars    map[string]any
	results map[int]any
	system  map[string]any
	nextPos int
}

func newFakeInvocation(vars map[string]any) *fakeInvocation {
	return &fakeInvocation{
		vars:    vars,
		results: make(map[int]any),
		system:  make(map[string]any),
	}
}

func (f *fakeInvocation) Var(name string) (any, bool) {
	v, ok := f.vars[name]
	return v, ok
}

func (f *fakeInvocation) NextPos() int {
	pos := f.nextPos
	f.nextPos++
	return pos
}

func (f *fakeInvocation) SetResult(pos int, value any) { f.results[pos] = value }
func (f *fakeInvocation) AssignSystem(key string, value any) {
	f.system[key] = value
	f.vars[key] = value
}

const resolverAgent = `
- id: agent_def
  type: system
  payload:
    type: agent
    name: forecaster
    skills:
      public:
        - talk(message, language)
      private:
        - calibrate(sensor)
    responses:
      default:
        status: 200
        sections:
          body:
            exec:
              - agent.skills.talk(input, french)
`

func resolverFixture(t *testing.T, opts ...ResolverOption) (*Resolver, *Registry) {
	t.Helper()
	messages, err := loader.Parse([]byte(resolverAgent))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	agent, err := agentdef.Build(messages)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	registry := NewRegistry()
	return NewResolver(agent, registry, opts...), registry
}

func mustParse(t *testing.T, raw string) agentdef.ExecCall {
	t.Helper()
	call, err := agentdef.ParseExecCall(raw)
	if err != nil {
		t.Fatalf("parse exec %q: %v", raw, err)
	}
	return call
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	fn := func(_ context.Context, _ []ArgValue) (any, error) { return "ok", nil }

	if err := registry.Register("agent.skills.talk", fn); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := registry.Lookup("agent.skills.talk"); !ok {
		t.Fatalf("expected lookup hit")
	}
	if _, ok := registry.Lookup("agent.skills.missing"); ok {
		t.Fatalf("expected lookup miss")
	}

	for _, path := range []string{"", "a..b", " "} {
		if err := registry.Register(path, fn); err == nil {
			t.Errorf("expected error for path %q", path)
		}
	}
	if err := registry.Register("x", nil); err == nil {
		t.Errorf("expected error for nil callable")
	}
}

func TestInvokeResolvesArgs(t *testing.T) {
	resolver, registry := resolverFixture(t)
	var got []ArgValue
	registry.Register("agent.skills.talk", func(_ context.Context, args []ArgValue) (any, error) {
		got = append([]ArgValue(nil), args...)
		return "bonjour", nil
	})

	inv := newFakeInvocation(map[string]any{"input": "hello"})
	value, err := resolver.Invoke(context.Background(),
		mustParse(t, "agent.skills.talk(input, french, greeting='hi there')"), ScopeExternal, inv)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if value != "bonjour" {
		t.Errorf("expected bonjour, got %v", value)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 args, got %d", len(got))
	}
	// Context variable wins over literal text.
	if got[0].Value != "hello" {
		t.Errorf("expected input to resolve from context, got %v", got[0].Value)
	}
	// Unbound bare token falls back to its literal text.
	if got[1].Value != "french" {
		t.Errorf("expected bare-token fallback, got %v", got[1].Value)
	}
	if v, ok := Find(got, "greeting"); !ok || v != "hi there" {
		t.Errorf("expected keyword arg, got %v ok=%t", v, ok)
	}
	if v, ok := inv.results[0]; !ok || v != "bonjour" {
		t.Errorf("expected result at position 0, got %v", v)
	}
}

func TestInvokePrivateSkillVisibility(t *testing.T) {
	resolver, registry := resolverFixture(t)
	registry.Register("agent.skills.calibrate", func(_ context.Context, _ []ArgValue) (any, error) {
		return "calibrated", nil
	})
	call := mustParse(t, "agent.skills.calibrate(sensor)")
	inv := newFakeInvocation(map[string]any{})

	if _, err := resolver.Invoke(context.Background(), call, ScopeExternal, inv); err == nil {
		t.Fatalf("expected private skill to be rejected from external scope")
	} else if !errors.Is(err, errors.CodeCapability) {
		t.Errorf("expected CAPABILITY_ERROR, got %v", err)
	}

	if _, err := resolver.Invoke(context.Background(), call, ScopeInternal, inv); err != nil {
		t.Fatalf("expected private skill to be callable internally: %v", err)
	}
}

func TestInvokeUndeclaredAndUnregistered(t *testing.T) {
	resolver, registry := resolverFixture(t)
	inv := newFakeInvocation(map[string]any{})

	if _, err := resolver.Invoke(context.Background(),
		mustParse(t, "agent.skills.unknown(x)"), ScopeExternal, inv); err == nil {
		t.Fatalf("expected error for undeclared skill")
	}

	// Declared but nothing registered behind it.
	if _, err := resolver.Invoke(context.Background(),
		mustParse(t, "agent.skills.talk(x, y)"), ScopeExternal, inv); err == nil {
		t.Fatalf("expected error for unregistered capability")
	}

	registry.Register("agent.skills.talk", func(_ context.Context, _ []ArgValue) (any, error) {
		return nil, errors.Newf(errors.CodeInternal, "boom")
	})
	_, err := resolver.Invoke(context.Background(),
		mustParse(t, "agent.skills.talk(x, y)"), ScopeExternal, inv)
	if err == nil {
		t.Fatalf("expected callable failure to surface")
	}
	if !errors.IsRecoverable(err) {
		t.Errorf("capability failure must be recoverable, got %v", err)
	}
}

func TestInvokeAssignment(t *testing.T) {
	resolver, _ := resolverFixture(t)
	inv := newFakeInvocation(map[string]any{})

	value, err := resolver.Invoke(context.Background(),
		mustParse(t, "system.response = {'ready': True}"), ScopeExternal, inv)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	assigned, ok := inv.system["response"].(map[string]any)
	if !ok || assigned["ready"] != true {
		t.Errorf("expected system response assignment, got %v", inv.system)
	}
	if got, ok := value.(map[string]any); !ok || got["ready"] != true {
		t.Errorf("expected assigned value returned, got %v", value)
	}

	if _, err := resolver.Invoke(context.Background(),
		mustParse(t, "system.mood = 'happy'"), ScopeExternal, inv); err == nil {
		t.Fatalf("expected non-response assignment target to be rejected")
	}
}

func TestInvokeTimeout(t *testing.T) {
	resolver, registry := resolverFixture(t, WithTimeout(20*time.Millisecond))
	registry.Register("agent.skills.talk", func(ctx context.Context, _ []ArgValue) (any, error) {
		select {
		case <-time.After(time.Second):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	inv := newFakeInvocation(map[string]any{})
	_, err := resolver.Invoke(context.Background(),
		mustParse(t, "agent.skills.talk(x, y)"), ScopeExternal, inv)
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if !errors.Is(err, errors.CodeCapability) || !errors.IsRecoverable(err) {
		t.Errorf("expected recoverable capability error, got %v", err)
	}
}

func TestInvokeRetriesTransientFailures(t *testing.T) {
	resolver, registry := resolverFixture(t, WithRetry(resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}))
	calls := 0
	registry.Register("agent.skills.talk", func(_ context.Context, _ []ArgValue) (any, error) {
		calls++
		if calls < 2 {
			return nil, errors.Newf(errors.CodeInternal, "transient")
		}
		return "recovered", nil
	})

	inv := newFakeInvocation(map[string]any{})
	value, err := resolver.Invoke(context.Background(),
		mustParse(t, "agent.skills.talk(x, y)"), ScopeExternal, inv)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if value != "recovered" || calls != 2 {
		t.Errorf("expected recovery on attempt 2, got value=%v calls=%d", value, calls)
	}
}

func TestResolvable(t *testing.T) {
	resolver, registry := resolverFixture(t)
	registry.Register("agent.skills.talk", func(_ context.Context, _ []ArgValue) (any, error) {
		return nil, nil
	})

	if !resolver.Resolvable(mustParse(t, "agent.skills.talk(x, y)")) {
		t.Errorf("registered path must be resolvable")
	}
	if resolver.Resolvable(mustParse(t, "agent.skills.ghost(x)")) {
		t.Errorf("unregistered path must not be resolvable")
	}
	if !resolver.Resolvable(mustParse(t, "system.response = 1")) {
		t.Errorf("system.response assignment must be resolvable")
	}
	if resolver.Resolvable(mustParse(t, "system.other = 1")) {
		t.Errorf("other assignment targets must not be resolvable")
	}
}
