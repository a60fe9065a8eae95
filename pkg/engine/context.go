package engine

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionContext is the ephemeral state of one processed input. It is
// owned exclusively by a single Process call and discarded once the
// response is returned; invocations never observe each other's partial
// state. It implements capability.Invocation.
type ExecutionContext struct {
	ID        string
	Input     any
	Status    int
	StartedAt time.Time

	// Rules is the core_rules snapshot taken when the invocation began.
	Rules []string

	vars    map[string]any
	results map[int]any
	nextPos int
	assign  func(key string, value any)
}

func newExecutionContext(input any, vars map[string]any, rules []string, assign func(string, any)) *ExecutionContext {
	if vars == nil {
		vars = make(map[string]any)
	}
	return &ExecutionContext{
		ID:        uuid.NewString(),
		Input:     input,
		StartedAt: time.Now().UTC(),
		Rules:     rules,
		vars:      vars,
		results:   make(map[int]any),
		assign:    assign,
	}
}

// Var resolves a run-scoped variable. "input" and "status" are always
// bound; the rest is the seeded system state plus anything assigned during
// the run.
func (ec *ExecutionContext) Var(name string) (any, bool) {
	switch name {
	case "input":
		return ec.Input, ec.Input != nil
	case "status":
		return ec.Status, true
	}
	v, ok := ec.vars[name]
	return v, ok
}

// NextPos hands out the position key for the next exec result.
func (ec *ExecutionContext) NextPos() int {
	pos := ec.nextPos
	ec.nextPos++
	return pos
}

// SetResult stores an exec result under its position.
func (ec *ExecutionContext) SetResult(pos int, value any) {
	ec.results[pos] = value
}

// Result returns the exec result stored at a position.
func (ec *ExecutionContext) Result(pos int) (any, bool) {
	v, ok := ec.results[pos]
	return v, ok
}

// AssignSystem writes a system variable for the rest of this run and
// forwards it to the engine's persistent system state so subsequent
// invocations start with it.
func (ec *ExecutionContext) AssignSystem(key string, value any) {
	ec.vars[key] = value
	if ec.assign != nil {
		ec.assign(key, value)
	}
}
