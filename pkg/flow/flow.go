// Package flow parses and evaluates the declared conditional programs that
// select a status and action sequence per input. The grammar is minimal by
// design: a single if/else over the input-validity predicate, each branch
// assigning a status literal and an ordered response list. Programs are
// parsed once at registry build time; malformed logic fails fast as a
// configuration error, never at evaluation time.
package flow

import (
	"github.com/sibyl-run/sibyl/pkg/agentdef"
)

// Program is the parsed tagged-variant AST of a flow's logic.
type Program struct {
	// Predicate is the raw predicate text. The only supported predicate
	// shape tests whether input is absent or fails the declared request
	// format; the branch coded 400 is the one taken when it holds.
	Predicate string
	Invalid   Branch
	Valid     Branch
}

// Branch is one arm of the conditional: a status literal and the ordered
// response entries assigned in that arm.
type Branch struct {
	Status  int
	Entries []Entry
}

// Entry is one element of a branch's response list: either a plain label
// selecting a response template key, or a parsed call-shaped directive.
type Entry struct {
	Label string
	Call  *agentdef.ExecCall
}

// FlowDefinition is one named flow collected from a run_loop message.
type FlowDefinition struct {
	ID      string
	Program *Program
}

// ActionKind discriminates evaluated actions.
type ActionKind int

const (
	// ActionSelect names the response template key to render.
	ActionSelect ActionKind = iota
	// ActionInvoke defers a call to the capability resolver.
	ActionInvoke
)

// ActionSpec is one evaluated action, executed in declared order.
type ActionSpec struct {
	Kind  ActionKind
	Label string
	Call  agentdef.ExecCall
}

// Result is the outcome of evaluating a flow against one input.
type Result struct {
	Status int
	// Selector is the first template key labeled by the taken branch;
	// empty means the composer selects by status alone.
	Selector string
	Actions  []ActionSpec
	// Reason explains a failed validation; empty on the valid branch.
	Reason string
}

// Evaluate runs the flow's conditional logic against an input. It is a pure
// function: identical inputs yield identical results.
func Evaluate(def *FlowDefinition, input any, format agentdef.RequestFormat) Result {
	conforms, reason := format.Validate(input)
	if input == nil || !conforms {
		result := Result{Status: def.Program.Invalid.Status, Reason: reason}
		// The invalid branch yields no deferred actions; the composer is
		// pointed straight at the referenced template.
		for _, entry := range def.Program.Invalid.Entries {
			if entry.Call == nil && result.Selector == "" {
				result.Selector = entry.Label
			}
		}
		return result
	}

	result := Result{Status: def.Program.Valid.Status}
	for _, entry := range def.Program.Valid.Entries {
		if entry.Call != nil {
			result.Actions = append(result.Actions, ActionSpec{Kind: ActionInvoke, Call: *entry.Call})
			continue
		}
		if result.Selector == "" {
			result.Selector = entry.Label
		}
		result.Actions = append(result.Actions, ActionSpec{Kind: ActionSelect, Label: entry.Label})
	}
	return result
}

// Statuses returns every status code the flow can produce.
func (f *FlowDefinition) Statuses() []int {
	return []int{f.Program.Invalid.Status, f.Program.Valid.Status}
}
