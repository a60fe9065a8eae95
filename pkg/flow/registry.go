package flow

import (
	"github.com/sibyl-run/sibyl/pkg/document"
	"github.com/sibyl-run/sibyl/pkg/errors"
)

// Registry holds every declared flow, keyed by message id, preserving
// declaration order. The first declared flow is the default when a caller
// does not name one.
type Registry struct {
	flows map[string]*FlowDefinition
	order []string
}

// BuildRegistry collects run_loop messages with flow payloads. Payloads
// lacking a flow field, or whose program does not parse, are configuration
// errors surfaced here rather than at evaluation time.
func BuildRegistry(messages []document.Message) (*Registry, error) {
	reg := &Registry{flows: make(map[string]*FlowDefinition)}
	for _, msg := range messages {
		if msg.Type != document.TypeRunLoop {
			continue
		}
		payload, ok := document.AsMap(msg.Payload)
		if !ok {
			return nil, errors.Newf(errors.CodeConfig, "run_loop message %q has no payload mapping", msg.ID)
		}
		if kind, _ := document.StringAt(payload, "type"); kind != "flow" {
			continue
		}
		src, ok := document.StringAt(payload, "flow")
		if !ok {
			return nil, errors.Newf(errors.CodeConfig, "run_loop message %q lacks a flow field", msg.ID)
		}
		program, err := ParseProgram(src)
		if err != nil {
			return nil, errors.New(errors.CodeConfig, "flow "+msg.ID, err)
		}
		reg.flows[msg.ID] = &FlowDefinition{ID: msg.ID, Program: program}
		reg.order = append(reg.order, msg.ID)
	}
	return reg, nil
}

// Flow returns the flow with the given id, or the first declared flow when
// id is empty.
func (r *Registry) Flow(id string) (*FlowDefinition, bool) {
	if id == "" {
		if len(r.order) == 0 {
			return nil, false
		}
		return r.flows[r.order[0]], true
	}
	f, ok := r.flows[id]
	return f, ok
}

// Flows returns all flows in declaration order.
func (r *Registry) Flows() []*FlowDefinition {
	out := make([]*FlowDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.flows[id])
	}
	return out
}

// Len returns the number of registered flows.
func (r *Registry) Len() int {
	return len(r.order)
}
