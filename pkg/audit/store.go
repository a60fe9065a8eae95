// Package audit records engine activity: invocations, injected rules and
// capability failures. Stores are append-only and safe for concurrent use.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Event kinds recorded by the engine.
const (
	KindInvocation        = "invocation"
	KindRuleInjected      = "rule_injected"
	KindCapabilityFailure = "capability_failure"
)

// Event is one audit record.
type Event struct {
	InvocationID string
	Agent        string
	Kind         string
	Target       string
	Status       string
	Detail       string
	Output       any
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Filter limits audit event queries.
type Filter struct {
	InvocationID string
	Kind         string
	Status       string
	Limit        int
}

// Store persists audit events.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// MemoryStore keeps audit events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an audit event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered audit events in record order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if filter.InvocationID != "" && ev.InvocationID != filter.InvocationID {
			continue
		}
		if filter.Kind != "" && ev.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && ev.Status != filter.Status {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// encodeOutput marshals the output payload into JSON.
func encodeOutput(output any) ([]byte, error) {
	if output == nil {
		return []byte("null"), nil
	}
	return json.Marshal(output)
}

// decodeOutput parses a JSON output payload.
func decodeOutput(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeTime ensures timestamps are stored in UTC.
func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
