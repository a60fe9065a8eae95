package engine

import "sync"

// RuleBook is the agent's shared core_rules sequence: the single engine-wide
// mutable resource. Appends are serialized and atomic; readers take a
// consistent snapshot at the start of their invocation and are not required
// to observe later concurrent injections mid-flight.
type RuleBook struct {
	mu    sync.Mutex
	rules []string
}

// NewRuleBook seeds the book with the agent's declared core rules.
func NewRuleBook(initial []string) *RuleBook {
	return &RuleBook{rules: append([]string(nil), initial...)}
}

// Append atomically adds a rule. The book only ever grows.
func (b *RuleBook) Append(rule string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules = append(b.rules, rule)
}

// Snapshot returns a copy of the current rules.
func (b *RuleBook) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.rules...)
}

// Len returns the current number of rules.
func (b *RuleBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rules)
}
