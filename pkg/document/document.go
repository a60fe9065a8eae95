// Package document holds the generic parsed tree an agent definition is
// built from. The engine never reads serialized bytes directly; it consumes
// an ordered sequence of Messages whose payloads are trees of scalar,
// sequence and mapping nodes.
package document

// Message type discriminators recognized by the model builders. The set is
// extensible; unknown types are ignored during construction.
const (
	TypeSystem  = "system"
	TypeRunLoop = "run_loop"
)

// Message is one record of a loaded configuration. Messages are immutable
// once loaded; their declaration order is significant.
type Message struct {
	ID      string
	Type    string
	Payload any
}

// Map is an order-preserving mapping node. Section render order and flow
// tie-breaks depend on declaration order, so plain Go maps are not enough.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap returns an empty ordered mapping.
func NewMap() *Map {
	return &Map{values: make(map[string]any)}
}

// Set stores value under key, appending the key on first insertion.
func (m *Map) Set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in declaration order.
func (m *Map) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.keys)
}

// AsString returns v when it is a string scalar.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// AsSlice returns v when it is a sequence node.
func AsSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// AsMap returns v when it is a mapping node.
func AsMap(v any) (*Map, bool) {
	m, ok := v.(*Map)
	return m, ok
}

// StringAt looks up key in a mapping node and returns it as a string.
func StringAt(m *Map, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return AsString(v)
}

// SliceAt looks up key in a mapping node and returns it as a sequence.
func SliceAt(m *Map, key string) ([]any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	return AsSlice(v)
}

// MapAt looks up key in a mapping node and returns it as a mapping.
func MapAt(m *Map, key string) (*Map, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	return AsMap(v)
}

// StringsAt looks up key and returns a sequence of string scalars. Non-string
// entries are rejected.
func StringsAt(m *Map, key string) ([]string, bool) {
	seq, ok := SliceAt(m, key)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(seq))
	for _, item := range seq {
		s, ok := AsString(item)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
