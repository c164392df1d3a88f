// Package ordered implements an ordered map type.
package ordered

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/go-cmp/cmp"
)

var _ interface {
	json.Marshaler
	json.Unmarshaler
} = (*Map[string, any])(nil)

// ErrNotObject is returned when decoding JSON that is valid, but whose
// top-level value is not an object.
var ErrNotObject = errors.New("not a JSON object")

var errUnexpectedEnd = errors.New("unexpected end of JSON input")

// Map is an order-preserving map with string keys. It is intended for working
// with JSON objects whose key order matters to the caller (e.g. secrets, in
// the order the API sent them).
type Map[K comparable, V any] struct {
	items []Tuple[K, V]
	index map[K]int
}

// MapSS is a convenience alias to reduce keyboard wear.
type MapSS = Map[string, string]

// MapSR maps keys to undecoded JSON values.
type MapSR = Map[string, json.RawMessage]

// NewMap returns a new empty map with a given initial capacity.
func NewMap[K comparable, V any](cap int) *Map[K, V] {
	return &Map[K, V]{
		items: make([]Tuple[K, V], 0, cap),
		index: make(map[K]int, cap),
	}
}

// MapFromItems creates an Map with some items.
func MapFromItems[K comparable, V any](ps ...Tuple[K, V]) *Map[K, V] {
	m := NewMap[K, V](len(ps))
	for _, p := range ps {
		m.Set(p.Key, p.Value)
	}
	return m
}

// Len returns the number of items in the map.
func (m *Map[K, V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.index)
}

// IsZero reports if m is nil or empty.
func (m *Map[K, V]) IsZero() bool {
	return m == nil || len(m.index) == 0
}

// Get retrieves the value associated with a key, and reports if it was found.
func (m *Map[K, V]) Get(k K) (V, bool) {
	var zv V
	if m == nil {
		return zv, false
	}
	idx, ok := m.index[k]
	if !ok {
		return zv, false
	}
	return m.items[idx].Value, true
}

// Contains reports if the map contains the key.
func (m *Map[K, V]) Contains(k K) bool {
	if m == nil {
		return false
	}
	_, has := m.index[k]
	return has
}

// Set sets the value for the given key. If the key exists, it remains in its
// existing spot, otherwise it is added to the end of the map.
func (m *Map[K, V]) Set(k K, v V) {
	// Suppose someone makes Map with new(Map). The one thing we need to not be
	// nil will be nil.
	if m.index == nil {
		m.index = make(map[K]int, 1)
	}

	if idx, exists := m.index[k]; exists {
		m.items[idx].Value = v
		return
	}

	m.index[k] = len(m.items)
	m.items = append(m.items, Tuple[K, V]{
		Key:   k,
		Value: v,
	})
}

// Delete deletes a key from the map. It does nothing if the key is not in the
// map.
func (m *Map[K, V]) Delete(k K) {
	if m == nil {
		return
	}
	idx, ok := m.index[k]
	if !ok {
		return
	}
	m.items[idx].deleted = true
	delete(m.index, k)

	// If half the pairs have been deleted, perform a compaction.
	if len(m.items) >= 2*len(m.index) {
		m.compact()
	}
}

// Keys returns the keys in order.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Len())
	m.Range(func(k K, _ V) error {
		keys = append(keys, k)
		return nil
	})
	return keys
}

// ToMap creates a regular (un-ordered) map containing the same data. If m is
// nil, ToMap returns nil.
func (m *Map[K, V]) ToMap() map[K]V {
	if m == nil {
		return nil
	}
	um := make(map[K]V, len(m.index))
	m.Range(func(k K, v V) error {
		um[k] = v
		return nil
	})
	return um
}

// Equal reports if the two maps are equal (they contain the same items in the
// same order). Keys are compared directly; values are compared using go-cmp.
func Equal[K comparable, V any](a, b *Map[K, V]) bool {
	if a == nil || b == nil {
		return a.Len() == b.Len()
	}
	if a.Len() != b.Len() {
		return false
	}
	ak, bk := a.Keys(), b.Keys()
	for i := range ak {
		if ak[i] != bk[i] {
			return false
		}
		av, _ := a.Get(ak[i])
		bv, _ := b.Get(bk[i])
		if !cmp.Equal(av, bv) {
			return false
		}
	}
	return true
}

// EqualSS is a convenience alias to reduce keyboard wear.
var EqualSS = Equal[string, string]

// compact re-organises the internal storage of the Map.
func (m *Map[K, V]) compact() {
	pairs := make([]Tuple[K, V], 0, len(m.index))
	for _, p := range m.items {
		if p.deleted {
			continue
		}
		m.index[p.Key] = len(pairs)
		pairs = append(pairs, Tuple[K, V]{
			Key:   p.Key,
			Value: p.Value,
		})
	}
	m.items = pairs
}

// Range ranges over the map (in order). If f returns an error, it stops ranging
// and returns that error.
func (m *Map[K, V]) Range(f func(k K, v V) error) error {
	if m.IsZero() {
		return nil
	}
	for _, p := range m.items {
		if p.deleted {
			continue
		}
		if err := f(p.Key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON marshals the ordered map to JSON. It preserves the map order in
// the output.
func (m *Map[K, V]) MarshalJSON() ([]byte, error) {
	// NB: writes to b don't error, but JSON encoding could error.
	var b bytes.Buffer
	b.WriteRune('{')
	first := true
	err := m.Range(func(k K, v V) error {
		if !first {
			// Separating comma.
			b.WriteRune(',')
		}
		first = false
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b.Write(kb)
		b.WriteRune(':')
		b.Write(vb)
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.WriteRune('}')
	return b.Bytes(), nil
}

// UnmarshalJSON unmarshals a JSON object into the map, in document order. It
// only supports K = string. Following encoding/json convention, a JSON null
// is a no-op.
func (m *Map[K, V]) UnmarshalJSON(b []byte) error {
	om, ok := any(m).(*Map[string, V])
	if !ok {
		var zk K
		return fmt.Errorf("cannot unmarshal into ordered.Map with key type %T (want string)", zk)
	}

	if string(bytes.TrimSpace(b)) == "null" {
		return nil
	}

	dm, err := DecodeJSONObject[V](b)
	if err != nil {
		return err
	}
	*om = *dm
	return nil
}

// DecodeJSONObject strictly decodes data, which must hold exactly one JSON
// object, into a new Map. Key order follows the document; for duplicate keys
// the last value wins but the first position is kept. If data is valid JSON
// but not an object, the error wraps ErrNotObject.
func DecodeJSONObject[V any](data []byte) (*Map[string, V], error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, errUnexpectedEnd
	}
	if err != nil {
		return nil, err
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		// Consume the rest so that syntax errors take precedence over
		// the type mismatch (e.g. "[1,,2]").
		if err := drain(dec, tok); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("got %s: %w", describe(tok), ErrNotObject)
	}

	m := NewMap[string, V](4)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := kt.(string)
		if !ok {
			return nil, fmt.Errorf("object key %v is not a string", kt)
		}

		var v V
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decoding value for key %q: %w", key, err)
		}
		m.Set(key, v)
	}

	// Closing brace.
	if _, err := dec.Token(); err != nil {
		if err == io.EOF {
			return nil, errUnexpectedEnd
		}
		return nil, err
	}

	if err := expectEOF(dec); err != nil {
		return nil, err
	}
	return m, nil
}

// drain consumes the remainder of the value that started with tok, and
// checks there is nothing after it.
func drain(dec *json.Decoder, tok json.Token) error {
	if delim, ok := tok.(json.Delim); ok && delim == '[' {
		depth := 1
		for depth > 0 {
			t, err := dec.Token()
			if err != nil {
				return err
			}
			switch t {
			case json.Delim('['), json.Delim('{'):
				depth++
			case json.Delim(']'), json.Delim('}'):
				depth--
			}
		}
	}
	return expectEOF(dec)
}

func expectEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			return errors.New("invalid character after top-level value")
		}
		return err
	}
	return nil
}

func describe(tok json.Token) string {
	switch t := tok.(type) {
	case nil:
		return "null"
	case json.Delim:
		if t == '[' {
			return "array"
		}
		return fmt.Sprintf("delimiter %q", rune(t))
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}
