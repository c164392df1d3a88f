// Package redact keeps the set of values that must never appear in the step's
// log output, and provides a streaming writer that replaces them.
package redact

import (
	"bytes"
	"io"
	"slices"
	"strings"
	"sync"
)

// Redacted is written in place of every registered value.
const Redacted = "[REDACTED]"

// Registry is an append-only set of sensitive values. It is safe for
// concurrent use, although the pipeline only ever touches it from one
// goroutine.
type Registry struct {
	mu     sync.RWMutex
	seen   map[string]struct{}
	values []string

	// needles is values sorted longest first, rebuilt on Add.
	needles [][]byte
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[string]struct{})}
}

// Add registers every Variants form of each value for redaction. It returns
// the number of new entries.
func (r *Registry) Add(values ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, v := range values {
		for _, c := range Variants(v) {
			if _, ok := r.seen[c]; ok {
				continue
			}
			r.seen[c] = struct{}{}
			r.values = append(r.values, c)
			added++
		}
	}

	if added > 0 {
		r.rebuild()
	}
	return added
}

// Variants returns the forms of v that need hiding: v itself and, for a
// multi-line value, each non-empty line. It returns nil for an empty value.
func Variants(v string) []string {
	if v == "" {
		return nil
	}
	out := []string{v}
	if !strings.ContainsAny(v, "\r\n") {
		return out
	}
	for line := range strings.Lines(v) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" || slices.Contains(out, line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func (r *Registry) rebuild() {
	r.needles = make([][]byte, 0, len(r.values))
	for _, v := range r.values {
		r.needles = append(r.needles, []byte(v))
	}
	slices.SortStableFunc(r.needles, func(a, b []byte) int {
		return len(b) - len(a)
	})
}

// Contains reports whether v has been registered.
func (r *Registry) Contains(v string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.seen[v]
	return ok
}

// Len returns the number of registered values.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

// Values returns the registered values in registration order.
func (r *Registry) Values() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.values)
}

// String redacts every registered value in s.
func (r *Registry) String(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, _ := redact(nil, []byte(s), r.needles, true)
	return string(out)
}

// Writer returns a Writer forwarding to dst with the registry's values
// redacted. Values registered after the Writer is created are honoured by
// subsequent writes.
func (r *Registry) Writer(dst io.Writer) *Writer {
	return &Writer{reg: r, dst: dst}
}

// Writer redacts registered values from a stream. Because a value may be split
// across writes, a short tail that could still turn into a match is held back
// until more data arrives or Flush is called.
type Writer struct {
	reg *Registry
	dst io.Writer

	mu  sync.Mutex
	buf []byte
}

// Write buffers b, and forwards everything that can no longer be part of a
// registered value.
func (w *Writer) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, b...)
	if err := w.forward(false); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Flush forwards anything still held back.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.forward(true)
}

func (w *Writer) forward(final bool) error {
	w.reg.mu.RLock()
	out, consumed := redact(nil, w.buf, w.reg.needles, final)
	w.reg.mu.RUnlock()

	w.buf = append(w.buf[:0], w.buf[consumed:]...)
	if len(out) == 0 {
		return nil
	}
	_, err := w.dst.Write(out)
	return err
}

// redact appends the redacted form of src to dst, stopping early (unless
// final) at the first position where the remaining input is a prefix of some
// needle. It returns the output and how many bytes of src were consumed.
// needles must be sorted longest first, so the first full match is the
// longest.
func redact(dst, src []byte, needles [][]byte, final bool) ([]byte, int) {
	i := 0
outer:
	for i < len(src) {
		rest := src[i:]
		if !final {
			for _, n := range needles {
				if len(n) >= len(rest) && bytes.HasPrefix(n, rest) {
					break outer
				}
			}
		}
		for _, n := range needles {
			if bytes.HasPrefix(rest, n) {
				dst = append(dst, Redacted...)
				i += len(n)
				continue outer
			}
		}
		dst = append(dst, src[i])
		i++
	}
	return dst, i
}
