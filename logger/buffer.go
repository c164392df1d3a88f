package logger

import (
	"fmt"
	"sync"
)

// Buffer is a Logger implementation intended for testing;
// messages are stored internally.
type Buffer struct {
	mu       *sync.Mutex
	fields   Fields
	Messages *[]string
}

// NewBuffer creates a new Buffer with Messages slice initialized.
// This makes it simpler to assert empty []string when no log messages
// have been sent; otherwise Messages would be nil.
func NewBuffer() *Buffer {
	msgs := make([]string, 0)
	return &Buffer{
		mu:       &sync.Mutex{},
		Messages: &msgs,
	}
}

func (b *Buffer) append(prefix, format string, v ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg := prefix + fmt.Sprintf(format, v...)
	for _, f := range b.fields {
		msg += fmt.Sprintf(" %s=%s", f.Key(), f.String())
	}
	*b.Messages = append(*b.Messages, msg)
}

func (b *Buffer) Debug(format string, v ...any)  { b.append("[debug] ", format, v...) }
func (b *Buffer) Error(format string, v ...any)  { b.append("[error] ", format, v...) }
func (b *Buffer) Fatal(format string, v ...any)  { b.append("[fatal] ", format, v...) }
func (b *Buffer) Notice(format string, v ...any) { b.append("[notice] ", format, v...) }
func (b *Buffer) Warn(format string, v ...any)   { b.append("[warn] ", format, v...) }
func (b *Buffer) Info(format string, v ...any)   { b.append("[info] ", format, v...) }

// WithFields returns a Buffer sharing the same message log, whose messages
// carry the given fields.
func (b *Buffer) WithFields(fields ...Field) Logger {
	return &Buffer{
		mu:       b.mu,
		fields:   append(append(Fields{}, b.fields...), fields...),
		Messages: b.Messages,
	}
}

func (b *Buffer) SetLevel(level Level) {}

func (b *Buffer) Level() Level {
	return DEBUG
}

// Lines returns a copy of the messages logged so far.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), *b.Messages...)
}
