package actions

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// escapeData escapes a workflow command's message.
func escapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	s = strings.ReplaceAll(s, "\n", "%0A")
	return s
}

// escapeProperty escapes a workflow command property value.
func escapeProperty(s string) string {
	s = escapeData(s)
	s = strings.ReplaceAll(s, ":", "%3A")
	s = strings.ReplaceAll(s, ",", "%2C")
	return s
}

// issueCommand writes a single workflow command line, for example
// "::add-mask::value" or "::set-output name=KEY::value".
func issueCommand(w io.Writer, name string, props map[string]string, msg string) error {
	var b strings.Builder
	b.WriteString("::")
	b.WriteString(name)
	first := true
	for _, k := range slices.Sorted(maps.Keys(props)) {
		v := props[k]
		if v == "" {
			continue
		}
		if first {
			b.WriteByte(' ')
			first = false
		} else {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%s", k, escapeProperty(v))
	}
	b.WriteString("::")
	b.WriteString(escapeData(msg))
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

// DelimiterError is returned when a key or value cannot be written to a
// file command because it contains the heredoc delimiter.
type DelimiterError struct {
	Field     string
	Delimiter string
}

func (e *DelimiterError) Error() string {
	return fmt.Sprintf("unexpected input: %s should not contain the delimiter %q", e.Field, e.Delimiter)
}

// keyValueMessage formats key and value as a heredoc for GITHUB_OUTPUT or
// GITHUB_ENV.
func keyValueMessage(key, value, delimiter string) (string, error) {
	if strings.Contains(key, delimiter) {
		return "", &DelimiterError{Field: "name", Delimiter: delimiter}
	}
	if strings.Contains(value, delimiter) {
		return "", &DelimiterError{Field: "value", Delimiter: delimiter}
	}
	return key + "<<" + delimiter + "\n" + value + "\n" + delimiter + "\n", nil
}

func newDelimiter() string {
	return "ghadelimiter_" + uuid.NewString()
}

// appendFileCommand appends msg to the command file at path, holding an
// exclusive lock on a sibling lock file while doing so.
func appendFileCommand(path, msg string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("missing file at path %q: %w", path, err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking %q: %w", path, err)
	}
	defer lock.Unlock() //nolint:errcheck // Best-effort unlock; the process exits soon after.

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening %q: %w", path, err)
	}
	if _, err := io.WriteString(f, msg); err != nil {
		f.Close() //nolint:errcheck // The write error is more interesting.
		return fmt.Errorf("writing to %q: %w", path, err)
	}
	return f.Close()
}
