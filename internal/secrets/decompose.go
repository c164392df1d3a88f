package secrets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dopplerhq/secrets-fetch-action/internal/ordered"
	"github.com/dopplerhq/secrets-fetch-action/logger"
	"github.com/gowebpki/jcs"
)

// DecodeError is returned by Decompose when a secret's value is not a JSON
// object.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("secret %q does not hold a JSON object: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Entry is one output produced by decomposition.
type Entry struct {
	OutputKey string
	Value     string
}

// Decompose parses jsonText, which must be a single JSON object, and returns
// its fields in document order with their values left as raw JSON. Fields
// whose names fail IsValidKey are dropped with a warning naming the field and
// source, the name of the secret jsonText came from.
func Decompose(l logger.Logger, jsonText, source string) (*ordered.MapSR, error) {
	fields, err := ordered.DecodeJSONObject[json.RawMessage]([]byte(jsonText))
	if err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}

	for _, key := range fields.Keys() {
		if IsValidKey(key) {
			continue
		}
		l.Warn("Skipping key %q from secret %q: not a valid output name", key, source)
		fields.Delete(key)
	}
	return fields, nil
}

// Flatten turns decomposed fields into entries, prefixing each key and
// converting each value with Stringify.
func Flatten(fields *ordered.MapSR, prefix string) []Entry {
	entries := make([]Entry, 0, fields.Len())
	fields.Range(func(k string, v json.RawMessage) error {
		entries = append(entries, Entry{
			OutputKey: prefix + k,
			Value:     Stringify(v),
		})
		return nil
	})
	return entries
}

// Stringify returns the output value for a raw JSON value. A string becomes
// its decoded text; everything else becomes compact JSON text with object
// keys in document order and numbers in their shortest form (RFC 8785), so
// 5432 is "5432", 1.50 is "1.5" and {"b": 1, "a": 2} is `{"b":1,"a":2}`.
func Stringify(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	} else {
		var b bytes.Buffer
		if err := writeJSON(&b, raw); err == nil {
			return b.String()
		}
	}

	// Not decodable as sent. Fall back to the compact form of the input.
	var b bytes.Buffer
	if err := json.Compact(&b, raw); err != nil {
		return string(raw)
	}
	return b.String()
}

func writeJSON(b *bytes.Buffer, raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return errors.New("empty JSON value")
	}

	switch raw[0] {
	case '{':
		fields, err := ordered.DecodeJSONObject[json.RawMessage](raw)
		if err != nil {
			return err
		}
		b.WriteByte('{')
		first := true
		err = fields.Range(func(k string, v json.RawMessage) error {
			if !first {
				b.WriteByte(',')
			}
			first = false
			if err := writeString(b, k); err != nil {
				return err
			}
			b.WriteByte(':')
			return writeJSON(b, v)
		})
		if err != nil {
			return err
		}
		b.WriteByte('}')
		return nil

	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		b.WriteByte('[')
		for i, item := range items {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeJSON(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil

	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		return writeString(b, s)

	case 'n', 't', 'f':
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		b.Write(raw)
		return nil

	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return json.Compact(b, raw)
		}
		n, err := jcs.NumberToJSON(f)
		if err != nil {
			return json.Compact(b, raw)
		}
		b.WriteString(n)
		return nil
	}
}

// writeString writes s as a JSON string without HTML escaping.
func writeString(b *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	b.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
