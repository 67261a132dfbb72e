package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Row is an ordered string-keyed record. Keys keep the order in which they
// were first set; setting an existing key replaces its value in place.
type Row struct {
	keys   []string
	values map[string]string
}

// NewRow builds a Row from alternating key/value pairs.
func NewRow(pairs ...string) Row {
	if len(pairs)%2 != 0 {
		panic("domain.NewRow: odd number of arguments")
	}
	var r Row
	for i := 0; i < len(pairs); i += 2 {
		r.Set(pairs[i], pairs[i+1])
	}
	return r
}

// Set stores value under key.
func (r *Row) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under key.
func (r Row) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (r Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r Row) Len() int { return len(r.keys) }

// Clone returns a deep copy that can be mutated independently.
func (r Row) Clone() Row {
	out := Row{
		keys:   make([]string, len(r.keys)),
		values: make(map[string]string, len(r.values)),
	}
	copy(out.keys, r.keys)
	for k, v := range r.values {
		out.values[k] = v
	}
	return out
}

// MarshalJSON encodes the row as a flat JSON object of strings in key order.
func (r Row) MarshalJSON() ([]byte, error) {
	return r.marshal(nil)
}

// marshal writes the object, rendering keys for which isNull reports true as
// JSON null instead of a string.
func (r Row) marshal(isNull func(key, value string) bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')

		v := r.values[k]
		if isNull != nil && isNull(k, v) {
			buf.WriteString("null")
			continue
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, preserving field order.
// Numbers and booleans keep their literal text; null fields are skipped.
func (r *Row) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("row: expected JSON object")
	}

	*r = Row{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("row: unexpected token %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("row: field %q: %w", key, err)
		}
		value, present, err := scalarText(raw)
		if err != nil {
			return fmt.Errorf("row: field %q: %w", key, err)
		}
		if present {
			r.Set(key, value)
		}
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// scalarText renders a JSON scalar as text. present is false for null.
func scalarText(raw json.RawMessage) (text string, present bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false, errors.New("empty value")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case '{', '[':
		return "", false, errors.New("nested values are not supported")
	case 'n':
		return "", false, nil
	default:
		return string(raw), true, nil
	}
}
