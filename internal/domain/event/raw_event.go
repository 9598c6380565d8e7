package event

import (
	"encoding/json"
	"strings"
)

// RawEvent is an unvalidated record as received from a source adapter, one
// JSON object per queue line. Field meanings are source-specific; the record
// is owned by the adapter that created it and is never mutated here.
type RawEvent struct {
	Fields map[string]json.RawMessage
}

func (e *RawEvent) UnmarshalJSON(b []byte) error {
	m := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	e.Fields = m
	return nil
}

func (e RawEvent) MarshalJSON() ([]byte, error) {
	if e.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Fields)
}

// Has reports whether the field is present, regardless of type.
func (e RawEvent) Has(key string) bool {
	_, ok := e.Fields[key]
	return ok
}

// Str returns the field as a string. Non-string scalars are rendered as
// their JSON text; objects, arrays and null return "".
func (e RawEvent) Str(key string) string {
	return rawString(e.Fields, key)
}

// Strings returns the field as a string slice, tolerating a scalar value.
func (e RawEvent) Strings(key string) []string {
	return rawStrings(e.Fields, key)
}

// Obj returns a nested JSON object field, or nil.
func (e RawEvent) Obj(key string) map[string]json.RawMessage {
	return rawObject(e.Fields, key)
}

// Source returns the trimmed lowercase source tag ("sec", "pr", ...).
func (e RawEvent) Source() string {
	s := e.Str("source")
	if s == "" {
		s = e.Str("source_name")
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func rawString(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	t := strings.TrimSpace(string(raw))
	if t == "" || t == "null" || strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		return ""
	}
	return t
}

func rawStrings(m map[string]json.RawMessage, key string) []string {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	if s := rawString(m, key); s != "" {
		return []string{s}
	}
	return nil
}

func rawObject(m map[string]json.RawMessage, key string) map[string]json.RawMessage {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}
