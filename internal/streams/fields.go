package streams

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-openapi/strfmt"
)

// fieldSet maps property names to the typed fields of one value.
type fieldSet struct {
	strings map[string]*string
	maps    map[string]*map[string]string
	refs    map[string]*Refs
	times   map[string]**time.Time
	ints    map[string]**int
	floats  map[string]**float64
}

func (fs fieldSet) has(name string) bool {
	if _, ok := fs.strings[name]; ok {
		return true
	}
	if _, ok := fs.maps[name]; ok {
		return true
	}
	if _, ok := fs.refs[name]; ok {
		return true
	}
	if _, ok := fs.times[name]; ok {
		return true
	}
	if _, ok := fs.ints[name]; ok {
		return true
	}
	_, ok := fs.floats[name]
	return ok
}

func (fs fieldSet) set(r *Registry, name string, v any) (bool, error) {
	if dst, ok := fs.strings[name]; ok {
		s, err := asString(name, v)
		if err == nil {
			*dst = s
		}
		return true, err
	}
	if dst, ok := fs.maps[name]; ok {
		m, err := asStringMap(name, v)
		if err == nil {
			*dst = m
		}
		return true, err
	}
	if dst, ok := fs.refs[name]; ok {
		refs, err := r.refs(v)
		if err == nil {
			*dst = refs
		}
		return true, err
	}
	if dst, ok := fs.times[name]; ok {
		t, err := asTime(name, v)
		if err == nil {
			*dst = t
		}
		return true, err
	}
	if dst, ok := fs.ints[name]; ok {
		n, err := asInt(name, v)
		if err == nil {
			*dst = n
		}
		return true, err
	}
	if dst, ok := fs.floats[name]; ok {
		f, err := asFloat(name, v)
		if err == nil {
			*dst = f
		}
		return true, err
	}
	return false, nil
}

// listProps always encode as JSON arrays, even with one member.
var listProps = map[string]bool{
	"to": true, "cc": true, "bto": true, "bcc": true, "audience": true,
	"attachment": true, "tag": true, "oneOf": true, "anyOf": true,
}

func (fs fieldSet) encode(m map[string]any) {
	for name, p := range fs.strings {
		if *p != "" {
			m[name] = *p
		}
	}
	for name, p := range fs.maps {
		if len(*p) > 0 {
			m[name] = *p
		}
	}
	for name, p := range fs.refs {
		if len(*p) == 0 {
			continue
		}
		if listProps[name] || len(*p) > 1 {
			m[name] = encodeRefList(*p)
		} else {
			m[name] = encodeRef((*p)[0])
		}
	}
	for name, p := range fs.times {
		if *p != nil {
			m[name] = FormatTime(**p)
		}
	}
	for name, p := range fs.ints {
		if *p != nil {
			m[name] = **p
		}
	}
	for name, p := range fs.floats {
		if *p != nil {
			m[name] = **p
		}
	}
}

// FormatTime renders a timestamp the way every document of this package does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func encodeRef(r Ref) any {
	if r.Value != nil {
		return Encode(r.Value)
	}
	return r.IRI
}

func encodeRefList(rs Refs) []any {
	out := make([]any, 0, len(rs))
	for _, r := range rs {
		out = append(out, encodeRef(r))
	}
	return out
}

// Encode renders a value as a JSON-ready map. Extension attributes never
// override typed properties.
func Encode(v Value) map[string]any {
	m := make(map[string]any)
	for k, val := range v.extra() {
		m[k] = val
	}
	v.fields().encode(m)
	if sp, ok := v.(specialProps); ok {
		sp.encodeSpecial(m)
	}
	m["type"] = v.TypeName()
	return m
}

// ContextURI is the JSON-LD context of every top-level document.
const ContextURI = "https://www.w3.org/ns/activitystreams"

// PublicAudience is the special collection addressing everyone.
const PublicAudience = "https://www.w3.org/ns/activitystreams#Public"

// Marshal renders a top-level document with its @context. Map keys are
// emitted in sorted order, so equal values always produce identical bytes.
func Marshal(v Value) ([]byte, error) {
	m := Encode(v)
	if _, ok := m["@context"]; !ok {
		m["@context"] = ContextURI
	}
	return json.Marshal(m)
}

func errType(name, want string) error {
	return fmt.Errorf("%s: expected %s", name, want)
}

func asString(name string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errType(name, "string")
	}
	return s, nil
}

func asStrings(name string, v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, errType(name, "list of strings")
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, errType(name, "string or list of strings")
}

func asStringMap(name string, v any) (map[string]string, error) {
	switch t := v.(type) {
	case map[string]string:
		return t, nil
	case map[string]any:
		out := make(map[string]string, len(t))
		for k, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, errType(name, "map of strings")
			}
			out[k] = s
		}
		return out, nil
	}
	return nil, errType(name, "map of strings")
}

func asTime(name string, v any) (*time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return &t, nil
	case string:
		dt, err := strfmt.ParseDateTime(t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		parsed := time.Time(dt)
		return &parsed, nil
	}
	return nil, errType(name, "datetime")
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asInt(name string, v any) (*int, error) {
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		return nil, errType(name, "integer")
	}
	n := int(f)
	return &n, nil
}

func asFloat(name string, v any) (*float64, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, errType(name, "number")
	}
	return &f, nil
}
