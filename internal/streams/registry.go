package streams

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports an attribute value rejected by a validator.
type ValidationError struct {
	Attr   string
	Owner  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("streams: invalid %s on %s: %s", e.Attr, e.Owner, e.Reason)
	}
	return fmt.Sprintf("streams: invalid %s on %s", e.Attr, e.Owner)
}

// Registry resolves type names and validates attributes. Build one at
// startup and share it; it is safe for concurrent use once constructed.
type Registry struct {
	kinds       map[string]Kind
	table       map[string]Validator
	conventions []convention
	strict      bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithStrict rejects attributes that have neither a typed field, a
// validator nor a naming convention. The default accepts them.
func WithStrict(strict bool) Option {
	return func(r *Registry) { r.strict = strict }
}

// WithValidator registers or replaces the validator of one attribute.
func WithValidator(attr string, v Validator) Option {
	return func(r *Registry) { r.table[attr] = v }
}

// NewRegistry builds the vocabulary and validator tables.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{kinds: buildKinds()}
	r.table = r.validators(validator.New())
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strict reports whether unknown attributes are rejected.
func (r *Registry) Strict() bool { return r.strict }

// Resolve maps a type name to its vocabulary kind.
func (r *Registry) Resolve(name string) (Kind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return Kind{}, &ResolutionError{Name: name}
	}
	return k, nil
}

// New constructs an empty value of the named type.
func (r *Registry) New(name string) (Value, error) {
	k, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return newValue(k), nil
}

// Validate reports whether value is acceptable for attr on a value of type
// owner. Attributes without a validator or convention pass unless the
// registry is strict and owner declares no such property.
func (r *Registry) Validate(attr string, value any, owner string) bool {
	if v, ok := r.table[attr]; ok {
		return v(value)
	}
	for _, c := range r.conventions {
		if strings.HasSuffix(attr, c.suffix) && len(attr) > len(c.suffix) {
			return c.validate(value)
		}
	}
	if !r.strict {
		return true
	}
	k, err := r.Resolve(owner)
	if err != nil {
		return false
	}
	return declares(newValue(k), attr)
}

func declares(v Value, attr string) bool {
	if v.fields().has(attr) {
		return true
	}
	switch v.(type) {
	case *Link:
		return attr == "rel"
	case *Actor:
		return attr == "publicKey"
	case *Collection, *CollectionPage:
		return attr == "items" || attr == "orderedItems"
	case *Question:
		return attr == "closed"
	}
	return false
}

// Set validates and stores one attribute on v.
func (r *Registry) Set(v Value, attr string, value any) error {
	if attr == "type" || attr == "@context" {
		return nil
	}
	if !r.Validate(attr, value, v.TypeName()) {
		return &ValidationError{Attr: attr, Owner: v.TypeName()}
	}
	if sp, ok := v.(specialProps); ok {
		handled, err := sp.setSpecial(r, attr, value)
		if handled {
			return wrapSetErr(err, attr, v)
		}
	}
	handled, err := v.fields().set(r, attr, value)
	if handled {
		return wrapSetErr(err, attr, v)
	}
	v.extra()[attr] = value
	return nil
}

func wrapSetErr(err error, attr string, v Value) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*ValidationError); ok {
		return err
	}
	if _, ok := err.(*ResolutionError); ok {
		return err
	}
	return &ValidationError{Attr: attr, Owner: v.TypeName(), Reason: err.Error()}
}

// Check enforces the structural rules of collections.
func (r *Registry) Check(v Value) error {
	switch c := v.(type) {
	case *Collection:
		if !c.ItemsSet {
			return &ValidationError{Attr: itemsProp(c.Ordered), Owner: c.Type, Reason: "missing"}
		}
	case *CollectionPage:
		if !c.ItemsSet {
			return &ValidationError{Attr: itemsProp(c.Ordered), Owner: c.Type, Reason: "missing"}
		}
		if len(c.PartOf) == 0 {
			return &ValidationError{Attr: "partOf", Owner: c.Type, Reason: "missing"}
		}
	}
	return nil
}

func itemsProp(ordered bool) string {
	if ordered {
		return "orderedItems"
	}
	return "items"
}

// Decode resolves a decoded JSON object into a typed value.
func (r *Registry) Decode(m map[string]any) (Value, error) {
	name, err := typeName(m["type"])
	if err != nil {
		return nil, err
	}
	v, err := r.New(name)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := r.Set(v, k, m[k]); err != nil {
			return nil, err
		}
	}
	if err := r.Check(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Unmarshal decodes a JSON document into a typed value.
func (r *Registry) Unmarshal(data []byte) (Value, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding activity streams document: %w", err)
	}
	return r.Decode(m)
}

func typeName(t any) (string, error) {
	switch v := t.(type) {
	case string:
		return v, nil
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				return s, nil
			}
		}
	}
	return "", &ResolutionError{Name: fmt.Sprint(t)}
}

func (r *Registry) refs(v any) (Refs, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case Ref:
		return Refs{t}, nil
	case Refs:
		return t, nil
	case string:
		return Refs{IRI(t)}, nil
	case map[string]any:
		ref, err := r.ref(t)
		if err != nil {
			return nil, err
		}
		return Refs{ref}, nil
	case []any:
		out := make(Refs, 0, len(t))
		for _, e := range t {
			sub, err := r.refs(e)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported reference %T", v)
}

func (r *Registry) ref(m map[string]any) (Ref, error) {
	if _, ok := m["type"]; ok {
		v, err := r.Decode(m)
		if err != nil {
			return Ref{}, err
		}
		return Embed(v), nil
	}
	if href, ok := m["href"].(string); ok {
		l := &Link{Type: "Link", Href: href}
		for k, val := range m {
			if k == "href" {
				continue
			}
			if err := r.Set(l, k, val); err != nil {
				return Ref{}, err
			}
		}
		return Embed(l), nil
	}
	if id, ok := m["id"].(string); ok {
		return IRI(id), nil
	}
	if u, ok := m["url"].(string); ok {
		return IRI(u), nil
	}
	if name, ok := m["name"].(string); ok {
		return Embed(&Object{Type: "Object", Name: name}), nil
	}
	return Ref{}, fmt.Errorf("reference has no type, href, id or name")
}
