package activity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Reference points at an entity that is either known only by its URI (a link)
// or fully materialized. The two states are exclusive: holding an object means
// the reference is resolved and its link is the object's own id.
//
// T is an Object variant or interface. It is not constrained to Object since
// ObjectBase itself holds references.
type Reference[T any] struct {
	link   string
	object T
}

// NewLink returns an unresolved reference to uri.
func NewLink[T any](uri string) Reference[T] {
	return Reference[T]{link: uri}
}

// NewReference returns a resolved reference to obj.
func NewReference[T any](obj T) Reference[T] {
	var r Reference[T]
	r.SetObject(obj)
	return r
}

// IsLink reports whether the reference holds no concrete object.
func (r Reference[T]) IsLink() bool {
	return asObject(r.object) == nil
}

// IsEmpty reports whether the reference points nowhere at all.
func (r Reference[T]) IsEmpty() bool {
	return r.IsLink() && r.link == ""
}

// Link returns the object's id when resolved, otherwise the stored link.
func (r Reference[T]) Link() string {
	if !r.IsLink() {
		return asObject(r.object).Base().ID
	}
	return r.link
}

// Object returns the held object, or the zero value when unresolved.
func (r Reference[T]) Object() T {
	return r.object
}

// SetObject stores obj. A nil obj leaves the reference unresolved.
func (r *Reference[T]) SetObject(obj T) *Reference[T] {
	if asObject(obj) == nil {
		var zero T
		obj = zero
	}
	r.object = obj
	return r
}

// SetLink replaces the reference with an unresolved link, dropping any held object.
func (r *Reference[T]) SetLink(uri string) *Reference[T] {
	var zero T
	r.link = uri
	r.object = zero
	return r
}

func (r Reference[T]) String() string {
	if r.IsLink() {
		return fmt.Sprintf("link(%s)", r.link)
	}
	return fmt.Sprintf("%s(%s)", asObject(r.object).Type(), r.Link())
}

func (r Reference[T]) MarshalJSON() ([]byte, error) {
	if !r.IsLink() {
		return json.Marshal(r.object)
	}
	if r.link == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.link)
}

// UnmarshalJSON accepts a bare URI or an embedded object. Embedded objects are
// decoded through the type registry. An embedded object of an unexpected
// variant degrades to a link when it carries an id.
func (r *Reference[T]) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		r.SetLink("")
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		r.SetLink(s)
		return nil
	case '{':
		obj, err := decode(trimmed, false)
		if err != nil {
			return err
		}
		if typed, ok := obj.(T); ok {
			r.SetObject(typed)
			return nil
		}
		if id := ID(obj); id != "" {
			r.SetLink(id)
			return nil
		}
		return &TypeMismatchError{Expected: TypeName[T](), Actual: obj.Type()}
	default:
		return fmt.Errorf("cannot use %s as an object reference", string(trimmed))
	}
}

// References is a list of references that also accepts a single value on the wire.
type References[T any] []Reference[T]

func (refs *References[T]) UnmarshalJSON(b []byte) error {
	items, err := oneOrMany(b)
	if err != nil {
		return err
	}
	out := make(References[T], 0, len(items))
	for _, item := range items {
		var ref Reference[T]
		if err := ref.UnmarshalJSON(item); err != nil {
			return err
		}
		if !ref.IsEmpty() {
			out = append(out, ref)
		}
	}
	*refs = out
	return nil
}

// Links returns the link of every reference.
func (refs References[T]) Links() []string {
	links := make([]string, 0, len(refs))
	for _, ref := range refs {
		links = append(links, ref.Link())
	}
	return links
}

// asObject returns v as an Object, or nil when v is not one or holds a nil pointer.
func asObject(v any) Object {
	obj, ok := v.(Object)
	if !ok || isNil(obj) {
		return nil
	}
	return obj
}

// oneOrMany splits a JSON value that may be a single item or an array of items.
func oneOrMany(b []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// TypeName names the Go type T, for error messages.
func TypeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
