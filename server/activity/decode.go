package activity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// DecodeError is returned when a payload cannot be turned into an entity.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decoding entity: %v", e.Err)
	}
	return fmt.Sprintf("decoding %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TypeMismatchError is returned when a payload declares a type other than the
// variant it is decoded into.
type TypeMismatchError struct {
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, got %q", e.Expected, e.Actual)
}

// Decode reconstructs the concrete variant named by the payload's type.
// Unregistered or missing types decode to *Unknown with a single warning.
func Decode(data []byte) (Object, error) {
	return decode(data, true)
}

// decode is Decode with the unknown type warning optional. Embedded objects
// are decoded quietly so a payload warns at most once.
func decode(data []byte, warn bool) (Object, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if raw == nil {
		return nil, &DecodeError{Err: fmt.Errorf("payload is null")}
	}

	types := typeNames(raw[TypeProperty])
	for _, typ := range types {
		ctor, ok := Lookup(typ)
		if !ok {
			continue
		}
		obj := ctor()
		if err := json.Unmarshal(data, obj); err != nil {
			return nil, &DecodeError{Type: typ, Err: err}
		}
		return obj, nil
	}

	unknown := &Unknown{}
	if err := unknown.UnmarshalJSON(data); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if warn {
		telemetry.Warn("unknown entity type %q for %s, keeping raw properties", strings.Join(types, ","), unknown.ID)
	}
	return unknown, nil
}

// DecodeAs decodes data and asserts the result is a T.
func DecodeAs[T any](data []byte) (T, error) {
	var zero T
	obj, err := Decode(data)
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, &DecodeError{Type: obj.Type(), Err: &TypeMismatchError{Expected: TypeName[T](), Actual: obj.Type()}}
	}
	return typed, nil
}

// Encode marshals obj for the wire with a top level @context.
// Actors also get the security context for their public key.
func Encode(obj Object) ([]byte, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	var ctx interface{} = Context
	if _, ok := obj.(Actor); ok {
		ctx = []string{Context, SecurityContext}
	}
	if _, ok := m[ContextProperty]; !ok {
		c, err := json.Marshal(ctx)
		if err != nil {
			return nil, err
		}
		m[ContextProperty] = c
	}
	return json.Marshal(m)
}

// marshalTyped encodes v and adds the type property. Null properties are dropped.
func marshalTyped(typ string, v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, val := range m {
		if bytes.Equal(val, []byte("null")) {
			delete(m, k)
		}
	}
	if typ != "" {
		t, err := json.Marshal(typ)
		if err != nil {
			return nil, err
		}
		m[TypeProperty] = t
	}
	return json.Marshal(m)
}

// unmarshalTyped decodes b into v after checking that any declared type matches typ.
func unmarshalTyped(b []byte, typ string, v interface{}) error {
	var probe struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if declared := typeNames(probe.Type); len(declared) > 0 {
		matched := false
		for _, d := range declared {
			if strings.EqualFold(d, typ) {
				matched = true
				break
			}
		}
		if !matched {
			return &TypeMismatchError{Expected: typ, Actual: strings.Join(declared, ",")}
		}
	}
	return json.Unmarshal(b, v)
}

// typeNames reads a type property that may be a string or an array of strings.
func typeNames(raw json.RawMessage) []string {
	items, err := oneOrMany(raw)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) == nil && s != "" {
			names = append(names, s)
		}
	}
	return names
}
