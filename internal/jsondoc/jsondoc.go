// Package jsondoc holds JSON values whose objects remember key order.
//
// Values are one of: nil, bool, json.Number, string, []any, *Object.
package jsondoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
)

var ErrInvalidJSON = errors.New("invalid JSON")

// Object is a JSON object that keeps insertion order of its keys.
type Object struct {
	keys   []string
	values map[string]any
}

func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// ObjectOf builds an object from alternating key/value pairs.
func ObjectOf(pairs ...any) *Object {
	o := NewObject()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		o.Set(key, Normalize(pairs[i+1]))
	}
	return o
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

func (o *Object) Has(key string) bool {
	if o == nil {
		return false
	}
	_, ok := o.values[key]
	return ok
}

func (o *Object) Get(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Set stores value under key. A new key goes last; an existing key keeps its position.
func (o *Object) Set(key string, value any) {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *Object) Delete(key string) {
	if o == nil {
		return
	}
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a shallow copy.
func (o *Object) Clone() *Object {
	out := NewObject()
	if o == nil {
		return out
	}
	for _, k := range o.keys {
		out.Set(k, o.values[k])
	}
	return out
}

// Merge returns a shallow copy of o with every field of patch written over it.
func (o *Object) Merge(patch *Object) *Object {
	out := o.Clone()
	if patch == nil {
		return out
	}
	for _, k := range patch.keys {
		out.Set(k, patch.values[k])
	}
	return out
}

// Equal compares two objects field by field, ignoring key order.
func (o *Object) Equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}
	if o == nil || other == nil {
		return true
	}
	for _, k := range o.keys {
		theirs, ok := other.values[k]
		if !ok || !Equal(o.values[k], theirs) {
			return false
		}
	}
	return true
}

func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (o *Object) UnmarshalJSON(data []byte) error {
	value, err := Parse(data)
	if err != nil {
		return err
	}
	parsed, ok := value.(*Object)
	if !ok {
		return fmt.Errorf("%w: expected object", ErrInvalidJSON)
	}
	*o = *parsed
	return nil
}

// Parse decodes data keeping object key order.
func Parse(data []byte) (any, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	return fromResult(gjson.ParseBytes(data)), nil
}

func fromResult(r gjson.Result) any {
	switch {
	case r.IsObject():
		o := NewObject()
		r.ForEach(func(key, value gjson.Result) bool {
			o.Set(key.String(), fromResult(value))
			return true
		})
		return o
	case r.IsArray():
		items := make([]any, 0)
		r.ForEach(func(_, value gjson.Result) bool {
			items = append(items, fromResult(value))
			return true
		})
		return items
	}
	switch r.Type {
	case gjson.String:
		return r.String()
	case gjson.Number:
		return json.Number(r.Raw)
	case gjson.True:
		return true
	case gjson.False:
		return false
	default:
		return nil
	}
}

// Marshal encodes v compactly.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalIndent encodes v the way the document file is written.
func MarshalIndent(v any, indent string) ([]byte, error) {
	compact, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", indent); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch value := v.(type) {
	case nil:
		buf.WriteString("null")
	case *Object:
		if value == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		for i, k := range value.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeScalar(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeValue(buf, value.values[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		if !gjson.Valid(string(value)) {
			return fmt.Errorf("%w: bad number %q", ErrInvalidJSON, string(value))
		}
		buf.WriteString(string(value))
	default:
		return writeScalar(buf, value)
	}
	return nil
}

// writeScalar encodes v without HTML escaping so "<" and "&" survive as typed.
func writeScalar(buf *bytes.Buffer, v any) error {
	var encoded bytes.Buffer
	enc := json.NewEncoder(&encoded)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	buf.Write(bytes.TrimSuffix(encoded.Bytes(), []byte("\n")))
	return nil
}

// Normalize converts values produced by encoding/json or Go literals into jsondoc values.
// Plain maps get their keys sorted since they carry no order.
func Normalize(v any) any {
	switch value := v.(type) {
	case *Object, nil, bool, string, json.Number:
		return value
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		o := NewObject()
		for _, k := range keys {
			o.Set(k, Normalize(value[k]))
		}
		return o
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = Normalize(item)
		}
		return out
	case []*Object:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = item
		}
		return out
	case []string:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = item
		}
		return out
	case int:
		return json.Number(fmt.Sprint(value))
	case int64:
		return json.Number(fmt.Sprint(value))
	case float64:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		return json.Number(encoded)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		parsed, err := Parse(encoded)
		if err != nil {
			return nil
		}
		return parsed
	}
}

// DeepCopy copies objects and arrays recursively; scalars are shared.
func DeepCopy(v any) any {
	switch value := v.(type) {
	case *Object:
		if value == nil {
			return value
		}
		out := NewObject()
		for _, k := range value.keys {
			out.Set(k, DeepCopy(value.values[k]))
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = DeepCopy(item)
		}
		return out
	default:
		return value
	}
}

// Equal reports JSON equality of two values. Numbers compare by their literal
// first, then numerically.
func Equal(a, b any) bool {
	switch left := a.(type) {
	case *Object:
		right, ok := b.(*Object)
		return ok && left.Equal(right)
	case []any:
		right, ok := b.([]any)
		if !ok || len(left) != len(right) {
			return false
		}
		for i := range left {
			if !Equal(left[i], right[i]) {
				return false
			}
		}
		return true
	case json.Number:
		right, ok := b.(json.Number)
		if !ok {
			return false
		}
		if left == right {
			return true
		}
		lf, lerr := left.Float64()
		rf, rerr := right.Float64()
		return lerr == nil && rerr == nil && lf == rf
	default:
		return a == b
	}
}

// Truthy mirrors how the editor decides whether an identifier is present.
func Truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case json.Number:
		f, err := value.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}
