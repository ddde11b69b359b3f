package storage

import (
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"
)

// Reserved names exposed to statement conditions alongside document fields.
const (
	IdentityField = "id"
	RIDField      = "_rid"
	ClassField    = "_class"
)

// Document is the store-native representation of a record: a class name,
// a store-assigned identity, and a set of fields.
//
// Field values are nil, bool, int64, float64, string, time.Time, *Document
// (an embedded document) or []any holding the same types.
type Document struct {
	// Class names the model the document was written for.
	Class string

	// Identity is assigned by the store on first save. An embedded
	// document carries the identity of the model it was built from, if any.
	Identity string

	fields map[string]any
}

// NewDocument creates an empty document of the given class.
func NewDocument(class string) *Document {
	return &Document{
		Class:  class,
		fields: make(map[string]any),
	}
}

// Collection returns the name of the collection holding documents of this class.
func (d *Document) Collection() string {
	return CollectionName(d.Class)
}

// CollectionName returns the collection that documents of class live in.
func CollectionName(class string) string {
	return strings.ToLower(class)
}

// Field returns the named field.
func (d *Document) Field(name string) (any, bool) {
	v, ok := d.fields[name]
	return v, ok
}

// SetField sets the named field. The value should already be in normalized
// form; see Normalize.
func (d *Document) SetField(name string, value any) {
	if d.fields == nil {
		d.fields = make(map[string]any)
	}
	d.fields[name] = value
}

// DeleteField removes the named field.
func (d *Document) DeleteField(name string) {
	delete(d.fields, name)
}

// FieldNames returns field names in sorted order.
func (d *Document) FieldNames() []string {
	return slices.Sorted(maps.Keys(d.fields))
}

// Len returns the number of fields.
func (d *Document) Len() int {
	return len(d.fields)
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := &Document{
		Class:    d.Class,
		Identity: d.Identity,
		fields:   make(map[string]any, len(d.fields)),
	}
	for name, v := range d.fields {
		out.fields[name] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *Document:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Env returns a map view of the document used to evaluate statement
// conditions. Embedded documents become nested maps. The identity is
// exposed as IdentityField and RIDField, the class as ClassField.
func (d *Document) Env() map[string]any {
	env := make(map[string]any, len(d.fields)+3)
	for name, v := range d.fields {
		env[name] = envValue(v)
	}
	env[ClassField] = d.Class
	if d.Identity != "" {
		env[IdentityField] = d.Identity
		env[RIDField] = d.Identity
	}
	return env
}

func envValue(v any) any {
	switch t := v.(type) {
	case *Document:
		return t.Env()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = envValue(item)
		}
		return out
	default:
		return v
	}
}

// Normalize converts a Go value to the field representation documents
// hold: integers widen to int64, floats to float64, times to UTC, and
// slices to []any.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, int64, float64, string:
		return v, nil
	case *Document:
		if t == nil {
			return nil, nil
		}
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrSerializationFailed, t)
		}
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrSerializationFailed, t)
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	case time.Time:
		return t.UTC(), nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			n, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported field type %T", ErrSerializationFailed, v)
}
