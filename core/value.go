// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindModel
	KindList
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindTime:   "time",
	KindModel:  "model",
	KindList:   "list",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Value is a single property value: a scalar, a nested model, or an ordered
// sequence of values. The zero Value is null.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	t     time.Time
	model Model
	list  []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a floating point number.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Time wraps a timestamp. Timestamps are normalized to UTC.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

// ModelValue wraps a nested model. A nil model is the null value.
func ModelValue(m Model) Value {
	if m == nil {
		return Null()
	}
	return Value{kind: KindModel, model: m}
}

// List wraps an ordered sequence of values.
func List(values ...Value) Value {
	items := make([]Value, len(values))
	copy(items, values)
	return Value{kind: KindList, list: items}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v and whether v is a boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer held by v and whether v is an integer.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float held by v and whether v is a float.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsString returns the string held by v and whether v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsTime returns the timestamp held by v and whether v is a timestamp.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// AsModel returns the nested model held by v and whether v is a model.
func (v Value) AsModel() (Model, bool) { return v.model, v.kind == KindModel }

// AsList returns a copy of the list elements.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	items := make([]Value, len(v.list))
	copy(items, v.list)
	return items, true
}

// Len returns the number of elements of a list value, and 0 for anything else.
func (v Value) Len() int {
	if v.kind != KindList {
		return 0
	}
	return len(v.list)
}

// Interface returns v as a plain Go value: nil, bool, int64, float64, string,
// time.Time, Model or []any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindTime:
		return v.t
	case KindModel:
		return v.model
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether v and other hold the same value. Integers and floats
// compare by numeric value; nested models compare by name, identity and
// properties.
func (v Value) Equal(other Value) bool {
	if v.isNumber() && other.isNumber() {
		if v.kind == KindInt && other.kind == KindInt {
			return v.i == other.i
		}
		return v.number() == other.number()
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindString:
		return v.s == other.s
	case KindTime:
		return v.t.Equal(other.t)
	case KindModel:
		return ModelsEqual(v.model, other.model)
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) isNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

func (v Value) number() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindModel:
		return fmt.Sprintf("%s{%s}", v.model.ModelName(), v.model.ID())
	case KindList:
		return fmt.Sprintf("%v", v.list)
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// FromAny converts a plain Go value into a Value. Nested maps are accepted
// when they carry a "@model" key naming the nested model; see FromMap.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case Model:
		return ModelValue(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, t)
		}
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, t)
		}
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q", ErrUnsupportedValue, t.String())
		}
		return Float(f), nil
	case string:
		return String(t), nil
	case time.Time:
		return Time(t), nil
	case []Value:
		return List(t...), nil
	case map[string]any:
		m, err := FromMap(t)
		if err != nil {
			return Value{}, err
		}
		return ModelValue(m), nil
	}

	rv := reflect.ValueOf(x)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]Value, rv.Len())
		for i := range items {
			item, err := FromAny(rv.Index(i).Interface())
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return Value{kind: KindList, list: items}, nil
	}
	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, x)
}
