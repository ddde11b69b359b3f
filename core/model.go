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
	"fmt"
	"maps"
	"slices"
)

// IDProperty is the reserved property name carrying a model's identity.
const IDProperty = "id"

// Map keys used by ToMap and FromMap for the model name and identity.
const (
	ModelKey = "@model"
	IDKey    = "@id"
)

// Model is the capability shared by every persistable record: a logical
// model name, an opaque store-assigned identity, and an open set of named
// properties.
type Model interface {
	// ModelName returns the logical model name. An empty name marks an
	// untyped record.
	ModelName() string

	// ID returns the store-assigned identity, or "" if the model was never saved.
	ID() string

	// SetID records the store-assigned identity.
	SetID(id string)

	// Property returns the named property.
	Property(name string) (Value, bool)

	// SetProperty sets the named property. Setting IDProperty to a string
	// value sets the identity instead.
	SetProperty(name string, value Value)

	// DeleteProperty removes the named property.
	DeleteProperty(name string)

	// Properties returns a copy of all properties.
	Properties() map[string]Value

	// PropertyNames returns the property names in sorted order.
	PropertyNames() []string
}

// Bag is the generic, schema-less Model. Concrete model types embed *Bag.
// A Bag is not safe for concurrent mutation.
type Bag struct {
	name  string
	id    string
	props map[string]Value
}

var _ Model = (*Bag)(nil)

// NewBag creates an empty, unsaved bag for the named model.
func NewBag(modelName string) *Bag {
	return &Bag{
		name:  modelName,
		props: make(map[string]Value),
	}
}

// NewBagWith creates an unsaved bag populated with props.
func NewBagWith(modelName string, props map[string]Value) *Bag {
	b := NewBag(modelName)
	for name, value := range props {
		b.SetProperty(name, value)
	}
	return b
}

func (b *Bag) ModelName() string { return b.name }

func (b *Bag) ID() string { return b.id }

func (b *Bag) SetID(id string) { b.id = id }

func (b *Bag) Property(name string) (Value, bool) {
	if name == IDProperty {
		if b.id == "" {
			return Null(), false
		}
		return String(b.id), true
	}
	v, ok := b.props[name]
	return v, ok
}

func (b *Bag) SetProperty(name string, value Value) {
	if name == IDProperty {
		if s, ok := value.AsString(); ok {
			b.id = s
		}
		return
	}
	if b.props == nil {
		b.props = make(map[string]Value)
	}
	b.props[name] = value
}

func (b *Bag) DeleteProperty(name string) {
	delete(b.props, name)
}

func (b *Bag) Properties() map[string]Value {
	return maps.Clone(b.props)
}

func (b *Bag) PropertyNames() []string {
	return slices.Sorted(maps.Keys(b.props))
}

// ModelsEqual reports whether two models have the same name, identity and
// properties.
func ModelsEqual(a, b Model) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.ModelName() != b.ModelName() || a.ID() != b.ID() {
		return false
	}
	pa, pb := a.Properties(), b.Properties()
	if len(pa) != len(pb) {
		return false
	}
	for name, va := range pa {
		vb, ok := pb[name]
		if !ok || !va.Equal(vb) {
			return false
		}
	}
	return true
}

// ToMap renders a model as a plain map suitable for JSON encoding. The model
// name and identity are emitted under ModelKey and IDKey when set.
func ToMap(m Model) map[string]any {
	out := make(map[string]any, len(m.PropertyNames())+2)
	if name := m.ModelName(); name != "" {
		out[ModelKey] = name
	}
	if id := m.ID(); id != "" {
		out[IDKey] = id
	}
	for name, value := range m.Properties() {
		out[name] = plain(value)
	}
	return out
}

func plain(v Value) any {
	switch v.Kind() {
	case KindModel:
		m, _ := v.AsModel()
		return ToMap(m)
	case KindList:
		items, _ := v.AsList()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = plain(item)
		}
		return out
	default:
		return v.Interface()
	}
}

// FromMap builds a generic bag from a map produced by ToMap or decoded from
// JSON. The map must name its model under ModelKey.
func FromMap(src map[string]any) (*Bag, error) {
	name, _ := src[ModelKey].(string)
	if name == "" {
		return nil, fmt.Errorf("%w: nested object has no %s key", ErrMissingModelName, ModelKey)
	}
	return FromMapAs(name, src)
}

// FromMapAs builds a generic bag for modelName from src. Keys starting with
// '@' other than IDKey are ignored.
func FromMapAs(modelName string, src map[string]any) (*Bag, error) {
	b := NewBag(modelName)
	for key, raw := range src {
		switch {
		case key == IDKey:
			id, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a string", ErrUnsupportedValue, IDKey)
			}
			b.SetID(id)
			continue
		case len(key) > 0 && key[0] == '@':
			continue
		}
		if err := ValidatePropertyName(key); err != nil {
			return nil, err
		}
		value, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", key, err)
		}
		b.SetProperty(key, value)
	}
	return b, nil
}
