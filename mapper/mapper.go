// Package mapper translates between core.Model values and
// storage.Document values, recursively.
//
// Nested models become embedded documents tagged with the nested model's
// class name. On the way back the class name is resolved through the
// model registry; classes without a registered constructor map to a
// generic core.Bag of that name, and documents with no class map to an
// untyped bag.
package mapper

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"github.com/poiesic/persist/core"
	"github.com/poiesic/persist/registry"
	"github.com/poiesic/persist/storage"
)

// Resolver is the part of the model registry the mapper consumes.
type Resolver interface {
	Resolve(name string) (registry.Entry, bool)
	ListAll(kind registry.Kind) []registry.Entry
}

// Mapper converts models to documents and back.
// It is safe for concurrent use.
type Mapper struct {
	resolver Resolver
	logger   *slog.Logger
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a mapper resolving model classes through resolver.
func New(resolver Resolver, opts ...Option) *Mapper {
	m := &Mapper{
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ClassName returns the class marker embedded documents of modelName carry:
// the registered alias if any, else the name.
func (mp *Mapper) ClassName(modelName string) string {
	if e, ok := mp.resolver.Resolve(modelName); ok {
		return e.ClassName()
	}
	return modelName
}

// ToDocument maps m onto a new document of the given class. An empty
// class uses m's model name.
func (mp *Mapper) ToDocument(m core.Model, class string) (*storage.Document, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil model", core.ErrMapping)
	}
	if class == "" {
		class = m.ModelName()
	}
	if class == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrMapping, core.ErrMissingModelName)
	}
	doc := storage.NewDocument(class)
	if err := mp.copyInto(m, doc, true, nil); err != nil {
		return nil, err
	}
	return doc, nil
}

// Merge writes m's properties onto doc in place. Fields m carries
// overwrite doc's, embedded documents at the same field are reused, and
// fields m does not carry are left untouched.
func (mp *Mapper) Merge(m core.Model, doc *storage.Document) error {
	if m == nil || doc == nil {
		return fmt.Errorf("%w: nil model or document", core.ErrMapping)
	}
	return mp.copyInto(m, doc, false, nil)
}

// copyInto copies m's properties onto doc. path holds the models on the
// current recursion path.
func (mp *Mapper) copyInto(m core.Model, doc *storage.Document, isCreate bool, path []core.Model) error {
	if slices.ContainsFunc(path, func(p core.Model) bool { return sameModel(p, m) }) {
		return fmt.Errorf("%w: %w: model %q refers back to itself", core.ErrMapping, core.ErrCycle, m.ModelName())
	}
	path = append(path, m)

	props := m.Properties()
	for _, name := range m.PropertyNames() {
		if name == core.IDProperty {
			continue
		}
		if err := core.ValidatePropertyName(name); err != nil {
			return fmt.Errorf("%w: %w", core.ErrMapping, err)
		}
		var existing any
		if !isCreate {
			existing, _ = doc.Field(name)
		}
		v, err := mp.toField(props[name], existing, isCreate, path)
		if err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		doc.SetField(name, v)
	}
	return nil
}

func (mp *Mapper) toField(v core.Value, existing any, isCreate bool, path []core.Model) (any, error) {
	switch v.Kind() {
	case core.KindNull, core.KindBool, core.KindInt, core.KindFloat, core.KindString, core.KindTime:
		return v.Interface(), nil

	case core.KindModel:
		nested, _ := v.AsModel()
		class := mp.ClassName(nested.ModelName())
		embedded, ok := existing.(*storage.Document)
		if isCreate || !ok {
			embedded = storage.NewDocument(class)
		}
		embedded.Class = class
		embedded.Identity = nested.ID()
		if err := mp.copyInto(nested, embedded, isCreate, path); err != nil {
			return nil, err
		}
		return embedded, nil

	case core.KindList:
		items, _ := v.AsList()
		prior, _ := existing.([]any)
		out := make([]any, len(items))
		for i, item := range items {
			var old any
			if i < len(prior) {
				old = prior[i]
			}
			f, err := mp.toField(item, old, isCreate, path)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %w: kind %s", core.ErrMapping, core.ErrUnsupportedValue, v.Kind())
}

func sameModel(a, b core.Model) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// ToModel maps doc to a model of the type registered for its class.
func (mp *Mapper) ToModel(doc *storage.Document) (core.Model, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", core.ErrMapping)
	}
	return mp.toModel(doc, nil)
}

// toModel maps doc. path holds the embedded documents on the current
// recursion path.
func (mp *Mapper) toModel(doc *storage.Document, path []*storage.Document) (core.Model, error) {
	if slices.Contains(path, doc) {
		return nil, fmt.Errorf("%w: %w: document of class %q embeds itself", core.ErrMapping, core.ErrCycle, doc.Class)
	}
	path = append(path, doc)

	m, err := mp.Instantiate(doc.Class)
	if err != nil {
		return nil, err
	}
	for _, name := range doc.FieldNames() {
		if name == storage.IdentityField {
			continue
		}
		raw, _ := doc.Field(name)
		v, err := mp.toValue(raw, path)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		m.SetProperty(name, v)
	}
	m.SetID(doc.Identity)
	return m, nil
}

func (mp *Mapper) toValue(raw any, path []*storage.Document) (core.Value, error) {
	switch t := raw.(type) {
	case *storage.Document:
		nested, err := mp.toModel(t, path)
		if err != nil {
			return core.Null(), err
		}
		return core.ModelValue(nested), nil
	case []any:
		items := make([]core.Value, len(t))
		for i, item := range t {
			v, err := mp.toValue(item, path)
			if err != nil {
				return core.Null(), fmt.Errorf("element %d: %w", i, err)
			}
			items[i] = v
		}
		return core.List(items...), nil
	}
	v, err := core.FromAny(raw)
	if err != nil {
		return core.Null(), fmt.Errorf("%w: %w", core.ErrMapping, err)
	}
	return v, nil
}

// Instantiate creates an empty model for class. An empty class yields an
// untyped bag; a class with no registered entry yields a generic bag of
// that name.
func (mp *Mapper) Instantiate(class string) (m core.Model, err error) {
	if class == "" {
		return core.NewBag(""), nil
	}
	entry, ok := mp.lookup(class)
	if !ok {
		return core.NewBag(class), nil
	}
	ctor, err := entry.Constructor()
	if err != nil {
		return nil, err
	}
	if ctor == nil {
		return core.NewBag(entry.Name), nil
	}

	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("%w: constructing %q: %v", core.ErrMapping, entry.Name, r)
		}
	}()
	m = ctor()
	if m == nil || (reflect.ValueOf(m).Kind() == reflect.Pointer && reflect.ValueOf(m).IsNil()) {
		return nil, fmt.Errorf("%w: constructor for %q returned nil", core.ErrMapping, entry.Name)
	}
	return m, nil
}

// lookup resolves class by name or alias, then falls back to scanning
// every model entry for an owner-qualified match ("owner.Name" or
// "owner/Name").
func (mp *Mapper) lookup(class string) (registry.Entry, bool) {
	if e, ok := mp.resolver.Resolve(class); ok {
		return e, true
	}
	for _, e := range mp.resolver.ListAll(registry.KindModel) {
		if e.Owner == "" {
			continue
		}
		for _, sep := range []string{".", "/"} {
			if strings.EqualFold(class, e.Owner+sep+e.Name) || strings.EqualFold(class, e.Owner+sep+e.ClassName()) {
				return e, true
			}
		}
	}
	mp.logger.Debug("no model registered for class, using generic bag", "class", class)
	return registry.Entry{}, false
}
