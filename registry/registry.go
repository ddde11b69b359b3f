// Package registry maps logical model names to the concrete Go types that
// represent them.
//
// Entries are registered at runtime. A model name with no registered
// constructor is represented by the generic core.Bag.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/poiesic/persist/core"
)

// ErrDuplicateEntry is returned when a model name or alias is registered twice.
var ErrDuplicateEntry = errors.New("model already registered")

// Kind classifies registry entries.
type Kind int

const (
	// KindModel marks a persistable model entry.
	KindModel Kind = iota + 1
)

// Constructor returns a fresh, unsaved instance of a model.
type Constructor func() core.Model

// Loader resolves a constructor on first use, e.g. from a plugin owned by
// another module.
type Loader func() (Constructor, error)

// Entry describes one registered model.
type Entry struct {
	// Name is the logical model name.
	Name string

	// Alias is an optional shorter class name documents are persisted under.
	Alias string

	// Owner identifies the module that provides the model.
	Owner string

	// Kind defaults to KindModel.
	Kind Kind

	// New constructs the concrete type. Nil means the generic bag.
	New Constructor

	// Loader resolves New lazily. It is consulted only when New is nil.
	Loader Loader
}

// ClassName returns the class name documents of this entry are stored under.
func (e Entry) ClassName() string {
	if e.Alias != "" {
		return e.Alias
	}
	return e.Name
}

// Constructor returns the constructor for the entry, invoking the Loader if
// needed. A nil constructor with a nil error means the generic bag.
func (e Entry) Constructor() (Constructor, error) {
	if e.New != nil {
		return e.New, nil
	}
	if e.Loader == nil {
		return nil, nil
	}
	ctor, err := e.Loader()
	if err != nil {
		return nil, fmt.Errorf("%w: model %q: %w", core.ErrTypeResolution, e.Name, err)
	}
	if ctor == nil {
		return nil, fmt.Errorf("%w: model %q: loader returned no constructor", core.ErrTypeResolution, e.Name)
	}
	return ctor, nil
}

// Registry is a concurrency-safe set of model entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry // keyed by lower-cased name
	aliases map[string]string // lower-cased alias -> lower-cased name
	types   map[reflect.Type]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		aliases: make(map[string]string),
		types:   make(map[reflect.Type]string),
	}
}

// Register adds an entry. Names and aliases are matched case-insensitively
// and must be unique across both.
func (r *Registry) Register(e Entry) error {
	if err := core.ValidateModelName(e.Name); err != nil {
		return err
	}
	if e.Alias != "" {
		if err := core.ValidateModelName(e.Alias); err != nil {
			return fmt.Errorf("alias: %w", err)
		}
	}
	if e.Kind == 0 {
		e.Kind = KindModel
	}

	key := strings.ToLower(e.Name)
	alias := strings.ToLower(e.Alias)

	var typ reflect.Type
	if e.New != nil {
		sample := e.New()
		if sample == nil {
			return fmt.Errorf("%w: constructor for %q returned nil", core.ErrMapping, e.Name)
		}
		typ = reflect.TypeOf(sample)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.taken(key) || (alias != "" && r.taken(alias)) {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.Name)
	}
	r.entries[key] = &e
	if alias != "" {
		r.aliases[alias] = key
	}
	if typ != nil && typ != reflect.TypeFor[*core.Bag]() {
		r.types[typ] = e.Name
	}
	return nil
}

func (r *Registry) taken(name string) bool {
	if _, ok := r.entries[name]; ok {
		return true
	}
	_, ok := r.aliases[name]
	return ok
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(e Entry) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Resolve looks up an entry by logical name or alias.
func (r *Registry) Resolve(name string) (Entry, bool) {
	key := strings.ToLower(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[key]; ok {
		return *e, true
	}
	if target, ok := r.aliases[key]; ok {
		return *r.entries[target], true
	}
	return Entry{}, false
}

// ListAll returns every entry of the given kind sorted by name. Kind 0
// returns all entries.
func (r *Registry) ListAll(kind Kind) []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if kind == 0 || e.Kind == kind {
			out = append(out, *e)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// ClassName returns the class name documents of modelName are stored under:
// the registered alias if any, else the name itself.
func (r *Registry) ClassName(modelName string) string {
	if e, ok := r.Resolve(modelName); ok {
		return e.ClassName()
	}
	return modelName
}

// NameOf returns the logical name registered for the concrete type typ.
func (r *Registry) NameOf(typ reflect.Type) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := r.types[typ]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: no model registered for type %s", core.ErrUnknownModel, typ)
}

// Instantiate creates a fresh instance of modelName. Unregistered names
// yield a generic bag.
func (r *Registry) Instantiate(modelName string) (core.Model, error) {
	e, ok := r.Resolve(modelName)
	if !ok {
		return core.NewBag(modelName), nil
	}
	ctor, err := e.Constructor()
	if err != nil {
		return nil, err
	}
	if ctor == nil {
		return core.NewBag(e.Name), nil
	}
	m := ctor()
	if m == nil {
		return nil, fmt.Errorf("%w: constructor for %q returned nil", core.ErrMapping, e.Name)
	}
	return m, nil
}
