package registry

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/poiesic/persist/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type widget struct {
	*core.Bag
}

func newWidget() core.Model {
	return &widget{Bag: core.NewBag("widget")}
}

func TestRegister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Entry{Name: "widget", Alias: "wdg", New: newWidget}))

	t.Run("duplicate name", func(t *testing.T) {
		err := r.Register(Entry{Name: "Widget"})
		assert.ErrorIs(t, err, ErrDuplicateEntry)
	})

	t.Run("name collides with alias", func(t *testing.T) {
		err := r.Register(Entry{Name: "wdg"})
		assert.ErrorIs(t, err, ErrDuplicateEntry)
	})

	t.Run("invalid name", func(t *testing.T) {
		err := r.Register(Entry{Name: "no spaces"})
		assert.ErrorIs(t, err, core.ErrInvalidModelName)
	})

	t.Run("nil constructor result", func(t *testing.T) {
		err := r.Register(Entry{Name: "broken", New: func() core.Model { return nil }})
		assert.ErrorIs(t, err, core.ErrMapping)
	})
}

func TestResolve(t *testing.T) {
	r := New()
	r.MustRegister(Entry{Name: "widget", Alias: "wdg", Owner: "inventory"})

	e, ok := r.Resolve("widget")
	require.True(t, ok)
	assert.Equal(t, "inventory", e.Owner)
	assert.Equal(t, KindModel, e.Kind)

	e, ok = r.Resolve("WDG")
	require.True(t, ok)
	assert.Equal(t, "widget", e.Name)

	_, ok = r.Resolve("gadget")
	assert.False(t, ok)

	assert.Equal(t, "wdg", r.ClassName("widget"))
	assert.Equal(t, "gadget", r.ClassName("gadget"))
}

func TestListAll(t *testing.T) {
	r := New()
	r.MustRegister(Entry{Name: "zebra"})
	r.MustRegister(Entry{Name: "apple"})
	r.MustRegister(Entry{Name: "mango"})

	var names []string
	for _, e := range r.ListAll(KindModel) {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"apple", "mango", "zebra"}, names)
	assert.Len(t, r.ListAll(0), 3)
}

func TestInstantiate(t *testing.T) {
	r := New()
	r.MustRegister(Entry{Name: "widget", New: newWidget})
	r.MustRegister(Entry{Name: "plain"})
	r.MustRegister(Entry{Name: "lazy", Loader: func() (Constructor, error) { return newWidget, nil }})
	r.MustRegister(Entry{Name: "missing", Loader: func() (Constructor, error) {
		return nil, errors.New("plugin not installed")
	}})

	t.Run("registered type", func(t *testing.T) {
		m, err := r.Instantiate("widget")
		require.NoError(t, err)
		assert.IsType(t, &widget{}, m)
	})

	t.Run("registered without constructor", func(t *testing.T) {
		m, err := r.Instantiate("plain")
		require.NoError(t, err)
		assert.IsType(t, &core.Bag{}, m)
		assert.Equal(t, "plain", m.ModelName())
	})

	t.Run("unregistered falls back to bag", func(t *testing.T) {
		m, err := r.Instantiate("gadget")
		require.NoError(t, err)
		assert.IsType(t, &core.Bag{}, m)
		assert.Equal(t, "gadget", m.ModelName())
	})

	t.Run("lazy loader", func(t *testing.T) {
		m, err := r.Instantiate("lazy")
		require.NoError(t, err)
		assert.IsType(t, &widget{}, m)
	})

	t.Run("loader failure", func(t *testing.T) {
		_, err := r.Instantiate("missing")
		assert.ErrorIs(t, err, core.ErrTypeResolution)
	})
}

func TestNameOf(t *testing.T) {
	r := New()
	r.MustRegister(Entry{Name: "widget", New: newWidget})

	name, err := r.NameOf(reflect.TypeFor[*widget]())
	require.NoError(t, err)
	assert.Equal(t, "widget", name)

	_, err = r.NameOf(reflect.TypeFor[*core.Bag]())
	assert.ErrorIs(t, err, core.ErrUnknownModel)
}

func TestLoadManifest(t *testing.T) {
	src := `
models:
  - name: widget
    alias: wdg
    owner: inventory
  - name: order
`
	r := New()
	require.NoError(t, r.LoadManifest(strings.NewReader(src)))

	e, ok := r.Resolve("wdg")
	require.True(t, ok)
	assert.Equal(t, "widget", e.Name)
	assert.Equal(t, "inventory", e.Owner)

	out, err := yaml.Marshal(r.Manifest())
	require.NoError(t, err)
	assert.Contains(t, string(out), "name: order")

	t.Run("empty manifest", func(t *testing.T) {
		assert.NoError(t, New().LoadManifest(strings.NewReader("")))
	})

	t.Run("unknown field", func(t *testing.T) {
		err := New().LoadManifest(strings.NewReader("models:\n  - name: a\n    colour: red\n"))
		assert.Error(t, err)
	})

	t.Run("duplicate", func(t *testing.T) {
		err := New().LoadManifest(strings.NewReader("models:\n  - name: a\n  - name: A\n"))
		assert.ErrorIs(t, err, ErrDuplicateEntry)
	})
}
