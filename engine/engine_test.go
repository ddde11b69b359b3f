package engine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/persist/core"
	"github.com/poiesic/persist/metrics"
	"github.com/poiesic/persist/registry"
	"github.com/poiesic/persist/storage"
	"github.com/poiesic/persist/storage/badger"
)

type Widget struct{ *core.Bag }

func NewWidget() *Widget { return &Widget{Bag: core.NewBag("Widget")} }

// spyConnection counts the queries passed to the wrapped connection.
type spyConnection struct {
	storage.Connection
	queries atomic.Int32
}

func (s *spyConnection) Query(ctx context.Context, statement string, args ...any) ([]*storage.Document, error) {
	s.queries.Add(1)
	return s.Connection.Query(ctx, statement, args...)
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Entry{
		Name: "Widget",
		New:  func() core.Model { return NewWidget() },
	}))
	return reg
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *spyConnection) {
	t.Helper()
	conn, err := badger.NewMemoryConnection()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	spy := &spyConnection{Connection: conn}
	e, err := New(spy, newTestRegistry(t), opts...)
	require.NoError(t, err)
	return e, spy
}

func widget(name, color string) *Widget {
	w := NewWidget()
	w.SetProperty("name", core.String(name))
	w.SetProperty("color", core.String(color))
	return w
}

func TestSave_FindByID(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	w := widget("alpha", "red")
	require.NoError(t, e.Save(ctx, w))
	require.NotEmpty(t, w.ID())

	found, err := e.FindByID(ctx, "Widget", w.ID())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.IsType(t, &Widget{}, found)
	assert.True(t, core.ModelsEqual(w, found))
}

func TestSaveAs(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	b := core.NewBagWith("", map[string]core.Value{"n": core.Int(1)})
	require.NoError(t, e.SaveAs(ctx, "Gizmo", b))

	found, err := e.Find(ctx, "gizmo")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Gizmo", found[0].ModelName())
	assert.Equal(t, b.ID(), found[0].ID())

	err = e.SaveAs(ctx, "not valid", b)
	assert.ErrorIs(t, err, core.ErrMapping)
}

func TestSave_BatchFailFast(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	first := widget("a", "red")
	unnamed := core.NewBag("")
	last := widget("c", "red")

	err := e.Save(ctx, first, unnamed, last)
	assert.ErrorIs(t, err, core.ErrMapping)
	assert.NotEmpty(t, first.ID(), "earlier saves remain")
	assert.Empty(t, last.ID(), "later models are not attempted")

	all, err := e.Find(ctx, "Widget")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	w := widget("alpha", "red")
	require.NoError(t, e.Save(ctx, w))
	id := w.ID()

	w.SetProperty("color", core.String("blue"))
	require.NoError(t, e.Update(ctx, w))
	assert.Equal(t, id, w.ID())

	found, err := e.FindByID(ctx, "Widget", id)
	require.NoError(t, err)
	color, _ := found.Property("color")
	assert.True(t, core.String("blue").Equal(color))

	assert.ErrorIs(t, e.Update(ctx, widget("x", "y")), core.ErrMissingIdentity)

	require.NoError(t, e.Remove(ctx, w))
	assert.ErrorIs(t, e.Update(ctx, w), storage.ErrNotFound)
}

func TestSaveOrUpdate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	w := widget("alpha", "red")
	require.NoError(t, e.SaveOrUpdate(ctx, w))
	id := w.ID()
	require.NotEmpty(t, id)

	w.SetProperty("color", core.String("green"))
	require.NoError(t, e.SaveOrUpdate(ctx, w))
	assert.Equal(t, id, w.ID())

	all, err := e.Find(ctx, "Widget")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRemove_ThenFind(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a, b := widget("a", "red"), widget("b", "blue")
	require.NoError(t, e.Save(ctx, a, b))

	require.NoError(t, e.Remove(ctx, a))
	found, err := e.FindByID(ctx, "Widget", a.ID())
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.NotEmpty(t, a.ID(), "in-memory model keeps its stale identity")

	assert.ErrorIs(t, e.Remove(ctx, a), storage.ErrNotFound)
	assert.ErrorIs(t, e.Remove(ctx, core.NewBag("Widget")), core.ErrMissingIdentity)

	require.NoError(t, e.Delete(ctx, b.ID()))
	all, err := e.Find(ctx, "Widget")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFind_Empty(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	found, err := e.Find(ctx, "Nothing")
	require.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)

	require.NoError(t, e.AddModel(ctx, "Widget"))
	found, err = e.Find(ctx, "Widget")
	require.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)
}

func TestFindByProperties(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tagged := widget("c", "green")
	tagged.SetProperty("tags", core.List(core.String("x"), core.String("y")))
	require.NoError(t, e.Save(ctx, widget("a", "red"), widget("b", "blue"), tagged))

	found, err := e.FindByProperty(ctx, "Widget", "color", core.String("red"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	name, _ := found[0].Property("name")
	assert.True(t, core.String("a").Equal(name))

	found, err = e.FindByProperties(ctx, "widget", map[string]core.Value{
		"color": core.List(core.String("red"), core.String("blue")),
	})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = e.FindByProperty(ctx, "Widget", "tags", core.List(core.String("y"), core.String("z")))
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = e.FindByProperties(ctx, "Widget", nil)
	assert.ErrorIs(t, err, core.ErrEmptyProperties)
}

func TestFindByProperty_SingleElementList(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	single := widget("a", "red")
	single.SetProperty("tags", core.List(core.String("a")))
	pair := widget("b", "blue")
	pair.SetProperty("tags", core.List(core.String("a"), core.String("b")))
	require.NoError(t, e.Save(ctx, single, pair))

	found, err := e.FindByProperty(ctx, "Widget", "tags", core.List(core.String("a")))
	require.NoError(t, err)
	require.Len(t, found, 1)
	name, _ := found[0].Property("name")
	assert.True(t, core.String("a").Equal(name))

	found, err = e.FindByProperty(ctx, "Widget", "tags", core.List(core.String("b")))
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = e.FindByProperty(ctx, "Widget", "tags", core.List(core.String("b"), core.String("c")))
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestFindByProperty_ReservedNames(t *testing.T) {
	names := []string{"in", "matches", "contains", "let", "not", "and", "null", "true", "order", "type", "count", "len"}
	for _, prop := range names {
		t.Run(prop, func(t *testing.T) {
			e, _ := newTestEngine(t)
			ctx := context.Background()

			w := widget("a", "red")
			w.SetProperty(prop, core.String("x"))
			require.NoError(t, e.Save(ctx, w, widget("b", "blue")))

			found, err := e.FindByProperty(ctx, "Widget", prop, core.String("x"))
			require.NoError(t, err)
			assert.Len(t, found, 1)

			found, err = e.FindByProperty(ctx, "Widget", prop, core.String("y"))
			require.NoError(t, err)
			assert.Empty(t, found)
		})
	}
}

func TestFindByProperty_UnknownModel(t *testing.T) {
	e, spy := newTestEngine(t)
	ctx := context.Background()

	_, err := e.FindByProperty(ctx, "Ghost", "color", core.String("red"))
	assert.ErrorIs(t, err, core.ErrUnknownModel)
	assert.Zero(t, spy.queries.Load(), "no query reaches the store")

	_, err = e.FindByID(ctx, "Ghost", "#1:1")
	assert.ErrorIs(t, err, core.ErrUnknownModel)
}

func TestExecuteQuery(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for _, n := range []string{"c", "a", "b"} {
		require.NoError(t, e.Save(ctx, widget(n, "red")))
	}

	found, err := e.ExecuteQuery(ctx, "select * from widget where name <> ? order by name", "b")
	require.NoError(t, err)
	require.Len(t, found, 2)
	name, _ := found[0].Property("name")
	assert.True(t, core.String("a").Equal(name))

	found, err = e.ExecuteQueryLimit(ctx, "select * from widget", 2)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	_, err = e.ExecuteQuery(ctx, "select * from widget where ((")
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestCommand(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Save(ctx, widget("a", "red"), widget("b", "blue")))
	n, err := e.Command(ctx, "delete from widget where color = :color", storage.Params{"color": "red"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := e.Find(ctx, "Widget")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAddModel(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	exists, err := e.ModelExists(ctx, "Gadget")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, e.AddModel(ctx, "Gadget"))
	require.NoError(t, e.AddModel(ctx, "Gadget"))

	exists, err = e.ModelExists(ctx, "gadget")
	require.NoError(t, err)
	assert.True(t, exists)

	assert.ErrorIs(t, e.AddModel(ctx, ""), core.ErrMissingModelName)
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	e, err := New(nil, newTestRegistry(t))
	require.NoError(t, err)

	assert.ErrorIs(t, e.Save(ctx, widget("a", "b")), core.ErrNotConnected)
	_, err = e.Find(ctx, "Widget")
	assert.ErrorIs(t, err, core.ErrNotConnected)
	_, err = e.ModelExists(ctx, "Widget")
	assert.ErrorIs(t, err, core.ErrNotConnected)
	_, err = e.Begin(ctx)
	assert.ErrorIs(t, err, core.ErrNotConnected)

	conn, err := badger.NewMemoryConnection()
	require.NoError(t, err)
	defer conn.Close()

	e.SetConnection(conn)
	require.NoError(t, e.Save(ctx, widget("a", "b")))

	e.UnsetConnection()
	_, err = e.Find(ctx, "Widget")
	assert.ErrorIs(t, err, core.ErrNotConnected)
}

func TestTransactions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	w := widget("a", "red")
	require.NoError(t, tx.Save(ctx, w))

	inside, err := tx.FindByID(ctx, "Widget", w.ID())
	require.NoError(t, err)
	assert.NotNil(t, inside)

	require.NoError(t, tx.Rollback(ctx))
	outside, err := e.Find(ctx, "Widget")
	require.NoError(t, err)
	assert.Empty(t, outside)

	_, err = tx.Begin(ctx)
	assert.ErrorIs(t, err, ErrNestedTransaction)
	assert.ErrorIs(t, tx.Commit(ctx), storage.ErrTransactionClosed)
	assert.ErrorIs(t, e.Commit(ctx), ErrNotInTransaction)
	assert.ErrorIs(t, e.Rollback(ctx), ErrNotInTransaction)

	err = e.InTransaction(ctx, func(tx *Engine) error {
		return tx.Save(ctx, widget("b", "blue"), widget("c", "blue"))
	})
	require.NoError(t, err)
	all, err := e.Find(ctx, "Widget")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	err = e.InTransaction(ctx, func(tx *Engine) error {
		return tx.Save(ctx, widget("d", "blue"), core.NewBag(""))
	})
	assert.ErrorIs(t, err, core.ErrMapping)
	all, err = e.Find(ctx, "Widget")
	require.NoError(t, err)
	assert.Len(t, all, 2, "failed batch rolled back")
}

func TestTypedHelpers(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	w := widget("alpha", "red")
	require.NoError(t, e.Save(ctx, w, widget("beta", "blue")))

	name, err := NameOf[*Widget](e)
	require.NoError(t, err)
	assert.Equal(t, "Widget", name)

	all, err := FindAs[*Widget](ctx, e)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, ok, err := FindByIDAs[*Widget](ctx, e, w.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, w.ID(), got.ID())

	_, ok, err = FindByIDAs[*Widget](ctx, e, "#999:1")
	require.NoError(t, err)
	assert.False(t, ok)

	red, err := FindByPropertyAs[*Widget](ctx, e, "color", core.String("red"))
	require.NoError(t, err)
	assert.Len(t, red, 1)

	blue, err := ExecuteQueryAs[*Widget](ctx, e, "select * from widget where color = 'blue'")
	require.NoError(t, err)
	assert.Len(t, blue, 1)

	require.NoError(t, e.SaveAs(ctx, "Gizmo", core.NewBag("Gizmo")))
	_, err = ExecuteQueryAs[*Widget](ctx, e, "select * from gizmo")
	assert.ErrorIs(t, err, core.ErrMapping)

	_, err = FindAs[*core.Bag](ctx, e)
	assert.ErrorIs(t, err, core.ErrUnknownModel)
}

func TestSave_TypeNameFromRegistry(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	w := &Widget{Bag: core.NewBag("")}
	w.SetProperty("name", core.String("anon"))
	require.NoError(t, e.Save(ctx, w))

	found, err := e.Find(ctx, "Widget")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestProvider(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Equal(t, Provider{Name: "persist", Type: TypeDocument}, e.Provider())
	assert.Equal(t, TypeDocument, e.Type())
	assert.Equal(t, "document", e.Type().String())
}

func TestMetrics(t *testing.T) {
	c := metrics.NewCollector("persist_test")
	c.MustRegister(prometheus.NewRegistry())
	e, _ := newTestEngine(t, WithMetrics(c))
	ctx := context.Background()

	require.NoError(t, e.Save(ctx, widget("a", "red"), widget("b", "red")))
	_, err := e.Find(ctx, "Widget")
	require.NoError(t, err)
	assert.Error(t, e.Update(ctx, widget("x", "y")))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Operations.WithLabelValues("save", metrics.OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Documents.WithLabelValues("save")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Documents.WithLabelValues("query")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Operations.WithLabelValues("update", metrics.OutcomeError)))
}
