package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func widget(name, color string, size int64) *Document {
	doc := NewDocument("Widget")
	doc.SetField("name", name)
	doc.SetField("color", color)
	doc.SetField("size", size)
	return doc
}

func prepare(t *testing.T, e *Evaluator, text string, args ...any) *Predicate {
	t.Helper()
	stmt, err := ParseStatement(text)
	require.NoError(t, err)
	p, err := e.Prepare(stmt, args...)
	require.NoError(t, err)
	return p
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		where string
		want  string
		count int
	}{
		{"color = :color", "color == _p_color", 0},
		{"size >= ? AND size <> ?", "size >= _p_0 and size != _p_1", 2},
		{"name = 'a = b'", "name == 'a = b'", 0},
		{"owner IS NULL", "owner == nil", 0},
		{"owner is not null", "owner != nil", 0},
		{"@rid = ?", "_rid == _p_0", 1},
		{"owner.name = 'x'", "owner?.name == 'x'", 0},
		{"color in (:colors)", "_in(color, _p_colors)", 0},
		{"color NOT IN ('red', 'blue')", "!_in(color, 'red', 'blue')", 0},
		{"`in` = :in", `$env["in"] == _p_in`, 0},
		{"`tags` in (:tags) and `null` = ?", `_in($env["tags"], _p_tags) and $env["null"] == _p_0`, 1},
		{"name = '`x`'", "name == '`x`'", 0},
	}

	for _, tt := range tests {
		t.Run(tt.where, func(t *testing.T) {
			got, n := translate(tt.where)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.count, n)
		})
	}
}

func TestPredicate_Match(t *testing.T) {
	e, err := NewEvaluator(100)
	require.NoError(t, err)
	defer e.Close()

	red := widget("alpha", "red", 3)
	blue := widget("beta", "blue", 7)
	blue.Identity = "#1:2"

	tests := []struct {
		name string
		text string
		args []any
		doc  *Document
		want bool
	}{
		{"no condition", "select * from widget", nil, red, true},
		{"named equality", "select * from widget where color = :color", []any{Params{"color": "red"}}, red, true},
		{"named mismatch", "select * from widget where color = :color", []any{Params{"color": "red"}}, blue, false},
		{"plain map params", "select * from widget where size = :size", []any{map[string]any{"size": 3}}, red, true},
		{"positional", "select * from widget where size > ? and color = ?", []any{5, "blue"}, blue, true},
		{"int against float", "select * from widget where size = ?", []any{7.0}, blue, true},
		{"in list", "select * from widget where color in (:colors)", []any{Params{"colors": []string{"green", "blue"}}}, blue, true},
		{"not in inline", "select * from widget where color not in ('red')", nil, red, false},
		{"identity", "select * from widget where @rid = ?", []any{"#1:2"}, blue, true},
		{"class", "select * from widget where @class = 'Widget'", nil, red, true},
		{"missing field compares as null", "select * from widget where owner is null", nil, red, true},
		{"missing field ordering does not match", "select * from widget where weight > 1", nil, red, false},
		{"non boolean result", "select * from widget where size", nil, red, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := prepare(t, e, tt.text, tt.args...)
			assert.Equal(t, tt.want, p.Match(tt.doc))
		})
	}
}

func TestPredicate_NestedAndLists(t *testing.T) {
	owner := NewDocument("Person")
	owner.SetField("name", "ada")
	doc := widget("gamma", "green", 1)
	doc.SetField("owner", owner)
	doc.SetField("tags", []any{"x", "y"})

	var e *Evaluator
	assert.True(t, prepare(t, e, "select * from widget where owner.name = 'ada'").Match(doc))
	assert.False(t, prepare(t, e, "select * from widget where owner.name = 'bob'").Match(doc))
	assert.True(t, prepare(t, e, "select * from widget where tags in (?)", []string{"y", "z"}).Match(doc))
	assert.False(t, prepare(t, e, "select * from widget where tags in ('q')").Match(doc))
}

func TestPredicate_QuotedFields(t *testing.T) {
	doc := NewDocument("Widget")
	for _, name := range []string{"in", "null", "true", "matches", "order"} {
		doc.SetField(name, "x")
	}

	var e *Evaluator
	for _, name := range []string{"in", "null", "true", "matches", "order"} {
		t.Run(name, func(t *testing.T) {
			text := "select * from widget where " + QuoteField(name) + " = :v"
			assert.True(t, prepare(t, e, text, Params{"v": "x"}).Match(doc))
			assert.False(t, prepare(t, e, text, Params{"v": "y"}).Match(doc))
		})
	}
}

func TestQuoteField(t *testing.T) {
	assert.Equal(t, "color", QuoteField("color"))
	assert.Equal(t, "`in`", QuoteField("in"))
	assert.Equal(t, "`NULL`", QuoteField("NULL"))
	assert.Equal(t, "`startsWith`", QuoteField("startsWith"))
}

func TestPredicate_SingleElementListEquality(t *testing.T) {
	doc := widget("delta", "red", 2)
	doc.SetField("tags", []any{"x"})

	var e *Evaluator
	assert.True(t, prepare(t, e, "select * from widget where tags = ?", []string{"x"}).Match(doc))
	assert.False(t, prepare(t, e, "select * from widget where tags = ?", []string{"y"}).Match(doc))
	assert.False(t, prepare(t, e, "select * from widget where tags = ?", "x").Match(doc))
}

func TestEvaluator_Prepare_Errors(t *testing.T) {
	e, err := NewEvaluator(10)
	require.NoError(t, err)
	defer e.Close()

	stmt, err := ParseStatement("select * from widget where size > ?")
	require.NoError(t, err)
	_, err = e.Prepare(stmt)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	stmt, err = ParseStatement("select * from widget where size >>> 3")
	require.NoError(t, err)
	_, err = e.Prepare(stmt)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	stmt, err = ParseStatement("select * from widget where size = :size")
	require.NoError(t, err)
	_, err = e.Prepare(stmt, Params{"size": struct{}{}})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestApply(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := []*Document{widget("c", "red", 2), widget("a", "blue", 9), widget("b", "red", 5)}
	docs[0].SetField("at", base.Add(time.Hour))
	docs[1].SetField("at", base)
	noName := NewDocument("Widget")

	stmt := &Statement{Verb: VerbSelect, OrderBy: "name"}
	out := Apply(stmt, append([]*Document{}, append(docs, noName)...))
	require.Len(t, out, 4)
	assert.Same(t, noName, out[0])
	assert.Equal(t, []string{"a", "b", "c"}, names(out[1:]))

	stmt = &Statement{Verb: VerbSelect, OrderBy: "size", Descending: true, Limit: 2}
	assert.Equal(t, []string{"a", "b"}, names(Apply(stmt, append([]*Document{}, docs...))))

	stmt = &Statement{Verb: VerbSelect, OrderBy: "at"}
	assert.Equal(t, []string{"b", "a", "c"}, names(Apply(stmt, append([]*Document{}, docs...))))
}

func names(docs []*Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		v, _ := d.Field("name")
		out[i], _ = v.(string)
	}
	return out
}
