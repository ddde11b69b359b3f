package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Kinds(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	tests := []struct {
		name  string
		value Value
		kind  Kind
		plain any
	}{
		{"null", Null(), KindNull, nil},
		{"bool", Bool(true), KindBool, true},
		{"int", Int(42), KindInt, int64(42)},
		{"float", Float(1.5), KindFloat, 1.5},
		{"string", String("red"), KindString, "red"},
		{"time", Time(now), KindTime, now.UTC()},
		{"list", List(String("a"), Int(1)), KindList, []any{"a", int64(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.value.Kind())
			assert.Equal(t, tt.plain, tt.value.Interface())
		})
	}
}

func TestValue_Accessors(t *testing.T) {
	b, ok := Bool(true).AsBool()
	assert.True(t, ok)
	assert.True(t, b)

	i, ok := Int(7).AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(7), i)

	_, ok = Int(7).AsFloat()
	assert.False(t, ok, "no numeric coercion")

	s, ok := String("red").AsString()
	assert.True(t, ok)
	assert.Equal(t, "red", s)

	_, ok = String("red").AsBool()
	assert.False(t, ok)

	bag := NewBag("Person")
	m, ok := ModelValue(bag).AsModel()
	assert.True(t, ok)
	assert.Same(t, bag, m)

	_, ok = Null().AsTime()
	assert.False(t, ok)
}

func TestValue_ZeroIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	assert.True(t, v.Equal(Null()))
	assert.True(t, ModelValue(nil).IsNull())
}

func TestValue_Equal(t *testing.T) {
	a := NewBag("address")
	a.SetProperty("city", String("Lisbon"))
	b := NewBag("address")
	b.SetProperty("city", String("Lisbon"))

	assert.True(t, Int(3).Equal(Float(3)))
	assert.False(t, Int(3).Equal(String("3")))
	assert.True(t, List(Int(1), String("x")).Equal(List(Int(1), String("x"))))
	assert.False(t, List(Int(1)).Equal(List(Int(1), Int(2))))
	assert.True(t, ModelValue(a).Equal(ModelValue(b)))

	b.SetProperty("city", String("Porto"))
	assert.False(t, ModelValue(a).Equal(ModelValue(b)))
}

func TestValue_ListIsCopied(t *testing.T) {
	items := []Value{Int(1), Int(2)}
	v := List(items...)
	items[0] = Int(99)

	got, ok := v.AsList()
	require.True(t, ok)
	assert.Equal(t, int64(1), got[0].Interface())
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, 0, Int(1).Len())
}

func TestFromAny(t *testing.T) {
	t.Run("scalars", func(t *testing.T) {
		tests := []struct {
			in   any
			want Value
		}{
			{nil, Null()},
			{true, Bool(true)},
			{7, Int(7)},
			{int32(7), Int(7)},
			{uint16(7), Int(7)},
			{float32(0.5), Float(0.5)},
			{"x", String("x")},
			{json.Number("12"), Int(12)},
			{json.Number("1.25"), Float(1.25)},
		}
		for _, tt := range tests {
			got, err := FromAny(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "%v", tt.in)
			assert.Equal(t, tt.want.Kind(), got.Kind())
		}
	})

	t.Run("slices", func(t *testing.T) {
		got, err := FromAny([]string{"a", "b"})
		require.NoError(t, err)
		assert.True(t, List(String("a"), String("b")).Equal(got))

		got, err = FromAny([]any{1, "two", []any{3}})
		require.NoError(t, err)
		assert.True(t, List(Int(1), String("two"), List(Int(3))).Equal(got))
	})

	t.Run("nested map", func(t *testing.T) {
		got, err := FromAny(map[string]any{"@model": "address", "city": "Lisbon"})
		require.NoError(t, err)
		m, ok := got.AsModel()
		require.True(t, ok)
		assert.Equal(t, "address", m.ModelName())
		city, _ := m.Property("city")
		assert.Equal(t, "Lisbon", city.Interface())
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := FromAny(struct{}{})
		assert.ErrorIs(t, err, ErrUnsupportedValue)

		_, err = FromAny(uint64(1 << 63))
		assert.ErrorIs(t, err, ErrUnsupportedValue)

		_, err = FromAny(map[string]any{"city": "Lisbon"})
		assert.ErrorIs(t, err, ErrMissingModelName)
	})
}
