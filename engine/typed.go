package engine

import (
	"context"
	"fmt"
	"reflect"

	"github.com/poiesic/persist/core"
)

// NameOf returns the logical model name registered for T.
func NameOf[T core.Model](e *Engine) (string, error) {
	return e.registry.NameOf(reflect.TypeFor[T]())
}

// FindAs is Find for the model registered for T.
func FindAs[T core.Model](ctx context.Context, e *Engine) ([]T, error) {
	name, err := NameOf[T](e)
	if err != nil {
		return nil, err
	}
	models, err := e.Find(ctx, name)
	if err != nil {
		return nil, err
	}
	return convert[T](models)
}

// FindByIDAs is FindByID for the model registered for T. The boolean
// result is false when there is no such model.
func FindByIDAs[T core.Model](ctx context.Context, e *Engine, id string) (T, bool, error) {
	var zero T
	name, err := NameOf[T](e)
	if err != nil {
		return zero, false, err
	}
	m, err := e.FindByID(ctx, name, id)
	if err != nil || m == nil {
		return zero, false, err
	}
	t, ok := m.(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: stored %s is a %T", core.ErrMapping, id, m)
	}
	return t, true, nil
}

// FindByPropertyAs is FindByProperty for the model registered for T.
func FindByPropertyAs[T core.Model](ctx context.Context, e *Engine, property string, value core.Value) ([]T, error) {
	name, err := NameOf[T](e)
	if err != nil {
		return nil, err
	}
	models, err := e.FindByProperty(ctx, name, property, value)
	if err != nil {
		return nil, err
	}
	return convert[T](models)
}

// ExecuteQueryAs is ExecuteQuery requiring every row to map to T.
func ExecuteQueryAs[T core.Model](ctx context.Context, e *Engine, statement string, args ...any) ([]T, error) {
	models, err := e.ExecuteQuery(ctx, statement, args...)
	if err != nil {
		return nil, err
	}
	return convert[T](models)
}

func convert[T core.Model](models []core.Model) ([]T, error) {
	out := make([]T, 0, len(models))
	for _, m := range models {
		t, ok := m.(T)
		if !ok {
			return nil, fmt.Errorf("%w: row %s is a %T", core.ErrMapping, m.ID(), m)
		}
		out = append(out, t)
	}
	return out, nil
}
