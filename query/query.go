// Package query builds store statements from property-equality maps.
package query

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/poiesic/persist/core"
	"github.com/poiesic/persist/storage"
)

// Query is statement text plus its named parameter bindings.
type Query struct {
	Text   string
	Params storage.Params
}

// Build produces "select * from <model> where k1 = :k1 and k2 in (:k2)"
// for props. Clauses are sorted by property name. A property holding a
// list of more than one element becomes a membership clause; everything
// else, including a one-element list, is an equality clause. Property
// names that are reserved words are backtick-quoted.
func Build(modelName string, props map[string]core.Value) (Query, error) {
	if err := core.ValidateModelName(modelName); err != nil {
		return Query{}, err
	}
	if len(props) == 0 {
		return Query{}, core.ErrEmptyProperties
	}

	names := slices.Sorted(maps.Keys(props))
	clauses := make([]string, 0, len(names))
	params := make(storage.Params, len(names))
	for _, name := range names {
		if err := core.ValidatePropertyName(name); err != nil {
			return Query{}, err
		}
		v := props[name]
		bound, err := bind(v)
		if err != nil {
			return Query{}, fmt.Errorf("property %q: %w", name, err)
		}
		params[name] = bound
		field := storage.QuoteField(name)
		if v.Kind() == core.KindList && v.Len() > 1 {
			clauses = append(clauses, fmt.Sprintf("%s in (:%s)", field, name))
		} else {
			clauses = append(clauses, fmt.Sprintf("%s = :%s", field, name))
		}
	}

	return Query{
		Text:   BuildSelect(modelName) + " where " + strings.Join(clauses, " and "),
		Params: params,
	}, nil
}

// BuildSelect produces "select * from <model>".
func BuildSelect(modelName string) string {
	return "select * from " + modelName
}

// bind converts v to a parameter value. Lists stay lists so that a
// one-element list compares equal to the stored list.
func bind(v core.Value) (any, error) {
	switch v.Kind() {
	case core.KindModel:
		return nil, fmt.Errorf("%w: nested models cannot be matched by equality", core.ErrUnsupportedValue)
	case core.KindList:
		items, _ := v.AsList()
		out := make([]any, len(items))
		for i, item := range items {
			b, err := bind(item)
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return out, nil
	default:
		return v.Interface(), nil
	}
}
