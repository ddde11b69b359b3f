package storage

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const (
	paramPrefix = "_p_"
	fieldPrefix = "_f_"
)

// reserved holds words that cannot appear as bare field names in a
// condition, compared case-insensitively.
var reserved = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "in": {}, "is": {}, "like": {},
	"null": {}, "nil": {}, "true": {}, "false": {},
	"matches": {}, "contains": {}, "startswith": {}, "endswith": {},
	"let": {}, "if": {}, "else": {},
	"select": {}, "delete": {}, "from": {}, "where": {},
	"order": {}, "by": {}, "limit": {}, "asc": {}, "desc": {},
}

// QuoteField returns name as it must appear in a condition: reserved
// words are wrapped in backticks, every other name is returned as is.
func QuoteField(name string) string {
	if _, ok := reserved[strings.ToLower(name)]; ok {
		return "`" + name + "`"
	}
	return name
}

// Evaluator compiles statement conditions into expr programs and caches
// them by condition text. A nil *Evaluator compiles without caching.
type Evaluator struct {
	cache *ristretto.Cache[string, *compiled]
}

type compiled struct {
	program     *vm.Program
	positionals int
}

// NewEvaluator creates an evaluator caching up to capacity programs.
func NewEvaluator(capacity int64) (*Evaluator, error) {
	if capacity < 1 {
		capacity = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *compiled]{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Evaluator{cache: cache}, nil
}

// Close releases the program cache.
func (e *Evaluator) Close() {
	if e != nil && e.cache != nil {
		e.cache.Close()
	}
}

// Predicate is a condition bound to its parameters.
type Predicate struct {
	program *vm.Program
	params  map[string]any
}

// Prepare compiles stmt's condition and binds args to it. args are either
// positional values or a single Params (or map[string]any).
func (e *Evaluator) Prepare(stmt *Statement, args ...any) (*Predicate, error) {
	params, named, err := bindArgs(args)
	if err != nil {
		return nil, err
	}
	if stmt.Where == "" {
		return &Predicate{}, nil
	}
	c, err := e.compile(stmt.Where)
	if err != nil {
		return nil, err
	}
	if !named && c.positionals != len(args) {
		return nil, fmt.Errorf("%w: %d placeholders but %d arguments", ErrInvalidQuery, c.positionals, len(args))
	}
	return &Predicate{program: c.program, params: params}, nil
}

func (e *Evaluator) compile(where string) (*compiled, error) {
	if e != nil && e.cache != nil {
		if c, ok := e.cache.Get(where); ok {
			return c, nil
		}
	}
	source, positionals := translate(where)
	program, err := expr.Compile(source,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.Function("_in", membership),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidQuery, where, err)
	}
	c := &compiled{program: program, positionals: positionals}
	if e != nil && e.cache != nil {
		e.cache.Set(where, c, 1)
	}
	return c, nil
}

// Match reports whether doc satisfies the predicate. A condition that
// cannot be evaluated against doc, such as an ordering comparison with a
// missing field, does not match.
func (p *Predicate) Match(doc *Document) bool {
	if p.program == nil {
		return true
	}
	env := doc.Env()
	for name, value := range p.params {
		env[name] = value
	}
	out, err := expr.Run(p.program, env)
	if err != nil {
		return false
	}
	matched, _ := out.(bool)
	return matched
}

func bindArgs(args []any) (map[string]any, bool, error) {
	params := make(map[string]any, len(args))
	if len(args) == 1 {
		var named map[string]any
		switch t := args[0].(type) {
		case Params:
			named = t
		case map[string]any:
			named = t
		}
		if named != nil {
			for name, value := range named {
				n, err := Normalize(value)
				if err != nil {
					return nil, true, fmt.Errorf("%w: parameter %q: %w", ErrInvalidQuery, name, err)
				}
				params[paramPrefix+name] = n
			}
			return params, true, nil
		}
	}
	for i, value := range args {
		n, err := Normalize(value)
		if err != nil {
			return nil, false, fmt.Errorf("%w: parameter %d: %w", ErrInvalidQuery, i, err)
		}
		params[paramPrefix+strconv.Itoa(i)] = n
	}
	return params, false, nil
}

var (
	attrPattern       = regexp.MustCompile(`@([A-Za-z_]\w*)`)
	namedParamPattern = regexp.MustCompile(`:([A-Za-z_]\w*)`)
	isNotNullPattern  = regexp.MustCompile(`(?i)\bis\s+not\s+null\b`)
	isNullPattern     = regexp.MustCompile(`(?i)\bis\s+null\b`)
	nullPattern       = regexp.MustCompile(`(?i)\bnull\b`)
	keywordPattern    = regexp.MustCompile(`(?i)\b(and|or|not|true|false)\b`)
	inPattern         = regexp.MustCompile(`(?i)\b([A-Za-z_][\w.]*)\s+(not\s+)?in\s*\(`)
	pathPattern       = regexp.MustCompile(`\b([A-Za-z_]\w*)((?:\.[A-Za-z_]\w*)+)`)
	fieldRefPattern   = regexp.MustCompile(`\b` + fieldPrefix + `\d+\b`)
)

// translate rewrites a condition into expr syntax. Quoted strings are
// copied verbatim and backtick-quoted field names are read from the
// environment by name. It returns the number of positional placeholders.
func translate(where string) (string, int) {
	var (
		out    strings.Builder
		seg    strings.Builder
		quote  rune
		next   int
		fields []string
	)
	flush := func() {
		out.WriteString(rewriteSegment(seg.String(), &next, fields))
		seg.Reset()
	}
	runes := []rune(where)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			out.WriteRune(r)
			if r == '\\' && i+1 < len(runes) {
				i++
				out.WriteRune(runes[i])
			} else if r == quote {
				quote = 0
			}
		case r == '`':
			end := slices.Index(runes[i+1:], '`')
			if end < 0 {
				seg.WriteRune(r)
				continue
			}
			seg.WriteString(fieldPrefix + strconv.Itoa(len(fields)))
			fields = append(fields, string(runes[i+1:i+1+end]))
			i += end + 1
		case r == '\'' || r == '"':
			flush()
			quote = r
			out.WriteRune(r)
		default:
			seg.WriteRune(r)
		}
	}
	flush()
	return out.String(), next
}

func rewriteSegment(s string, next *int, fields []string) string {
	s = attrPattern.ReplaceAllString(s, "_$1")
	s = namedParamPattern.ReplaceAllString(s, paramPrefix+"$1")
	if strings.Contains(s, "?") {
		var b strings.Builder
		for _, r := range s {
			if r == '?' {
				b.WriteString(paramPrefix + strconv.Itoa(*next))
				*next++
				continue
			}
			b.WriteRune(r)
		}
		s = b.String()
	}
	s = isNotNullPattern.ReplaceAllString(s, "!= nil")
	s = isNullPattern.ReplaceAllString(s, "== nil")
	s = nullPattern.ReplaceAllString(s, "nil")
	s = strings.ReplaceAll(s, "<>", "!=")
	s = singleEquals(s)
	s = inPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := inPattern.FindStringSubmatch(m)
		prefix := ""
		if sub[2] != "" {
			prefix = "!"
		}
		return prefix + "_in(" + sub[1] + ", "
	})
	s = keywordPattern.ReplaceAllStringFunc(s, strings.ToLower)
	s = pathPattern.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ReplaceAll(m, ".", "?.")
	})
	if len(fields) > 0 {
		s = fieldRefPattern.ReplaceAllStringFunc(s, func(m string) string {
			n, err := strconv.Atoi(m[len(fieldPrefix):])
			if err != nil || n >= len(fields) {
				return m
			}
			return fmt.Sprintf("$env[%q]", fields[n])
		})
	}
	return s
}

// singleEquals turns SQL equality "=" into "==", leaving "==", "!=", "<="
// and ">=" alone.
func singleEquals(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '=' {
			prev := byte(0)
			if i > 0 {
				prev = s[i-1]
			}
			nextc := byte(0)
			if i+1 < len(s) {
				nextc = s[i+1]
			}
			if prev != '=' && prev != '!' && prev != '<' && prev != '>' && nextc != '=' {
				b.WriteString("==")
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// membership implements "field in (values)". values are flattened one
// level so a single list parameter behaves like an inline list. A
// list-valued field matches if any of its elements is a member.
func membership(params ...any) (any, error) {
	if len(params) == 0 {
		return false, nil
	}
	var candidates []any
	for _, p := range params[1:] {
		if list, ok := p.([]any); ok {
			candidates = append(candidates, list...)
			continue
		}
		candidates = append(candidates, p)
	}
	contains := func(x any) bool {
		return slices.ContainsFunc(candidates, func(c any) bool { return looseEqual(x, c) })
	}
	if list, ok := params[0].([]any); ok {
		return slices.ContainsFunc(list, contains), nil
	}
	return contains(params[0]), nil
}

func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch at := a.(type) {
	case time.Time:
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !looseEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// Apply orders and limits docs per stmt.
func Apply(stmt *Statement, docs []*Document) []*Document {
	if stmt.OrderBy != "" {
		path := strings.Split(stmt.OrderBy, ".")
		slices.SortStableFunc(docs, func(a, b *Document) int {
			c := compareValues(lookup(a.Env(), path), lookup(b.Env(), path))
			if stmt.Descending {
				return -c
			}
			return c
		})
	}
	if stmt.Limit > 0 && len(docs) > stmt.Limit {
		docs = docs[:stmt.Limit]
	}
	return docs
}

func lookup(env map[string]any, path []string) any {
	var cur any = env
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// compareValues orders nil first, then numbers, strings, times and
// booleans; values of other types compare equal.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch at := a.(type) {
	case string:
		return strings.Compare(at, b.(string))
	case time.Time:
		return at.Compare(b.(time.Time))
	case bool:
		bb := b.(bool)
		switch {
		case at == bb:
			return 0
		case !at:
			return -1
		default:
			return 1
		}
	}
	if fa, ok := toFloat(a); ok {
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int, int64, float64:
		return 1
	case string:
		return 2
	case time.Time:
		return 3
	case bool:
		return 4
	default:
		return 5
	}
}
