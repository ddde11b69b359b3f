package storage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Verb identifies the kind of statement.
type Verb int

const (
	VerbSelect Verb = iota + 1
	VerbDelete
	VerbCreateClass
)

// Statement is a parsed select, delete or create statement.
type Statement struct {
	Verb Verb

	// Collection is the lower-cased target collection.
	Collection string

	// Where is the raw condition text; empty matches every document.
	Where string

	// OrderBy is a field path; empty keeps storage order.
	OrderBy    string
	Descending bool

	// Limit caps the number of results; 0 means unlimited.
	Limit int
}

var (
	createPattern = regexp.MustCompile(`(?is)^\s*create\s+class\s+([A-Za-z_][A-Za-z0-9_]*)\s*;?\s*$`)
	selectPattern = regexp.MustCompile(`(?is)^\s*select\s+(?:.*?\s+)?from\s+([A-Za-z_][A-Za-z0-9_]*)(.*)$`)
	deletePattern = regexp.MustCompile(`(?is)^\s*delete\s+from\s+([A-Za-z_][A-Za-z0-9_]*)(.*)$`)
	tailPattern   = regexp.MustCompile(`(?is)^\s*(?:where\s+(.*?))?\s*(?:order\s+by\s+([A-Za-z_][A-Za-z0-9_.]*)(?:\s+(asc|desc))?)?\s*(?:limit\s+(\d+))?\s*;?\s*$`)
)

// ParseStatement parses statement text.
func ParseStatement(text string) (*Statement, error) {
	if m := createPattern.FindStringSubmatch(text); m != nil {
		return &Statement{Verb: VerbCreateClass, Collection: CollectionName(m[1])}, nil
	}

	var (
		stmt Statement
		tail string
	)
	if m := selectPattern.FindStringSubmatch(text); m != nil {
		stmt = Statement{Verb: VerbSelect, Collection: CollectionName(m[1])}
		tail = m[2]
	} else if m := deletePattern.FindStringSubmatch(text); m != nil {
		stmt = Statement{Verb: VerbDelete, Collection: CollectionName(m[1])}
		tail = m[2]
	} else {
		return nil, fmt.Errorf("%w: unrecognized statement %q", ErrInvalidQuery, text)
	}

	idx := tailPattern.FindStringSubmatchIndex(tail)
	if idx == nil {
		return nil, fmt.Errorf("%w: cannot parse %q", ErrInvalidQuery, strings.TrimSpace(tail))
	}
	group := func(n int) string {
		if idx[2*n] < 0 {
			return ""
		}
		return tail[idx[2*n]:idx[2*n+1]]
	}
	stmt.Where = strings.TrimSpace(group(1))
	if idx[2] >= 0 && stmt.Where == "" {
		return nil, fmt.Errorf("%w: empty where clause", ErrInvalidQuery)
	}
	stmt.OrderBy = group(2)
	stmt.Descending = strings.EqualFold(group(3), "desc")
	if limit := group(4); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("%w: limit %q", ErrInvalidQuery, limit)
		}
		stmt.Limit = n
	}
	if stmt.Verb == VerbDelete && (stmt.OrderBy != "" || stmt.Limit != 0) {
		return nil, fmt.Errorf("%w: delete does not support order by or limit", ErrInvalidQuery)
	}
	return &stmt, nil
}
