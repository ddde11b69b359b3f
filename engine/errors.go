package engine

import "errors"

var (
	// ErrNotInTransaction indicates Commit or Rollback on an engine that is
	// not bound to a transaction.
	ErrNotInTransaction = errors.New("engine is not bound to a transaction")

	// ErrNestedTransaction indicates Begin on an engine already bound to a
	// transaction.
	ErrNestedTransaction = errors.New("nested transactions are not supported")
)
