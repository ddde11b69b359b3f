package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/persist/core"
)

// Begin starts a transaction and returns an engine bound to it. Operations
// on the returned engine run inside the transaction until Commit or
// Rollback. The receiver is unaffected.
func (e *Engine) Begin(ctx context.Context) (tx *Engine, err error) {
	defer e.observe("begin", time.Now(), &err)

	e.mu.RLock()
	conn, bound := e.conn, e.tx != nil
	e.mu.RUnlock()
	if bound {
		return nil, ErrNestedTransaction
	}
	if conn == nil {
		return nil, core.ErrNotConnected
	}

	stx, err := conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("transaction started")
	return &Engine{
		tx:       stx,
		registry: e.registry,
		mapper:   e.mapper,
		metrics:  e.metrics,
		logger:   e.logger,
	}, nil
}

// Commit commits the bound transaction.
func (e *Engine) Commit(ctx context.Context) (err error) {
	defer e.observe("commit", time.Now(), &err)
	e.mu.RLock()
	tx := e.tx
	e.mu.RUnlock()
	if tx == nil {
		return ErrNotInTransaction
	}
	return tx.Commit(ctx)
}

// Rollback discards the bound transaction.
func (e *Engine) Rollback(ctx context.Context) (err error) {
	defer e.observe("rollback", time.Now(), &err)
	e.mu.RLock()
	tx := e.tx
	e.mu.RUnlock()
	if tx == nil {
		return ErrNotInTransaction
	}
	return tx.Rollback(ctx)
}

// InTransaction runs fn with a transaction-bound engine, committing if fn
// succeeds and rolling back otherwise.
func (e *Engine) InTransaction(ctx context.Context, fn func(tx *Engine) error) error {
	tx, err := e.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
