package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/poiesic/persist/storage"
)

// Tx is a storage.Tx over a MongoDB client session transaction.
type Tx struct {
	session
	sess mongo.Session
	done bool
}

var _ storage.Tx = (*Tx)(nil)

func (t *Tx) check(ctx context.Context) error {
	if t.done {
		return storage.ErrTransactionClosed
	}
	return ctx.Err()
}

// Load returns the document with the given identity.
func (t *Tx) Load(ctx context.Context, id string) (*storage.Document, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return t.load(ctx, id)
}

// Save writes doc inside the transaction.
func (t *Tx) Save(ctx context.Context, doc *storage.Document, isNew bool) (string, error) {
	if err := t.check(ctx); err != nil {
		return "", err
	}
	return t.save(ctx, doc, isNew)
}

// Delete removes the document with the given identity.
func (t *Tx) Delete(ctx context.Context, id string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	return t.delete(ctx, id)
}

// Query executes a select statement.
func (t *Tx) Query(ctx context.Context, statement string, args ...any) ([]*storage.Document, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return t.query(ctx, statement, args)
}

// Command executes a delete or create statement.
func (t *Tx) Command(ctx context.Context, statement string, args ...any) (int, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	return t.command(ctx, statement, args)
}

// ExistsCollection reports whether the named collection exists.
func (t *Tx) ExistsCollection(ctx context.Context, name string) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	return t.existsCollection(ctx, name)
}

// CreateCollection creates the named collection if it does not exist.
func (t *Tx) CreateCollection(ctx context.Context, name string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	_, err := t.createCollection(ctx, name)
	return err
}

// Commit commits the transaction and ends the session.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return storage.ErrTransactionClosed
	}
	t.done = true
	defer t.sess.EndSession(ctx)
	return t.sess.CommitTransaction(ctx)
}

// Rollback aborts the transaction and ends the session.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return storage.ErrTransactionClosed
	}
	t.done = true
	defer t.sess.EndSession(ctx)
	return t.sess.AbortTransaction(ctx)
}
