package badger

import (
	"context"

	"github.com/poiesic/persist/storage"
)

// Tx is a storage.Tx over one badger read-write transaction. Reads see
// the transaction's own writes.
type Tx struct {
	session
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
	return t.load(id)
}

// Save writes doc inside the transaction.
func (t *Tx) Save(ctx context.Context, doc *storage.Document, isNew bool) (string, error) {
	if err := t.check(ctx); err != nil {
		return "", err
	}
	return t.save(doc, isNew)
}

// Delete removes the document with the given identity.
func (t *Tx) Delete(ctx context.Context, id string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	return t.delete(id)
}

// Query executes a select statement.
func (t *Tx) Query(ctx context.Context, statement string, args ...any) ([]*storage.Document, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return t.query(statement, args)
}

// Command executes a delete or create statement.
func (t *Tx) Command(ctx context.Context, statement string, args ...any) (int, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	return t.command(statement, args)
}

// ExistsCollection reports whether the named collection exists.
func (t *Tx) ExistsCollection(ctx context.Context, name string) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	_, exists, err := t.cluster(name)
	return exists, err
}

// CreateCollection creates the named collection if it does not exist.
func (t *Tx) CreateCollection(ctx context.Context, name string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	_, _, err := t.ensureCluster(name)
	return err
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return storage.ErrTransactionClosed
	}
	t.done = true
	return t.txn.Commit()
}

// Rollback discards the transaction.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return storage.ErrTransactionClosed
	}
	t.done = true
	t.txn.Discard()
	return nil
}
