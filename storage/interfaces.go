package storage

import "context"

// Params binds named statement parameters (":name").
type Params map[string]any

// Session is the data-access surface shared by connections and transactions.
type Session interface {
	// Load returns the document with the given identity.
	// Returns ErrNotFound if no such document exists.
	Load(ctx context.Context, id string) (*Document, error)

	// Save writes doc to the collection named by its class.
	// When isNew is true a new identity is assigned and the collection is
	// created if needed; otherwise doc.Identity must address an existing
	// document, which is overwritten (ErrNotFound if absent).
	// Returns the document's identity.
	Save(ctx context.Context, doc *Document, isNew bool) (string, error)

	// Delete removes the document with the given identity.
	// Returns ErrNotFound if no such document exists.
	Delete(ctx context.Context, id string) error

	// Query executes a select statement. args are either positional values
	// for "?" placeholders or a single Params for ":name" placeholders.
	// Querying a collection that does not exist returns no documents.
	Query(ctx context.Context, statement string, args ...any) ([]*Document, error)

	// Command executes a delete or create statement and returns the number
	// of documents affected.
	Command(ctx context.Context, statement string, args ...any) (int, error)

	// ExistsCollection reports whether the named collection exists.
	// Names are matched case-insensitively.
	ExistsCollection(ctx context.Context, name string) (bool, error)

	// CreateCollection creates the named collection if it does not exist.
	CreateCollection(ctx context.Context, name string) error
}

// Connection is a Session that can begin transactions.
// Implementations must be thread-safe.
type Connection interface {
	Session

	// Begin starts a transaction. Operations issued on the returned Tx are
	// isolated until Commit.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the connection.
	Close() error
}

// Tx is a Session bound to a single transaction.
type Tx interface {
	Session

	// Commit makes the transaction's writes durable.
	Commit(ctx context.Context) error

	// Rollback discards the transaction's writes. Rolling back a finished
	// transaction returns ErrTransactionClosed.
	Rollback(ctx context.Context) error
}
