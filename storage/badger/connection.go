package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/persist/storage"
)

const defaultProgramCacheSize = 1024

// Connection implements storage.Connection for BadgerDB. Each operation
// issued directly on a Connection runs in its own transaction.
type Connection struct {
	backend *Backend
	eval    *storage.Evaluator
	logger  *slog.Logger

	mu         sync.Mutex
	closed     bool
	clusterSeq *badger.Sequence
	positions  map[uint64]*badger.Sequence
}

var _ storage.Connection = (*Connection)(nil)

type connectionConfig struct {
	logger    *slog.Logger
	cacheSize int64
}

// Option configures a Connection.
type Option func(*connectionConfig) error

// WithLogger sets the logger used by the connection.
func WithLogger(logger *slog.Logger) Option {
	return func(c *connectionConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithProgramCacheSize sets how many compiled statement conditions are cached.
func WithProgramCacheSize(size int64) Option {
	return func(c *connectionConfig) error {
		if size < 1 {
			return fmt.Errorf("program cache size must be positive, got %d", size)
		}
		c.cacheSize = size
		return nil
	}
}

func buildConfig(opts []Option) (*connectionConfig, error) {
	cfg := &connectionConfig{
		logger:    slog.Default(),
		cacheSize: defaultProgramCacheSize,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Open opens a BadgerDB database at path and returns a connection that
// owns it.
func Open(path string, inMemory bool, opts ...Option) (*Connection, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	backend, err := OpenBackendWithLogger(path, inMemory, cfg.logger)
	if err != nil {
		return nil, err
	}
	conn, err := newConnection(backend, cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return conn, nil
}

// NewConnection creates a connection over an open backend. The connection
// takes ownership of the backend and closes it on Close.
func NewConnection(backend *Backend, opts ...Option) (*Connection, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return newConnection(backend, cfg)
}

func newConnection(backend *Backend, cfg *connectionConfig) (*Connection, error) {
	clusterSeq, err := backend.GetSequence(clusterIDSeq)
	if err != nil {
		return nil, err
	}
	eval, err := storage.NewEvaluator(cfg.cacheSize)
	if err != nil {
		clusterSeq.Release()
		return nil, err
	}
	return &Connection{
		backend:    backend,
		eval:       eval,
		logger:     cfg.logger,
		clusterSeq: clusterSeq,
		positions:  make(map[uint64]*badger.Sequence),
	}, nil
}

// Close releases the ID sequences and closes the backend.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, seq := range c.positions {
		errs = append(errs, seq.Release())
	}
	errs = append(errs, c.clusterSeq.Release())
	c.eval.Close()
	errs = append(errs, c.backend.Close())
	return errors.Join(errs...)
}

func (c *Connection) nextCluster() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, storage.ErrStorageClosed
	}
	return nextID(c.clusterSeq)
}

func (c *Connection) nextPosition(cluster uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, storage.ErrStorageClosed
	}
	seq, ok := c.positions[cluster]
	if !ok {
		var err error
		seq, err = c.backend.GetSequence(makePositionSeqName(cluster))
		if err != nil {
			return 0, err
		}
		c.positions[cluster] = seq
	}
	return nextID(seq)
}

func (c *Connection) read(ctx context.Context, fn func(s *session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.backend.WithTx(func(tx *badger.Txn) error {
		return fn(&session{conn: c, txn: tx})
	}, false)
}

func (c *Connection) write(ctx context.Context, fn func(s *session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.backend.WithTx(func(tx *badger.Txn) error {
		if err := fn(&session{conn: c, txn: tx}); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Load returns the document with the given identity.
func (c *Connection) Load(ctx context.Context, id string) (*storage.Document, error) {
	var doc *storage.Document
	err := c.read(ctx, func(s *session) error {
		var err error
		doc, err = s.load(id)
		return err
	})
	return doc, err
}

// Save writes doc in its own transaction.
func (c *Connection) Save(ctx context.Context, doc *storage.Document, isNew bool) (string, error) {
	var identity string
	err := c.write(ctx, func(s *session) error {
		var err error
		identity, err = s.save(doc, isNew)
		return err
	})
	if err != nil {
		return "", err
	}
	return identity, nil
}

// Delete removes the document with the given identity.
func (c *Connection) Delete(ctx context.Context, id string) error {
	return c.write(ctx, func(s *session) error {
		return s.delete(id)
	})
}

// Query executes a select statement.
func (c *Connection) Query(ctx context.Context, statement string, args ...any) ([]*storage.Document, error) {
	var docs []*storage.Document
	err := c.read(ctx, func(s *session) error {
		var err error
		docs, err = s.query(statement, args)
		return err
	})
	return docs, err
}

// Command executes a delete or create statement.
func (c *Connection) Command(ctx context.Context, statement string, args ...any) (int, error) {
	var n int
	err := c.write(ctx, func(s *session) error {
		var err error
		n, err = s.command(statement, args)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ExistsCollection reports whether the named collection exists.
func (c *Connection) ExistsCollection(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.read(ctx, func(s *session) error {
		var err error
		_, exists, err = s.cluster(name)
		return err
	})
	return exists, err
}

// CreateCollection creates the named collection if it does not exist.
func (c *Connection) CreateCollection(ctx context.Context, name string) error {
	return c.write(ctx, func(s *session) error {
		_, _, err := s.ensureCluster(name)
		return err
	})
}

// Begin starts a read-write transaction.
func (c *Connection) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn, err := c.backend.NewTransaction(true)
	if err != nil {
		return nil, err
	}
	return &Tx{session: session{conn: c, txn: txn}}, nil
}

// session runs storage operations against a single badger transaction.
type session struct {
	conn *Connection
	txn  *badger.Txn
}

func (s *session) cluster(name string) (uint64, bool, error) {
	item, err := s.txn.Get(makeCollectionKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var cluster uint64
	err = item.Value(func(val []byte) error {
		var err error
		cluster, err = decodeCluster(val)
		return err
	})
	return cluster, err == nil, err
}

func (s *session) ensureCluster(name string) (uint64, bool, error) {
	cluster, exists, err := s.cluster(name)
	if err != nil || exists {
		return cluster, false, err
	}
	cluster, err = s.conn.nextCluster()
	if err != nil {
		return 0, false, err
	}
	if err := s.txn.Set(makeCollectionKey(name), encodeCluster(cluster)); err != nil {
		return 0, false, err
	}
	s.conn.logger.Debug("created collection", "collection", storage.CollectionName(name), "cluster", cluster)
	return cluster, true, nil
}

func (s *session) load(id string) (*storage.Document, error) {
	cluster, position, err := ParseIdentity(id)
	if err != nil {
		return nil, err
	}
	doc, err := s.read(makeDocumentKey(cluster, position))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return doc, nil
}

// read returns the document stored under key, or nil if there is none.
func (s *session) read(key []byte) (*storage.Document, error) {
	item, err := s.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc *storage.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}

func (s *session) exists(key []byte) (bool, error) {
	_, err := s.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *session) save(doc *storage.Document, isNew bool) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("%w: nil document", storage.ErrSerializationFailed)
	}

	var key []byte
	identity := doc.Identity
	if isNew {
		cluster, _, err := s.ensureCluster(doc.Collection())
		if err != nil {
			return "", err
		}
		position, err := s.conn.nextPosition(cluster)
		if err != nil {
			return "", err
		}
		key = makeDocumentKey(cluster, position)
		identity = FormatIdentity(cluster, position)
	} else {
		cluster, position, err := ParseIdentity(doc.Identity)
		if err != nil {
			return "", err
		}
		key = makeDocumentKey(cluster, position)
		exists, err := s.exists(key)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", fmt.Errorf("%w: %s", storage.ErrNotFound, doc.Identity)
		}
	}

	stored := doc.Clone()
	stored.Identity = identity
	data, err := storage.MarshalDocument(stored)
	if err != nil {
		return "", err
	}
	if err := s.txn.Set(key, data); err != nil {
		return "", err
	}
	return identity, nil
}

func (s *session) delete(id string) error {
	cluster, position, err := ParseIdentity(id)
	if err != nil {
		return err
	}
	key := makeDocumentKey(cluster, position)
	exists, err := s.exists(key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return s.txn.Delete(key)
}

// scan calls fn for every document in cluster in insertion order.
func (s *session) scan(cluster uint64, fn func(key []byte, doc *storage.Document) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeClusterPrefix(cluster)
	iter := s.txn.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		var doc *storage.Document
		err := item.Value(func(val []byte) error {
			var err error
			doc, err = storage.UnmarshalDocument(val)
			return err
		})
		if err != nil {
			return fmt.Errorf("reading %x: %w", item.Key(), err)
		}
		if err := fn(item.KeyCopy(nil), doc); err != nil {
			return err
		}
	}
	return nil
}

// matching returns the keys and documents in stmt's collection that
// satisfy its condition.
func (s *session) matching(stmt *storage.Statement, args []any) ([][]byte, []*storage.Document, error) {
	pred, err := s.conn.eval.Prepare(stmt, args...)
	if err != nil {
		return nil, nil, err
	}
	cluster, exists, err := s.cluster(stmt.Collection)
	if err != nil || !exists {
		return nil, nil, err
	}
	var (
		keys [][]byte
		docs []*storage.Document
	)
	err = s.scan(cluster, func(key []byte, doc *storage.Document) error {
		if pred.Match(doc) {
			keys = append(keys, key)
			docs = append(docs, doc)
		}
		return nil
	})
	return keys, docs, err
}

func (s *session) query(statement string, args []any) ([]*storage.Document, error) {
	stmt, err := storage.ParseStatement(statement)
	if err != nil {
		return nil, err
	}
	if stmt.Verb != storage.VerbSelect {
		return nil, fmt.Errorf("%w: query requires a select statement", storage.ErrInvalidQuery)
	}
	_, docs, err := s.matching(stmt, args)
	if err != nil {
		return nil, err
	}
	return storage.Apply(stmt, docs), nil
}

func (s *session) command(statement string, args []any) (int, error) {
	stmt, err := storage.ParseStatement(statement)
	if err != nil {
		return 0, err
	}
	switch stmt.Verb {
	case storage.VerbCreateClass:
		_, created, err := s.ensureCluster(stmt.Collection)
		if err != nil || !created {
			return 0, err
		}
		return 1, nil
	case storage.VerbDelete:
		keys, _, err := s.matching(stmt, args)
		if err != nil {
			return 0, err
		}
		for _, key := range keys {
			if err := s.txn.Delete(key); err != nil {
				return 0, err
			}
		}
		return len(keys), nil
	default:
		return 0, fmt.Errorf("%w: use Query for select statements", storage.ErrInvalidQuery)
	}
}
