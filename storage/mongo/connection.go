package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/poiesic/persist/storage"
)

const (
	defaultConnectTimeout   = 10 * time.Second
	defaultProgramCacheSize = 1024
)

// Connection implements storage.Connection for MongoDB. Collections are
// scanned and filtered client side with the shared statement evaluator.
type Connection struct {
	client *mongo.Client
	db     *mongo.Database
	eval   *storage.Evaluator
	logger *slog.Logger
}

var _ storage.Connection = (*Connection)(nil)

type connectionConfig struct {
	logger    *slog.Logger
	timeout   time.Duration
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

// WithConnectTimeout bounds the initial connect and ping.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *connectionConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %s", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// Connect opens a client for uri and binds it to database.
// Caller must Close the connection.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Connection, error) {
	cfg := &connectionConfig{
		logger:    slog.Default(),
		timeout:   defaultConnectTimeout,
		cacheSize: defaultProgramCacheSize,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if database == "" {
		return nil, errors.New("database name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	eval, err := storage.NewEvaluator(cfg.cacheSize)
	if err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	cfg.logger.Debug("connected to mongodb", "database", database)
	return &Connection{
		client: client,
		db:     client.Database(database),
		eval:   eval,
		logger: cfg.logger,
	}, nil
}

// Close disconnects the client.
func (c *Connection) Close() error {
	c.eval.Close()
	return c.client.Disconnect(context.Background())
}

func (c *Connection) session() *session {
	return &session{conn: c, bind: func(ctx context.Context) context.Context { return ctx }}
}

// Load returns the document with the given identity.
func (c *Connection) Load(ctx context.Context, id string) (*storage.Document, error) {
	return c.session().load(ctx, id)
}

// Save writes doc.
func (c *Connection) Save(ctx context.Context, doc *storage.Document, isNew bool) (string, error) {
	return c.session().save(ctx, doc, isNew)
}

// Delete removes the document with the given identity.
func (c *Connection) Delete(ctx context.Context, id string) error {
	return c.session().delete(ctx, id)
}

// Query executes a select statement.
func (c *Connection) Query(ctx context.Context, statement string, args ...any) ([]*storage.Document, error) {
	return c.session().query(ctx, statement, args)
}

// Command executes a delete or create statement.
func (c *Connection) Command(ctx context.Context, statement string, args ...any) (int, error) {
	return c.session().command(ctx, statement, args)
}

// ExistsCollection reports whether the named collection exists.
func (c *Connection) ExistsCollection(ctx context.Context, name string) (bool, error) {
	return c.session().existsCollection(ctx, name)
}

// CreateCollection creates the named collection if it does not exist.
func (c *Connection) CreateCollection(ctx context.Context, name string) error {
	_, err := c.session().createCollection(ctx, name)
	return err
}

// Begin starts a client session with an open transaction. Transactions
// require a replica set or sharded cluster.
func (c *Connection) Begin(ctx context.Context) (storage.Tx, error) {
	sess, err := c.client.StartSession()
	if err != nil {
		return nil, err
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return nil, err
	}
	tx := &Tx{sess: sess}
	tx.session = session{conn: c, bind: func(ctx context.Context) context.Context {
		return mongo.NewSessionContext(ctx, sess)
	}}
	return tx, nil
}

// session runs storage operations, binding each call's context to a
// client session when inside a transaction.
type session struct {
	conn *Connection
	bind func(context.Context) context.Context
}

func (s *session) collection(name string) *mongo.Collection {
	return s.conn.db.Collection(storage.CollectionName(name))
}

func (s *session) load(ctx context.Context, id string) (*storage.Document, error) {
	collection, oid, err := ParseIdentity(id)
	if err != nil {
		return nil, err
	}
	var raw bson.M
	err = s.collection(collection).FindOne(s.bind(ctx), bson.M{idKey: oid}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return fromBSON(collection, raw)
}

func (s *session) save(ctx context.Context, doc *storage.Document, isNew bool) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("%w: nil document", storage.ErrSerializationFailed)
	}
	body, err := toBSON(doc)
	if err != nil {
		return "", err
	}

	if isNew {
		collection := doc.Collection()
		oid := primitive.NewObjectID()
		body = append(bson.D{{Key: idKey, Value: oid}}, body...)
		if _, err := s.collection(collection).InsertOne(s.bind(ctx), body); err != nil {
			return "", err
		}
		return FormatIdentity(collection, oid), nil
	}

	collection, oid, err := ParseIdentity(doc.Identity)
	if err != nil {
		return "", err
	}
	res, err := s.collection(collection).ReplaceOne(s.bind(ctx), bson.M{idKey: oid}, body)
	if err != nil {
		return "", err
	}
	if res.MatchedCount == 0 {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, doc.Identity)
	}
	return doc.Identity, nil
}

func (s *session) delete(ctx context.Context, id string) error {
	collection, oid, err := ParseIdentity(id)
	if err != nil {
		return err
	}
	res, err := s.collection(collection).DeleteOne(s.bind(ctx), bson.M{idKey: oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return nil
}

// matching returns the object ids and documents in stmt's collection that
// satisfy its condition, in insertion order.
func (s *session) matching(ctx context.Context, stmt *storage.Statement, args []any) ([]primitive.ObjectID, []*storage.Document, error) {
	pred, err := s.conn.eval.Prepare(stmt, args...)
	if err != nil {
		return nil, nil, err
	}
	cur, err := s.collection(stmt.Collection).Find(s.bind(ctx), bson.M{},
		options.Find().SetSort(bson.D{{Key: idKey, Value: 1}}))
	if err != nil {
		return nil, nil, err
	}
	defer cur.Close(ctx)

	var (
		ids  []primitive.ObjectID
		docs []*storage.Document
	)
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, nil, err
		}
		doc, err := fromBSON(stmt.Collection, raw)
		if err != nil {
			return nil, nil, err
		}
		if pred.Match(doc) {
			oid, _ := raw[idKey].(primitive.ObjectID)
			ids = append(ids, oid)
			docs = append(docs, doc)
		}
	}
	return ids, docs, cur.Err()
}

func (s *session) query(ctx context.Context, statement string, args []any) ([]*storage.Document, error) {
	stmt, err := storage.ParseStatement(statement)
	if err != nil {
		return nil, err
	}
	if stmt.Verb != storage.VerbSelect {
		return nil, fmt.Errorf("%w: query requires a select statement", storage.ErrInvalidQuery)
	}
	_, docs, err := s.matching(ctx, stmt, args)
	if err != nil {
		return nil, err
	}
	return storage.Apply(stmt, docs), nil
}

func (s *session) command(ctx context.Context, statement string, args []any) (int, error) {
	stmt, err := storage.ParseStatement(statement)
	if err != nil {
		return 0, err
	}
	switch stmt.Verb {
	case storage.VerbCreateClass:
		created, err := s.createCollection(ctx, stmt.Collection)
		if err != nil || !created {
			return 0, err
		}
		return 1, nil
	case storage.VerbDelete:
		ids, _, err := s.matching(ctx, stmt, args)
		if err != nil || len(ids) == 0 {
			return 0, err
		}
		res, err := s.collection(stmt.Collection).DeleteMany(s.bind(ctx), bson.M{idKey: bson.M{"$in": ids}})
		if err != nil {
			return 0, err
		}
		return int(res.DeletedCount), nil
	default:
		return 0, fmt.Errorf("%w: use Query for select statements", storage.ErrInvalidQuery)
	}
}

func (s *session) existsCollection(ctx context.Context, name string) (bool, error) {
	names, err := s.conn.db.ListCollectionNames(s.bind(ctx), bson.M{"name": storage.CollectionName(name)})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

func (s *session) createCollection(ctx context.Context, name string) (bool, error) {
	exists, err := s.existsCollection(ctx, name)
	if err != nil || exists {
		return false, err
	}
	if err := s.conn.db.CreateCollection(s.bind(ctx), storage.CollectionName(name)); err != nil {
		return false, err
	}
	s.conn.logger.Debug("created collection", "collection", storage.CollectionName(name))
	return true, nil
}
