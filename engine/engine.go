// Package engine is the persistence façade: it maps models to documents,
// builds property queries, and drives a storage connection.
//
// Every operation is synchronous and fails fast. Batch operations are not
// atomic unless issued on a transaction-bound engine returned by Begin.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/poiesic/persist/core"
	"github.com/poiesic/persist/mapper"
	"github.com/poiesic/persist/metrics"
	"github.com/poiesic/persist/query"
	"github.com/poiesic/persist/storage"
)

// Registry is the part of the model registry the engine consumes.
type Registry interface {
	mapper.Resolver
	NameOf(typ reflect.Type) (string, error)
}

// Type describes the shape of data a provider operates on.
type Type int

const (
	TypeRelational Type = iota + 1
	TypeDocument
)

func (t Type) String() string {
	switch t {
	case TypeRelational:
		return "relational"
	case TypeDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Provider is the static capability descriptor of the engine.
type Provider struct {
	Name string
	Type Type
}

// ProviderName names this persistence provider.
const ProviderName = "persist"

// Engine implements save, update, remove, find, query and transaction
// operations over a storage connection.
//
// Concurrent callers may share an Engine. A transaction-bound Engine
// returned by Begin must not be shared between goroutines.
type Engine struct {
	mu   sync.RWMutex
	conn storage.Connection
	tx   storage.Tx

	registry Registry
	mapper   *mapper.Mapper
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		e.logger = logger
		return nil
	}
}

// WithMetrics records operation metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) error {
		e.metrics = c
		return nil
	}
}

// New creates an engine over conn. conn may be nil; operations then fail
// with core.ErrNotConnected until SetConnection is called.
func New(conn storage.Connection, registry Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	e := &Engine{
		conn:     conn,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.mapper = mapper.New(registry, mapper.WithLogger(e.logger))
	return e, nil
}

// SetConnection binds the engine to conn.
func (e *Engine) SetConnection(conn storage.Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conn = conn
}

// UnsetConnection detaches the engine from its connection. The connection
// is not closed.
func (e *Engine) UnsetConnection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conn = nil
}

// Provider returns the capability descriptor of this engine.
func (e *Engine) Provider() Provider {
	return Provider{Name: ProviderName, Type: TypeDocument}
}

// Type reports that the engine operates on document-shaped data.
func (e *Engine) Type() Type {
	return TypeDocument
}

// Mapper returns the mapper the engine uses.
func (e *Engine) Mapper() *mapper.Mapper {
	return e.mapper
}

func (e *Engine) session() (storage.Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.tx != nil {
		return e.tx, nil
	}
	if e.conn == nil {
		return nil, core.ErrNotConnected
	}
	return e.conn, nil
}

func (e *Engine) observe(operation string, start time.Time, err *error) {
	e.metrics.Observe(operation, start, *err)
	if *err != nil {
		e.logger.Debug("operation failed", "operation", operation, "error", *err)
	}
}

// modelName resolves the logical name m is saved under.
func (e *Engine) modelName(m core.Model) (string, error) {
	if m == nil {
		return "", fmt.Errorf("%w: nil model", core.ErrMapping)
	}
	if name := m.ModelName(); name != "" {
		return name, nil
	}
	name, err := e.registry.NameOf(reflect.TypeOf(m))
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrMapping, err)
	}
	return name, nil
}

// Save creates a new document for each model and sets its identity.
// Models are saved one by one; the first failure stops the loop and
// earlier saves remain.
func (e *Engine) Save(ctx context.Context, models ...core.Model) (err error) {
	defer e.observe("save", time.Now(), &err)
	sess, err := e.session()
	if err != nil {
		return err
	}
	for i, m := range models {
		name, err := e.modelName(m)
		if err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
		if err := e.create(ctx, sess, name, m); err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
	}
	return nil
}

// SaveAs creates a new document for m in the collection of modelName.
func (e *Engine) SaveAs(ctx context.Context, modelName string, m core.Model) (err error) {
	defer e.observe("save", time.Now(), &err)
	sess, err := e.session()
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: nil model", core.ErrMapping)
	}
	return e.create(ctx, sess, modelName, m)
}

func (e *Engine) create(ctx context.Context, sess storage.Session, name string, m core.Model) error {
	if err := core.ValidateModelName(name); err != nil {
		return fmt.Errorf("%w: %w", core.ErrMapping, err)
	}
	if id := m.ID(); id != "" {
		e.logger.Debug("saving model that already has an identity as a new record", "model", name, "id", id)
	}
	doc, err := e.mapper.ToDocument(m, name)
	if err != nil {
		return err
	}
	id, err := sess.Save(ctx, doc, true)
	if err != nil {
		return err
	}
	m.SetID(id)
	e.metrics.AddDocuments("save", 1)
	e.logger.Debug("saved model", "model", name, "id", id)
	return nil
}

// Update overwrites the stored document of each model. Fields the model
// does not carry are left as stored. The identity is unchanged.
func (e *Engine) Update(ctx context.Context, models ...core.Model) (err error) {
	defer e.observe("update", time.Now(), &err)
	sess, err := e.session()
	if err != nil {
		return err
	}
	for i, m := range models {
		if err := e.update(ctx, sess, m); err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
	}
	return nil
}

func (e *Engine) update(ctx context.Context, sess storage.Session, m core.Model) error {
	if m == nil {
		return fmt.Errorf("%w: nil model", core.ErrMapping)
	}
	id := m.ID()
	if id == "" {
		return core.ErrMissingIdentity
	}
	doc, err := sess.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := e.mapper.Merge(m, doc); err != nil {
		return err
	}
	if _, err := sess.Save(ctx, doc, false); err != nil {
		return err
	}
	e.metrics.AddDocuments("update", 1)
	e.logger.Debug("updated model", "model", m.ModelName(), "id", id)
	return nil
}

// SaveOrUpdate saves models without an identity and updates the rest.
func (e *Engine) SaveOrUpdate(ctx context.Context, models ...core.Model) (err error) {
	defer e.observe("save_or_update", time.Now(), &err)
	sess, err := e.session()
	if err != nil {
		return err
	}
	for i, m := range models {
		if m != nil && m.ID() != "" {
			err = e.update(ctx, sess, m)
		} else {
			var name string
			if name, err = e.modelName(m); err == nil {
				err = e.create(ctx, sess, name, m)
			}
		}
		if err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
	}
	return nil
}

// Remove deletes the stored document of each model. The models keep
// their now stale identities.
func (e *Engine) Remove(ctx context.Context, models ...core.Model) (err error) {
	defer e.observe("remove", time.Now(), &err)
	sess, err := e.session()
	if err != nil {
		return err
	}
	for i, m := range models {
		if m == nil || m.ID() == "" {
			return fmt.Errorf("model %d: %w", i, core.ErrMissingIdentity)
		}
		if err := sess.Delete(ctx, m.ID()); err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
		e.metrics.AddDocuments("remove", 1)
	}
	return nil
}

// RemoveByID deletes stored documents by identity.
func (e *Engine) RemoveByID(ctx context.Context, ids ...string) (err error) {
	defer e.observe("remove", time.Now(), &err)
	sess, err := e.session()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == "" {
			return core.ErrMissingIdentity
		}
		if err := sess.Delete(ctx, id); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		e.metrics.AddDocuments("remove", 1)
	}
	return nil
}

// Delete deletes the stored document with the given identity.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.RemoveByID(ctx, id)
}

// Find returns every stored model of modelName. The result is never nil.
func (e *Engine) Find(ctx context.Context, modelName string) ([]core.Model, error) {
	if err := core.ValidateModelName(modelName); err != nil {
		return nil, err
	}
	return e.ExecuteQuery(ctx, query.BuildSelect(modelName))
}

// FindByID returns the model of modelName with identity id, or nil if
// there is none.
func (e *Engine) FindByID(ctx context.Context, modelName, id string) (core.Model, error) {
	models, err := e.FindByProperty(ctx, modelName, core.IDProperty, core.String(id))
	if err != nil || len(models) == 0 {
		return nil, err
	}
	return models[0], nil
}

// FindByProperty returns the models of modelName whose property equals value.
func (e *Engine) FindByProperty(ctx context.Context, modelName, property string, value core.Value) ([]core.Model, error) {
	return e.FindByProperties(ctx, modelName, map[string]core.Value{property: value})
}

// FindByProperties returns the models of modelName matching every
// property. It fails with core.ErrUnknownModel, without querying, if the
// model's collection does not exist.
func (e *Engine) FindByProperties(ctx context.Context, modelName string, props map[string]core.Value) ([]core.Model, error) {
	exists, err := e.ModelExists(ctx, modelName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownModel, modelName)
	}
	q, err := query.Build(modelName, props)
	if err != nil {
		return nil, err
	}
	return e.ExecuteQuery(ctx, q.Text, q.Params)
}

// ExecuteQuery runs a select statement and maps every row. Rows with no
// stored class map to untyped bags. The caller is trusted: statement text
// is passed to the store as is.
func (e *Engine) ExecuteQuery(ctx context.Context, statement string, args ...any) ([]core.Model, error) {
	return e.ExecuteQueryLimit(ctx, statement, 0, args...)
}

// ExecuteQueryLimit is ExecuteQuery returning at most limit models.
// A limit of zero or less means no limit.
func (e *Engine) ExecuteQueryLimit(ctx context.Context, statement string, limit int, args ...any) (models []core.Model, err error) {
	defer e.observe("query", time.Now(), &err)
	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	docs, err := sess.Query(ctx, statement, args...)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	models = make([]core.Model, 0, len(docs))
	for i, doc := range docs {
		m, err := e.mapper.ToModel(doc)
		if err != nil {
			return nil, fmt.Errorf("mapping row %d (%s): %w", i, doc.Identity, err)
		}
		models = append(models, m)
	}
	e.metrics.AddDocuments("query", len(models))
	return models, nil
}

// Command runs a delete or create statement and returns the number of
// documents affected.
func (e *Engine) Command(ctx context.Context, statement string, args ...any) (n int, err error) {
	defer e.observe("command", time.Now(), &err)
	sess, err := e.session()
	if err != nil {
		return 0, err
	}
	return sess.Command(ctx, statement, args...)
}

// AddModel ensures the collection of modelName exists.
func (e *Engine) AddModel(ctx context.Context, modelName string) (err error) {
	defer e.observe("add_model", time.Now(), &err)
	if err := core.ValidateModelName(modelName); err != nil {
		return err
	}
	sess, err := e.session()
	if err != nil {
		return err
	}
	return sess.CreateCollection(ctx, modelName)
}

// ModelExists reports whether the collection of modelName exists.
func (e *Engine) ModelExists(ctx context.Context, modelName string) (bool, error) {
	if err := core.ValidateModelName(modelName); err != nil {
		return false, err
	}
	sess, err := e.session()
	if err != nil {
		return false, err
	}
	return sess.ExistsCollection(ctx, modelName)
}
