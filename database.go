// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package persist

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/poiesic/persist/config"
	"github.com/poiesic/persist/engine"
	"github.com/poiesic/persist/ingestion"
	"github.com/poiesic/persist/metrics"
	"github.com/poiesic/persist/registry"
	"github.com/poiesic/persist/storage"
	"github.com/poiesic/persist/storage/badger"
	"github.com/poiesic/persist/storage/mongo"
)

// MetricsNamespace prefixes the metrics registered by WithMetrics.
const MetricsNamespace = "persist"

// Database bundles a store connection, a model registry and the engine
// that maps between them.
type Database struct {
	conn     storage.Connection
	registry *registry.Registry
	engine   *engine.Engine
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	inMemory         bool
	registry         *registry.Registry
	manifest         string
	logger           *slog.Logger
	registerer       prometheus.Registerer
	programCacheSize int64
}

// WithInMemory opens the badger store in memory; the path is ignored.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) { o.inMemory = true }
}

// WithRegistry uses reg instead of an empty registry.
func WithRegistry(reg *registry.Registry) DatabaseOption {
	return func(o *databaseOptions) { o.registry = reg }
}

// WithManifest loads model declarations from a YAML manifest file.
func WithManifest(path string) DatabaseOption {
	return func(o *databaseOptions) { o.manifest = path }
}

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) { o.logger = logger }
}

// WithMetrics registers engine metrics on reg.
func WithMetrics(reg prometheus.Registerer) DatabaseOption {
	return func(o *databaseOptions) { o.registerer = reg }
}

// WithProgramCacheSize bounds the number of compiled predicates cached by
// the badger store.
func WithProgramCacheSize(size int64) DatabaseOption {
	return func(o *databaseOptions) { o.programCacheSize = size }
}

func buildOptions(opts []DatabaseOption) (*databaseOptions, error) {
	options := &databaseOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.registry == nil {
		options.registry = registry.New()
	}
	if options.manifest != "" {
		if err := options.registry.LoadManifestFile(options.manifest); err != nil {
			return nil, err
		}
	}
	return options, nil
}

// NewDatabase opens a badger-backed database at filePath.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	options, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	badgerOpts := []badger.Option{badger.WithLogger(options.logger)}
	if options.programCacheSize > 0 {
		badgerOpts = append(badgerOpts, badger.WithProgramCacheSize(options.programCacheSize))
	}
	conn, err := badger.Open(filePath, options.inMemory, badgerOpts...)
	if err != nil {
		return nil, err
	}
	return newDatabase(conn, options)
}

// ConnectMongo opens a database backed by a MongoDB server.
func ConnectMongo(ctx context.Context, uri, database string, opts ...DatabaseOption) (*Database, error) {
	options, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	conn, err := mongo.Connect(ctx, uri, database, mongo.WithLogger(options.logger))
	if err != nil {
		return nil, err
	}
	return newDatabase(conn, options)
}

// Open opens the database described by cfg. Options given here are applied
// after the ones derived from cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var base []DatabaseOption
	if cfg.ModelsPath != "" {
		base = append(base, WithManifest(cfg.ModelsPath))
	}
	if cfg.ProgramCacheSize > 0 {
		base = append(base, WithProgramCacheSize(cfg.ProgramCacheSize))
	}
	if cfg.InMemory {
		base = append(base, WithInMemory())
	}
	opts = append(base, opts...)

	switch cfg.Driver {
	case config.DriverMongo:
		return ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, opts...)
	default:
		return NewDatabase(cfg.DBPath, opts...)
	}
}

func newDatabase(conn storage.Connection, options *databaseOptions) (*Database, error) {
	engineOpts := []engine.Option{engine.WithLogger(options.logger)}
	if options.registerer != nil {
		collector := metrics.NewCollector(MetricsNamespace)
		if err := collector.Register(options.registerer); err != nil {
			conn.Close()
			return nil, err
		}
		engineOpts = append(engineOpts, engine.WithMetrics(collector))
	}

	e, err := engine.New(conn, options.registry, engineOpts...)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Database{
		conn:     conn,
		registry: options.registry,
		engine:   e,
		logger:   options.logger,
	}, nil
}

// Close detaches the engine and closes the store connection.
func (db *Database) Close() error {
	db.engine.UnsetConnection()
	if err := db.conn.Close(); err != nil {
		db.logger.Error("error closing store connection", "err", err)
		return err
	}
	return nil
}

// Engine returns the persistence engine.
func (db *Database) Engine() *engine.Engine {
	return db.engine
}

// Registry returns the model registry.
func (db *Database) Registry() *registry.Registry {
	return db.registry
}

// NewIngestionPipeline creates a bulk import pipeline that saves through
// the engine.
func (db *Database) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(db.engine, append([]ingestion.Option{ingestion.WithLogger(db.logger)}, opts...)...)
}

// IsClosed reports whether err came from using a closed database.
func IsClosed(err error) bool {
	return errors.Is(err, storage.ErrStorageClosed)
}
