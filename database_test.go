package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/persist/config"
	"github.com/poiesic/persist/core"
	"github.com/poiesic/persist/registry"
)

func TestNewDatabase(t *testing.T) {
	t.Run("create new database", func(t *testing.T) {
		tmpDir := filepath.Join(t.TempDir(), "test_db")
		db, err := NewDatabase(tmpDir)
		require.NoError(t, err)
		require.NotNil(t, db)
		defer db.Close()

		assert.NotNil(t, db.Engine())
		assert.NotNil(t, db.Registry())
		assert.NotNil(t, db.logger)
	})

	t.Run("error with invalid path", func(t *testing.T) {
		// Try to create a database at a file path instead of directory
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		err := os.WriteFile(tmpFile, []byte("test"), 0644)
		require.NoError(t, err)

		db, err := NewDatabase(tmpFile)
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("missing manifest", func(t *testing.T) {
		db, err := NewDatabase("", WithInMemory(), WithManifest(filepath.Join(t.TempDir(), "none.yaml")))
		assert.Error(t, err)
		assert.Nil(t, db)
	})
}

func TestDatabase_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := NewDatabase(dir)
	require.NoError(t, err)

	b := core.NewBag("Note")
	b.SetProperty("text", core.String("hello"))
	require.NoError(t, db.Engine().Save(ctx, b))
	require.NoError(t, db.Close())

	db, err = NewDatabase(dir)
	require.NoError(t, err)
	defer db.Close()

	found, err := db.Engine().FindByID(ctx, "Note", b.ID())
	require.NoError(t, err)
	require.NotNil(t, found)
	text, _ := found.Property("text")
	assert.Equal(t, core.String("hello"), text)
}

func TestDatabase_Close(t *testing.T) {
	db, err := NewDatabase("", WithInMemory())
	require.NoError(t, err)

	require.NoError(t, db.Close())

	_, err = db.Engine().Find(context.Background(), "Note")
	assert.ErrorIs(t, err, core.ErrNotConnected)
}

func TestDatabase_Options(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Entry{Name: "Note"}))
	prom := prometheus.NewRegistry()

	db, err := NewDatabase("", WithInMemory(), WithRegistry(reg), WithMetrics(prom), WithLogger(nil))
	require.NoError(t, err)
	defer db.Close()

	assert.Same(t, reg, db.Registry())

	ctx := context.Background()
	require.NoError(t, db.Engine().AddModel(ctx, "Note"))
	_, err = db.Engine().Find(ctx, "Note")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(prom, "persist_operations_total")
	require.NoError(t, err)
	assert.Positive(t, count)

	// A second database on the same registerer collides.
	_, err = NewDatabase("", WithInMemory(), WithMetrics(prom))
	assert.Error(t, err)
}

func TestDatabase_FactoryMethods(t *testing.T) {
	db, err := NewDatabase("", WithInMemory())
	require.NoError(t, err)
	defer db.Close()

	pipeline, err := db.NewIngestionPipeline()
	require.NoError(t, err)
	defer pipeline.Release()

	models := []core.Model{core.NewBag("Note"), core.NewBag("Note")}
	result, err := pipeline.Ingest(context.Background(), models)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Saved)
}

func TestOpen(t *testing.T) {
	manifest := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte("models:\n  - name: Note\n"), 0o600))

	cfg := &config.Config{
		Driver:     config.DriverBadger,
		InMemory:   true,
		LogLevel:   "info",
		ModelsPath: manifest,
	}
	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	_, ok := db.Registry().Resolve("Note")
	assert.True(t, ok)

	_, err = Open(context.Background(), &config.Config{Driver: "sqlite", LogLevel: "info"})
	assert.ErrorIs(t, err, config.ErrUnknownDriver)
}
