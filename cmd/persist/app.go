package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/persist"
	"github.com/poiesic/persist/config"
)

const configKey = "config"

func newApp(in io.Reader, out io.Writer) *cli.App {
	return &cli.App{
		Name:   "persist",
		Usage:  "Store and query schema-less models",
		Reader: in,
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a config file (yaml, json or toml)",
			},
			&cli.StringFlag{
				Name:  "driver",
				Usage: "Store driver (badger, mongo)",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory",
			},
			&cli.StringFlag{
				Name:  "mongo-uri",
				Usage: "MongoDB connection URI",
			},
			&cli.StringFlag{
				Name:  "mongo-database",
				Usage: "MongoDB database name",
			},
			&cli.StringFlag{
				Name:    "models",
				Aliases: []string{"m"},
				Usage:   "Path to a YAML model manifest",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "add-model",
				Usage:     "Create the collection for a model",
				ArgsUsage: "MODEL...",
				Action:    addModelCommand,
			},
			{
				Name:   "models",
				Usage:  "List the models declared in the manifest",
				Action: modelsCommand,
			},
			{
				Name:   "save",
				Usage:  "Save JSON objects read from stdin as new models",
				Action: saveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "model",
						Usage: "Model name for objects without an @model key",
					},
				},
			},
			{
				Name:   "update",
				Usage:  "Update models read from stdin; each object needs an @id",
				Action: updateCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "model",
						Usage: "Model name for objects without an @model key",
					},
				},
			},
			{
				Name:      "get",
				Usage:     "Print the model with the given identity",
				ArgsUsage: "MODEL ID",
				Action:    getCommand,
			},
			{
				Name:      "find",
				Usage:     "Print models, optionally filtered by property",
				ArgsUsage: "MODEL",
				Action:    findCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "where",
						Aliases: []string{"w"},
						Usage:   "Property filter as key=value (repeatable)",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Run a select statement",
				ArgsUsage: "STATEMENT [ARG...]",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "param",
						Aliases: []string{"p"},
						Usage:   "Named parameter as name=value (repeatable)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of models to print (0 for all)",
					},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete models by identity",
				ArgsUsage: "ID...",
				Action:    deleteCommand,
			},
			{
				Name:      "import",
				Usage:     "Bulk import JSON lines from a file (- for stdin)",
				ArgsUsage: "FILE",
				Action:    importCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "model",
						Usage: "Model name for objects without an @model key",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of concurrent savers",
						Value: 4,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N models",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts per model",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 100 * time.Millisecond,
					},
				},
			},
		},
	}
}

// setup loads configuration, applies flag overrides and configures the
// default logger.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	overrides := []struct {
		flag   string
		target *string
	}{
		{"log-level", &cfg.LogLevel},
		{"driver", &cfg.Driver},
		{"db", &cfg.DBPath},
		{"mongo-uri", &cfg.MongoURI},
		{"mongo-database", &cfg.MongoDatabase},
		{"models", &cfg.ModelsPath},
	}
	for _, o := range overrides {
		if c.IsSet(o.flag) {
			*o.target = c.String(o.flag)
		}
	}

	if err := setupLogger(c.App.ErrWriter, cfg.LogLevel); err != nil {
		return err
	}

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]interface{})
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func setupLogger(w io.Writer, levelStr string) error {
	level, err := config.ParseLevel(levelStr)
	if err != nil {
		return fmt.Errorf("%w: must be one of debug, info, warn, error", err)
	}
	if w == nil {
		w = os.Stderr
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// withDatabase opens the configured database for the duration of fn.
func withDatabase(c *cli.Context, fn func(ctx context.Context, db *persist.Database) error) error {
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return errors.New("configuration not loaded")
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := persist.Open(ctx, cfg, persist.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	return fn(ctx, db)
}
