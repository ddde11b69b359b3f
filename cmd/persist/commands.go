package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/persist"
	"github.com/poiesic/persist/core"
	"github.com/poiesic/persist/ingestion"
	"github.com/poiesic/persist/storage"
)

func addModelCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one model name is required")
	}
	return withDatabase(c, func(ctx context.Context, db *persist.Database) error {
		for _, name := range c.Args().Slice() {
			if err := db.Engine().AddModel(ctx, name); err != nil {
				return err
			}
		}
		return nil
	})
}

func modelsCommand(c *cli.Context) error {
	return withDatabase(c, func(ctx context.Context, db *persist.Database) error {
		enc := json.NewEncoder(c.App.Writer)
		for _, entry := range db.Registry().Manifest().Models {
			exists, err := db.Engine().ModelExists(ctx, entry.Name)
			if err != nil {
				return err
			}
			row := map[string]any{"name": entry.Name, "stored": exists}
			if entry.Alias != "" {
				row["alias"] = entry.Alias
			}
			if entry.Owner != "" {
				row["owner"] = entry.Owner
			}
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func saveCommand(c *cli.Context) error {
	models, err := ingestion.ReadJSONLines(c.App.Reader, c.String("model"))
	if err != nil {
		return err
	}
	return withDatabase(c, func(ctx context.Context, db *persist.Database) error {
		if err := db.Engine().Save(ctx, models...); err != nil {
			return err
		}
		return printModels(c.App.Writer, models)
	})
}

func updateCommand(c *cli.Context) error {
	models, err := ingestion.ReadJSONLines(c.App.Reader, c.String("model"))
	if err != nil {
		return err
	}
	return withDatabase(c, func(ctx context.Context, db *persist.Database) error {
		if err := db.Engine().Update(ctx, models...); err != nil {
			return err
		}
		return printModels(c.App.Writer, models)
	})
}

func getCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: get MODEL ID")
	}
	modelName, id := c.Args().Get(0), c.Args().Get(1)
	return withDatabase(c, func(ctx context.Context, db *persist.Database) error {
		m, err := db.Engine().FindByID(ctx, modelName, id)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		return printModels(c.App.Writer, []core.Model{m})
	})
}

func findCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: find MODEL")
	}
	modelName := c.Args().First()

	props := make(map[string]core.Value)
	for _, w := range c.StringSlice("where") {
		key, raw, ok := strings.Cut(w, "=")
		if !ok {
			return fmt.Errorf("invalid filter %q: expected key=value", w)
		}
		props[strings.TrimSpace(key)] = parseValue(raw)
	}

	return withDatabase(c, func(ctx context.Context, db *persist.Database) error {
		var (
			models []core.Model
			err    error
		)
		if len(props) == 0 {
			models, err = db.Engine().Find(ctx, modelName)
		} else {
			models, err = db.Engine().FindByProperties(ctx, modelName, props)
		}
		if err != nil {
			return err
		}
		return printModels(c.App.Writer, models)
	})
}

func queryCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("usage: query STATEMENT [ARG...]")
	}
	statement := c.Args().First()

	var args []any
	if named := c.StringSlice("param"); len(named) > 0 {
		if c.NArg() > 1 {
			return errors.New("named and positional parameters cannot be mixed")
		}
		params := make(storage.Params, len(named))
		for _, p := range named {
			name, raw, ok := strings.Cut(p, "=")
			if !ok {
				return fmt.Errorf("invalid parameter %q: expected name=value", p)
			}
			params[strings.TrimSpace(name)] = parseValue(raw).Interface()
		}
		args = append(args, params)
	} else {
		for _, raw := range c.Args().Tail() {
			args = append(args, parseValue(raw).Interface())
		}
	}

	return withDatabase(c, func(ctx context.Context, db *persist.Database) error {
		models, err := db.Engine().ExecuteQueryLimit(ctx, statement, c.Int("limit"), args...)
		if err != nil {
			return err
		}
		return printModels(c.App.Writer, models)
	})
}

func deleteCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one identity is required")
	}
	return withDatabase(c, func(ctx context.Context, db *persist.Database) error {
		return db.Engine().RemoveByID(ctx, c.Args().Slice()...)
	})
}

func importCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: import FILE")
	}

	var src io.Reader = c.App.Reader
	if path := c.Args().First(); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	models, err := ingestion.ReadJSONLines(src, c.String("model"))
	if err != nil {
		return err
	}

	return withDatabase(c, func(ctx context.Context, db *persist.Database) error {
		pipeline, err := db.NewIngestionPipeline(
			ingestion.WithPoolSize(c.Int("workers")),
			ingestion.WithRetry(max(c.Int("max-retries"), 1), c.Duration("retry-delay")),
			ingestion.WithProgress(c.App.ErrWriter, c.Int("report-interval")),
		)
		if err != nil {
			return err
		}
		defer pipeline.Release()

		result, err := pipeline.Ingest(ctx, models)
		if err != nil {
			return err
		}

		fmt.Fprintf(c.App.Writer, "Imported %d models\n", result.Saved)
		for _, f := range result.Failures {
			fmt.Fprintf(c.App.Writer, "Failed model %d: %v\n", f.Index+1, f.Err)
		}
		if len(result.Failures) > 0 {
			return fmt.Errorf("%d of %d models failed", len(result.Failures), len(models))
		}
		return nil
	})
}

// parseValue reads raw as a JSON literal, falling back to a plain string.
func parseValue(raw string) core.Value {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return core.String(raw)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return core.String(raw)
	}
	v, err := core.FromAny(x)
	if err != nil {
		return core.String(raw)
	}
	return v
}

func printModels(w io.Writer, models []core.Model) error {
	enc := json.NewEncoder(w)
	for _, m := range models {
		if err := enc.Encode(core.ToMap(m)); err != nil {
			return err
		}
	}
	return nil
}
