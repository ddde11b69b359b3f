package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/persist/core"
	"github.com/poiesic/persist/storage"
)

// Saver persists models. *engine.Engine satisfies it.
type Saver interface {
	Save(ctx context.Context, models ...core.Model) error
}

// modelAdder is implemented by savers that can create collections ahead of
// the first save.
type modelAdder interface {
	AddModel(ctx context.Context, modelName string) error
}

// Pipeline saves models concurrently through a bounded worker pool.
type Pipeline struct {
	saver          Saver
	pool           *ants.Pool
	maxAttempts    int
	baseDelay      time.Duration
	progress       io.Writer
	reportInterval int
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent saves.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithRetry sets how many times a failed save is attempted and the base
// delay between attempts. Default is a single attempt.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		p.maxAttempts = maxAttempts
		p.baseDelay = baseDelay
		return nil
	}
}

// WithProgress reports progress to w every interval models.
func WithProgress(w io.Writer, interval int) Option {
	return func(p *Pipeline) error {
		p.progress = w
		p.reportInterval = interval
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(saver Saver, opts ...Option) (*Pipeline, error) {
	if saver == nil {
		return nil, ErrSaverRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		saver:       saver,
		pool:        pool,
		maxAttempts: 1,
		logger:      slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	return p, nil
}

// Failure records a model that could not be saved.
type Failure struct {
	Index int
	Model core.Model
	Err   error
}

// Result summarizes an import.
type Result struct {
	Saved    int
	Failures []Failure
}

// Ingest saves every model, each in its own save call. Failed models are
// listed in the result ordered by input position. The returned error is
// non-nil only when ctx ends before all models were attempted.
func (p *Pipeline) Ingest(ctx context.Context, models []core.Model) (*Result, error) {
	result := &Result{}
	if len(models) == 0 {
		return result, nil
	}

	if err := p.prepare(ctx, models); err != nil {
		return nil, err
	}

	var tracker *ProgressTracker
	if p.progress != nil {
		tracker = NewProgressTracker(p.progress, len(models), p.reportInterval)
		tracker.Start()
		defer tracker.Finish()
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(i int, m core.Model, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failures = append(result.Failures, Failure{Index: i, Model: m, Err: err})
		} else {
			result.Saved++
		}
		if tracker != nil {
			tracker.Done(err != nil)
		}
	}

	for i, m := range models {
		if ctx.Err() != nil {
			break
		}
		if m == nil {
			record(i, nil, ErrNilModel)
			continue
		}
		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			err := RetryWithBackoff(ctx, func() error {
				return p.save(ctx, m)
			}, p.maxAttempts, p.baseDelay)
			if err != nil {
				p.logger.Warn("failed to save model", "index", i, "model", m.ModelName(), "error", err)
			}
			record(i, m, err)
		})
		if submitErr != nil {
			wg.Done()
			record(i, m, submitErr)
		}
	}
	wg.Wait()

	slices.SortFunc(result.Failures, func(a, b Failure) int { return a.Index - b.Index })

	p.logger.Info("ingestion finished", "saved", result.Saved, "failed", len(result.Failures))
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// prepare creates the collection of every model name in models so that
// concurrent first saves do not race on collection creation.
func (p *Pipeline) prepare(ctx context.Context, models []core.Model) error {
	adder, ok := p.saver.(modelAdder)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	for _, m := range models {
		if m == nil {
			continue
		}
		name := m.ModelName()
		if core.ValidateModelName(name) != nil {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if err := adder.AddModel(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) save(ctx context.Context, m core.Model) error {
	err := p.saver.Save(ctx, m)
	if err != nil && isPermanent(err) {
		return Permanent(err)
	}
	return err
}

// isPermanent reports errors a retry cannot fix.
func isPermanent(err error) bool {
	for _, target := range []error{
		core.ErrMapping,
		core.ErrMissingModelName,
		core.ErrInvalidModelName,
		core.ErrInvalidPropertyName,
		core.ErrUnsupportedValue,
		core.ErrNotConnected,
		storage.ErrStorageClosed,
		storage.ErrSerializationFailed,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Release releases pool resources. Call this when done with the pipeline.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
