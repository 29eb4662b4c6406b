package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
)

const (
	// DefaultChunkSize matches the most ids Tidal accepts in a single lookup or write.
	DefaultChunkSize = 20
	// DefaultDelay is the pause between chunks.
	DefaultDelay = 600 * time.Millisecond
)

// ChunkFunc performs the network call for one chunk and maps the response to results.
//
// Returning nil or an empty slice is a success that contributes nothing.
type ChunkFunc[T, R any] func(ctx context.Context, chunk []T) ([]R, error)

// Options configures a [Stagger] run.
type Options struct {
	// Operation labels log lines and metrics, e.g. "tidal.isrc_lookup".
	Operation string
	// ChunkSize defaults to [DefaultChunkSize] when <= 0.
	ChunkSize int
	// Delay between chunks. Zero keeps [DefaultDelay]; use a negative value for no pause.
	Delay time.Duration
	// ChunkTimeout bounds each processor call when > 0.
	ChunkTimeout time.Duration
	Logger       *log.Logger
	Sleep        SleepFunc
}

func (o Options) withDefaults() Options {
	if o.Operation == "" {
		o.Operation = "stagger"
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Delay == 0 {
		o.Delay = DefaultDelay
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
	return o
}

// ChunkFailure records a chunk whose processor returned an error.
type ChunkFailure[T any] struct {
	Index int // zero-based chunk position
	Items []T
	Err   error
}

func (f ChunkFailure[T]) Error() string {
	return fmt.Sprintf("chunk %d (%d items): %v", f.Index, len(f.Items), f.Err)
}

func (f ChunkFailure[T]) Unwrap() error {
	return f.Err
}

// Result is the outcome of a [Stagger] run.
type Result[T, R any] struct {
	// Succeeded concatenates the results of every successful chunk, in chunk order.
	Succeeded []R
	Failed    []ChunkFailure[T]
	// Chunks is the number of chunks the input was split into.
	Chunks int
	// Attempted is the number of chunks handed to the processor.
	Attempted int
}

// SucceededChunks reports how many chunks completed without error.
func (r *Result[T, R]) SucceededChunks() int {
	return r.Attempted - len(r.Failed)
}

// Complete reports whether every chunk was attempted and none failed.
func (r *Result[T, R]) Complete() bool {
	return r.Attempted == r.Chunks && len(r.Failed) == 0
}

// FailedItems flattens the items of every failed chunk.
func (r *Result[T, R]) FailedItems() []T {
	return lo.FlatMap(r.Failed, func(f ChunkFailure[T], _ int) []T { return f.Items })
}

// Err joins the chunk failures, or returns nil when there are none.
func (r *Result[T, R]) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

type abortError struct {
	err error
}

func (a *abortError) Error() string { return a.err.Error() }
func (a *abortError) Unwrap() error { return a.err }

// Abort wraps err so that [Stagger] stops after the current chunk instead of skipping it.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// Stagger processes items in sequential chunks with a pause between them.
//
// The returned error is non-nil only when the run stopped early: the context was cancelled
// or a processor returned [Abort]. The result is always non-nil and holds whatever completed.
func Stagger[T, R any](ctx context.Context, items []T, process ChunkFunc[T, R], opts Options) (*Result[T, R], error) {
	opts = opts.withDefaults()
	op := opts.Operation
	logger := opts.Logger.With("op", op)

	chunks := lo.Chunk(items, opts.ChunkSize)
	res := &Result[T, R]{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return res, nil
	}

	logger.Debug("staggering requests", "items", len(items), "chunks", len(chunks), "delay", opts.Delay)

	for i, chunk := range chunks {
		if i > 0 {
			if err := pause(ctx, opts.Sleep, op, opts.Delay); err != nil {
				return res, fmt.Errorf("%s: stopped before chunk %d/%d: %w", op, i+1, len(chunks), err)
			}
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%s: stopped before chunk %d/%d: %w", op, i+1, len(chunks), err)
		}

		res.Attempted++
		out, err := runChunk(ctx, process, chunk, opts.ChunkTimeout)
		if err == nil {
			res.Succeeded = append(res.Succeeded, out...)
			ChunksTotal.WithLabelValues(op, "succeeded").Inc()
			logger.Debug("chunk done", "chunk", i+1, "of", len(chunks), "results", len(out))
			continue
		}

		res.Failed = append(res.Failed, ChunkFailure[T]{Index: i, Items: chunk, Err: err})

		var abort *abortError
		if errors.As(err, &abort) {
			ChunksTotal.WithLabelValues(op, "aborted").Inc()
			logger.Error("chunk aborted run", "chunk", i+1, "of", len(chunks), "err", abort.err)
			return res, fmt.Errorf("%s: aborted at chunk %d/%d: %w", op, i+1, len(chunks), abort.err)
		}

		ChunksTotal.WithLabelValues(op, "failed").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s: stopped during chunk %d/%d: %w", op, i+1, len(chunks), ctxErr)
		}
		logger.Warn("chunk failed, skipping", "chunk", i+1, "of", len(chunks), "items", len(chunk), "err", err)
	}

	if len(res.Failed) > 0 {
		logger.Warn("finished with failed chunks", "failed", len(res.Failed), "chunks", len(chunks))
	}
	return res, nil
}

func runChunk[T, R any](ctx context.Context, process ChunkFunc[T, R], chunk []T, timeout time.Duration) ([]R, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return process(ctx, chunk)
}
