// Package batch fans independent keyed work items out to a bounded pool of
// workers and collects a result for every key, isolating per-item failures.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxWorkers is the pool size used by callers that do not configure one.
const DefaultMaxWorkers = 4

var (
	// ErrInvalidWorkers is returned before any work starts when the pool
	// size is not positive.
	ErrInvalidWorkers = errors.New("max workers must be positive")
	// ErrWorkerFailure wraps any error or panic raised by a work item.
	ErrWorkerFailure = errors.New("worker failure")
)

// Item is one unit of work. Key identifies it in the result mapping.
type Item[In any] struct {
	Key   string
	Input In
}

// Func processes one item. Returning (nil, nil) records an absent value
// without a failure, e.g. when nothing matched.
type Func[In, Out any] func(ctx context.Context, key string, in In) (*Out, error)

// Options configure Run.
type Options struct {
	MaxWorkers int
	// Stage labels diagnostics, e.g. "extract" or "normalize".
	Stage  string
	Logger *zerolog.Logger
}

// Results holds one entry per distinct input key. A nil value means the
// item was not found, failed, or was never started.
type Results[Out any] struct {
	Values   map[string]*Out
	Failures map[string]error
	// Skipped lists keys not submitted because the context was done.
	Skipped []string
}

// Run invokes fn once per item with at most opts.MaxWorkers in flight.
// Failures never abort sibling items. When ctx is done, items not yet
// submitted are skipped, in-flight items finish, and Run returns the
// complete mapping together with ctx.Err().
func Run[In, Out any](ctx context.Context, items []Item[In], fn Func[In, Out], opts Options) (Results[Out], error) {
	if opts.MaxWorkers <= 0 {
		return Results[Out]{}, fmt.Errorf("%w: %d", ErrInvalidWorkers, opts.MaxWorkers)
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}
	l := logger.With().Str("run_id", uuid.NewString()).Str("stage", opts.Stage).Logger()

	res := Results[Out]{
		Values:   make(map[string]*Out, len(items)),
		Failures: make(map[string]error),
	}
	queue := make([]Item[In], 0, len(items))
	for _, it := range items {
		if _, dup := res.Values[it.Key]; dup {
			l.Warn().Str("locator", it.Key).Msg("duplicate key, keeping first occurrence")
			continue
		}
		res.Values[it.Key] = nil
		queue = append(queue, it)
	}

	start := time.Now()
	workers := opts.MaxWorkers
	if workers > len(queue) {
		workers = len(queue)
	}

	// In-flight items run to completion even after ctx is done.
	workCtx := context.WithoutCancel(ctx)
	var mu sync.Mutex
	jobs := make(chan Item[In])
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for it := range jobs {
				v, err := invoke(workCtx, fn, it)
				mu.Lock()
				if err != nil {
					res.Failures[it.Key] = err
				} else {
					res.Values[it.Key] = v
				}
				mu.Unlock()
				if err != nil {
					l.Error().Err(err).Str("locator", it.Key).Msg("item generated an error")
				}
			}
			return nil
		})
	}

feed:
	for i, it := range queue {
		if ctx.Err() == nil {
			select {
			case jobs <- it:
				continue
			case <-ctx.Done():
			}
		}
		for _, rest := range queue[i:] {
			res.Skipped = append(res.Skipped, rest.Key)
		}
		break feed
	}
	close(jobs)
	_ = g.Wait()

	elapsed := time.Since(start)
	l.Info().
		Int("items", len(queue)).
		Int("failed", len(res.Failures)).
		Int("skipped", len(res.Skipped)).
		Dur("elapsed", elapsed).
		Msgf("%d items finished in %.2f seconds", len(queue), elapsed.Seconds())

	if len(res.Skipped) > 0 {
		return res, ctx.Err()
	}
	return res, nil
}

func invoke[In, Out any](ctx context.Context, fn Func[In, Out], it Item[In]) (v *Out, err error) {
	defer func() {
		if p := recover(); p != nil {
			v = nil
			err = fmt.Errorf("%w: panic: %v", ErrWorkerFailure, p)
		}
	}()
	v, err = fn(ctx, it.Key, it.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkerFailure, err)
	}
	return v, nil
}
