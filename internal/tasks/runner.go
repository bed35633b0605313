// Package tasks runs fire-and-forget background work whose outcome is only
// ever logged.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Result describes one finished task.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Reporter receives every Result. It is called from the task goroutine.
type Reporter func(Result)

// Runner spawns detached goroutines. A task keeps running after the caller's
// context is cancelled.
type Runner struct {
	wg       sync.WaitGroup
	logger   *slog.Logger
	reporter Reporter
}

func NewRunner(logger *slog.Logger, reporter Reporter) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, reporter: reporter}
}

// Go starts fn in the background. Errors and panics are logged, never returned.
func (r *Runner) Go(ctx context.Context, name string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		start := time.Now()
		err := r.run(ctx, fn)
		res := Result{Name: name, Err: err, Duration: time.Since(start)}

		if err != nil {
			r.logger.WarnContext(ctx, "Background task failed",
				"task", name, "duration", res.Duration, "error", err)
		} else {
			r.logger.DebugContext(ctx, "Background task done",
				"task", name, "duration", res.Duration)
		}
		if r.reporter != nil {
			r.reporter(res)
		}
	}()
}

func (r *Runner) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every started task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// WaitContext is Wait bounded by ctx.
func (r *Runner) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
