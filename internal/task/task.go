// Package task races units of work against a wall-clock deadline.
package task

import (
	"context"
	"errors"
	"time"
)

// ErrDeadlineExceeded is returned when a task does not finish within its timeout.
var ErrDeadlineExceeded = errors.New("task deadline exceeded")

type outcome[T any] struct {
	value T
	err   error
}

// Run executes fn with a cancellable context and waits at most timeout for it.
// When the timeout elapses first the task context is cancelled and ErrDeadlineExceeded
// is returned. A timeout of zero or less runs fn inline without a ceiling.
func Run[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	return race(ctx, taskCtx, timeout, fn)
}

// RunDetached is like Run but leaves the task running when the timeout elapses.
// The task still observes cancellation of the parent context.
func RunDetached[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	return race(ctx, ctx, timeout, fn)
}

func race[T any](
	ctx, taskCtx context.Context,
	timeout time.Duration,
	fn func(context.Context) (T, error),
) (T, error) {
	// Buffered so an abandoned task never blocks on send.
	done := make(chan outcome[T], 1)

	go func() {
		v, err := fn(taskCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T

	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		return zero, ErrDeadlineExceeded
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
