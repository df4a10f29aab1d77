package asyncx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// maxBackoff caps the doubling delay between retries.
const maxBackoff = 30 * time.Second

// Pool runs fn over items with at most workers goroutines and returns the
// results in item order. The first error cancels the items not yet started
// and is returned.
func Pool[T any, R any](
	ctx context.Context,
	workers int,
	items []T,
	fn func(context.Context, T) (R, error),
) ([]R, error) {
	workers = max(1, min(workers, len(items)))

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make([]R, len(items))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, item := range items {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer func() { <-sem; wg.Done() }()
			r, err := fn(ctx, item)
			if err != nil {
				cancel(err)
				return
			}
			results[i] = r
		}()
	}
	wg.Wait()

	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// permanentError marks an error Retry must not retry.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Retry returns it at once. Retry hands back the
// unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to attempts times, sleeping delay after the first
// failure and doubling it after each later one, up to maxBackoff. It stops
// on success, on a Permanent error and when ctx is done.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) error) error {
	attempts = max(attempts, 1)
	var err error
	for i := range attempts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if i == attempts-1 {
			break
		}
		if !Sleep(ctx, delay) {
			return ctx.Err()
		}
		delay = min(delay*2, maxBackoff)
	}
	return err
}

// RetryWithBackoff is Retry for functions that produce a value.
func RetryWithBackoff[T any](
	ctx context.Context,
	attempts int,
	initialDelay time.Duration,
	fn func(context.Context) (T, error),
) (T, error) {
	var val T
	err := Retry(ctx, attempts, initialDelay, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			val = v
		}
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return val, nil
}

// PanicError is returned by WithTimeout when fn panics.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("asyncx: recovered panic: %v", p.Value)
}

// WithTimeout runs fn with a deadline of d. It returns
// context.DeadlineExceeded if fn does not finish in time, and a *PanicError
// if fn panics. fn keeps running after a timeout until it observes ctx.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o = outcome{err: &PanicError{Value: r}}
			}
			done <- o
		}()
		o.v, o.err = fn(ctx)
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
