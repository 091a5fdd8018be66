package runtime

import (
	"context"
	"dm-relay/errors"
	"fmt"
	"time"
)

// withStoreTimeout bounds a store call. A call that outlives the timeout
// is reported as ErrStorage and its late result is discarded.
// Domain failures from the store pass through, anything else becomes ErrStorage.
func withStoreTimeout[T any](ctx context.Context, timeout time.Duration,
	fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil {
			return zero, classifyStoreError(r.err)
		}
		return r.value, nil
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %v", errors.ErrStorage, ctx.Err())
	}
}

func classifyStoreError(err error) error {
	switch {
	case errors.Is(err, errors.ErrNotFound),
		errors.Is(err, errors.ErrForbidden),
		errors.Is(err, errors.ErrEditWindowExpired),
		errors.Is(err, errors.ErrValidation),
		errors.Is(err, errors.ErrStorage):
		return err
	default:
		return fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
}
