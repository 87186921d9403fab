package syncer

import (
	"context"
	"errors"
)

// Optimistic applies a change locally, then attempts the remote step. When
// the remote step fails, inverse undoes the local change and the remote
// error is returned (joined with the inverse error if that failed too).
// A failed apply is returned as-is and nothing else runs.
func Optimistic[T any](
	ctx context.Context,
	apply func(context.Context) (T, error),
	remote func(context.Context, T) error,
	inverse func(context.Context, T) error,
) (T, error) {
	v, err := apply(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	rerr := remote(ctx, v)
	if rerr == nil {
		return v, nil
	}
	if ierr := inverse(ctx, v); ierr != nil {
		return v, errors.Join(rerr, ierr)
	}
	return v, rerr
}
