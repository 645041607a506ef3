package subscription

import (
	"context"
	"errors"
	"fmt"
)

var errNoMatch = errors.New("no resolver produced a value")

// resolver yields a value, or nil when it has nothing to offer.
type resolver[T any] struct {
	name string
	fn   func(ctx context.Context) (*T, error)
}

// firstMatch runs resolvers in order and returns the first non-nil value together
// with the name of the resolver that produced it. Resolver errors are collected and
// only reported when nothing matched.
func firstMatch[T any](ctx context.Context, resolvers ...resolver[T]) (*T, string, error) {
	errs := []error{errNoMatch}
	for _, r := range resolvers {
		v, err := r.fn(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
			continue
		}
		if v != nil {
			return v, r.name, nil
		}
	}
	return nil, "", errors.Join(errs...)
}
