// SPDX-License-Identifier: Apache-2.0
package resilience

import "context"

// WithFallback runs primary and, when it fails, hands the error to fallback.
func WithFallback[T any](ctx context.Context, primary func(context.Context) (T, error), fallback func(context.Context, error) (T, error)) (T, error) {
	v, err := primary(ctx)
	if err == nil {
		return v, nil
	}
	return fallback(ctx, err)
}
