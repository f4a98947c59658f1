// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package faults

import (
	"context"
)

// Outcome is the typed result of an operation whose failure may be
// recoverable. A recoverable failure yields a skipped Outcome instead of
// an error, so expected failures are values rather than control flow.
type Outcome[T any] struct {
	Value T

	// Skipped is true when the operation failed recoverably and the
	// caller should proceed without its result.
	Skipped bool

	// Disposition carries the handled error when Skipped is true.
	Disposition *Disposition
}

// Ok wraps a successful value.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Skip wraps a recoverable failure.
func Skip[T any](d Disposition) Outcome[T] {
	return Outcome[T]{Skipped: true, Disposition: &d}
}

// Attempt runs fn and routes any error through the handler. Recoverable
// errors produce a skipped Outcome and a nil error; non-recoverable errors
// are returned to the caller after being recorded.
func Attempt[T any](ctx context.Context, h *Handler, ectx ErrorContext, fn func(context.Context) (T, error)) (Outcome[T], error) {
	v, err := fn(ctx)
	if err == nil {
		return Ok(v), nil
	}

	d := h.Handle(ctx, err, ectx)
	if d.Recoverable {
		return Skip[T](d), nil
	}
	var zero Outcome[T]
	return zero, err
}
