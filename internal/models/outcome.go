package models

import "errors"

// Outcome is the result of a sub-operation the pipeline can live without.
// A degraded outcome carries the reason and the zero value.
type Outcome[T any] struct {
	value  T
	reason error
}

func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{value: v}
}

func Degraded[T any](reason error) Outcome[T] {
	if reason == nil {
		reason = errors.New("degraded without reason")
	}
	return Outcome[T]{reason: reason}
}

func (o Outcome[T]) IsOk() bool { return o.reason == nil }

func (o Outcome[T]) IsDegraded() bool { return o.reason != nil }

// Value returns the value, which is the zero value for degraded outcomes.
func (o Outcome[T]) Value() T { return o.value }

func (o Outcome[T]) Reason() error { return o.reason }

func (o Outcome[T]) Unwrap() (T, error) { return o.value, o.reason }
