package poll

import (
	"context"
	"fmt"
)

// Checker is a condition polled until it yields a value.
//
// Check returns (value, true, nil) when the condition holds; the value may be
// a zero or empty value and still stop polling. (_, false, nil) means keep
// polling. A non-nil error aborts polling immediately and is returned to the
// caller unchanged. Check may be invoked any number of times and must not
// depend on hidden mutable state.
type Checker[T any] interface {
	Check(ctx context.Context) (T, bool, error)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc[T any] func(ctx context.Context) (T, bool, error)

// Check calls f(ctx).
func (f CheckerFunc[T]) Check(ctx context.Context) (T, bool, error) {
	return f(ctx)
}

type described[T any] struct {
	Checker[T]
	kind string
	desc string
}

func (d described[T]) String() string {
	return d.desc
}

func (d described[T]) Kind() string {
	return d.kind
}

// Describe attaches a human-readable description used in timeout errors and
// logs.
func Describe[T any](desc string, c Checker[T]) Checker[T] {
	return described[T]{Checker: c, desc: desc}
}

// DescribeKind is Describe plus a kind, a short fixed name for the class of
// condition. Metrics are labelled by kind, never by description.
func DescribeKind[T any](kind, desc string, c Checker[T]) Checker[T] {
	return described[T]{Checker: c, kind: kind, desc: desc}
}

// describe returns the checker's description if it implements fmt.Stringer.
func describe(c any) string {
	if s, ok := c.(fmt.Stringer); ok {
		if d := s.String(); d != "" {
			return d
		}
	}
	return "condition"
}

// KindOther labels waits whose checker has no kind.
const KindOther = "other"

// kindOf returns the checker's kind, or KindOther.
func kindOf(c any) string {
	if k, ok := c.(interface{ Kind() string }); ok {
		if kind := k.Kind(); kind != "" {
			return kind
		}
	}
	return KindOther
}
