package saga

import "context"

// Step is one unit of a chain. Execute derives the next state from the
// current one; Rollback undoes Execute given the state Execute received.
type Step[T any] struct {
	Name     string
	Execute  func(ctx context.Context, state T) (T, error)
	Rollback func(ctx context.Context, state T) error
	Pure     bool

	empty bool
}

// Pure wraps a validation that has no side effects and passes the state
// through unchanged.
func Pure[T any](name string, check func(ctx context.Context, state T) error) Step[T] {
	return Step[T]{
		Name: name,
		Execute: func(ctx context.Context, state T) (T, error) {
			if err := check(ctx, state); err != nil {
				var zero T
				return zero, err
			}
			return state, nil
		},
		Rollback: noRollback[T],
		Pure:     true,
	}
}

// Dirty pairs a side effect with its compensation.
func Dirty[T any](name string, execute func(ctx context.Context, state T) (T, error), rollback func(ctx context.Context, state T) error) Step[T] {
	if rollback == nil {
		rollback = noRollback[T]
	}
	return Step[T]{
		Name:     name,
		Execute:  execute,
		Rollback: rollback,
	}
}

// Conditional keeps step only when condition holds.
func Conditional[T any](condition bool, step Step[T]) Step[T] {
	if condition {
		return step
	}
	return Empty[T]()
}

// Alternative picks one of two steps.
func Alternative[T any](condition bool, onTrue, onFalse Step[T]) Step[T] {
	if condition {
		return onTrue
	}
	return onFalse
}

// Empty is skipped by the executor.
func Empty[T any]() Step[T] {
	return Step[T]{
		Name: "empty",
		Execute: func(_ context.Context, state T) (T, error) {
			return state, nil
		},
		Rollback: noRollback[T],
		Pure:     true,
		empty:    true,
	}
}

func (s Step[T]) IsEmpty() bool {
	return s.empty
}

func noRollback[T any](context.Context, T) error {
	return nil
}

// Chain is a named, ordered list of steps.
type Chain[T any] struct {
	Name  string
	Steps []Step[T]
}

// NewChain drops empty steps.
func NewChain[T any](name string, steps ...Step[T]) Chain[T] {
	kept := make([]Step[T], 0, len(steps))
	for _, step := range steps {
		if step.empty {
			continue
		}
		kept = append(kept, step)
	}
	return Chain[T]{Name: name, Steps: kept}
}

// StepNames is handy for logging and tests.
func (c Chain[T]) StepNames() []string {
	names := make([]string, len(c.Steps))
	for i, step := range c.Steps {
		names[i] = step.Name
	}
	return names
}
