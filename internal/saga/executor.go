package saga

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

type Phase string

const (
	PhasePending        Phase = "pending"
	PhaseRunning        Phase = "running"
	PhaseCommitted      Phase = "committed"
	PhaseRollingBack    Phase = "rolling_back"
	PhaseRolledBack     Phase = "rolled_back"
	PhaseRollbackFailed Phase = "rollback_failed"
)

// Terminal reports whether no further transitions follow.
func (p Phase) Terminal() bool {
	return p == PhaseCommitted || p == PhaseRolledBack || p == PhaseRollbackFailed
}

// Transition is emitted to observers on every phase change of a run.
type Transition struct {
	RunID string
	Chain string
	Phase Phase
	Step  string
	Index int
	Err   error
}

type Observer func(Transition)

type Option func(*options)

type options struct {
	observers []Observer
}

func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

// Executor runs chains over values of type T.
type Executor[T any] struct {
	observers []Observer
}

func NewExecutor[T any](opts ...Option) *Executor[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Executor[T]{observers: o.observers}
}

type completedStep[T any] struct {
	index  int
	step   Step[T]
	before T
}

// Execute runs the chain against initial. On the first failing step every
// completed step is rolled back in reverse order with the state it received,
// and the zero value is returned with a *StepError, or a *RollbackError if
// compensation itself failed.
func (e *Executor[T]) Execute(ctx context.Context, initial T, chain Chain[T]) (T, error) {
	runID := uuid.NewString()
	logger := log.With("chain", chain.Name, "run_id", runID)

	e.emit(Transition{RunID: runID, Chain: chain.Name, Phase: PhasePending, Index: -1})

	state := initial
	completed := make([]completedStep[T], 0, len(chain.Steps))
	for i, step := range chain.Steps {
		if step.empty {
			continue
		}
		e.emit(Transition{RunID: runID, Chain: chain.Name, Phase: PhaseRunning, Step: step.Name, Index: i})

		next, err := step.Execute(ctx, state)
		if err != nil {
			cause := &StepError{Chain: chain.Name, Step: step.Name, Index: i, Err: err}
			logger.Warn("Transaction chain broken, rolling back", "step", step.Name, "completed", len(completed), "error", err)

			var zero T
			if rbErr := e.rollback(ctx, runID, chain.Name, completed, cause, logger); rbErr != nil {
				return zero, rbErr
			}
			e.emit(Transition{RunID: runID, Chain: chain.Name, Phase: PhaseRolledBack, Step: step.Name, Index: i, Err: cause})
			return zero, cause
		}

		completed = append(completed, completedStep[T]{index: i, step: step, before: state})
		state = next
	}

	e.emit(Transition{RunID: runID, Chain: chain.Name, Phase: PhaseCommitted, Index: len(chain.Steps) - 1})
	logger.Debug("Transaction chain committed", "steps", len(completed))
	return state, nil
}

func (e *Executor[T]) rollback(ctx context.Context, runID, chain string, completed []completedStep[T], cause error, logger *log.Logger) error {
	// compensation must finish even if the caller went away
	rollbackCtx := context.WithoutCancel(ctx)

	for j := len(completed) - 1; j >= 0; j-- {
		c := completed[j]
		if c.step.Pure {
			continue
		}
		e.emit(Transition{RunID: runID, Chain: chain, Phase: PhaseRollingBack, Step: c.step.Name, Index: c.index})

		if err := c.step.Rollback(rollbackCtx, c.before); err != nil {
			rbErr := &RollbackError{Chain: chain, Step: c.step.Name, Cause: cause, Err: err}
			logger.Error("Rollback failed, external state may be inconsistent",
				"fatal", true, "step", c.step.Name, "error", err, "cause", cause)
			e.emit(Transition{RunID: runID, Chain: chain, Phase: PhaseRollbackFailed, Step: c.step.Name, Index: c.index, Err: rbErr})
			return rbErr
		}
		logger.Debug("Rolled back step", "step", c.step.Name)
	}
	return nil
}

func (e *Executor[T]) emit(t Transition) {
	for _, observer := range e.observers {
		observer(t)
	}
}
