package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rustible/rustible/infrastructure/logging"
)

var (
	// ErrStepSequenceFailed wraps the failing step's error after its
	// preceding steps have been compensated.
	ErrStepSequenceFailed = errors.New("step sequence failed")
)

// TaskStep is one action in a StepSequence: a forward Action and an
// optional Compensation to run if a later step in the sequence fails.
// This is the shape a block's task list takes when wired into rollback —
// each task contributes a step whose compensation is the RollbackAction
// derived from whatever StateChange it recorded.
type TaskStep struct {
	Name         string
	Action       func(ctx context.Context) error
	Compensation func(ctx context.Context) error
}

// StepSequence runs a list of TaskSteps in order, compensating already-run
// steps in reverse when a later one fails. It is the block/rescue/always
// layer's compensation primitive, distinct from TransactionManager: a
// sequence has no prepare/commit phases of its own, just forward-then-undo.
type StepSequence struct {
	mu       sync.Mutex
	steps    []TaskStep
	executed int
	logger   *logging.Logger
}

// NewStepSequence builds an empty sequence.
func NewStepSequence(logger *logging.Logger) *StepSequence {
	if logger == nil {
		logger = logging.NewFromEnv("recovery")
	}
	return &StepSequence{logger: logger}
}

// AddStep appends a step and returns the receiver for chaining.
func (s *StepSequence) AddStep(name string, action func(ctx context.Context) error, compensation func(ctx context.Context) error) *StepSequence {
	s.steps = append(s.steps, TaskStep{Name: name, Action: action, Compensation: compensation})
	return s
}

// Execute runs every step; on the first failure it compensates the steps
// that already ran, in reverse, and returns the original error wrapped in
// ErrStepSequenceFailed.
func (s *StepSequence) Execute(ctx context.Context) error {
	s.mu.Lock()
	s.executed = 0
	s.mu.Unlock()

	for _, step := range s.steps {
		if err := step.Action(ctx); err != nil {
			s.compensate(ctx, s.executed)
			return fmt.Errorf("%w: %s: %v", ErrStepSequenceFailed, step.Name, err)
		}
		s.mu.Lock()
		s.executed++
		s.mu.Unlock()
	}
	return nil
}

func (s *StepSequence) compensate(ctx context.Context, executed int) {
	for i := executed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensation == nil {
			continue
		}
		if err := step.Compensation(ctx); err != nil {
			s.logger.Warn(ctx, "step compensation failed", map[string]interface{}{
				"step": step.Name, "error": err.Error(),
			})
		}
	}
}

// PreparedStep is one participant in a PreparedSequence: explicit prepare,
// commit and rollback phases, for operations (e.g. a multi-host package
// transaction) that must all agree before any of them commits.
type PreparedStep struct {
	Name     string
	Prepare  func(ctx context.Context) error
	Commit   func(ctx context.Context) error
	Rollback func(ctx context.Context) error
}

// PreparedSequence runs a set of PreparedSteps through an explicit
// prepare-then-commit protocol, rolling back whatever subset of steps
// reached the failing phase if any participant refuses to prepare or
// commit. This backs TransactionManager's TwoPhaseCommit config option for
// callers that want per-step prepare/commit hooks rather than the
// StateChange-derived rollback TransactionManager uses internally.
type PreparedSequence struct {
	mu        sync.Mutex
	prepared  map[string]bool
	committed map[string]bool
	logger    *logging.Logger
}

// NewPreparedSequence builds an empty two-phase step runner.
func NewPreparedSequence(logger *logging.Logger) *PreparedSequence {
	if logger == nil {
		logger = logging.NewFromEnv("recovery")
	}
	return &PreparedSequence{
		prepared:  make(map[string]bool),
		committed: make(map[string]bool),
		logger:    logger,
	}
}

// Execute runs steps through prepare then commit, rolling back prepared (or
// committed) steps if any step's prepare or commit phase fails.
func (s *PreparedSequence) Execute(ctx context.Context, steps []PreparedStep) error {
	s.mu.Lock()
	s.prepared = make(map[string]bool)
	s.committed = make(map[string]bool)
	s.mu.Unlock()

	for _, step := range steps {
		if err := step.Prepare(ctx); err != nil {
			s.rollback(ctx, steps, "prepare")
			return fmt.Errorf("prepare failed for %s: %w", step.Name, err)
		}
		s.mu.Lock()
		s.prepared[step.Name] = true
		s.mu.Unlock()
	}

	for _, step := range steps {
		if err := step.Commit(ctx); err != nil {
			s.rollback(ctx, steps, "commit")
			return fmt.Errorf("commit failed for %s: %w", step.Name, err)
		}
		s.mu.Lock()
		s.committed[step.Name] = true
		s.mu.Unlock()
	}

	return nil
}

func (s *PreparedSequence) rollback(ctx context.Context, steps []PreparedStep, phase string) {
	for _, step := range steps {
		if step.Rollback == nil {
			continue
		}

		s.mu.Lock()
		shouldRollback := false
		if phase == "prepare" && s.prepared[step.Name] {
			shouldRollback = true
		}
		if phase == "commit" && (s.prepared[step.Name] || s.committed[step.Name]) {
			shouldRollback = true
		}
		s.mu.Unlock()

		if shouldRollback {
			if err := step.Rollback(ctx); err != nil {
				s.logger.Warn(ctx, "prepared step rollback failed", map[string]interface{}{
					"step": step.Name, "phase": phase, "error": err.Error(),
				})
			}
		}
	}
}
