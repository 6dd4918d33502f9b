package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepSequence_CompensatesPriorStepsInReverseOnFailure(t *testing.T) {
	var order []string
	seq := NewStepSequence(nil)

	seq.AddStep("create-user", func(context.Context) error {
		order = append(order, "create-user")
		return nil
	}, func(context.Context) error {
		order = append(order, "undo-create-user")
		return nil
	})
	seq.AddStep("install-package", func(context.Context) error {
		order = append(order, "install-package")
		return nil
	}, func(context.Context) error {
		order = append(order, "undo-install-package")
		return nil
	})
	seq.AddStep("start-service", func(context.Context) error {
		return errors.New("service refused to start")
	}, nil)

	err := seq.Execute(context.Background())
	require.ErrorIs(t, err, ErrStepSequenceFailed)

	want := []string{"create-user", "install-package", "undo-install-package", "undo-create-user"}
	assert.Equal(t, want, order)
}

func TestPreparedSequence_RollsBackPreparedStepsWhenCommitFails(t *testing.T) {
	var rolledBack []string
	seq := NewPreparedSequence(nil)

	steps := []PreparedStep{
		{
			Name:    "web01",
			Prepare: func(context.Context) error { return nil },
			Commit:  func(context.Context) error { return nil },
			Rollback: func(context.Context) error {
				rolledBack = append(rolledBack, "web01")
				return nil
			},
		},
		{
			Name:    "web02",
			Prepare: func(context.Context) error { return nil },
			Commit:  func(context.Context) error { return errors.New("disk full") },
			Rollback: func(context.Context) error {
				rolledBack = append(rolledBack, "web02")
				return nil
			},
		},
	}

	err := seq.Execute(context.Background(), steps)
	assert.Error(t, err)
	assert.ElementsMatch(t, []string{"web01", "web02"}, rolledBack)
}

func TestPreparedSequence_PrepareFailureOnlyRollsBackPreparedSteps(t *testing.T) {
	var rolledBack []string
	seq := NewPreparedSequence(nil)

	steps := []PreparedStep{
		{
			Name:    "web01",
			Prepare: func(context.Context) error { return nil },
			Commit:  func(context.Context) error { return nil },
			Rollback: func(context.Context) error {
				rolledBack = append(rolledBack, "web01")
				return nil
			},
		},
		{
			Name:    "web02",
			Prepare: func(context.Context) error { return errors.New("unreachable") },
			Commit:  func(context.Context) error { return nil },
			Rollback: func(context.Context) error {
				rolledBack = append(rolledBack, "web02")
				return nil
			},
		},
	}

	err := seq.Execute(context.Background(), steps)
	assert.Error(t, err)
	assert.Equal(t, []string{"web01"}, rolledBack)
}
