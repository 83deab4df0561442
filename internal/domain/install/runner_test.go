package install

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/dsinstall/internal/adapters/logging"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(clk *testclock.Clock) *Runner {
	return NewRunner(clk, logging.NewNopLogger())
}

func TestRunner_RunsStepsInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	record := func(label string) Step {
		return NewStep(label, func(context.Context) error {
			order = append(order, label)
			return nil
		})
	}

	steps := []Step{record("create instance"), record("enable ldapi"), record("start")}
	report, err := newTestRunner(testclock.NewClock(time.Now())).Run(context.Background(), steps, time.Minute)

	require.NoError(t, err)
	assert.Equal(t, []string{"create instance", "enable ldapi", "start"}, order)
	assert.Equal(t, Labels(steps), report.Completed)
	assert.False(t, report.Overran)
}

func TestRunner_FailFast(t *testing.T) {
	t.Parallel()

	cause := errors.New("setup-ds.pl failed")
	var ranA, ranB, ranC bool

	steps := []Step{
		NewStep("A", func(context.Context) error { ranA = true; return nil }),
		NewStep("B", func(context.Context) error { ranB = true; return cause }),
		NewStep("C", func(context.Context) error { ranC = true; return nil }),
	}

	report, err := newTestRunner(testclock.NewClock(time.Now())).Run(context.Background(), steps, 0)

	require.Error(t, err)
	assert.True(t, ranA)
	assert.True(t, ranB)
	assert.False(t, ranC)
	assert.Equal(t, []string{"A"}, report.Completed)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "B", stepErr.Label)
	assert.Equal(t, 1, stepErr.Index)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `step "B" failed`)
}

func TestRunner_BudgetIsAdvisory(t *testing.T) {
	t.Parallel()

	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	slow := func(d time.Duration) Action {
		return func(context.Context) error {
			clk.Advance(d)
			return nil
		}
	}

	var ranLast bool
	steps := []Step{
		NewStep("first", slow(6*time.Second)),
		NewStep("second", slow(6*time.Second)),
		NewStep("third", func(context.Context) error { ranLast = true; return nil }),
	}

	report, err := newTestRunner(clk).Run(context.Background(), steps, 10*time.Second)

	require.NoError(t, err)
	assert.True(t, ranLast, "overrun must not stop the run")
	assert.True(t, report.Overran)
	assert.Equal(t, 12*time.Second, report.Elapsed)
	assert.Len(t, report.Completed, 3)
}

func TestRunner_ZeroBudgetNeverOverruns(t *testing.T) {
	t.Parallel()

	clk := testclock.NewClock(time.Now())
	steps := []Step{NewStep("slow", func(context.Context) error {
		clk.Advance(time.Hour)
		return nil
	})}

	report, err := newTestRunner(clk).Run(context.Background(), steps, 0)
	require.NoError(t, err)
	assert.False(t, report.Overran)
}

func TestRunner_RejectsInvalidSteps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		steps []Step
	}{
		{name: "empty label", steps: []Step{{Label: "", Action: func(context.Context) error { return nil }}}},
		{name: "nil action", steps: []Step{{Label: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := newTestRunner(testclock.NewClock(time.Now())).Run(context.Background(), tt.steps, 0)
			assert.ErrorIs(t, err, ErrInvalidStep)
		})
	}
}

func TestRunner_EmptyStepList(t *testing.T) {
	t.Parallel()

	report, err := NewRunner(nil, logging.NewNopLogger()).Run(context.Background(), nil, time.Second)
	require.NoError(t, err)
	assert.Empty(t, report.Completed)
}
