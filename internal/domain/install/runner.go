package install

import (
	"context"
	"time"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/juju/clock"
)

// Report summarizes a run.
type Report struct {
	Completed []string
	Elapsed   time.Duration
	Budget    time.Duration
	// Overran is set once cumulative time exceeded the budget. It is
	// advisory; the run was not interrupted.
	Overran bool
}

// Runner executes steps in order on the caller's goroutine. It never rolls
// back: undoing completed steps is a separate, explicit uninstall.
type Runner struct {
	clock  clock.Clock
	logger ports.Logger
}

// NewRunner creates a Runner.
func NewRunner(clk clock.Clock, logger ports.Logger) *Runner {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Runner{clock: clk, logger: logger}
}

// Run executes steps in order. The first failing step stops the run and is
// returned as *StepError. A budget of zero disables the overrun check.
func (r *Runner) Run(ctx context.Context, steps []Step, budget time.Duration) (Report, error) {
	report := Report{Budget: budget, Completed: make([]string, 0, len(steps))}
	if err := validate(steps); err != nil {
		return report, err
	}

	start := r.clock.Now()
	total := len(steps)

	for i, step := range steps {
		r.logger.Info(ctx, step.Label,
			ports.F("step", i+1),
			ports.F("of", total))

		stepStart := r.clock.Now()
		err := step.Action(ctx)
		report.Elapsed = r.clock.Now().Sub(start)

		if err != nil {
			r.logger.Error(ctx, "step failed",
				ports.F("step", step.Label),
				ports.Err(err))
			return report, &StepError{Label: step.Label, Index: i, Err: err}
		}

		report.Completed = append(report.Completed, step.Label)
		r.logger.Debug(ctx, "step done",
			ports.F("step", step.Label),
			ports.F("duration", r.clock.Now().Sub(stepStart).String()))

		if budget > 0 && !report.Overran && report.Elapsed > budget {
			report.Overran = true
			r.logger.Warn(ctx, "installation is taking longer than expected",
				ports.F("budget", budget.String()),
				ports.F("elapsed", report.Elapsed.String()))
		}
	}

	r.logger.Info(ctx, "done configuring", ports.F("duration", report.Elapsed.String()))
	return report, nil
}
