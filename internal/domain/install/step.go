// Package install runs ordered installation steps.
package install

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidStep is returned when a step list cannot be run.
var ErrInvalidStep = errors.New("invalid installation step")

// Action is the work a step performs. It must be safe to invoke again after
// a later step of the same run failed.
type Action func(ctx context.Context) error

// Step is one labelled installation action. Labels are only used for
// logging and error reports.
type Step struct {
	Label  string
	Action Action
}

// NewStep creates a step.
func NewStep(label string, action Action) Step {
	return Step{Label: label, Action: action}
}

// Labels returns the labels of steps in order.
func Labels(steps []Step) []string {
	labels := make([]string, len(steps))
	for i, s := range steps {
		labels[i] = s.Label
	}
	return labels
}

func validate(steps []Step) error {
	for i, s := range steps {
		if s.Label == "" {
			return fmt.Errorf("%w: step %d has no label", ErrInvalidStep, i)
		}
		if s.Action == nil {
			return fmt.Errorf("%w: step %q has no action", ErrInvalidStep, s.Label)
		}
	}
	return nil
}

// StepError reports the step that aborted a run.
type StepError struct {
	Label string
	Index int
	Err   error
}

// Error implements error.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Label, e.Err)
}

// Unwrap returns the step's own error.
func (e *StepError) Unwrap() error {
	return e.Err
}
