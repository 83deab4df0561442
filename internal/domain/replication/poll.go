package replication

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/juju/clock"
	"github.com/juju/retry"
)

var errTaskRunning = errors.New("task still running")

// TaskStatusFunc reads the status of a directory task.
type TaskStatusFunc func(ctx context.Context, task string) (ports.TaskStatus, error)

// Poller waits for directory tasks at a fixed interval up to a bound.
type Poller struct {
	clock    clock.Clock
	interval time.Duration
	bound    time.Duration
	logger   ports.Logger
}

// NewPoller creates a poller. A nil clock means the wall clock; zero
// durations fall back to the defaults.
func NewPoller(clk clock.Clock, interval, bound time.Duration, logger ports.Logger) *Poller {
	if clk == nil {
		clk = clock.WallClock
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if bound <= 0 {
		bound = DefaultPollBound
	}
	return &Poller{clock: clk, interval: interval, bound: bound, logger: logger}
}

// Wait polls status until the task reports done. It returns the number of
// polls made. A task still running past the bound yields
// *ConsistencyTimeoutError; a non-zero exit code yields *RepairError.
func (p *Poller) Wait(ctx context.Context, task string, status TaskStatusFunc) (int, error) {
	polls := 0
	start := p.clock.Now()
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			polls++
			st, err := status(ctx, task)
			if err != nil {
				return fmt.Errorf("polling task %s: %w", task, err)
			}
			if !st.Done {
				return errTaskRunning
			}
			if st.ExitCode != 0 {
				return &RepairError{Task: task, ExitCode: st.ExitCode, Message: st.Message}
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errTaskRunning)
		},
		NotifyFunc: func(_ error, attempt int) {
			p.logger.Debug(ctx, "task still running", ports.F("task", task), ports.F("attempt", attempt))
		},
		Attempts:    retry.UnlimitedAttempts,
		Delay:       p.interval,
		MaxDuration: p.bound,
		Clock:       p.clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return polls, nil
	}

	switch {
	case retry.IsDurationExceeded(err), retry.IsAttemptsExceeded(err):
		return polls, &ConsistencyTimeoutError{Task: task, Polls: polls, Waited: p.clock.Now().Sub(start)}
	case ctx.Err() != nil:
		return polls, ctx.Err()
	}

	if retry.IsRetryStopped(err) {
		return polls, retry.LastError(err)
	}
	// Fatal errors come back from retry.Call unwrapped.
	return polls, err
}

// Task entry attributes maintained by the directory server.
const (
	attrTaskExitCode = "nsTaskExitCode"
	attrTaskStatus   = "nsTaskStatus"
)

// DirectoryTaskStatus reads task progress from the task entry itself. The
// entry carries an exit code only once the task has finished.
func DirectoryTaskStatus(dir ports.DirectoryClient) TaskStatusFunc {
	return func(ctx context.Context, task string) (ports.TaskStatus, error) {
		entry, err := dir.GetEntry(ctx, task, attrTaskExitCode, attrTaskStatus)
		if errors.Is(err, ports.ErrNoSuchEntry) {
			// The server removes finished tasks after their TTL.
			return ports.TaskStatus{Done: true}, nil
		}
		if err != nil {
			return ports.TaskStatus{}, err
		}

		raw := entry.Value(attrTaskExitCode)
		if raw == "" {
			return ports.TaskStatus{Message: entry.Value(attrTaskStatus)}, nil
		}
		code, err := strconv.Atoi(raw)
		if err != nil {
			return ports.TaskStatus{}, fmt.Errorf("invalid exit code %q on %s: %w", raw, task, err)
		}
		return ports.TaskStatus{Done: true, ExitCode: code, Message: entry.Value(attrTaskStatus)}, nil
	}
}
