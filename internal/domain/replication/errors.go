package replication

import (
	"fmt"
	"time"
)

// PreconditionError reports missing or invalid input detected before any
// network call.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "replication precondition failed: " + e.Reason
}

// TransportError reports that the peer could not be reached.
type TransportError struct {
	Peer string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cannot reach replication peer %s: %v", e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthenticationError reports that the peer rejected the credential.
type AuthenticationError struct {
	Peer string
	Mode BindMode
	Err  error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("replication peer %s rejected %s credential: %v", e.Peer, e.Mode, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ConsistencyTimeoutError reports that the repair task did not finish within
// the polling bound.
type ConsistencyTimeoutError struct {
	Task   string
	Polls  int
	Waited time.Duration
}

func (e *ConsistencyTimeoutError) Error() string {
	return fmt.Sprintf("consistency repair task %s not finished after %d polls (%s)", e.Task, e.Polls, e.Waited)
}

// RepairError reports that the repair task finished unsuccessfully.
type RepairError struct {
	Task     string
	ExitCode int
	Message  string
}

func (e *RepairError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("consistency repair task %s failed with status %d: %s", e.Task, e.ExitCode, e.Message)
	}
	return fmt.Sprintf("consistency repair task %s failed with status %d", e.Task, e.ExitCode)
}
