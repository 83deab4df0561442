package ports

import "context"

// JoinRequest is what a joining node presents to the peer it replicates
// from.
type JoinRequest struct {
	PeerAddress string
	LocalHost   string
	Credential  Credential
	// TrustAnchor is a PEM bundle used to verify the peer's transport.
	TrustAnchor []byte
}

// JoinResult is the authoritative outcome of a join.
type JoinResult struct {
	AgreementDN string
	// NeedsRepair reports that the joined node's membership index must be
	// rebuilt explicitly.
	NeedsRepair bool
}

// TaskStatus is the completion marker of an asynchronous server task.
type TaskStatus struct {
	Done     bool
	ExitCode int
	Message  string
}

// ReplicationPeer performs the join handshake and drives repair tasks.
type ReplicationPeer interface {
	Join(ctx context.Context, req JoinRequest) (JoinResult, error)
	StartRepairTask(ctx context.Context, name string) (taskDN string, err error)
	TaskStatus(ctx context.Context, taskDN string) (TaskStatus, error)
}

// JoinFailureKind classifies a failed join.
type JoinFailureKind int

// Join failure kinds.
const (
	JoinFailureTransport JoinFailureKind = iota
	JoinFailureAuthentication
)

// JoinError is returned by ReplicationPeer.Join implementations so callers
// can tell transport failures from rejected credentials.
type JoinError struct {
	Kind JoinFailureKind
	Err  error
}

// Error implements error.
func (e *JoinError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *JoinError) Unwrap() error {
	return e.Err
}
