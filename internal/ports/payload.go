package ports

import "context"

// PayloadApplier applies one named configuration payload to the managed
// instance. An apply is atomic or reports a failure.
type PayloadApplier interface {
	Apply(ctx context.Context, payloadRef string, substitutions map[string]string) error
}

// SysconfigEditor edits shell-style KEY=value files such as the service
// environment file. ReplaceVariables returns the previous values of the
// replaced keys; keys that were not present are omitted.
type SysconfigEditor interface {
	ReplaceVariables(path string, vars map[string]string) (map[string]string, error)
}
