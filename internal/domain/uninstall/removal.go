package uninstall

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// InstanceRemover deletes a managed instance from the host.
type InstanceRemover interface {
	RemoveInstance(ctx context.Context, serverID string, force bool) error
}

// RemoveInstance removes the instance, retrying once with the forced variant
// when the removal tool fails. An error from the forced attempt is final.
func RemoveInstance(ctx context.Context, remover InstanceRemover, serverID string, logger ports.Logger) error {
	err := remover.RemoveInstance(ctx, serverID, false)
	if err == nil {
		return nil
	}

	var toolErr *ports.ExternalToolError
	if !errors.As(err, &toolErr) {
		return err
	}

	logger.Debug(ctx, "instance removal failed, attempting to force removal",
		ports.F("serverid", serverID), ports.Err(err))

	if err := remover.RemoveInstance(ctx, serverID, true); err != nil {
		logger.Error(ctx, "instance removal failed", ports.F("serverid", serverID), ports.Err(err))
		return err
	}
	return nil
}
