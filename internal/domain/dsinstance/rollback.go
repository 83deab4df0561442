package dsinstance

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/felixgeelhaar/dsinstall/internal/domain/state"
	"github.com/felixgeelhaar/dsinstall/internal/domain/uninstall"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// CommandRemover removes instances with the directory server removal tool.
type CommandRemover struct {
	runner ports.CommandRunner
}

// NewCommandRemover creates a remover running through runner.
func NewCommandRemover(runner ports.CommandRunner) *CommandRemover {
	return &CommandRemover{runner: runner}
}

// RemoveInstance runs the removal tool, adding -f when force is set.
func (r *CommandRemover) RemoveInstance(ctx context.Context, serverID string, force bool) error {
	argv := []string{RemoveTool, "-i", InstancePrefix + serverID}
	if force {
		argv = append(argv, "-f")
	}
	_, err := r.runner.Run(ctx, ports.Command{Argv: argv})
	return err
}

var _ uninstall.InstanceRemover = (*CommandRemover)(nil)

// ListInstances returns the sorted names of the instances configured under
// dir. Directories marked as removed are ignored.
func ListInstances(fs vfs.FileSystem, dir string) ([]string, error) {
	entries, err := vfs.ReadDir(fs, dir)
	if err != nil {
		if errors.Is(err, vfs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var instances []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, InstancePrefix) || strings.HasSuffix(name, ".removed") {
			continue
		}
		if id := strings.TrimPrefix(name, InstancePrefix); id != "" {
			instances = append(instances, id)
		}
	}
	sort.Strings(instances)
	return instances, nil
}

// consumedKeys carry nothing to undo beyond forgetting them.
var consumedKeys = []string{KeyRunning, KeyUserExists, KeyPort, KeySecurity, KeyLDAPIAutobind}

// valueKeys are cleared once the rollback has run.
var valueKeys = []string{KeyNickname, KeyCertmapSubject, KeyReplication}

// RegisterRollback installs the handlers that undo the installation steps
// of inst.
func RegisterRollback(orch *uninstall.Orchestrator, inst *Instance, deps Deps) {
	orch.Register(KeyEnabled, func(ctx context.Context, rec state.Record) error {
		var enabled bool
		if err := rec.Decode(&enabled); err != nil {
			return err
		}
		if !enabled {
			return nil
		}
		return deps.Controller.Enable(ctx)
	})

	orch.RegisterPrefix(state.FileKeyPrefix, deps.Files.RestoreRecord)

	orch.Register(KeyServerID, func(ctx context.Context, rec state.Record) error {
		var serverID string
		if err := rec.Decode(&serverID); err != nil {
			return err
		}
		return removeInstance(ctx, inst, deps, serverID)
	})

	for _, key := range consumedKeys {
		orch.Register(key, func(ctx context.Context, rec state.Record) error {
			deps.Logger.Debug(ctx, "forgetting installation state", ports.F("key", rec.Key))
			return nil
		})
	}

	orch.AddFinalizer("restarting remaining directory server instances", func(ctx context.Context) error {
		instances, err := ListInstances(deps.FS, inst.ConfigDir)
		if err != nil {
			return err
		}
		var errs []error
		for _, id := range instances {
			if err := deps.Services.Restart(ctx, id); err != nil {
				deps.Logger.Error(ctx, "unable to restart DS instance", ports.F("instance", id), ports.Err(err))
				errs = append(errs, fmt.Errorf("restarting %s: %w", id, err))
			}
		}
		return errors.Join(errs...)
	})

	orch.AddFinalizer("clearing installation values", func(ctx context.Context) error {
		var errs []error
		for _, key := range valueKeys {
			errs = append(errs, deps.Store.Delete(ctx, key))
		}
		return errors.Join(errs...)
	})
}

func removeInstance(ctx context.Context, inst *Instance, deps Deps, serverID string) error {
	var errs []error

	nickname := ServerCertName
	if _, err := deps.Store.Get(ctx, KeyNickname, &nickname); err != nil {
		errs = append(errs, err)
	}
	certDir := path.Join(inst.ConfigDir, InstancePrefix+serverID)
	if err := deps.Issuer.UntrackCredential(ctx, certDir, nickname); err != nil {
		errs = append(errs, fmt.Errorf("stopping certificate tracking: %w", err))
	}

	deps.Logger.Debug(ctx, "removing DS instance", ports.F("serverid", serverID))
	if err := uninstall.RemoveInstance(ctx, NewCommandRemover(deps.Runner), serverID, deps.Logger); err != nil {
		deps.Logger.Error(ctx, "failed to remove DS instance, you may need to remove instance data manually",
			ports.Err(err))
		return errors.Join(append(errs, err)...)
	}

	if err := deps.Issuer.RemoveKeytab(ctx, KeytabPath); err != nil {
		errs = append(errs, err)
	}
	if _, err := deps.Runner.Run(ctx, ports.Command{Argv: []string{"runuser", "-u", ServiceUser, "--", "kdestroy", "-A"}}); err != nil {
		errs = append(errs, fmt.Errorf("removing ccache: %w", err))
	}
	return errors.Join(errs...)
}
