// Package app wires the installer core to its collaborators and exposes
// the installation, uninstall and replication bootstrap operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/dsinstall/internal/domain/config"
	"github.com/felixgeelhaar/dsinstall/internal/domain/dsinstance"
	"github.com/felixgeelhaar/dsinstall/internal/domain/install"
	"github.com/felixgeelhaar/dsinstall/internal/domain/replication"
	"github.com/felixgeelhaar/dsinstall/internal/domain/service"
	"github.com/felixgeelhaar/dsinstall/internal/domain/state"
	"github.com/felixgeelhaar/dsinstall/internal/domain/uninstall"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/juju/clock"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// Collaborators are the ports the installer acts through.
type Collaborators struct {
	FS        vfs.FileSystem
	Runner    ports.CommandRunner
	Services  ports.ServiceManager
	Session   ports.Session
	Payloads  ports.PayloadApplier
	Issuer    ports.CredentialIssuer
	Sysconfig ports.SysconfigEditor
	Peer      ports.ReplicationPeer
	Clock     clock.Clock
	Logger    ports.Logger
}

// Credentials are the secrets offered to a replication bootstrap.
type Credentials struct {
	AdminSecret     string
	ServiceIdentity string
	TrustAnchor     []byte
}

// Installer installs, uninstalls and replicates one directory-server
// instance.
type Installer struct {
	cfg    *config.Config
	inst   *dsinstance.Instance
	store  *state.FileStore
	deps   dsinstance.Deps
	runner *install.Runner
	logger ports.Logger
}

// New creates an Installer for a validated configuration.
func New(cfg *config.Config, c Collaborators) *Installer {
	clk := c.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	inst := dsinstance.NewInstance(cfg.Instance, clk.Now())
	logger := c.Logger.With(ports.F("serverid", inst.ServerID))

	store := state.NewFileStore(c.FS, cfg.StateDir, dsinstance.InstancePrefix+inst.ServerID, logger)
	files := state.NewFileBackups(c.FS, cfg.StateDir+"/files", store, logger)

	interval, bound := time.Duration(0), time.Duration(0)
	if cfg.Replica != nil {
		interval, bound = cfg.Replica.PollInterval(), cfg.Replica.PollTimeout()
	}
	coordinatorOpts := []replication.Option{replication.WithClock(clk)}
	if interval > 0 {
		coordinatorOpts = append(coordinatorOpts, replication.WithPollInterval(interval))
	}
	if bound > 0 {
		coordinatorOpts = append(coordinatorOpts, replication.WithPollBound(bound))
	}

	deps := dsinstance.Deps{
		FS:          c.FS,
		Runner:      c.Runner,
		Store:       store,
		Files:       files,
		Controller:  service.NewController(inst.ServerID, c.Services, c.Session, logger),
		Services:    c.Services,
		Payloads:    c.Payloads,
		Issuer:      c.Issuer,
		Sysconfig:   c.Sysconfig,
		Coordinator: replication.NewCoordinator(c.Peer, logger, coordinatorOpts...),
		Poller:      replication.NewPoller(clk, interval, bound, logger),
		Logger:      logger,
	}

	return &Installer{
		cfg:    cfg,
		inst:   inst,
		store:  store,
		deps:   deps,
		runner: install.NewRunner(clk, logger),
		logger: logger,
	}
}

// Instance returns the resolved instance.
func (i *Installer) Instance() *dsinstance.Instance {
	return i.inst
}

// Store returns the persistent state of the instance.
func (i *Installer) Store() state.Store {
	return i.store
}

// Builder returns a step builder for the instance.
func (i *Installer) Builder() *dsinstance.Builder {
	return dsinstance.NewBuilder(i.inst, i.deps)
}

// FreshInstallSteps returns the steps of a first-server installation.
func (i *Installer) FreshInstallSteps() []install.Step {
	return dsinstance.FreshInstallSteps(i.inst, i.deps)
}

// EnableTLSSteps returns the steps that turn on transport security.
func (i *Installer) EnableTLSSteps() []install.Step {
	return dsinstance.EnableTLSSteps(i.inst, i.deps)
}

// ReplicaSteps returns the steps that install a replica of the configured
// master.
func (i *Installer) ReplicaSteps() ([]install.Step, error) {
	if i.cfg.Replica == nil || i.cfg.Replica.Master == "" {
		return nil, config.NewUserError(config.ErrCodePrecondition, "no replication master configured").
			WithSuggestion("Set replica.master in the configuration file or pass --master")
	}
	return dsinstance.ReplicaSteps(i.inst, i.deps, dsinstance.ReplicaOptions{
		Master:          i.cfg.Replica.Master,
		ServiceIdentity: i.cfg.Replica.ServiceIdentity,
	}), nil
}

// RunInstallation executes steps in order and stops at the first failure.
// Completed steps are not undone; call RunUninstall for that.
func (i *Installer) RunInstallation(ctx context.Context, steps []install.Step, budget time.Duration) (install.Report, error) {
	i.logger.Info(ctx, "configuring directory server", ports.F("steps", len(steps)))
	report, err := i.runner.Run(ctx, steps, budget)
	if err != nil {
		i.logger.Error(ctx, "installation failed, run uninstall to clean up", ports.Err(err))
		return report, err
	}
	if runID, err := i.store.RunID(); err == nil && runID != "" {
		i.logger.Debug(ctx, "installation recorded", ports.F("run_id", runID))
	}
	return report, nil
}

// RunUninstall restores every recorded backup in reverse order. Cleanup
// is best effort: failures are returned together as
// *uninstall.PartialFailure after every action was attempted.
func (i *Installer) RunUninstall(ctx context.Context) (uninstall.Report, error) {
	orch := uninstall.NewOrchestrator(i.store, i.logger)
	dsinstance.RegisterRollback(orch, i.inst, i.deps)

	if i.deps.Controller.Session() != nil && i.deps.Controller.Session().IsConnected() {
		defer func() {
			if err := i.deps.Controller.Session().Disconnect(); err != nil {
				i.logger.Debug(ctx, "closing session failed", ports.Err(err))
			}
		}()
	}

	report, err := orch.Run(ctx)
	var partial *uninstall.PartialFailure
	if errors.As(err, &partial) {
		i.logger.Warn(ctx, "uninstall finished with warnings", ports.F("warnings", len(partial.Warnings)))
	}
	return report, err
}

// BootstrapReplication joins peer at the given domain level.
func (i *Installer) BootstrapReplication(ctx context.Context, peer string, level replication.DomainLevel, creds Credentials) (replication.Outcome, error) {
	outcome, err := i.deps.Coordinator.Bootstrap(ctx, replication.Request{
		Peer:            peer,
		DomainLevel:     level,
		AdminSecret:     creds.AdminSecret,
		ServiceIdentity: creds.ServiceIdentity,
		TrustAnchor:     creds.TrustAnchor,
		LocalHost:       i.inst.FQDN,
	})
	if err != nil {
		return outcome, fmt.Errorf("bootstrapping replication with %s: %w", peer, err)
	}
	return outcome, nil
}

// Status describes the recorded installation of the instance.
type Status struct {
	ServerID  string   `json:"server_id"`
	Installed bool     `json:"installed"`
	RunID     string   `json:"run_id,omitempty"`
	Backups   []string `json:"backups,omitempty"`
	Running   bool     `json:"running"`
	Enabled   bool     `json:"enabled"`
}

// Status reads the recorded state and asks the service manager about the
// instance.
func (i *Installer) Status(ctx context.Context) (Status, error) {
	st := Status{ServerID: i.inst.ServerID}

	records, err := i.store.Backups(ctx)
	if err != nil {
		return st, err
	}
	for _, r := range records {
		st.Backups = append(st.Backups, r.Key)
	}
	if st.RunID, err = i.store.RunID(); err != nil {
		return st, err
	}
	empty, err := i.store.IsEmpty()
	if err != nil {
		return st, err
	}
	st.Installed = !empty

	if st.Running, err = i.deps.Controller.IsRunning(ctx); err != nil {
		return st, err
	}
	if st.Enabled, err = i.deps.Controller.IsEnabled(ctx); err != nil {
		return st, err
	}
	return st, nil
}
