// Package service controls the managed directory-server instance and keeps
// its control-plane session consistent with the process state.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// ErrNotRunning is returned when the service does not report running after
// a restart.
var ErrNotRunning = errors.New("service is not running")

// RestartError reports a failed restart. It is fatal to the calling step.
type RestartError struct {
	Instance string
	Phase    string
	Err      error
}

// Error implements error.
func (e *RestartError) Error() string {
	return fmt.Sprintf("failed to restart %s during %s: %v", e.Instance, e.Phase, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RestartError) Unwrap() error {
	return e.Err
}

// Controller is the only handle through which steps start and stop the
// managed instance. The session may be nil for instances that have no
// control plane yet (before the instance is created).
type Controller struct {
	instance string
	manager  ports.ServiceManager
	session  ports.Session
	logger   ports.Logger
}

// NewController creates a controller for one named instance.
func NewController(instance string, manager ports.ServiceManager, session ports.Session, logger ports.Logger) *Controller {
	return &Controller{
		instance: instance,
		manager:  manager,
		session:  session,
		logger:   logger.With(ports.F("instance", instance)),
	}
}

// Instance returns the managed instance name.
func (c *Controller) Instance() string {
	return c.instance
}

// Session returns the control-plane session kept by this controller.
func (c *Controller) Session() ports.Session {
	return c.session
}

// Start starts the service and opens the control-plane session.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.manager.Start(ctx, c.instance); err != nil {
		return fmt.Errorf("starting %s: %w", c.instance, err)
	}
	return c.connect(ctx)
}

// Connect opens the control-plane session to an already running service.
// It returns ErrNotRunning when the service is stopped.
func (c *Controller) Connect(ctx context.Context) error {
	running, err := c.manager.IsRunning(ctx, c.instance)
	if err != nil {
		return fmt.Errorf("checking %s: %w", c.instance, err)
	}
	if !running {
		return fmt.Errorf("connecting to %s: %w", c.instance, ErrNotRunning)
	}
	return c.connect(ctx)
}

// Stop closes the control-plane session and stops the service.
func (c *Controller) Stop(ctx context.Context) error {
	c.disconnect(ctx)
	if err := c.manager.Stop(ctx, c.instance); err != nil {
		return fmt.Errorf("stopping %s: %w", c.instance, err)
	}
	return nil
}

// Restart disconnects the session, stops and starts the service, reconnects
// and verifies that the service reports running. Any failure is returned
// as *RestartError.
func (c *Controller) Restart(ctx context.Context) error {
	c.disconnect(ctx)

	if err := c.manager.Stop(ctx, c.instance); err != nil {
		return c.restartFailed(ctx, "stop", err)
	}
	if err := c.manager.Start(ctx, c.instance); err != nil {
		return c.restartFailed(ctx, "start", err)
	}
	if err := c.connect(ctx); err != nil {
		return c.restartFailed(ctx, "reconnect", err)
	}

	running, err := c.manager.IsRunning(ctx, c.instance)
	if err != nil {
		return c.restartFailed(ctx, "verify", err)
	}
	if !running {
		return c.restartFailed(ctx, "verify", ErrNotRunning)
	}
	return nil
}

// IsRunning reports whether the service is running.
func (c *Controller) IsRunning(ctx context.Context) (bool, error) {
	return c.manager.IsRunning(ctx, c.instance)
}

// IsEnabled reports whether the service starts on boot.
func (c *Controller) IsEnabled(ctx context.Context) (bool, error) {
	return c.manager.IsEnabled(ctx, c.instance)
}

// Enable makes the service start on boot.
func (c *Controller) Enable(ctx context.Context) error {
	return c.manager.Enable(ctx, c.instance)
}

// Disable stops the service from starting on boot.
func (c *Controller) Disable(ctx context.Context) error {
	return c.manager.Disable(ctx, c.instance)
}

func (c *Controller) connect(ctx context.Context) error {
	if c.session == nil || c.session.IsConnected() {
		return nil
	}
	if err := c.session.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", c.instance, err)
	}
	return nil
}

func (c *Controller) disconnect(ctx context.Context) {
	if c.session == nil || !c.session.IsConnected() {
		return
	}
	if err := c.session.Disconnect(); err != nil {
		c.logger.Debug(ctx, "closing control-plane session failed", ports.Err(err))
	}
}

func (c *Controller) restartFailed(ctx context.Context, phase string, err error) error {
	c.logger.Error(ctx, "failed to restart the directory server, see the installation log for details",
		ports.F("phase", phase), ports.Err(err))
	return &RestartError{Instance: c.instance, Phase: phase, Err: err}
}
