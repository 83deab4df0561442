// Package systemd manages directory server instances through systemctl.
package systemd

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// Systemctl is the service manager client.
const Systemctl = "/usr/bin/systemctl"

// Manager implements ports.ServiceManager with templated dirsrv units.
type Manager struct {
	runner ports.CommandRunner
	unit   string
}

// Option configures a Manager.
type Option func(*Manager)

// WithUnit sets the template unit name. The default is "dirsrv".
func WithUnit(unit string) Option {
	return func(m *Manager) {
		m.unit = unit
	}
}

// NewManager creates a Manager.
func NewManager(runner ports.CommandRunner, opts ...Option) *Manager {
	m := &Manager{runner: runner, unit: "dirsrv"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Unit returns the unit name of instance.
func (m *Manager) Unit(instance string) string {
	return m.unit + "@" + instance + ".service"
}

func (m *Manager) systemctl(ctx context.Context, verb, instance string) error {
	_, err := m.runner.Run(ctx, ports.Command{Argv: []string{Systemctl, verb, m.Unit(instance)}})
	if err != nil {
		return fmt.Errorf("systemctl %s %s: %w", verb, m.Unit(instance), err)
	}
	return nil
}

// query runs a systemctl predicate. A non-zero exit means false.
func (m *Manager) query(ctx context.Context, verb, instance string) (bool, error) {
	_, err := m.runner.Run(ctx, ports.Command{Argv: []string{Systemctl, verb, "--quiet", m.Unit(instance)}})
	if err == nil {
		return true, nil
	}
	var toolErr *ports.ExternalToolError
	if errors.As(err, &toolErr) {
		return false, nil
	}
	return false, err
}

// Start starts the instance.
func (m *Manager) Start(ctx context.Context, instance string) error {
	return m.systemctl(ctx, "start", instance)
}

// Stop stops the instance.
func (m *Manager) Stop(ctx context.Context, instance string) error {
	return m.systemctl(ctx, "stop", instance)
}

// Restart restarts the instance.
func (m *Manager) Restart(ctx context.Context, instance string) error {
	return m.systemctl(ctx, "restart", instance)
}

// IsRunning reports whether the unit is active.
func (m *Manager) IsRunning(ctx context.Context, instance string) (bool, error) {
	return m.query(ctx, "is-active", instance)
}

// Enable enables the unit.
func (m *Manager) Enable(ctx context.Context, instance string) error {
	return m.systemctl(ctx, "enable", instance)
}

// Disable disables the unit.
func (m *Manager) Disable(ctx context.Context, instance string) error {
	return m.systemctl(ctx, "disable", instance)
}

// IsEnabled reports whether the unit starts on boot.
func (m *Manager) IsEnabled(ctx context.Context, instance string) (bool, error) {
	return m.query(ctx, "is-enabled", instance)
}

var _ ports.ServiceManager = (*Manager)(nil)
