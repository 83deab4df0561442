package mocks

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// ServiceManager is an in-memory ports.ServiceManager. It records every
// call as "<op> <instance>".
type ServiceManager struct {
	mu      sync.Mutex
	running map[string]bool
	enabled map[string]bool
	calls   []string

	// Errors maps "<op> <instance>" to the error that call returns.
	Errors map[string]error
	// StayDown makes Start succeed without marking the instance running.
	StayDown bool
	// Journal, when set, receives every call.
	Journal *Journal
}

// NewServiceManager creates an empty service manager.
func NewServiceManager() *ServiceManager {
	return &ServiceManager{
		running: make(map[string]bool),
		enabled: make(map[string]bool),
		Errors:  make(map[string]error),
	}
}

func (m *ServiceManager) call(op, instance string) error {
	m.calls = append(m.calls, op+" "+instance)
	m.Journal.Record(op + " " + instance)
	return m.Errors[op+" "+instance]
}

// Start marks the instance running.
func (m *ServiceManager) Start(_ context.Context, instance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("start", instance); err != nil {
		return err
	}
	m.running[instance] = !m.StayDown
	return nil
}

// Stop marks the instance stopped.
func (m *ServiceManager) Stop(_ context.Context, instance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("stop", instance); err != nil {
		return err
	}
	m.running[instance] = false
	return nil
}

// Restart marks the instance running.
func (m *ServiceManager) Restart(_ context.Context, instance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("restart", instance); err != nil {
		return err
	}
	m.running[instance] = !m.StayDown
	return nil
}

// IsRunning reports the recorded state.
func (m *ServiceManager) IsRunning(_ context.Context, instance string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[instance], m.Errors["is-running "+instance]
}

// Enable marks the instance enabled.
func (m *ServiceManager) Enable(_ context.Context, instance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("enable", instance); err != nil {
		return err
	}
	m.enabled[instance] = true
	return nil
}

// Disable marks the instance disabled.
func (m *ServiceManager) Disable(_ context.Context, instance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("disable", instance); err != nil {
		return err
	}
	m.enabled[instance] = false
	return nil
}

// IsEnabled reports the recorded state.
func (m *ServiceManager) IsEnabled(_ context.Context, instance string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[instance], nil
}

// SetRunning presets the running state.
func (m *ServiceManager) SetRunning(instance string, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[instance] = running
}

// SetEnabled presets the enabled state.
func (m *ServiceManager) SetEnabled(instance string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled[instance] = enabled
}

// Calls returns the recorded calls.
func (m *ServiceManager) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

var _ ports.ServiceManager = (*ServiceManager)(nil)
