package ports

import "context"

// ServiceManager controls instances of a platform service unit.
type ServiceManager interface {
	Start(ctx context.Context, instance string) error
	Stop(ctx context.Context, instance string) error
	Restart(ctx context.Context, instance string) error
	IsRunning(ctx context.Context, instance string) (bool, error)
	Enable(ctx context.Context, instance string) error
	Disable(ctx context.Context, instance string) error
	IsEnabled(ctx context.Context, instance string) (bool, error)
}
