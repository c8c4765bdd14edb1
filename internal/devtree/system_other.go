//go:build !windows

package devtree

import "context"

// Runner starts an external process and waits for it; see internal/installer.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type systemManager struct{}

// NewSystemManager returns a Manager whose primitives all fail with
// ErrUnsupported; the device manager only exists on Windows. Use a
// FixtureManager for dry runs elsewhere.
func NewSystemManager(_ Runner) Manager {
	return systemManager{}
}

func (systemManager) Enumerate(context.Context) ([]Record, error) { return nil, ErrUnsupported }
func (systemManager) Uninstall(context.Context, string) error    { return ErrUnsupported }
func (systemManager) Rescan(context.Context) error               { return ErrUnsupported }
func (systemManager) Enable(context.Context, string) error       { return ErrUnsupported }
func (systemManager) InstallINF(context.Context, string) error   { return ErrUnsupported }
func (systemManager) AssignDriver(context.Context, string, string) error {
	return ErrUnsupported
}
func (systemManager) AssignExistingDriver(context.Context, string, string, string, string) error {
	return ErrUnsupported
}
