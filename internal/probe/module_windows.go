//go:build windows

package probe

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sys/windows"
)

// DeviceStatus loads the library, resolves the status export and calls it.
// The export takes no arguments and returns the status as an int32.
func (m Module) DeviceStatus(ctx context.Context) (status Status, err error) {
	if strings.TrimSpace(m.Path) == "" {
		return StatusUndefined, fmt.Errorf("%w: no module configured", ErrUnavailable)
	}
	defer func() {
		if r := recover(); r != nil {
			status, err = StatusUndefined, fmt.Errorf("%w: module call panicked: %v", ErrUnavailable, r)
		}
	}()

	dll, err := windows.LoadDLL(m.Path)
	if err != nil {
		return StatusUndefined, fmt.Errorf("%w: load %s: %v", ErrUnavailable, m.Path, err)
	}
	defer dll.Release()

	proc, err := dll.FindProc(m.symbol())
	if err != nil {
		return StatusUndefined, fmt.Errorf("%w: %s: %v", ErrUnavailable, m.symbol(), err)
	}
	r1, _, _ := proc.Call()
	return Status(int32(r1)), nil
}
