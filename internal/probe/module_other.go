//go:build !windows

package probe

import (
	"context"
	"fmt"
)

func (m Module) DeviceStatus(context.Context) (Status, error) {
	return StatusUndefined, fmt.Errorf("%w: native modules need windows (%s)", ErrUnavailable, m.symbol())
}
