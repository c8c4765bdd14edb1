//go:build !windows

package integrity

import "context"

type systemChecker struct{}

// NewSystemChecker returns a Checker that reports the policy as off; the
// policy only exists on Windows.
func NewSystemChecker() Checker { return systemChecker{} }

func (systemChecker) Enabled(context.Context) (bool, error) { return false, nil }

type shellLauncher struct{}

func NewShellLauncher() Launcher { return shellLauncher{} }

func (shellLauncher) Open(context.Context, string) error { return ErrUnsupported }
