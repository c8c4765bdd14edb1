// Package integrity reads the system code integrity policy and points the
// user at the settings page that controls it.
package integrity

import (
	"context"
	"errors"
)

// SecuritySettingsURI opens the core isolation page of Windows Security.
const SecuritySettingsURI = "windowsdefender://coreisolation"

var ErrUnsupported = errors.New("code integrity policy is not available on this platform")

// Checker reports whether hypervisor enforced code integrity (memory
// integrity) is on.
type Checker interface {
	Enabled(ctx context.Context) (bool, error)
}

// Launcher opens a URI with the shell's default handler.
type Launcher interface {
	Open(ctx context.Context, uri string) error
}

// Static is a Checker with a fixed answer.
type Static bool

func (s Static) Enabled(context.Context) (bool, error) { return bool(s), nil }

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, uri string) error

func (f LauncherFunc) Open(ctx context.Context, uri string) error { return f(ctx, uri) }

// codeIntegrityHVCI is CODEINTEGRITY_OPTION_HVCI_KMCI_ENABLED.
const codeIntegrityHVCI = 0x400

// HVCIEnabled interprets the CodeIntegrityOptions word.
func HVCIEnabled(options uint32) bool {
	return options&codeIntegrityHVCI != 0
}
