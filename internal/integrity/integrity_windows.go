//go:build windows

package integrity

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const systemCodeIntegrityInformation = 103

type codeIntegrityInformation struct {
	Length  uint32
	Options uint32
}

type systemChecker struct{}

func NewSystemChecker() Checker { return systemChecker{} }

func (systemChecker) Enabled(context.Context) (bool, error) {
	info := codeIntegrityInformation{Length: uint32(unsafe.Sizeof(codeIntegrityInformation{}))}
	var retLen uint32
	if err := windows.NtQuerySystemInformation(
		systemCodeIntegrityInformation,
		unsafe.Pointer(&info),
		info.Length,
		&retLen,
	); err != nil {
		return false, fmt.Errorf("NtQuerySystemInformation(code integrity): %w", err)
	}
	return HVCIEnabled(info.Options), nil
}

type shellLauncher struct{}

func NewShellLauncher() Launcher { return shellLauncher{} }

func (shellLauncher) Open(_ context.Context, uri string) error {
	verb, err := windows.UTF16PtrFromString("open")
	if err != nil {
		return err
	}
	target, err := windows.UTF16PtrFromString(uri)
	if err != nil {
		return err
	}
	if err := windows.ShellExecute(0, verb, target, nil, nil, windows.SW_SHOWNORMAL); err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	return nil
}
