//go:build windows

package devtree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modcfgmgr32 = windows.NewLazySystemDLL("cfgmgr32.dll")
	modnewdev   = windows.NewLazySystemDLL("newdev.dll")

	procCMLocateDevNodeW     = modcfgmgr32.NewProc("CM_Locate_DevNodeW")
	procCMReenumerateDevNode = modcfgmgr32.NewProc("CM_Reenumerate_DevNode")
	procCMEnableDevNode      = modcfgmgr32.NewProc("CM_Enable_DevNode")
	procDiUninstallDevice    = modnewdev.NewProc("DiUninstallDevice")
)

const (
	crSuccess           = 0x00000000
	crNoSuchDevNode     = 0x0000000D
	crNoSuchDevInst     = 0x00000025
	cmLocateNormal      = 0x00000000
	cmLocatePhantom     = 0x00000001
	cmReenumerateNormal = 0x00000000
)

// Runner starts an external process and waits for it; see internal/installer.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type systemManager struct {
	runner Runner
}

// NewSystemManager returns the Manager backed by SetupAPI and cfgmgr32.
// Driver package installation runs pnputil through runner.
func NewSystemManager(runner Runner) Manager {
	return &systemManager{runner: runner}
}

type deviceSet struct {
	flags windows.DIGCF
	guid  *windows.GUID
}

func (m *systemManager) deviceSets() ([]deviceSet, error) {
	endpoint, err := windows.GUIDFromString(ClassAudioEndpoint)
	if err != nil {
		return nil, err
	}
	return []deviceSet{
		{flags: windows.DIGCF_ALLCLASSES | windows.DIGCF_PRESENT},
		// Endpoints are listed without DIGCF_PRESENT so unplugged ones show up.
		{guid: &endpoint},
	}, nil
}

func openSet(ds deviceSet) (windows.DevInfo, error) {
	enumerator := ""
	if ds.guid == nil {
		enumerator = "USB"
	}
	return windows.SetupDiGetClassDevsEx(ds.guid, enumerator, 0, ds.flags, 0, "")
}

func (m *systemManager) Enumerate(ctx context.Context) ([]Record, error) {
	sets, err := m.deviceSets()
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, ds := range sets {
		set, err := openSet(ds)
		if err != nil {
			return nil, fmt.Errorf("SetupDiGetClassDevsEx: %w", err)
		}
		records, err := readSet(set)
		_ = set.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

func readSet(set windows.DevInfo) ([]Record, error) {
	var out []Record
	for i := 0; ; i++ {
		data, err := set.EnumDeviceInfo(i)
		if err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_ITEMS) {
				return out, nil
			}
			return nil, fmt.Errorf("SetupDiEnumDeviceInfo: %w", err)
		}

		id, err := set.DeviceInstanceID(data)
		if err != nil {
			continue
		}

		r := Record{
			InstanceID: id,
			Properties: map[Property]string{},
		}
		if v, err := set.DeviceRegistryProperty(data, windows.SPDRP_HARDWAREID); err == nil {
			r.HardwareIDs = multiString(v)
		}
		for prop, spdrp := range map[Property]windows.SPDRP{
			PropertyDescription:  windows.SPDRP_DEVICEDESC,
			PropertyFriendlyName: windows.SPDRP_FRIENDLYNAME,
			PropertyClassGUID:    windows.SPDRP_CLASSGUID,
			PropertyClass:        windows.SPDRP_CLASS,
			PropertyManufacturer: windows.SPDRP_MFG,
			PropertyDriver:       windows.SPDRP_DRIVER,
			PropertyEnumerator:   windows.SPDRP_ENUMERATOR_NAME,
		} {
			if v, err := set.DeviceRegistryProperty(data, spdrp); err == nil {
				if s, ok := v.(string); ok {
					r.Properties[prop] = s
				}
			}
		}

		var status, problem uint32
		present := true
		if err := windows.CM_Get_DevNode_Status(&status, &problem, data.DevInst, 0); err != nil {
			present = false
		}
		r.Flags = Flags(status)
		r.Problem = ProblemCode(problem)
		r.Present = &present

		out = append(out, r)
	}
}

func multiString(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}

// open finds instanceID in a fresh device information set. The caller
// closes the returned set.
func (m *systemManager) open(instanceID string) (windows.DevInfo, *windows.DevInfoData, error) {
	sets, err := m.deviceSets()
	if err != nil {
		return 0, nil, err
	}
	for _, ds := range sets {
		set, err := openSet(ds)
		if err != nil {
			return 0, nil, fmt.Errorf("SetupDiGetClassDevsEx: %w", err)
		}
		for i := 0; ; i++ {
			data, err := set.EnumDeviceInfo(i)
			if err != nil {
				break
			}
			id, err := set.DeviceInstanceID(data)
			if err == nil && strings.EqualFold(id, instanceID) {
				return set, data, nil
			}
		}
		_ = set.Close()
	}
	return 0, nil, ErrNotFound
}

func (m *systemManager) Uninstall(ctx context.Context, instanceID string) error {
	set, data, err := m.open(instanceID)
	if err != nil {
		return err
	}
	defer set.Close()

	var needReboot int32
	r1, _, callErr := procDiUninstallDevice.Call(
		0,
		uintptr(set),
		uintptr(unsafe.Pointer(data)),
		0,
		uintptr(unsafe.Pointer(&needReboot)),
	)
	if r1 == 0 {
		return fmt.Errorf("DiUninstallDevice %s: %w", instanceID, callErr)
	}
	return nil
}

func locate(instanceID string, flags uint32) (windows.DEVINST, error) {
	var inst windows.DEVINST
	var idPtr *uint16
	if instanceID != "" {
		p, err := windows.UTF16PtrFromString(instanceID)
		if err != nil {
			return 0, err
		}
		idPtr = p
	}
	r1, _, _ := procCMLocateDevNodeW.Call(
		uintptr(unsafe.Pointer(&inst)),
		uintptr(unsafe.Pointer(idPtr)),
		uintptr(flags),
	)
	switch r1 {
	case crSuccess:
		return inst, nil
	case crNoSuchDevNode, crNoSuchDevInst:
		return 0, ErrNotFound
	default:
		return 0, fmt.Errorf("CM_Locate_DevNodeW %q: configret 0x%x", instanceID, r1)
	}
}

func (m *systemManager) Rescan(ctx context.Context) error {
	root, err := locate("", cmLocateNormal)
	if err != nil {
		return err
	}
	r1, _, _ := procCMReenumerateDevNode.Call(uintptr(root), cmReenumerateNormal)
	if r1 != crSuccess {
		return fmt.Errorf("CM_Reenumerate_DevNode: configret 0x%x", r1)
	}
	return nil
}

func (m *systemManager) Enable(ctx context.Context, instanceID string) error {
	inst, err := locate(instanceID, cmLocatePhantom)
	if err != nil {
		return err
	}
	r1, _, _ := procCMEnableDevNode.Call(uintptr(inst), 0)
	if r1 != crSuccess {
		return fmt.Errorf("CM_Enable_DevNode %s: configret 0x%x", instanceID, r1)
	}
	return nil
}

func (m *systemManager) InstallINF(ctx context.Context, infPath string) error {
	if m.runner == nil {
		return ErrUnsupported
	}
	pnputil := filepath.Join(os.Getenv("SystemRoot"), "System32", "pnputil.exe")
	return m.runner.Run(ctx, pnputil, "/add-driver", infPath, "/install")
}

func (m *systemManager) AssignDriver(ctx context.Context, instanceID, infPath string) error {
	if instanceID == "" {
		return ErrNotFound
	}
	set, data, err := m.open(instanceID)
	if err != nil {
		return err
	}
	defer set.Close()

	params, err := set.DeviceInstallParams(data)
	if err != nil {
		return fmt.Errorf("SetupDiGetDeviceInstallParams: %w", err)
	}
	params.Flags |= windows.DI_ENUMSINGLEINF
	params.FlagsEx |= windows.DI_FLAGSEX_ALLOWEXCLUDEDDRVS
	if err := params.SetDriverPath(infPath); err != nil {
		return err
	}
	if err := set.SetDeviceInstallParams(data, params); err != nil {
		return fmt.Errorf("SetupDiSetDeviceInstallParams: %w", err)
	}
	if err := set.BuildDriverInfoList(data, windows.SPDIT_COMPATDRIVER); err != nil {
		return fmt.Errorf("SetupDiBuildDriverInfoList: %w", err)
	}
	defer set.DestroyDriverInfoList(data, windows.SPDIT_COMPATDRIVER)

	if err := set.CallClassInstaller(windows.DIF_SELECTBESTCOMPATDRV, data); err != nil {
		return fmt.Errorf("select driver from %s: %w", infPath, err)
	}
	if err := set.CallClassInstaller(windows.DIF_INSTALLDEVICE, data); err != nil {
		return fmt.Errorf("install driver on %s: %w", instanceID, err)
	}
	return nil
}

func (m *systemManager) AssignExistingDriver(ctx context.Context, instanceID, infName, manufacturer, description string) error {
	if instanceID == "" {
		return ErrNotFound
	}
	set, data, err := m.open(instanceID)
	if err != nil {
		return err
	}
	defer set.Close()

	if err := set.BuildDriverInfoList(data, windows.SPDIT_COMPATDRIVER); err != nil {
		return fmt.Errorf("SetupDiBuildDriverInfoList: %w", err)
	}
	defer set.DestroyDriverInfoList(data, windows.SPDIT_COMPATDRIVER)

	for i := 0; ; i++ {
		drv, err := set.EnumDriverInfo(data, windows.SPDIT_COMPATDRIVER, i)
		if err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_ITEMS) {
				return fmt.Errorf("no %q driver from %s for %s: %w", description, infName, instanceID, ErrNotFound)
			}
			return fmt.Errorf("SetupDiEnumDriverInfo: %w", err)
		}
		if drv.Description() != description || drv.MfgName() != manufacturer {
			continue
		}
		detail, err := set.DriverInfoDetail(data, drv)
		if err != nil || !strings.EqualFold(filepath.Base(detail.InfFileName()), infName) {
			continue
		}
		if err := set.SetSelectedDriver(data, drv); err != nil {
			return fmt.Errorf("SetupDiSetSelectedDriver: %w", err)
		}
		if err := set.CallClassInstaller(windows.DIF_INSTALLDEVICE, data); err != nil {
			return fmt.Errorf("install %s on %s: %w", infName, instanceID, err)
		}
		return nil
	}
}
