// Package devtree reads and mutates the operating system's device tree.
//
// A Snapshot is a point-in-time view of the nodes a Manager reports. Nodes are
// never updated in place: after any uninstall, enable, driver assignment or
// rescan the caller takes a fresh snapshot, because instance ids captured
// before the mutation may no longer resolve.
package devtree

import (
	"context"
	"errors"
	"fmt"
)

// Property names a cached per-node value captured at enumeration time.
type Property string

const (
	PropertyHardwareID   Property = "hardware_id"
	PropertyDescription  Property = "description"
	PropertyFriendlyName Property = "friendly_name"
	PropertyClassGUID    Property = "class_guid"
	PropertyClass        Property = "class"
	PropertyManufacturer Property = "manufacturer"
	PropertyDriver       Property = "driver"
	PropertyEnumerator   Property = "enumerator"
)

// Flags mirrors the cfgmgr32 DN_* devnode status bits.
type Flags uint32

const (
	FlagDriverLoaded Flags = 0x00000002
	FlagStarted      Flags = 0x00000008
	FlagDisableable  Flags = 0x00002000
	FlagHasProblem   Flags = 0x00000400
	FlagRemovable    Flags = 0x00004000
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// ProblemCode mirrors the cfgmgr32 CM_PROB_* values.
type ProblemCode uint32

const (
	ProblemNone             ProblemCode = 0
	ProblemNotConfigured    ProblemCode = 1
	ProblemFailedStart      ProblemCode = 10
	ProblemDisabled         ProblemCode = 22
	ProblemFailedInstall    ProblemCode = 28
	ProblemFailedAdd        ProblemCode = 31
	ProblemDriverFailedLoad ProblemCode = 39
)

func (p ProblemCode) String() string {
	switch p {
	case ProblemNone:
		return "none"
	case ProblemNotConfigured:
		return "not_configured"
	case ProblemFailedStart:
		return "failed_start"
	case ProblemDisabled:
		return "disabled"
	case ProblemFailedInstall:
		return "failed_install"
	case ProblemFailedAdd:
		return "failed_add"
	case ProblemDriverFailedLoad:
		return "driver_failed_load"
	default:
		return fmt.Sprintf("problem_%d", uint32(p))
	}
}

// Well-known setup classes.
const (
	// ClassUnknown is the "Other devices" class Windows assigns to nodes
	// without a bound driver. Nodes that report no class at all are
	// normalized to it.
	ClassUnknown = "{4d36e97e-e325-11ce-bfc1-08002be10318}"
	// ClassAudioEndpoint holds the MMDEVAPI audio endpoint nodes.
	ClassAudioEndpoint = "{c166523c-fe0c-4a94-a586-f1a80cfbbf3e}"
)

var (
	// ErrUnsupported is returned by primitives that have no implementation
	// on the running platform.
	ErrUnsupported = errors.New("device tree operation not supported on this platform")
	// ErrNotFound means the instance id no longer resolves to a node.
	ErrNotFound = errors.New("device instance not found")
)

// EnumerationError reports that the device tree could not be queried at
// all. It is distinct from a successful query that returned no nodes.
type EnumerationError struct {
	Err error
}

func (e *EnumerationError) Error() string {
	return "enumerate device tree: " + e.Err.Error()
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// IsEnumerationError reports whether err (or anything it wraps) is an
// EnumerationError.
func IsEnumerationError(err error) bool {
	var ee *EnumerationError
	return errors.As(err, &ee)
}

// Record is the raw per-node data a Manager reports.
type Record struct {
	InstanceID  string              `yaml:"instance_id"`
	HardwareIDs []string            `yaml:"hardware_ids"`
	Properties  map[Property]string `yaml:"properties"`
	Flags       Flags               `yaml:"flags"`
	Problem     ProblemCode         `yaml:"problem"`
	Present     *bool               `yaml:"present,omitempty"`
}

// Manager is the set of OS device manager primitives the repair engine
// needs. Implementations must be safe to call from one goroutine at a time;
// none of them are expected to run concurrently with each other.
type Manager interface {
	// Enumerate lists every node relevant to the sensor (USB enumerated
	// nodes and audio endpoints, including non-present endpoints).
	Enumerate(ctx context.Context) ([]Record, error)
	// Uninstall removes the driver binding of a node. ErrNotFound means the
	// node was already gone.
	Uninstall(ctx context.Context, instanceID string) error
	// Rescan asks the OS to scan for hardware changes. It returns once the
	// request is accepted.
	Rescan(ctx context.Context) error
	// Enable clears a disabled state on a node.
	Enable(ctx context.Context, instanceID string) error
	// InstallINF stages and installs a driver package from an INF path.
	InstallINF(ctx context.Context, infPath string) error
	// AssignDriver binds the driver described by infPath to one instance.
	AssignDriver(ctx context.Context, instanceID, infPath string) error
	// AssignExistingDriver binds an inbox driver, selected by INF file name,
	// manufacturer and description, to one instance.
	AssignExistingDriver(ctx context.Context, instanceID, infName, manufacturer, description string) error
}
