// Package catalog holds the known hardware identities of the sensor and the
// driver bundles installed for each of its functions.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is one logical function of the sensor.
type Role string

const (
	RoleDevice     Role = "device"
	RoleAudio      Role = "audio"
	RoleAudioArray Role = "audio-array"
	RoleCamera     Role = "camera"
	RoleSecurity   Role = "security"
	RoleUSBAudio   Role = "usb-audio"
)

// IdentityRoles are the roles that carry a hardware identifier, in catalog
// order.
var IdentityRoles = []Role{RoleDevice, RoleAudioArray, RoleSecurity, RoleCamera, RoleUSBAudio}

// SensorRoles are the non-audio-endpoint roles whose nodes must all be bound
// to the sensor class for the sensor to be ready.
var SensorRoles = []Role{RoleDevice, RoleAudioArray, RoleSecurity, RoleCamera}

// InstallOrder is the order driver bundles are installed in.
var InstallOrder = []Role{RoleDevice, RoleAudio, RoleAudioArray, RoleCamera, RoleSecurity}

// Method selects the driver primitive used for a bundle.
type Method string

const (
	// MethodAssign binds the INF to the last node carrying the role's
	// hardware identifier.
	MethodAssign Method = "assign"
	// MethodInstall installs the INF package without a target node.
	MethodInstall Method = "install"
)

// File is one bundle file: Source is its name in the bundle directory and
// Staged the canonical name the INF expects next to it.
type File struct {
	Source string `yaml:"source"`
	Staged string `yaml:"staged"`
}

// Bundle is the ordered set of files staged for one role's driver install.
type Bundle struct {
	Role   Role   `yaml:"role"`
	Files  []File `yaml:"files"`
	INF    string `yaml:"inf"`
	Method Method `yaml:"method"`
	// Target is the role whose node receives the driver. Empty for
	// MethodInstall.
	Target Role `yaml:"target,omitempty"`
}

// GenericDriver names an inbox driver by INF file name, manufacturer and
// description.
type GenericDriver struct {
	INF          string `yaml:"inf"`
	Manufacturer string `yaml:"manufacturer"`
	Description  string `yaml:"description"`
}

// Catalog is immutable after construction and safe for concurrent reads.
type Catalog struct {
	identities  map[Role]string
	bundles     map[Role]Bundle
	sensorClass string
	microphone  string
	generic     GenericDriver
}

const (
	catalogFile   = "kinect.cat"
	wdfCoInstall  = "WdfCoInstaller01009.dll"
	usbCoInstall  = "WinUSBCoInstaller.dll"
	defaultSensor = "KinectForWindows"
)

// bundleFor lays out a bundle the way the driver directory ships it: catalog,
// INF, any extra binaries, then the two co-installers.
func bundleFor(role Role, prefix, inf string, method Method, extra ...File) Bundle {
	files := []File{
		{Source: prefix + "_cat", Staged: catalogFile},
		{Source: prefix + "_inf", Staged: inf},
	}
	files = append(files, extra...)
	files = append(files,
		File{Source: prefix + "_WdfCo", Staged: wdfCoInstall},
		File{Source: prefix + "_WinUsbCo", Staged: usbCoInstall},
	)
	b := Bundle{Role: role, Files: files, INF: inf, Method: method}
	if method == MethodAssign {
		b.Target = role
	}
	return b
}

// Default returns the built-in catalog for the first generation depth
// sensor.
func Default() *Catalog {
	return &Catalog{
		identities: map[Role]string{
			RoleDevice:     `USB\VID_045E&PID_02B0&REV_0107`,
			RoleAudioArray: `USB\VID_045E&PID_02BB&REV_0100&MI_00`,
			RoleSecurity:   `USB\VID_045E&PID_02BB&REV_0100&MI_01`,
			RoleCamera:     `USB\VID_045E&PID_02AE&REV_010;`,
			RoleUSBAudio:   `USB\VID_045E&PID_02BB&REV_0100&MI_02`,
		},
		bundles: map[Role]Bundle{
			RoleDevice:     bundleFor(RoleDevice, "Driver_Device", "kinectdevice.inf", MethodAssign),
			RoleAudio:      bundleFor(RoleAudio, "Driver_Audio", "kinectaudio.inf", MethodInstall),
			RoleAudioArray: bundleFor(RoleAudioArray, "Driver_AudioArray", "kinectaudioarray.inf", MethodAssign),
			RoleCamera: bundleFor(RoleCamera, "Driver_Camera", "kinectcamera.inf", MethodAssign,
				File{Source: "Driver_Camera_sys", Staged: "kinectcamera.sys"}),
			RoleSecurity: bundleFor(RoleSecurity, "Driver_Security", "kinectsecurity.inf", MethodAssign),
		},
		sensorClass: defaultSensor,
		microphone:  "Kinect USB Audio",
		generic: GenericDriver{
			INF:          "wdma_usb.inf",
			Manufacturer: "(Generic USB Audio)",
			Description:  "USB Audio Device",
		},
	}
}

// HardwareID returns the identifier for role, or "" if the role carries
// none.
func (c *Catalog) HardwareID(role Role) string {
	return c.identities[role]
}

// HardwareIDs returns the identifiers for roles in the given order. With no
// arguments it returns every identifier in IdentityRoles order.
func (c *Catalog) HardwareIDs(roles ...Role) []string {
	if len(roles) == 0 {
		roles = IdentityRoles
	}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if id := c.identities[r]; id != "" {
			out = append(out, id)
		}
	}
	return out
}

// RoleOf maps a hardware identifier back to its role. Matching is exact and
// case-sensitive.
func (c *Catalog) RoleOf(hardwareID string) (Role, bool) {
	for _, r := range IdentityRoles {
		if id, ok := c.identities[r]; ok && id == hardwareID {
			return r, true
		}
	}
	return "", false
}

// Bundle returns a copy of role's driver bundle.
func (c *Catalog) Bundle(role Role) (Bundle, bool) {
	b, ok := c.bundles[role]
	if !ok {
		return Bundle{}, false
	}
	b.Files = append([]File(nil), b.Files...)
	return b, true
}

// FamilyPrefix is role's identifier without its revision suffix, which
// matches every revision of the same USB function.
func (c *Catalog) FamilyPrefix(role Role) string {
	id := c.identities[role]
	if i := strings.Index(id, "&REV_"); i >= 0 {
		return id[:i]
	}
	return id
}

// SensorClass is the setup class (GUID or class name) bound sensor nodes
// belong to.
func (c *Catalog) SensorClass() string { return c.sensorClass }

// MicrophoneName is the friendly name of the sensor's capture endpoint.
func (c *Catalog) MicrophoneName() string { return c.microphone }

func (c *Catalog) GenericAudioDriver() GenericDriver { return c.generic }

type overlay struct {
	Identities  map[Role]string `yaml:"identities"`
	Bundles     []Bundle        `yaml:"bundles"`
	SensorClass string          `yaml:"sensor_class"`
	Microphone  string          `yaml:"microphone"`
	Generic     *GenericDriver  `yaml:"generic_audio_driver"`
}

// Load reads a YAML overlay from path and applies it on top of Default.
// Fields that are absent keep their default values.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(b)
}

// Parse applies a YAML overlay document on top of Default.
func Parse(doc []byte) (*Catalog, error) {
	var o overlay
	if err := yaml.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := Default()
	for role, id := range o.Identities {
		c.identities[role] = strings.TrimSpace(id)
	}
	for _, b := range o.Bundles {
		if b.Method == "" {
			b.Method = MethodAssign
		}
		if b.Method == MethodAssign && b.Target == "" {
			b.Target = b.Role
		}
		c.bundles[b.Role] = b
	}
	if s := strings.TrimSpace(o.SensorClass); s != "" {
		c.sensorClass = s
	}
	if s := strings.TrimSpace(o.Microphone); s != "" {
		c.microphone = s
	}
	if o.Generic != nil {
		c.generic = *o.Generic
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that every identity role has exactly one identifier, that
// no identifier is shared between roles, and that every bundle is complete.
func (c *Catalog) Validate() error {
	seen := make(map[string]Role, len(c.identities))
	for _, r := range IdentityRoles {
		id := c.identities[r]
		if id == "" {
			return fmt.Errorf("catalog: role %q has no hardware identifier", r)
		}
		if other, dup := seen[id]; dup {
			return fmt.Errorf("catalog: identifier %q used by both %q and %q", id, other, r)
		}
		seen[id] = r
	}
	for role := range c.identities {
		if !isIdentityRole(role) {
			return fmt.Errorf("catalog: unknown identity role %q", role)
		}
	}

	roles := make([]string, 0, len(c.bundles))
	for r := range c.bundles {
		roles = append(roles, string(r))
	}
	sort.Strings(roles)
	for _, name := range roles {
		b := c.bundles[Role(name)]
		if len(b.Files) == 0 || b.INF == "" {
			return fmt.Errorf("catalog: bundle %q needs files and an inf", name)
		}
		staged := false
		for _, f := range b.Files {
			if f.Source == "" || f.Staged == "" {
				return fmt.Errorf("catalog: bundle %q has a file without source or staged name", name)
			}
			if f.Staged == b.INF {
				staged = true
			}
		}
		if !staged {
			return fmt.Errorf("catalog: bundle %q does not stage its inf %q", name, b.INF)
		}
		switch b.Method {
		case MethodInstall:
		case MethodAssign:
			if c.identities[b.Target] == "" {
				return fmt.Errorf("catalog: bundle %q targets role %q without an identifier", name, b.Target)
			}
		default:
			return fmt.Errorf("catalog: bundle %q has unknown method %q", name, b.Method)
		}
	}
	if c.generic.INF == "" || c.generic.Description == "" {
		return fmt.Errorf("catalog: generic audio driver needs an inf and a description")
	}
	return nil
}

func isIdentityRole(r Role) bool {
	for _, v := range IdentityRoles {
		if v == r {
			return true
		}
	}
	return false
}
