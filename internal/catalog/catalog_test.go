package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault_OneIdentifierPerRole(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
	ids := c.HardwareIDs()
	if len(ids) != 5 {
		t.Fatalf("expected 5 identifiers, got %d", len(ids))
	}
	for _, r := range IdentityRoles {
		got, ok := c.RoleOf(c.HardwareID(r))
		if !ok || got != r {
			t.Fatalf("RoleOf(%q) = %q, %v", c.HardwareID(r), got, ok)
		}
	}
	if c.HardwareID(RoleAudio) != "" {
		t.Fatalf("audio role should carry no identifier")
	}
}

func TestRoleOf_ExactCaseSensitiveMatch(t *testing.T) {
	c := Default()
	id := c.HardwareID(RoleDevice)
	if _, ok := c.RoleOf(strings.ToLower(id)); ok {
		t.Fatalf("expected lowercase identifier not to match")
	}
	if _, ok := c.RoleOf(id + " "); ok {
		t.Fatalf("expected padded identifier not to match")
	}
}

func TestHardwareIDs_SubsetOrder(t *testing.T) {
	c := Default()
	got := c.HardwareIDs(RoleCamera, RoleDevice)
	if len(got) != 2 || got[0] != c.HardwareID(RoleCamera) || got[1] != c.HardwareID(RoleDevice) {
		t.Fatalf("unexpected ids: %v", got)
	}
}

func TestFamilyPrefix(t *testing.T) {
	c := Default()
	if got := c.FamilyPrefix(RoleCamera); got != `USB\VID_045E&PID_02AE` {
		t.Fatalf("unexpected camera prefix %q", got)
	}
}

func TestBundles(t *testing.T) {
	c := Default()
	for _, r := range InstallOrder {
		b, ok := c.Bundle(r)
		if !ok {
			t.Fatalf("missing bundle for %q", r)
		}
		if b.Files[0].Staged != "kinect.cat" {
			t.Fatalf("%q: expected catalog file first, got %+v", r, b.Files[0])
		}
	}

	cam, _ := c.Bundle(RoleCamera)
	if len(cam.Files) != 5 || cam.Files[2].Staged != "kinectcamera.sys" {
		t.Fatalf("unexpected camera bundle: %+v", cam.Files)
	}
	audio, _ := c.Bundle(RoleAudio)
	if audio.Method != MethodInstall || audio.Target != "" {
		t.Fatalf("audio bundle should install without a target: %+v", audio)
	}
	dev, _ := c.Bundle(RoleDevice)
	if dev.Method != MethodAssign || dev.Target != RoleDevice || dev.INF != "kinectdevice.inf" {
		t.Fatalf("unexpected device bundle: %+v", dev)
	}

	dev.Files[0].Source = "mutated"
	again, _ := c.Bundle(RoleDevice)
	if again.Files[0].Source == "mutated" {
		t.Fatalf("Bundle must return a copy")
	}
}

func TestLoad_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `
sensor_class: "{11111111-2222-3333-4444-555555555555}"
microphone: Sensor Mic
identities:
  camera: 'USB\VID_045E&PID_02AE&REV_0200'
bundles:
  - role: security
    inf: sec.inf
    files:
      - {source: sec_inf, staged: sec.inf}
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SensorClass() != "{11111111-2222-3333-4444-555555555555}" || c.MicrophoneName() != "Sensor Mic" {
		t.Fatalf("overlay scalars not applied: %q %q", c.SensorClass(), c.MicrophoneName())
	}
	if c.HardwareID(RoleCamera) != `USB\VID_045E&PID_02AE&REV_0200` {
		t.Fatalf("camera id not overlaid: %q", c.HardwareID(RoleCamera))
	}
	if c.HardwareID(RoleDevice) != Default().HardwareID(RoleDevice) {
		t.Fatalf("device id should keep its default")
	}
	sec, _ := c.Bundle(RoleSecurity)
	if sec.Method != MethodAssign || sec.Target != RoleSecurity || len(sec.Files) != 1 {
		t.Fatalf("unexpected security bundle: %+v", sec)
	}
	if c.GenericAudioDriver().INF != "wdma_usb.inf" {
		t.Fatalf("generic driver should keep its default")
	}
}

func TestParse_RejectsDuplicateIdentifiers(t *testing.T) {
	doc := `
identities:
  camera: 'USB\VID_045E&PID_02B0&REV_0107'
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatalf("expected duplicate identifier to be rejected")
	}
}

func TestParse_RejectsEmptyIdentifier(t *testing.T) {
	if _, err := Parse([]byte("identities:\n  security: ''\n")); err == nil {
		t.Fatalf("expected empty identifier to be rejected")
	}
}

func TestParse_RejectsBundleWithoutStagedINF(t *testing.T) {
	doc := `
bundles:
  - role: device
    inf: kinectdevice.inf
    files:
      - {source: Driver_Device_cat, staged: kinect.cat}
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatalf("expected bundle without its inf to be rejected")
	}
}
