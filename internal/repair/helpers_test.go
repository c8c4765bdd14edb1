package repair

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"sensorfix/internal/catalog"
	"sensorfix/internal/devtree"
	"sensorfix/internal/integrity"
	"sensorfix/internal/probe"
)

const sensorClassGUID = "{8a4b6d2e-0000-4c1f-9e6b-5a1d2c3b4e5f}"

var cat = catalog.Default()

func unknownNode(instanceID, hardwareID string) devtree.Record {
	return devtree.Record{
		InstanceID:  instanceID,
		HardwareIDs: []string{hardwareID},
		Properties: map[devtree.Property]string{
			devtree.PropertyClassGUID:   devtree.ClassUnknown,
			devtree.PropertyDescription: "Unknown device " + instanceID,
		},
		Flags:   devtree.FlagHasProblem,
		Problem: devtree.ProblemNotConfigured,
	}
}

func sensorNode(instanceID string, role catalog.Role) devtree.Record {
	return devtree.Record{
		InstanceID:  instanceID,
		HardwareIDs: []string{cat.HardwareID(role), "USB\\COMPAT"},
		Properties: map[devtree.Property]string{
			devtree.PropertyClassGUID:   sensorClassGUID,
			devtree.PropertyClass:       cat.SensorClass(),
			devtree.PropertyDescription: "Sensor " + string(role),
		},
		Flags: devtree.FlagDriverLoaded | devtree.FlagStarted,
	}
}

func usbAudioNode(instanceID string) devtree.Record {
	return devtree.Record{
		InstanceID:  instanceID,
		HardwareIDs: []string{cat.HardwareID(catalog.RoleUSBAudio)},
		Properties: map[devtree.Property]string{
			devtree.PropertyClassGUID:   "{4d36e96c-e325-11ce-bfc1-08002be10318}",
			devtree.PropertyDescription: "USB Audio Device",
		},
	}
}

func micNode(instanceID string, problem devtree.ProblemCode, present bool) devtree.Record {
	return devtree.Record{
		InstanceID: instanceID,
		Properties: map[devtree.Property]string{
			devtree.PropertyClassGUID:    devtree.ClassAudioEndpoint,
			devtree.PropertyFriendlyName: cat.MicrophoneName(),
		},
		Problem: problem,
		Present: &present,
	}
}

// healthySensor is a fully bound sensor: four role nodes in the sensor
// class plus the generic audio function.
func healthySensor() []devtree.Record {
	return []devtree.Record{
		sensorNode("USB\\DEV\\1", catalog.RoleDevice),
		sensorNode("USB\\ARRAY\\1", catalog.RoleAudioArray),
		sensorNode("USB\\SEC\\1", catalog.RoleSecurity),
		sensorNode("USB\\CAM\\1", catalog.RoleCamera),
		usbAudioNode("USB\\AUDIO\\1"),
	}
}

type countingProbe struct {
	mu     sync.Mutex
	calls  int
	status probe.Status
	err    error
}

func (p *countingProbe) DeviceStatus(context.Context) (probe.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return probe.StatusUndefined, p.err
	}
	return p.status, nil
}

func (p *countingProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type testEnv struct {
	mgr       *devtree.FixtureManager
	probe     *countingProbe
	bundleDir string
	scratch   string
	notified  []string
	launched  []string
	integrity integrity.Checker
}

func newTestEnv(t *testing.T, nodes ...devtree.Record) *testEnv {
	t.Helper()
	return &testEnv{
		mgr:       devtree.NewFixtureManager(devtree.Fixture{Nodes: nodes}),
		probe:     &countingProbe{err: probe.ErrUnavailable},
		bundleDir: writeBundles(t),
		scratch:   t.TempDir(),
		integrity: integrity.Static(false),
	}
}

func (e *testEnv) fix(d Defect) *Fix {
	deps := Deps{
		Manager:     e.mgr,
		Catalog:     cat,
		Probe:       e.probe,
		Integrity:   e.integrity,
		BundleDir:   e.bundleDir,
		ScratchRoot: e.scratch,
	}
	host := Host{
		Log: zerolog.Nop(),
		Notifier: NotifierFunc(func(_ context.Context, msg string) {
			e.notified = append(e.notified, msg)
		}),
		Launcher: integrity.LauncherFunc(func(_ context.Context, uri string) error {
			e.launched = append(e.launched, uri)
			return nil
		}),
	}
	return NewFix(d, deps, host)
}

func writeBundles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, role := range catalog.InstallOrder {
		b, _ := cat.Bundle(role)
		for _, f := range b.Files {
			if err := os.WriteFile(filepath.Join(dir, f.Source), []byte(f.Source), 0o644); err != nil {
				t.Fatalf("write bundle file: %v", err)
			}
		}
	}
	return dir
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func instanceIDs(calls []devtree.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.InstanceID
	}
	return out
}

func removeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove %s: %v", path, err)
	}
}
