package repair

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"sensorfix/internal/catalog"
	"sensorfix/internal/devtree"
	"sensorfix/internal/integrity"
	"sensorfix/internal/progress"
)

func TestNotPowered_ScenarioA(t *testing.T) {
	env := newTestEnv(t,
		unknownNode("USB\\BAD\\1", "nonmatching"),
		unknownNode("USB\\ARRAY\\1", cat.HardwareID(catalog.RoleAudioArray)),
	)
	var rec progress.Recorder
	if !env.fix(NotPowered(cat)).Apply(context.Background(), &rec) {
		t.Fatalf("expected repair to succeed")
	}
	if got := instanceIDs(env.mgr.CallsFor(devtree.OpUninstall)); len(got) != 1 || got[0] != "USB\\BAD\\1" {
		t.Fatalf("expected only the non-matching node to be uninstalled, got %v", got)
	}
	if n := len(env.mgr.CallsFor(devtree.OpRescan)); n != 1 {
		t.Fatalf("expected one rescan, got %d", n)
	}
}

func TestNotPowered_ScenarioAUninstallFailure(t *testing.T) {
	env := newTestEnv(t,
		unknownNode("USB\\BAD\\1", "nonmatching"),
		unknownNode("USB\\ARRAY\\1", cat.HardwareID(catalog.RoleAudioArray)),
	)
	env.mgr.SetFaults(devtree.Faults{Uninstall: map[string]string{"USB\\BAD\\1": "access denied"}})
	res := env.fix(NotPowered(cat)).Run(context.Background(), nil)
	if res.OK {
		t.Fatalf("expected failure when the uninstall fails")
	}
	var se *StageError
	if !errors.As(res.Err, &se) || se.Stage != StageUninstallUnknown {
		t.Fatalf("expected uninstall stage error, got %v", res.Err)
	}
	if n := len(env.mgr.CallsFor(devtree.OpRescan)); n != 0 {
		t.Fatalf("expected the failed stage to stop the pass, got %d rescans", n)
	}
}

func TestNotPowered_ScenarioARescanFailure(t *testing.T) {
	env := newTestEnv(t, unknownNode("USB\\BAD\\1", "nonmatching"))
	env.mgr.SetFaults(devtree.Faults{Rescan: "busy"})
	if env.fix(NotPowered(cat)).Apply(context.Background(), nil) {
		t.Fatalf("expected failure when the rescan fails")
	}
}

func TestUninstallUnknown_EachOffenderExactlyOnce(t *testing.T) {
	env := newTestEnv(t,
		unknownNode("USB\\BAD\\1", "USB\\VID_1111&PID_0001"),
		unknownNode("USB\\DEV\\1", cat.HardwareID(catalog.RoleDevice)),
		unknownNode("USB\\BAD\\2", "USB\\VID_1111&PID_0002"),
		unknownNode("USB\\MIC\\1", cat.HardwareID(catalog.RoleUSBAudio)),
		unknownNode("USB\\BAD\\3", "USB\\VID_1111&PID_0003"),
	)
	env.mgr.SetFaults(devtree.Faults{Uninstall: map[string]string{"USB\\BAD\\2": "busy"}})

	if env.fix(NotPowered(cat)).Apply(context.Background(), nil) {
		t.Fatalf("expected one failed uninstall to fail the stage")
	}
	got := instanceIDs(env.mgr.CallsFor(devtree.OpUninstall))
	if strings.Join(got, ",") != "USB\\BAD\\1,USB\\BAD\\2,USB\\BAD\\3" {
		t.Fatalf("expected every offender attempted once in order, got %v", got)
	}
}

func TestNotPowered_IdempotentOnCleanTree(t *testing.T) {
	env := newTestEnv(t, append(healthySensor(), unknownNode("USB\\SEC\\9", cat.HardwareID(catalog.RoleSecurity)))...)
	f := env.fix(NotPowered(cat))
	for i := 0; i < 2; i++ {
		if !f.Apply(context.Background(), nil) {
			t.Fatalf("pass %d: expected success", i)
		}
	}
	if n := len(env.mgr.CallsFor(devtree.OpUninstall)); n != 0 {
		t.Fatalf("expected zero uninstalls, got %d", n)
	}
	if n := len(env.mgr.CallsFor(devtree.OpRescan)); n != 2 {
		t.Fatalf("expected one rescan per pass, got %d", n)
	}
}

func TestNotReady_ScenarioBIntegrityPolicy(t *testing.T) {
	env := newTestEnv(t, healthySensor()...)
	env.integrity = integrity.Static(true)
	var rec progress.Recorder

	res := env.fix(NotReady(cat)).Run(context.Background(), &rec)
	if res.OK {
		t.Fatalf("expected failure while the policy is on")
	}
	if !errors.Is(res.Err, ErrIntegrityBlocked) {
		t.Fatalf("expected ErrIntegrityBlocked, got %v", res.Err)
	}
	if got := rec.Titles(); len(got) != 1 || got[0] != "Checking memory integrity" {
		t.Fatalf("expected exactly one progress message, got %v", got)
	}
	if n := env.mgr.Mutations(); n != 0 {
		t.Fatalf("expected no mutations, got %d: %+v", n, env.mgr.Calls())
	}
	if len(env.notified) != 1 || len(env.launched) != 1 || env.launched[0] != integrity.SecuritySettingsURI {
		t.Fatalf("expected one notification and the settings page, got %v %v", env.notified, env.launched)
	}
	if len(res.Stages) != 1 || res.Stages[0].Stage != StageIntegrity {
		t.Fatalf("expected only the integrity stage attempted, got %+v", res.Stages)
	}
}

func TestNotReady_IntegrityPolicyWinsOverEnumerationFailure(t *testing.T) {
	env := newTestEnv(t, healthySensor()...)
	env.integrity = integrity.Static(true)
	env.mgr.SetFaults(devtree.Faults{Enumerate: "access denied"})
	var rec progress.Recorder

	res := env.fix(NotReady(cat)).Run(context.Background(), &rec)
	if res.OK || !errors.Is(res.Err, ErrIntegrityBlocked) {
		t.Fatalf("expected ErrIntegrityBlocked, got ok=%v err=%v", res.OK, res.Err)
	}
	if got := rec.Titles(); len(got) != 1 || got[0] != "Checking memory integrity" {
		t.Fatalf("expected exactly one progress message, got %v", got)
	}
	if len(env.notified) != 1 || len(env.launched) != 1 || env.launched[0] != integrity.SecuritySettingsURI {
		t.Fatalf("expected one notification and the settings page, got %v %v", env.notified, env.launched)
	}
	if n := env.mgr.Mutations(); n != 0 {
		t.Fatalf("expected no mutations, got %d", n)
	}
}

func TestNotReady_EnumerationFailureWithPolicyOff(t *testing.T) {
	env := newTestEnv(t, healthySensor()...)
	env.mgr.SetFaults(devtree.Faults{Enumerate: "access denied"})

	res := env.fix(NotReady(cat)).Run(context.Background(), nil)
	if res.OK || !devtree.IsEnumerationError(res.Err) {
		t.Fatalf("expected an enumeration error, got ok=%v err=%v", res.OK, res.Err)
	}
	if len(env.launched) != 0 {
		t.Fatalf("expected no settings page, got %v", env.launched)
	}
}

func TestNotReady_BlockedCameraDriver(t *testing.T) {
	nodes := healthySensor()
	nodes[3].Flags = devtree.FlagHasProblem
	nodes[3].Problem = devtree.ProblemDriverFailedLoad
	nodes[3].HardwareIDs = []string{`USB\VID_045E&PID_02AE&REV_0200`}
	env := newTestEnv(t, nodes...)

	var rec progress.Recorder
	if env.fix(NotReady(cat)).Apply(context.Background(), &rec) {
		t.Fatalf("expected a camera of any revision failing to load to block the repair")
	}
	if env.mgr.Mutations() != 0 || len(rec.Updates()) != 1 {
		t.Fatalf("expected no mutations and one update, got %d and %d", env.mgr.Mutations(), len(rec.Updates()))
	}
}

func TestNotReady_FullRepair(t *testing.T) {
	nodes := append(healthySensor(), micNode("MMDEVAPI\\MIC\\1", devtree.ProblemDisabled, true))
	env := newTestEnv(t, nodes...)
	before := dirNames(t, env.bundleDir)

	var rec progress.Recorder
	res := env.fix(NotReady(cat)).Run(context.Background(), &rec)
	if !res.OK {
		t.Fatalf("expected success, got %+v (%v)", res.Stages, res.Err)
	}
	if len(res.Stages) != 5 {
		t.Fatalf("expected all five stages, got %d", len(res.Stages))
	}

	if got := instanceIDs(env.mgr.CallsFor(devtree.OpEnable)); len(got) != 1 || got[0] != "MMDEVAPI\\MIC\\1" {
		t.Fatalf("expected the disabled microphone to be enabled, got %v", got)
	}

	assigns := env.mgr.CallsFor(devtree.OpAssignDriver)
	wantAssign := []struct{ instance, inf string }{
		{"USB\\DEV\\1", "kinectdevice.inf"},
		{"USB\\ARRAY\\1", "kinectaudioarray.inf"},
		{"USB\\CAM\\1", "kinectcamera.inf"},
		{"USB\\SEC\\1", "kinectsecurity.inf"},
	}
	if len(assigns) != len(wantAssign) {
		t.Fatalf("expected %d driver assignments, got %+v", len(wantAssign), assigns)
	}
	for i, w := range wantAssign {
		if assigns[i].InstanceID != w.instance || filepath.Base(assigns[i].Args[0]) != w.inf {
			t.Fatalf("assignment %d: expected %s on %s, got %+v", i, w.inf, w.instance, assigns[i])
		}
	}
	installs := env.mgr.CallsFor(devtree.OpInstallINF)
	if len(installs) != 1 || filepath.Base(installs[0].Args[0]) != "kinectaudio.inf" {
		t.Fatalf("expected the audio package to be installed, got %+v", installs)
	}
	generic := env.mgr.CallsFor(devtree.OpAssignExistingDriver)
	if len(generic) != 1 || generic[0].InstanceID != "USB\\AUDIO\\1" ||
		strings.Join(generic[0].Args, "|") != "wdma_usb.inf|(Generic USB Audio)|USB Audio Device" {
		t.Fatalf("unexpected generic audio assignment %+v", generic)
	}
	if n := len(env.mgr.CallsFor(devtree.OpRescan)); n != 1 {
		t.Fatalf("expected one final rescan, got %d", n)
	}

	if after := dirNames(t, env.bundleDir); strings.Join(before, ",") != strings.Join(after, ",") {
		t.Fatalf("bundle dir changed: before=%v after=%v", before, after)
	}
	if left := dirNames(t, env.scratch); len(left) != 0 {
		t.Fatalf("expected scratch root to be cleaned up, found %v", left)
	}

	updates := rec.Updates()
	last := updates[len(updates)-1]
	if last.Title != "Scanning for hardware changes" {
		t.Fatalf("expected the rescan update last, got %+v", last)
	}
	sawComplete := false
	for _, u := range updates {
		if !u.Indeterminate && u.Fraction == 1 {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Fatalf("expected the driver stage to reach a fraction of 1, got %+v", updates)
	}
}

func TestNotReady_MissingBundleFileRestoresAndStops(t *testing.T) {
	env := newTestEnv(t, healthySensor()...)
	b, _ := cat.Bundle(catalog.RoleCamera)
	removeFile(t, filepath.Join(env.bundleDir, b.Files[len(b.Files)-1].Source))
	before := dirNames(t, env.bundleDir)

	res := env.fix(NotReady(cat)).Run(context.Background(), nil)
	if res.OK {
		t.Fatalf("expected the drivers stage to fail")
	}
	if last := res.Stages[len(res.Stages)-1]; last.Stage != StageDrivers || last.OK {
		t.Fatalf("expected the drivers stage to be the failing one, got %+v", last)
	}
	if n := len(env.mgr.CallsFor(devtree.OpAssignDriver)); n != 3 {
		t.Fatalf("expected the other roles to still be attempted, got %d assignments", n)
	}
	if n := len(env.mgr.CallsFor(devtree.OpRescan)); n != 0 {
		t.Fatalf("expected no rescan after a failed stage, got %d", n)
	}
	if after := dirNames(t, env.bundleDir); strings.Join(before, ",") != strings.Join(after, ",") {
		t.Fatalf("bundle dir changed: before=%v after=%v", before, after)
	}
}

func TestNotReady_AssignFailureRestoresBundle(t *testing.T) {
	env := newTestEnv(t, healthySensor()...)
	env.mgr.SetFaults(devtree.Faults{Assign: map[string]string{"USB\\DEV\\1": "driver rejected"}})
	before := dirNames(t, env.bundleDir)

	if env.fix(NotReady(cat)).Apply(context.Background(), nil) {
		t.Fatalf("expected failure")
	}
	if after := dirNames(t, env.bundleDir); strings.Join(before, ",") != strings.Join(after, ",") {
		t.Fatalf("bundle dir changed: before=%v after=%v", before, after)
	}
}

// squattingManager creates a directory where a bundle file will be restored
// while the driver assignment runs, so that file cannot be moved back.
type squattingManager struct {
	*devtree.FixtureManager
	squat string
}

func (m squattingManager) AssignDriver(ctx context.Context, instanceID, infPath string) error {
	if err := os.MkdirAll(filepath.Join(m.squat, "x"), 0o755); err != nil {
		return err
	}
	return m.FixtureManager.AssignDriver(ctx, instanceID, infPath)
}

func TestNotReady_FailedRestoreKeepsBundleFile(t *testing.T) {
	env := newTestEnv(t, healthySensor()...)
	device, _ := cat.Bundle(catalog.RoleDevice)
	lost := device.Files[0]

	d := NotReady(cat)
	d.Drivers = []catalog.Role{catalog.RoleDevice, catalog.RoleAudio}
	deps := Deps{
		Manager:     squattingManager{FixtureManager: env.mgr, squat: filepath.Join(env.bundleDir, lost.Source)},
		Catalog:     cat,
		Probe:       env.probe,
		Integrity:   env.integrity,
		BundleDir:   env.bundleDir,
		ScratchRoot: env.scratch,
	}
	res := NewFix(d, deps, Host{Log: zerolog.Nop()}).Run(context.Background(), nil)
	if res.OK {
		t.Fatalf("expected the drivers stage to fail when a file cannot be restored")
	}
	if n := len(env.mgr.CallsFor(devtree.OpInstallINF)); n != 1 {
		t.Fatalf("expected the audio bundle to still be installed, got %d installs", n)
	}

	var found []string
	err := filepath.WalkDir(env.scratch, func(path string, e fs.DirEntry, err error) error {
		if err != nil || e.IsDir() {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if string(b) == lost.Source {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk scratch: %v", err)
	}
	if len(found) != 1 || filepath.Base(found[0]) != lost.Staged {
		t.Fatalf("expected the unrestored %s to survive in scratch as %s, found %v", lost.Source, lost.Staged, found)
	}

	audio, _ := cat.Bundle(catalog.RoleAudio)
	for _, f := range audio.Files {
		b, err := os.ReadFile(filepath.Join(env.bundleDir, f.Source))
		if err != nil || string(b) != f.Source {
			t.Fatalf("expected %s restored intact, got %q err=%v", f.Source, b, err)
		}
	}
}

func TestMicrophone(t *testing.T) {
	cases := []struct {
		name string
		mic  []devtree.Record
		want bool
		ops  int
	}{
		{name: "absent", want: true},
		{name: "active", mic: []devtree.Record{micNode("M\\1", devtree.ProblemNone, true)}, want: true},
		{name: "disabled", mic: []devtree.Record{micNode("M\\1", devtree.ProblemDisabled, true)}, want: true, ops: 1},
		{name: "unplugged only", mic: []devtree.Record{micNode("M\\1", devtree.ProblemNone, false)}, want: false},
	}
	for _, c := range cases {
		env := newTestEnv(t, c.mic...)
		d := NotReady(cat)
		d.Stages = []StageID{StageMicrophone}
		if got := env.fix(d).Apply(context.Background(), nil); got != c.want {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, got)
		}
		if n := len(env.mgr.CallsFor(devtree.OpEnable)); n != c.ops {
			t.Fatalf("%s: expected %d enables, got %d", c.name, c.ops, n)
		}
	}
}

func TestApply_CancelledBeforeStart(t *testing.T) {
	env := newTestEnv(t, unknownNode("USB\\BAD\\1", "nonmatching"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rec progress.Recorder
	res := env.fix(NotPowered(cat)).Run(ctx, &rec)
	if res.OK || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected cancellation, got %+v", res)
	}
	if env.mgr.Mutations() != 0 || len(rec.Updates()) != 0 {
		t.Fatalf("expected nothing to run after cancellation")
	}
}

func TestApply_CancelledBetweenStages(t *testing.T) {
	env := newTestEnv(t, unknownNode("USB\\BAD\\1", "nonmatching"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancelling during the first stage lets it finish but stops the pass
	// before the rescan.
	sink := progress.SinkFunc(func(progress.Update) { cancel() })
	if env.fix(NotPowered(cat)).Apply(ctx, sink) {
		t.Fatalf("expected cancellation to fail the pass")
	}
	if n := len(env.mgr.CallsFor(devtree.OpUninstall)); n != 1 {
		t.Fatalf("expected the running stage to complete, got %d uninstalls", n)
	}
	if n := len(env.mgr.CallsFor(devtree.OpRescan)); n != 0 {
		t.Fatalf("expected no rescan after cancellation, got %d", n)
	}
}

type panickingManager struct {
	*devtree.FixtureManager
}

func (panickingManager) Rescan(context.Context) error { panic("driver subsystem exploded") }

func TestApply_PanicIsReportedAndConverted(t *testing.T) {
	env := newTestEnv(t)
	f := NewFix(NotPowered(cat), Deps{Manager: panickingManager{env.mgr}, Catalog: cat}, Host{})

	var rec progress.Recorder
	res := f.Run(context.Background(), &rec)
	if res.OK {
		t.Fatalf("expected a panicking stage to fail the pass")
	}
	updates := rec.Updates()
	last := updates[len(updates)-1]
	if !last.Indeterminate || !strings.Contains(last.Title, "driver subsystem exploded") {
		t.Fatalf("expected the panic message as the last update, got %+v", last)
	}
}

func TestApply_EnumerationFailureIsReported(t *testing.T) {
	env := newTestEnv(t)
	env.mgr.SetFaults(devtree.Faults{Enumerate: "access denied"})

	var rec progress.Recorder
	res := env.fix(NotPowered(cat)).Run(context.Background(), &rec)
	if res.OK || !devtree.IsEnumerationError(res.Err) {
		t.Fatalf("expected enumeration error, got %+v", res)
	}
	updates := rec.Updates()
	if len(updates) != 2 || !strings.Contains(updates[1].Title, "access denied") {
		t.Fatalf("expected the failure message after the stage title, got %+v", updates)
	}
}
