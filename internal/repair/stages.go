package repair

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"sensorfix/internal/bundle"
	"sensorfix/internal/catalog"
	"sensorfix/internal/devtree"
	"sensorfix/internal/integrity"
	"sensorfix/internal/progress"
)

type stageFunc func(ctx context.Context, r *run) (bool, error)

var stages = map[StageID]stageFunc{
	StageIntegrity:        checkIntegrity,
	StageMicrophone:       checkMicrophone,
	StageUninstallUnknown: uninstallUnknown,
	StageDrivers:          installDrivers,
	StageRescan:           rescan,
}

// run is the state of one stage invocation.
type run struct {
	fix  *Fix
	sink progress.Sink
	log  zerolog.Logger
}

func (r *run) report(key string) {
	r.sink.Report(progress.Indeterminate(r.fix.host.str(key)))
}

// snapshot always enumerates afresh; instance ids from an earlier snapshot
// may be stale after any mutation.
func (r *run) snapshot(ctx context.Context) (*devtree.Snapshot, error) {
	return devtree.Enumerate(ctx, r.fix.deps.Manager, r.log)
}

func checkIntegrity(ctx context.Context, r *run) (bool, error) {
	r.report("stage.checking_integrity")

	enabled, err := r.fix.deps.Integrity.Enabled(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("code integrity policy unreadable, assuming off")
	}

	// An active policy blocks the pass on its own. The snapshot then only
	// adds camera details to the log, so its failure is not fatal.
	prefix := r.fix.deps.Catalog.FamilyPrefix(catalog.RoleCamera)
	var blocked []*devtree.Node
	snap, err := r.snapshot(ctx)
	switch {
	case err != nil && !enabled:
		return false, err
	case err != nil:
		r.log.Warn().Err(err).Msg("could not inspect camera nodes")
	default:
		blocked = snap.Filter(func(n *devtree.Node) bool {
			return strings.HasPrefix(n.HardwareID, prefix) && n.Malfunctioning()
		})
	}
	if !enabled && len(blocked) == 0 {
		return true, nil
	}

	for _, n := range blocked {
		flags, problem := n.Status()
		r.log.Warn().
			Str("hardware_id", n.HardwareID).
			Str("description", n.Label()).
			Uint32("flags", uint32(flags)).
			Str("problem", problem.String()).
			Msg("camera driver failed to load")
	}
	r.log.Error().Bool("policy_enabled", enabled).Int("blocked_cameras", len(blocked)).
		Msg(ErrIntegrityBlocked.Error())

	host := r.fix.host
	if host.Notifier != nil {
		host.Notifier.Notify(ctx, host.str("prompt.disable_integrity"))
	}
	if host.Launcher != nil {
		if err := host.Launcher.Open(ctx, integrity.SecuritySettingsURI); err != nil {
			r.log.Warn().Err(err).Msg("could not open security settings")
		}
	}
	return false, ErrIntegrityBlocked
}

func checkMicrophone(ctx context.Context, r *run) (bool, error) {
	r.report("stage.checking_microphone")

	snap, err := r.snapshot(ctx)
	if err != nil {
		return false, err
	}
	name := r.fix.deps.Catalog.MicrophoneName()
	mics := snap.Filter(func(n *devtree.Node) bool {
		return n.InClass(devtree.ClassAudioEndpoint) && n.FriendlyName == name
	})
	if len(mics) == 0 {
		r.log.Info().Str("microphone", name).Msg("no sensor microphone endpoint, nothing to do")
		return true, nil
	}
	r.report("stage.microphone_found")

	inactive := 0
	for _, n := range mics {
		if n.Disabled() || !n.Present {
			inactive++
		}
	}
	if inactive == 0 {
		return true, nil
	}
	r.report("stage.microphone_disabled")

	enabled := 0
	for _, n := range mics {
		if n.Disabled() && n.Enable(ctx) {
			enabled++
		}
	}
	if enabled == 0 {
		r.log.Warn().Int("inactive", inactive).Msg("could not enable any sensor microphone endpoint")
	}
	return enabled > 0, nil
}

func uninstallUnknown(ctx context.Context, r *run) (bool, error) {
	r.report("stage.uninstalling_unknown")

	snap, err := r.snapshot(ctx)
	if err != nil {
		return false, err
	}
	ok := true
	for _, n := range r.fix.unknownOffenders(snap) {
		r.log.Info().
			Str("hardware_id", n.HardwareID).
			Str("description", n.Label()).
			Msg("uninstalling unknown class node")
		if !n.Uninstall(ctx) {
			ok = false
		}
	}
	return ok, nil
}

func installDrivers(ctx context.Context, r *run) (bool, error) {
	r.report("stage.installing_drivers")

	deps := r.fix.deps
	scratch, err := bundle.NewScratchDir(deps.ScratchRoot)
	if err != nil {
		return false, err
	}
	// Each role stages into its own subdirectory. Remove only succeeds on an
	// empty directory, so files that failed to restore stay where an
	// operator can find them.
	defer func() {
		if err := os.Remove(scratch); err != nil {
			r.log.Warn().Err(err).Str("scratch", scratch).Msg("scratch directory left behind")
		}
	}()

	roles := r.fix.defect.Drivers
	steps := float64(len(roles) + 1)
	ok := true
	for i, role := range roles {
		title := r.fix.host.str("stage.install." + string(role))
		r.sink.Report(progress.Fraction(title, float64(i)/steps))
		if err := installBundle(ctx, r, role, scratch); err != nil {
			r.log.Error().Err(err).Str("role", string(role)).Msg("driver install failed")
			ok = false
			continue
		}
		r.sink.Report(progress.Fraction(r.fix.host.str("stage.install."+string(role)+".done"), float64(i+1)/steps))
	}

	r.sink.Report(progress.Fraction(r.fix.host.str("stage.assign_microphone"), float64(len(roles))/steps))
	if err := assignGenericAudio(ctx, r); err != nil {
		r.log.Error().Err(err).Msg("generic audio driver assignment failed")
		ok = false
	} else {
		r.sink.Report(progress.Fraction(r.fix.host.str("stage.assign_microphone.done"), 1))
	}
	return ok, nil
}

// installBundle stages one role's bundle, installs it and restores the
// bundle directory on every path out.
func installBundle(ctx context.Context, r *run, role catalog.Role, scratch string) (err error) {
	deps := r.fix.deps
	b, found := deps.Catalog.Bundle(role)
	if !found {
		return fmt.Errorf("no driver bundle for role %q", role)
	}

	dir, err := bundle.NewScratchDir(scratch)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(dir); rmErr != nil {
			r.log.Warn().Err(rmErr).Str("role", string(role)).Str("scratch", dir).Msg("unrestored bundle files left behind")
		}
	}()

	staged, err := bundle.Stage(deps.BundleDir, dir, b, r.log)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, staged.Restore())
	}()

	switch b.Method {
	case catalog.MethodInstall:
		return deps.Manager.InstallINF(ctx, staged.INF)
	default:
		hardwareID := deps.Catalog.HardwareID(b.Target)
		snap, err := r.snapshot(ctx)
		if err != nil {
			return err
		}
		instanceID := snap.LastInstanceID(hardwareID)
		if instanceID == "" {
			return fmt.Errorf("no node with hardware id %s: %w", hardwareID, devtree.ErrNotFound)
		}
		r.log.Info().
			Str("hardware_id", hardwareID).
			Str("instance_id", instanceID).
			Str("inf", b.INF).
			Msg("assigning driver")
		return deps.Manager.AssignDriver(ctx, instanceID, staged.INF)
	}
}

// assignGenericAudio binds the inbox USB audio driver to the sensor's
// generic audio function. Its endpoint has no usable identifier of its own.
func assignGenericAudio(ctx context.Context, r *run) error {
	deps := r.fix.deps
	hardwareID := deps.Catalog.HardwareID(catalog.RoleUSBAudio)
	snap, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	instanceID := snap.LastInstanceID(hardwareID)
	if instanceID == "" {
		return fmt.Errorf("no node with hardware id %s: %w", hardwareID, devtree.ErrNotFound)
	}
	g := deps.Catalog.GenericAudioDriver()
	r.log.Info().
		Str("hardware_id", hardwareID).
		Str("instance_id", instanceID).
		Str("inf", g.INF).
		Msg("assigning generic audio driver")
	return deps.Manager.AssignExistingDriver(ctx, instanceID, g.INF, g.Manufacturer, g.Description)
}

func rescan(ctx context.Context, r *run) (bool, error) {
	r.report("stage.rescanning")
	snap, err := r.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return snap.Rescan(ctx), nil
}
