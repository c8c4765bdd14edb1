// Package repair diagnoses sensor defects and runs the staged remediation
// that fixes them.
//
// Each defect is a Defect record: the signal that makes it necessary, the
// hardware identifier whitelist, the role threshold, the driver install order
// and the stages to run. A Fix binds a record to the OS primitives and the
// host context. IsNecessary is read-only; Apply mutates the device tree and
// never returns an error, only false plus the progress it reported.
package repair

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"sensorfix/internal/catalog"
	"sensorfix/internal/devtree"
	"sensorfix/internal/integrity"
	"sensorfix/internal/locale"
	"sensorfix/internal/probe"
)

// ErrIntegrityBlocked means the code integrity policy (or a camera driver
// blocked by it) stopped the repair. The user has to turn the policy off;
// the pass is never retried automatically.
var ErrIntegrityBlocked = errors.New("code integrity policy blocks the sensor drivers")

// Notifier shows a message to the user. It must not block on the user.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

type NotifierFunc func(ctx context.Context, message string)

func (f NotifierFunc) Notify(ctx context.Context, message string) {
	if f != nil {
		f(ctx, message)
	}
}

// Host is the context a fix runs in: where it logs, how it resolves user
// facing strings and how it reaches the user.
type Host struct {
	Log      zerolog.Logger
	Strings  locale.Provider
	Notifier Notifier
	Launcher integrity.Launcher
}

func (h Host) str(key string) string {
	return locale.Lookup(h.Strings, key)
}

// Observer receives repair outcomes, typically for metrics. Deps.Observer
// may be nil.
type Observer interface {
	ObserveDiagnosis(defect string, necessary bool)
	ObserveStage(defect, stage string, ok bool)
	ObserveRepair(defect string, ok bool, elapsed time.Duration)
}

// Deps are the collaborators a fix reads and mutates.
type Deps struct {
	Manager   devtree.Manager
	Catalog   *catalog.Catalog
	Probe     probe.StatusProvider
	Integrity integrity.Checker
	// BundleDir holds the shipped driver bundle files.
	BundleDir string
	// ScratchRoot is where per-run scratch directories are created. Empty
	// means the OS temp directory.
	ScratchRoot string
	Observer    Observer
}

func (d Deps) withDefaults() Deps {
	if d.Catalog == nil {
		d.Catalog = catalog.Default()
	}
	if d.Probe == nil {
		d.Probe = probe.Unavailable()
	}
	if d.Integrity == nil {
		d.Integrity = integrity.Static(false)
	}
	return d
}
