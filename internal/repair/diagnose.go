package repair

import (
	"context"

	"github.com/rs/zerolog"

	"sensorfix/internal/devtree"
	"sensorfix/internal/probe"
)

// Diagnosis explains an IsNecessary decision.
type Diagnosis struct {
	Defect    string `json:"defect"`
	Necessary bool   `json:"necessary"`
	// Offenders are the hardware identifiers of Unknown class nodes outside
	// the whitelist.
	Offenders []string `json:"offenders,omitempty"`
	// RoleNodes counts sensor class nodes carrying a required role
	// identifier. Only set for SymptomMissingRoles.
	RoleNodes      int    `json:"role_nodes"`
	MinRoleNodes   int    `json:"min_role_nodes,omitempty"`
	ProbeConsulted bool   `json:"probe_consulted"`
	ProbeStatus    string `json:"probe_status,omitempty"`
	ProbeError     string `json:"probe_error,omitempty"`
}

// Fix binds a Defect to the device tree and host it repairs.
type Fix struct {
	defect Defect
	deps   Deps
	host   Host
	log    zerolog.Logger
}

func NewFix(d Defect, deps Deps, host Host) *Fix {
	return &Fix{
		defect: d,
		deps:   deps.withDefaults(),
		host:   host,
		log:    host.Log.With().Str("defect", d.Name).Logger(),
	}
}

func (f *Fix) Name() string   { return f.defect.Name }
func (f *Fix) Defect() Defect { return f.defect }

// IsNecessary reports whether the defect is present. It never mutates the
// device tree. A failed enumeration is logged and reported as not necessary;
// use Diagnose to tell that apart from a healthy tree.
func (f *Fix) IsNecessary(ctx context.Context) bool {
	d, err := f.Diagnose(ctx)
	if err != nil {
		f.log.Error().Err(err).Msg("diagnosis failed")
		return false
	}
	return d.Necessary
}

// IsMandatory reports whether the fix should be applied automatically
// during setup.
func (f *Fix) IsMandatory(ctx context.Context) bool {
	return f.defect.AutoApply && f.IsNecessary(ctx)
}

// Diagnose takes a snapshot and evaluates the defect's symptom, consulting
// the status probe only when the snapshot alone does not make the defect
// necessary. Enumeration failures are returned as *devtree.EnumerationError.
func (f *Fix) Diagnose(ctx context.Context) (d Diagnosis, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()

	d = Diagnosis{Defect: f.defect.Name, MinRoleNodes: f.defect.MinRoleNodes}
	snap, err := devtree.Enumerate(ctx, f.deps.Manager, f.log)
	if err != nil {
		return d, err
	}

	switch f.defect.Symptom {
	case SymptomUnknownNodes:
		for _, n := range f.unknownOffenders(snap) {
			d.Offenders = append(d.Offenders, n.HardwareID)
		}
		d.Necessary = len(d.Offenders) > 0
	case SymptomMissingRoles:
		d.RoleNodes = f.countRoleNodes(snap)
		d.Necessary = d.RoleNodes < f.defect.MinRoleNodes
	}

	if !d.Necessary {
		d.ProbeConsulted = true
		confirmed, status, perr := probe.Confirms(ctx, f.deps.Probe, f.defect.ProbeStatus, f.log)
		if perr != nil {
			d.ProbeError = perr.Error()
		} else {
			d.ProbeStatus = status.String()
			d.Necessary = confirmed
		}
	}

	f.log.Info().
		Bool("necessary", d.Necessary).
		Int("offenders", len(d.Offenders)).
		Int("role_nodes", d.RoleNodes).
		Bool("probe_consulted", d.ProbeConsulted).
		Str("probe_status", d.ProbeStatus).
		Msg("diagnosis")
	if f.deps.Observer != nil {
		f.deps.Observer.ObserveDiagnosis(f.defect.Name, d.Necessary)
	}
	return d, nil
}

// unknownOffenders returns the Unknown class nodes whose identifier is not
// whitelisted, in snapshot order.
func (f *Fix) unknownOffenders(snap *devtree.Snapshot) []*devtree.Node {
	return snap.Filter(func(n *devtree.Node) bool {
		return n.InClass(devtree.ClassUnknown) && !f.defect.whitelisted(n.HardwareID)
	})
}

func (f *Fix) countRoleNodes(snap *devtree.Snapshot) int {
	ids := f.deps.Catalog.HardwareIDs(f.defect.RequiredRoles...)
	class := f.deps.Catalog.SensorClass()
	return len(snap.Filter(func(n *devtree.Node) bool {
		if !n.InClass(class) {
			return false
		}
		for _, id := range ids {
			if n.HardwareID == id {
				return true
			}
		}
		return false
	}))
}
