package repair

import (
	"sensorfix/internal/catalog"
	"sensorfix/internal/probe"
)

const (
	DefectNotPowered = "not-powered"
	DefectNotReady   = "not-ready"
)

// Symptom is the device tree signal that makes a defect necessary before
// the status probe is consulted.
type Symptom string

const (
	// SymptomUnknownNodes: some Unknown class node carries an identifier
	// outside the defect's whitelist.
	SymptomUnknownNodes Symptom = "unknown-nodes"
	// SymptomMissingRoles: fewer than MinRoleNodes sensor class nodes carry
	// one of the RequiredRoles identifiers.
	SymptomMissingRoles Symptom = "missing-roles"
)

// StageID names one remediation stage.
type StageID string

const (
	StageIntegrity        StageID = "integrity"
	StageMicrophone       StageID = "microphone"
	StageUninstallUnknown StageID = "uninstall-unknown"
	StageDrivers          StageID = "drivers"
	StageRescan           StageID = "rescan"
)

// Defect configures one fix.
type Defect struct {
	Name        string
	Description string
	Symptom     Symptom
	// UnknownWhitelist lists the identifiers an Unknown class node may carry
	// without being treated as broken. It drives both the SymptomUnknownNodes
	// check and the uninstall-unknown stage.
	UnknownWhitelist []string
	RequiredRoles    []catalog.Role
	MinRoleNodes     int
	// ProbeStatus is the runtime status that confirms the defect when the
	// device tree alone does not.
	ProbeStatus probe.Status
	// Drivers is the order driver bundles are installed in by the drivers
	// stage.
	Drivers []catalog.Role
	Stages  []StageID
	// AutoApply marks the defect as mandatory during initial setup when it
	// is necessary.
	AutoApply bool
}

// NotPowered is the defect where sensor functions enumerate into the Unknown
// class because their drivers never bound. The fix removes the offending
// nodes and rescans.
func NotPowered(c *catalog.Catalog) Defect {
	return Defect{
		Name:             DefectNotPowered,
		Description:      "Sensor nodes are stuck in the Unknown class without a driver",
		Symptom:          SymptomUnknownNodes,
		UnknownWhitelist: c.HardwareIDs(),
		ProbeStatus:      probe.StatusNotPowered,
		Stages:           []StageID{StageUninstallUnknown, StageRescan},
		AutoApply:        true,
	}
}

// NotReady is the defect where the sensor functions are not all bound to the
// sensor class. The fix reinstalls every driver bundle.
func NotReady(c *catalog.Catalog) Defect {
	return Defect{
		Name:             DefectNotReady,
		Description:      "Sensor drivers are missing, disabled or blocked",
		Symptom:          SymptomMissingRoles,
		UnknownWhitelist: c.HardwareIDs(),
		RequiredRoles:    append([]catalog.Role(nil), catalog.SensorRoles...),
		MinRoleNodes:     len(catalog.SensorRoles),
		ProbeStatus:      probe.StatusNotReady,
		Drivers:          append([]catalog.Role(nil), catalog.InstallOrder...),
		Stages: []StageID{
			StageIntegrity,
			StageMicrophone,
			StageUninstallUnknown,
			StageDrivers,
			StageRescan,
		},
		AutoApply: true,
	}
}

// Defaults returns every built-in defect.
func Defaults(c *catalog.Catalog) []Defect {
	return []Defect{NotPowered(c), NotReady(c)}
}

func (d Defect) whitelisted(hardwareID string) bool {
	for _, id := range d.UnknownWhitelist {
		if id == hardwareID {
			return true
		}
	}
	return false
}
