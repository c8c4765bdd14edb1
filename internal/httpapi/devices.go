package httpapi

import (
	"errors"
	"net/http"
	"time"

	"sensorfix/internal/devtree"
)

type deviceNode struct {
	InstanceID     string   `json:"instance_id"`
	HardwareID     string   `json:"hardware_id,omitempty"`
	HardwareIDs    []string `json:"hardware_ids,omitempty"`
	Description    string   `json:"description"`
	ClassGUID      string   `json:"class_guid"`
	Class          string   `json:"class,omitempty"`
	Role           string   `json:"role,omitempty"`
	Present        bool     `json:"present"`
	Flags          uint32   `json:"flags"`
	Problem        string   `json:"problem"`
	Malfunctioning bool     `json:"malfunctioning"`
	Disabled       bool     `json:"disabled"`
}

type devicePage struct {
	TakenAt time.Time    `json:"taken_at"`
	Devices []deviceNode `json:"devices"`
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if h.devices == nil {
		h.writeError(w, http.StatusServiceUnavailable, "device_tree_unavailable", "device tree not available", nil)
		return
	}
	scope := r.URL.Query().Get("scope")
	if scope != "" && scope != "sensor" && scope != "all" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "scope must be sensor or all", map[string]any{"scope": scope})
		return
	}

	snap, err := devtree.Enumerate(r.Context(), h.devices, h.log)
	if err != nil {
		var enumErr *devtree.EnumerationError
		if errors.As(err, &enumErr) {
			h.log.Warn().Err(err).Msg("device enumeration failed")
			h.writeError(w, http.StatusServiceUnavailable, "device_tree_unavailable", "device enumeration failed", map[string]any{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("list devices failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to list devices", nil)
		return
	}

	// The default scope keeps catalog nodes and nodes without a driver.
	narrow := scope != "all"
	resp := devicePage{TakenAt: snap.TakenAt(), Devices: make([]deviceNode, 0, snap.Len())}
	for _, n := range snap.Nodes() {
		role := h.roleOf(n)
		if narrow && role == "" && !n.InClass(devtree.ClassUnknown) && !n.InClass(h.catalog.SensorClass()) {
			continue
		}
		resp.Devices = append(resp.Devices, toDeviceNode(n, role))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) roleOf(n *devtree.Node) string {
	for _, id := range n.HardwareIDs {
		if role, ok := h.catalog.RoleOf(id); ok {
			return string(role)
		}
	}
	return ""
}

func toDeviceNode(n *devtree.Node, role string) deviceNode {
	flags, problem := n.Status()
	return deviceNode{
		InstanceID:     n.InstanceID,
		HardwareID:     n.HardwareID,
		HardwareIDs:    n.HardwareIDs,
		Description:    n.Label(),
		ClassGUID:      n.ClassGUID,
		Class:          n.ClassName,
		Role:           role,
		Present:        n.Present,
		Flags:          uint32(flags),
		Problem:        problem.String(),
		Malfunctioning: n.Malfunctioning(),
		Disabled:       n.Disabled(),
	}
}
