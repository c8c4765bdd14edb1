package devtree

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// Node is one device tree entry as it looked when the snapshot was taken.
type Node struct {
	ClassGUID    string
	ClassName    string
	HardwareID   string
	HardwareIDs  []string
	InstanceID   string
	Description  string
	FriendlyName string
	Present      bool
	Flags        Flags
	Problem      ProblemCode

	props map[Property]string
	mgr   Manager
	log   zerolog.Logger
}

func newNode(r Record, mgr Manager, log zerolog.Logger) *Node {
	props := make(map[Property]string, len(r.Properties)+1)
	for k, v := range r.Properties {
		props[k] = v
	}

	n := &Node{
		InstanceID:  r.InstanceID,
		HardwareIDs: append([]string(nil), r.HardwareIDs...),
		Present:     r.Present == nil || *r.Present,
		Flags:       r.Flags,
		Problem:     r.Problem,
		mgr:         mgr,
	}
	if len(n.HardwareIDs) > 0 {
		n.HardwareID = n.HardwareIDs[0]
	} else if id := props[PropertyHardwareID]; id != "" {
		n.HardwareID = id
		n.HardwareIDs = []string{id}
	}
	props[PropertyHardwareID] = n.HardwareID

	n.ClassGUID = normalizeClassGUID(props[PropertyClassGUID])
	props[PropertyClassGUID] = n.ClassGUID
	n.ClassName = props[PropertyClass]
	n.Description = props[PropertyDescription]
	n.FriendlyName = props[PropertyFriendlyName]
	n.props = props

	n.log = log.With().
		Str("instance_id", n.InstanceID).
		Str("hardware_id", n.HardwareID).
		Str("description", n.Label()).
		Logger()
	return n
}

func normalizeClassGUID(guid string) string {
	g := strings.ToLower(strings.TrimSpace(guid))
	if g == "" || g == "{00000000-0000-0000-0000-000000000000}" {
		return ClassUnknown
	}
	if !strings.HasPrefix(g, "{") {
		g = "{" + g + "}"
	}
	return g
}

// Property returns the cached value for key, or "" when the OS reported none.
func (n *Node) Property(key Property) string {
	if n == nil {
		return ""
	}
	return n.props[key]
}

// Status returns the devnode status bits and problem code captured at
// snapshot time.
func (n *Node) Status() (Flags, ProblemCode) {
	return n.Flags, n.Problem
}

// Malfunctioning reports a node flagged with a problem or whose driver
// failed to load.
func (n *Node) Malfunctioning() bool {
	return n.Flags.Has(FlagHasProblem) || n.Problem == ProblemDriverFailedLoad
}

// Disabled reports a node the user or a policy turned off.
func (n *Node) Disabled() bool {
	return n.Problem == ProblemDisabled
}

// InClass compares against a setup class given either as a GUID or as a
// class name.
func (n *Node) InClass(class string) bool {
	if strings.HasPrefix(strings.TrimSpace(class), "{") {
		return n.ClassGUID == normalizeClassGUID(class)
	}
	return n.ClassName == class
}

// Label is the best human-readable name for logs.
func (n *Node) Label() string {
	if n.FriendlyName != "" {
		return n.FriendlyName
	}
	if n.Description != "" {
		return n.Description
	}
	return n.InstanceID
}

// Uninstall removes the node's driver binding. A node that is already gone
// counts as uninstalled. Calling it on a snapshot taken before a rescan is
// not supported.
func (n *Node) Uninstall(ctx context.Context) bool {
	if n == nil || n.mgr == nil {
		return false
	}
	n.log.Info().Msg("uninstalling device")
	err := n.mgr.Uninstall(ctx, n.InstanceID)
	if err == nil || errors.Is(err, ErrNotFound) {
		return true
	}
	n.log.Error().Err(err).Msg("uninstall failed")
	return false
}

// Enable clears a disabled state on the node.
func (n *Node) Enable(ctx context.Context) bool {
	if n == nil || n.mgr == nil {
		return false
	}
	n.log.Info().Msg("enabling device")
	if err := n.mgr.Enable(ctx, n.InstanceID); err != nil {
		n.log.Error().Err(err).Msg("enable failed")
		return false
	}
	return true
}
