package devtree

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot is an ordered set of nodes captured at one instant.
type Snapshot struct {
	nodes []*Node
	mgr   Manager
	log   zerolog.Logger
	taken time.Time
}

// Enumerate queries mgr and builds a snapshot. A failed query is returned as
// an *EnumerationError; an empty tree is a valid snapshot with no nodes.
func Enumerate(ctx context.Context, mgr Manager, log zerolog.Logger) (*Snapshot, error) {
	if mgr == nil {
		return nil, &EnumerationError{Err: ErrUnsupported}
	}
	records, err := mgr.Enumerate(ctx)
	if err != nil {
		return nil, &EnumerationError{Err: err}
	}

	s := &Snapshot{
		nodes: make([]*Node, 0, len(records)),
		mgr:   mgr,
		log:   log,
		taken: time.Now(),
	}
	for _, r := range records {
		s.nodes = append(s.nodes, newNode(r, mgr, log))
	}
	return s, nil
}

func (s *Snapshot) Nodes() []*Node {
	if s == nil {
		return nil
	}
	out := make([]*Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.nodes)
}

func (s *Snapshot) TakenAt() time.Time { return s.taken }

// Filter returns the nodes for which keep returns true, in snapshot order.
func (s *Snapshot) Filter(keep func(*Node) bool) []*Node {
	if s == nil {
		return nil
	}
	var out []*Node
	for _, n := range s.nodes {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

// InClass returns the nodes whose setup class matches class (GUID or name).
func (s *Snapshot) InClass(class string) []*Node {
	return s.Filter(func(n *Node) bool { return n.InClass(class) })
}

// WithHardwareID returns the nodes whose primary hardware id equals id
// exactly.
func (s *Snapshot) WithHardwareID(id string) []*Node {
	return s.Filter(func(n *Node) bool { return n.HardwareID == id })
}

// LastInstanceID returns the instance id of the last node with the given
// hardware id, or "" when there is none.
func (s *Snapshot) LastInstanceID(hardwareID string) string {
	nodes := s.WithHardwareID(hardwareID)
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].InstanceID != "" {
			return nodes[i].InstanceID
		}
	}
	return ""
}

// Rescan asks the OS to scan for hardware changes. Every snapshot taken
// before the call, including s, is stale afterwards.
func (s *Snapshot) Rescan(ctx context.Context) bool {
	if s == nil || s.mgr == nil {
		return false
	}
	s.log.Info().Msg("requesting hardware rescan")
	if err := s.mgr.Rescan(ctx); err != nil {
		s.log.Error().Err(err).Msg("hardware rescan failed")
		return false
	}
	return true
}
