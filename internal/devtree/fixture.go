package devtree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Operation names recorded by FixtureManager.
const (
	OpEnumerate            = "enumerate"
	OpUninstall            = "uninstall"
	OpRescan               = "rescan"
	OpEnable               = "enable"
	OpInstallINF           = "install_inf"
	OpAssignDriver         = "assign_driver"
	OpAssignExistingDriver = "assign_existing_driver"
)

// Call is one primitive invocation observed by a FixtureManager.
type Call struct {
	Op         string
	InstanceID string
	Args       []string
}

// Faults makes selected primitives fail. Messages become the returned
// error text.
type Faults struct {
	Enumerate  string            `yaml:"enumerate"`
	Rescan     string            `yaml:"rescan"`
	InstallINF string            `yaml:"install_inf"`
	Uninstall  map[string]string `yaml:"uninstall"`
	Enable     map[string]string `yaml:"enable"`
	Assign     map[string]string `yaml:"assign"`
}

// Fixture is the YAML document a FixtureManager is loaded from.
type Fixture struct {
	Nodes  []Record `yaml:"nodes"`
	Faults Faults   `yaml:"faults"`
}

// FixtureManager is an in-memory Manager backed by a static device tree. It
// records every call, removes uninstalled nodes until the next rescan and
// never touches the real OS. It backs dry runs and tests.
type FixtureManager struct {
	mu          sync.Mutex
	nodes       []Record
	uninstalled []Record
	faults      Faults
	calls       []Call
}

func NewFixtureManager(f Fixture) *FixtureManager {
	m := &FixtureManager{faults: f.Faults}
	for _, r := range f.Nodes {
		m.nodes = append(m.nodes, cloneRecord(r))
	}
	return m
}

// LoadFixture reads a YAML device tree from path.
func LoadFixture(path string) (*FixtureManager, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %q: %w", path, err)
	}
	return NewFixtureManager(f), nil
}

// SetFaults replaces the injected faults.
func (m *FixtureManager) SetFaults(f Faults) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = f
}

func (m *FixtureManager) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns the recorded calls for one operation.
func (m *FixtureManager) CallsFor(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Mutations counts every recorded call other than enumeration.
func (m *FixtureManager) Mutations() int {
	n := 0
	for _, c := range m.Calls() {
		if c.Op != OpEnumerate {
			n++
		}
	}
	return n
}

func (m *FixtureManager) record(op, instanceID string, args ...string) {
	m.calls = append(m.calls, Call{Op: op, InstanceID: instanceID, Args: args})
}

func (m *FixtureManager) find(instanceID string) int {
	for i, r := range m.nodes {
		if r.InstanceID == instanceID {
			return i
		}
	}
	return -1
}

func (m *FixtureManager) Enumerate(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpEnumerate, "")
	if m.faults.Enumerate != "" {
		return nil, errors.New(m.faults.Enumerate)
	}
	out := make([]Record, 0, len(m.nodes))
	for _, r := range m.nodes {
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

func (m *FixtureManager) Uninstall(ctx context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpUninstall, instanceID)
	if msg, ok := m.faults.Uninstall[instanceID]; ok {
		return errors.New(msg)
	}
	i := m.find(instanceID)
	if i < 0 {
		return ErrNotFound
	}
	m.uninstalled = append(m.uninstalled, m.nodes[i])
	m.nodes = append(m.nodes[:i], m.nodes[i+1:]...)
	return nil
}

func (m *FixtureManager) Rescan(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpRescan, "")
	if m.faults.Rescan != "" {
		return errors.New(m.faults.Rescan)
	}
	// Uninstalled nodes come back on rescan, as they would on real hardware.
	m.nodes = append(m.nodes, m.uninstalled...)
	m.uninstalled = nil
	return nil
}

func (m *FixtureManager) Enable(ctx context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpEnable, instanceID)
	if msg, ok := m.faults.Enable[instanceID]; ok {
		return errors.New(msg)
	}
	i := m.find(instanceID)
	if i < 0 {
		return ErrNotFound
	}
	m.nodes[i].Problem = ProblemNone
	m.nodes[i].Flags &^= FlagHasProblem
	return nil
}

func (m *FixtureManager) InstallINF(ctx context.Context, infPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpInstallINF, "", infPath)
	if m.faults.InstallINF != "" {
		return errors.New(m.faults.InstallINF)
	}
	return nil
}

func (m *FixtureManager) AssignDriver(ctx context.Context, instanceID, infPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpAssignDriver, instanceID, infPath)
	return m.assignLocked(instanceID)
}

func (m *FixtureManager) AssignExistingDriver(ctx context.Context, instanceID, infName, manufacturer, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpAssignExistingDriver, instanceID, infName, manufacturer, description)
	return m.assignLocked(instanceID)
}

func (m *FixtureManager) assignLocked(instanceID string) error {
	if msg, ok := m.faults.Assign[instanceID]; ok {
		return errors.New(msg)
	}
	i := m.find(instanceID)
	if i < 0 {
		return ErrNotFound
	}
	m.nodes[i].Problem = ProblemNone
	m.nodes[i].Flags &^= FlagHasProblem
	return nil
}

func cloneRecord(r Record) Record {
	out := r
	out.HardwareIDs = append([]string(nil), r.HardwareIDs...)
	if r.Properties != nil {
		out.Properties = make(map[Property]string, len(r.Properties))
		for k, v := range r.Properties {
			out.Properties[k] = v
		}
	}
	if r.Present != nil {
		p := *r.Present
		out.Present = &p
	}
	return out
}
