// Package testutil provides shared test utilities and mock implementations.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/runoshun/crewteam/internal/domain"
)

// MockClock is a test double for domain.Clock.
type MockClock struct {
	NowTime time.Time
}

// Now returns the configured time.
func (m *MockClock) Now() time.Time {
	return m.NowTime
}

// MockIDGenerator returns "<Prefix>1", "<Prefix>2", ...
type MockIDGenerator struct {
	Prefix string
	mu     sync.Mutex
	n      int
}

// NewID returns the next identifier.
func (m *MockIDGenerator) NewID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return m.Prefix + strconv.Itoa(m.n)
}

// Ensure MockSupervisor implements domain.ProcessSupervisor.
var _ domain.ProcessSupervisor = (*MockSupervisor)(nil)

// MockSupervisor is an in-memory domain.ProcessSupervisor.
// Agents "run" until Kill or Exit is called.
// Fields are ordered to minimize memory padding.
type MockSupervisor struct {
	agents     map[string]domain.Agent
	onExit     func(domain.Agent)
	SpawnErr   error
	KillErr    error
	VersionErr error
	VersionOut string
	Spawned    []domain.SpawnOptions
	Killed     []string
	nextPID    int
	mu         sync.Mutex

	// ExitDuringSpawn makes spawned agents exit before Spawn returns.
	ExitDuringSpawn bool
}

// NewMockSupervisor creates a MockSupervisor.
func NewMockSupervisor() *MockSupervisor {
	return &MockSupervisor{
		agents:     make(map[string]domain.Agent),
		nextPID:    1000,
		VersionOut: "2.1.34 (Claude Code)",
	}
}

// Spawn records opts and marks the agent running. With ExitDuringSpawn
// set, the agent exits and the exit handler runs before Spawn returns,
// mimicking a worker that dies right after its startup grace.
func (m *MockSupervisor) Spawn(_ context.Context, opts domain.SpawnOptions) (domain.Agent, error) {
	a, exitNow, err := m.spawn(opts.WithDefaults())
	if err != nil {
		return domain.Agent{}, err
	}
	if exitNow {
		_ = m.Exit(a.Name, 0)
	}
	return a, nil
}

func (m *MockSupervisor) spawn(opts domain.SpawnOptions) (domain.Agent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SpawnErr != nil {
		return domain.Agent{}, false, &domain.SpawnError{Name: opts.Name, Err: m.SpawnErr}
	}
	if err := domain.ValidateAgentName(opts.Name); err != nil {
		return domain.Agent{}, false, &domain.SpawnError{Name: opts.Name, Err: err}
	}
	if a, ok := m.agents[opts.Name]; ok && a.IsRunning() {
		return domain.Agent{}, false, &domain.SpawnError{Name: opts.Name, Err: domain.ErrAgentRunning}
	}
	m.nextPID++
	a := domain.Agent{
		Name:      opts.Name,
		PID:       m.nextPID,
		Options:   opts,
		State:     domain.AgentRunning,
		StartedAt: time.Now(),
	}
	m.agents[opts.Name] = a
	m.Spawned = append(m.Spawned, opts)
	return a, m.ExitDuringSpawn, nil
}

// Kill marks the agent exited and runs the exit handler.
func (m *MockSupervisor) Kill(_ context.Context, name string) error {
	m.mu.Lock()
	if m.KillErr != nil {
		m.mu.Unlock()
		return m.KillErr
	}
	m.Killed = append(m.Killed, name)
	m.mu.Unlock()
	return m.exit(name, -1, domain.ExitKilled)
}

// Exit simulates the agent terminating on its own.
func (m *MockSupervisor) Exit(name string, code int) error {
	reason := domain.ExitNormal
	if code != 0 {
		reason = domain.ExitCrashed
	}
	return m.exit(name, code, reason)
}

func (m *MockSupervisor) exit(name string, code int, reason domain.ExitReason) error {
	m.mu.Lock()
	a, ok := m.agents[name]
	if !ok || !a.IsRunning() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", domain.ErrAgentNotFound, name)
	}
	a.State = domain.AgentExited
	a.ExitCode = code
	a.ExitReason = reason
	a.ExitedAt = time.Now()
	m.agents[name] = a
	handler := m.onExit
	m.mu.Unlock()

	if handler != nil {
		handler(a)
	}
	return nil
}

// IsRunning reports whether name is running.
func (m *MockSupervisor) IsRunning(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[name]
	return ok && a.IsRunning()
}

// Running returns running agent names, sorted.
func (m *MockSupervisor) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name, a := range m.agents {
		if a.IsRunning() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Get returns the agent state.
func (m *MockSupervisor) Get(name string) (domain.Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[name]
	return a, ok
}

// List returns all agents sorted by name.
func (m *MockSupervisor) List() []domain.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	agents := make([]domain.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents
}

// SetExitHandler registers the exit callback.
func (m *MockSupervisor) SetExitHandler(fn func(domain.Agent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExit = fn
}

// Version returns VersionOut or VersionErr.
func (m *MockSupervisor) Version(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.VersionErr != nil {
		return "", m.VersionErr
	}
	return m.VersionOut, nil
}
