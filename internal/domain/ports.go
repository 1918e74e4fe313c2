package domain

import (
	"context"
	"time"
)

// ProcessSupervisor starts, tracks and terminates agent processes.
type ProcessSupervisor interface {
	// Spawn launches the worker for opts.Name and returns once it has a
	// live pid that survived the startup grace window.
	Spawn(ctx context.Context, opts SpawnOptions) (Agent, error)

	// Kill terminates a running agent, escalating to SIGKILL after the
	// kill grace. Returns ErrAgentNotFound if no such running agent exists.
	Kill(ctx context.Context, name string) error

	// IsRunning reports whether name is a live agent.
	IsRunning(name string) bool

	// Running returns the names of live agents, sorted.
	Running() []string

	// Get returns the last known state of an agent.
	Get(name string) (Agent, bool)

	// List returns every agent known to the supervisor, sorted by name.
	List() []Agent

	// SetExitHandler registers the callback invoked exactly once per
	// process when it exits.
	SetExitHandler(fn func(Agent))

	// Version asks the worker binary for its version string.
	Version(ctx context.Context) (string, error)
}

// Clock provides time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// IDGenerator creates request identifiers.
type IDGenerator interface {
	NewID() string
}
