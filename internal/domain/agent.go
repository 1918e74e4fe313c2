package domain

import (
	"fmt"
	"regexp"
	"time"
)

// AgentType selects the worker's built-in agent profile.
type AgentType string

// Known agent types. Any other non-empty value is passed through as-is.
const (
	AgentTypeGeneralPurpose AgentType = "general-purpose"
	AgentTypeExplore        AgentType = "Explore"
	AgentTypePlan           AgentType = "Plan"
)

// PermissionMode controls how the worker asks for tool permissions.
type PermissionMode string

// Permission modes understood by the worker binary.
const (
	PermissionDefault     PermissionMode = "default"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	PermissionBypass      PermissionMode = "bypassPermissions"
	PermissionPlan        PermissionMode = "plan"
	PermissionDelegate    PermissionMode = "delegate"
	PermissionDontAsk     PermissionMode = "dontAsk"
)

const (
	defaultAgentType            = AgentTypeGeneralPurpose
	agentNamePatternDescription = "letters, digits, '.', '_' or '-', starting with a letter or digit"
)

// IsValid reports whether m is empty or a known permission mode.
func (m PermissionMode) IsValid() bool {
	switch m {
	case "", PermissionDefault, PermissionAcceptEdits, PermissionBypass,
		PermissionPlan, PermissionDelegate, PermissionDontAsk:
		return true
	}
	return false
}

// SpawnOptions describe how to launch one agent.
type SpawnOptions struct {
	Env            map[string]string
	Name           string
	Type           AgentType
	Model          string
	Cwd            string
	PermissionMode PermissionMode
	Args           []string
}

// WithDefaults fills unset fields.
func (o SpawnOptions) WithDefaults() SpawnOptions {
	if o.Type == "" {
		o.Type = defaultAgentType
	}
	return o
}

// AgentState is the lifecycle state of an agent process.
type AgentState string

// Agent states.
const (
	AgentRunning AgentState = "running"
	AgentExited  AgentState = "exited"
)

// ExitReason says why an agent process ended.
type ExitReason string

// Exit reasons. They differ for observability only.
const (
	ExitNormal  ExitReason = "exited"
	ExitCrashed ExitReason = "crashed"
	ExitKilled  ExitReason = "killed"
)

// Agent is a snapshot of one supervised agent process.
// Fields are ordered to minimize memory padding.
type Agent struct {
	StartedAt  time.Time
	ExitedAt   time.Time
	Options    SpawnOptions
	Name       string
	State      AgentState
	ExitReason ExitReason
	PID        int
	ExitCode   int
}

// IsRunning reports whether the process is still alive.
func (a Agent) IsRunning() bool {
	return a.State == AgentRunning
}

var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateAgentName checks that name can be used as a participant and file name.
func ValidateAgentName(name string) error {
	if name == ControllerName {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	if !agentNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (use %s)", ErrInvalidAgentName, name, agentNamePatternDescription)
	}
	return nil
}

// AgentID returns the identifier the worker uses for itself within a team.
// Format: <name>@<team>
func AgentID(name, team string) string {
	return name + "@" + team
}
