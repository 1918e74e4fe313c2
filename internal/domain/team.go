package domain

import (
	"context"
	"fmt"
	"time"
)

// TeamMember is one roster entry of a team config.
// Fields are ordered to minimize memory padding.
type TeamMember struct {
	JoinedAt       time.Time      `json:"joinedAt"`
	AgentID        string         `json:"agentId"`
	Name           string         `json:"name"`
	AgentType      AgentType      `json:"agentType"`
	Model          string         `json:"model,omitempty"`
	Cwd            string         `json:"cwd,omitempty"`
	PermissionMode PermissionMode `json:"permissionMode,omitempty"`
	IsActive       bool           `json:"isActive"`
}

// TeamConfig is the on-disk description of a team session (config.json).
// Fields are ordered to minimize memory padding.
type TeamConfig struct {
	CreatedAt   time.Time    `json:"createdAt"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	LeadName    string       `json:"leadAgentName"`
	Members     []TeamMember `json:"members"`
}

// Member returns the roster entry for name.
func (c *TeamConfig) Member(name string) (TeamMember, bool) {
	for _, m := range c.Members {
		if m.Name == name {
			return m, true
		}
	}
	return TeamMember{}, false
}

// TeamRepository provisions and destroys the on-disk team session.
type TeamRepository interface {
	// Create writes config.json and the inbox directory. An existing
	// config is kept and returned.
	Create(ctx context.Context, name, description string) (*TeamConfig, error)

	// Config reads config.json; ErrTeamNotFound once destroyed.
	Config(ctx context.Context) (*TeamConfig, error)

	// AddMember inserts or replaces a roster entry.
	AddMember(ctx context.Context, m TeamMember) error

	// SetMemberActive flips a roster entry's active flag.
	SetMemberActive(ctx context.Context, name string, active bool) error

	// Destroy removes the team directory.
	Destroy(ctx context.Context) error
}

// ValidateTeamName checks that name can be used as a directory name.
func ValidateTeamName(name string) error {
	if !agentNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (use %s)", ErrInvalidTeamName, name, agentNamePatternDescription)
	}
	return nil
}
