package domain

import "regexp"

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsValidEnvVarName reports whether name can be exported to a child process.
func IsValidEnvVarName(name string) bool {
	return envNamePattern.MatchString(name)
}

// Environment variables every worker process receives.
const (
	EnvAgentTeams = "CLAUDE_CODE_EXPERIMENTAL_AGENT_TEAMS"
	EnvTeamName   = "CLAUDE_CODE_TEAM_NAME"
	EnvAgentName  = "CLAUDE_CODE_AGENT_NAME"
)
