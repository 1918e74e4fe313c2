package process

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/runoshun/crewteam/internal/domain"
)

// BuildArgs returns the worker command line for one agent of team.
// extra is appended after the generated flags, followed by opts.Args.
func BuildArgs(team string, opts domain.SpawnOptions, extra []string) []string {
	opts = opts.WithDefaults()
	args := []string{
		"--agent-id", domain.AgentID(opts.Name, team),
		"--agent-name", opts.Name,
		"--team-name", team,
		"--agent-type", string(opts.Type),
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", string(opts.PermissionMode))
		if opts.PermissionMode == domain.PermissionBypass {
			args = append(args, "--dangerously-skip-permissions")
		}
	}
	args = append(args, extra...)
	return append(args, opts.Args...)
}

// buildEnv merges the layers over the controller's own environment.
// Later layers win. The result is sorted for reproducible logs.
func buildEnv(layers ...map[string]string) ([]string, error) {
	base := os.Environ()
	merged := make(map[string]string, len(base))
	for _, entry := range base {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		merged[key] = value
	}

	for _, layer := range layers {
		for key, value := range layer {
			if !domain.IsValidEnvVarName(key) {
				return nil, fmt.Errorf("%w: %q", domain.ErrInvalidEnvVar, key)
			}
			merged[key] = value
		}
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+merged[key])
	}
	return out, nil
}

// workerEnv is the environment that identifies the agent to the worker.
func workerEnv(team, name string) map[string]string {
	return map[string]string{
		domain.EnvAgentTeams: "1",
		domain.EnvTeamName:   team,
		domain.EnvAgentName:  name,
	}
}
