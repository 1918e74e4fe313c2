// Package config provides configuration loading functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/runoshun/crewteam/internal/domain"
)

// Loader loads configuration from TOML files.
type Loader struct {
	projectDir    string // Directory holding the project crewteam.toml
	globalConfDir string // Path to global config directory (e.g., ~/.config/crewteam)
}

// NewLoader creates a new Loader.
func NewLoader(projectDir string) *Loader {
	return &Loader{
		projectDir:    projectDir,
		globalConfDir: defaultGlobalConfigDir(),
	}
}

// NewLoaderWithGlobalDir creates a new Loader with a custom global config directory.
// This is useful for testing.
func NewLoaderWithGlobalDir(projectDir, globalConfDir string) *Loader {
	return &Loader{
		projectDir:    projectDir,
		globalConfDir: globalConfDir,
	}
}

// defaultGlobalConfigDir returns the default global config directory.
func defaultGlobalConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return domain.GlobalConfigDir(configHome)
}

// GlobalPath returns the global config file path, or "" if unknown.
func (l *Loader) GlobalPath() string {
	if l.globalConfDir == "" {
		return ""
	}
	return filepath.Join(l.globalConfDir, domain.ConfigFileName)
}

// ProjectPath returns the project config file path.
func (l *Loader) ProjectPath() string {
	return filepath.Join(l.projectDir, domain.ConfigFileName)
}

// Load returns the merged configuration: defaults <- global <- project.
// Missing files are skipped.
func (l *Loader) Load() (*domain.Config, error) {
	cfg := domain.NewDefaultConfig()
	for _, path := range []string{l.GlobalPath(), l.ProjectPath()} {
		if path == "" {
			continue
		}
		if err := l.applyFile(cfg, path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
	}
	sort.Strings(cfg.Warnings)
	cfg.Controller.Root = expandHome(cfg.Controller.Root)
	return cfg, nil
}

// applyFile decodes path and applies its keys over cfg.
func (l *Loader) applyFile(cfg *domain.Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // config path
	if err != nil {
		return err
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	applyRaw(cfg, raw)
	return nil
}

// applyRaw applies the raw TOML map over cfg and records warnings for
// keys it does not understand.
func applyRaw(cfg *domain.Config, raw map[string]any) {
	warn := func(format string, args ...any) {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(format, args...))
	}

	for section, value := range raw {
		m, ok := value.(map[string]any)
		if !ok {
			warn("unknown key: %s", section)
			continue
		}
		switch section {
		case "controller":
			applyController(&cfg.Controller, m, warn)
		case "log":
			for k, v := range m {
				switch k {
				case "level":
					if s, ok := v.(string); ok {
						cfg.Log.Level = s
					}
				default:
					warn("unknown key in [log]: %s", k)
				}
			}
		case "env":
			for k, v := range m {
				s, ok := v.(string)
				if !ok || !domain.IsValidEnvVarName(k) {
					warn("invalid entry in [env]: %s", k)
					continue
				}
				cfg.Env[k] = s
			}
		case "agents":
			for name, def := range m {
				dm, ok := def.(map[string]any)
				if !ok {
					warn("unknown key in [agents]: %s", name)
					continue
				}
				agent := cfg.Agents[name]
				applyAgent(&agent, name, dm, warn)
				cfg.Agents[name] = agent
			}
		default:
			warn("unknown section: %s", section)
		}
	}
}

func applyController(c *domain.ControllerConfig, m map[string]any, warn func(string, ...any)) {
	for k, v := range m {
		switch k {
		case "team":
			setString(&c.Team, v)
		case "root":
			setString(&c.Root, v)
		case "binary":
			setString(&c.Binary, v)
		case "min_version":
			setString(&c.MinVersion, v)
		case "args":
			c.Args = toStrings(v)
		case "poll_interval":
			setDuration(&c.PollInterval, k, v, warn)
		case "kill_grace":
			setDuration(&c.KillGrace, k, v, warn)
		case "startup_grace":
			setDuration(&c.StartupGrace, k, v, warn)
		case "ask_timeout":
			setDuration(&c.AskTimeout, k, v, warn)
		case "watch_agent_mailboxes":
			if b, ok := v.(bool); ok {
				c.WatchAgentMailboxes = b
			}
		default:
			warn("unknown key in [controller]: %s", k)
		}
	}
}

func applyAgent(a *domain.AgentConfig, name string, m map[string]any, warn func(string, ...any)) {
	for k, v := range m {
		switch k {
		case "type":
			setString(&a.Type, v)
		case "model":
			setString(&a.Model, v)
		case "cwd":
			setString(&a.Cwd, v)
		case "permission_mode":
			setString(&a.PermissionMode, v)
			if !domain.PermissionMode(a.PermissionMode).IsValid() {
				warn("unknown permission_mode in [agents.%s]: %s", name, a.PermissionMode)
			}
		case "args":
			a.Args = toStrings(v)
		case "env":
			envMap, ok := v.(map[string]any)
			if !ok {
				warn("invalid env in [agents.%s]", name)
				continue
			}
			if a.Env == nil {
				a.Env = make(map[string]string, len(envMap))
			}
			for ek, ev := range envMap {
				if s, ok := ev.(string); ok {
					a.Env[ek] = s
				}
			}
		default:
			warn("unknown key in [agents.%s]: %s", name, k)
		}
	}
}

func setString(dst *string, v any) {
	if s, ok := v.(string); ok {
		*dst = s
	}
}

func setDuration(dst *time.Duration, key string, v any, warn func(string, ...any)) {
	switch val := v.(type) {
	case string:
		d, err := time.ParseDuration(val)
		if err != nil || d < 0 {
			warn("invalid duration for %s: %q", key, val)
			return
		}
		*dst = d
	case int64:
		// Bare integers are milliseconds.
		*dst = time.Duration(val) * time.Millisecond
	default:
		warn("invalid duration for %s: %v", key, v)
	}
}

func toStrings(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(val)
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
