package domain

import (
	_ "embed"
	"sort"
	"time"
)

//go:embed config_template.toml
var configTemplateContent string

// ConfigFileName is the name of both the project and the global config file.
const ConfigFileName = "crewteam.toml"

// Default configuration values.
const (
	DefaultBinary       = "claude"
	DefaultMinVersion   = "2.1.0"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultKillGrace    = 3 * time.Second
	DefaultStartupGrace = 250 * time.Millisecond
	DefaultAskTimeout   = 2 * time.Minute
	DefaultLogLevel     = "info"
	DefaultRootDirName  = ".claude"
)

// Config represents the application configuration.
// Fields are ordered to minimize memory padding.
type Config struct {
	Env        map[string]string      `toml:"env"`
	Agents     map[string]AgentConfig `toml:"agents"`
	Warnings   []string               `toml:"-"`
	Controller ControllerConfig       `toml:"controller"`
	Log        LogConfig              `toml:"log"`
}

// ControllerConfig holds the [controller] section.
// Fields are ordered to minimize memory padding.
type ControllerConfig struct {
	Team                string        `toml:"team,omitempty"`
	Root                string        `toml:"root,omitempty"`
	Binary              string        `toml:"binary,omitempty"`
	MinVersion          string        `toml:"min_version,omitempty"`
	Args                []string      `toml:"args,omitempty"`
	PollInterval        time.Duration `toml:"poll_interval,omitempty"`
	KillGrace           time.Duration `toml:"kill_grace,omitempty"`
	StartupGrace        time.Duration `toml:"startup_grace,omitempty"`
	AskTimeout          time.Duration `toml:"ask_timeout,omitempty"`
	WatchAgentMailboxes bool          `toml:"watch_agent_mailboxes,omitempty"`
}

// LogConfig holds the [log] section.
type LogConfig struct {
	Level string `toml:"level,omitempty"` // debug, info, warn, error
}

// AgentConfig holds one [agents.<name>] section.
// Fields are ordered to minimize memory padding.
type AgentConfig struct {
	Env            map[string]string `toml:"env,omitempty"`
	Type           string            `toml:"type,omitempty"`
	Model          string            `toml:"model,omitempty"`
	Cwd            string            `toml:"cwd,omitempty"`
	PermissionMode string            `toml:"permission_mode,omitempty"`
	Args           []string          `toml:"args,omitempty"`
}

// SpawnOptions converts the section into spawn options for name.
func (a AgentConfig) SpawnOptions(name string) SpawnOptions {
	return SpawnOptions{
		Name:           name,
		Type:           AgentType(a.Type),
		Model:          a.Model,
		Cwd:            a.Cwd,
		PermissionMode: PermissionMode(a.PermissionMode),
		Env:            a.Env,
		Args:           a.Args,
	}.WithDefaults()
}

// NewDefaultConfig returns a config with every default applied.
func NewDefaultConfig() *Config {
	return &Config{
		Env:    make(map[string]string),
		Agents: make(map[string]AgentConfig),
		Controller: ControllerConfig{
			Binary:       DefaultBinary,
			MinVersion:   DefaultMinVersion,
			PollInterval: DefaultPollInterval,
			KillGrace:    DefaultKillGrace,
			StartupGrace: DefaultStartupGrace,
			AskTimeout:   DefaultAskTimeout,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// AgentNames returns the configured agent names, sorted.
func (c *Config) AgentNames() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigTemplate returns the commented template written by "config init".
func ConfigTemplate() string {
	return configTemplateContent
}

// ConfigInfo describes one config file on disk.
type ConfigInfo struct {
	Path    string
	Content string
	Exists  bool
}
