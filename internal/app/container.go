// Package app provides the dependency injection container for the application.
package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/runoshun/crewteam/internal/controller"
	"github.com/runoshun/crewteam/internal/domain"
	"github.com/runoshun/crewteam/internal/infra/config"
	"github.com/runoshun/crewteam/internal/infra/git"
	"github.com/runoshun/crewteam/internal/infra/logging"
	"github.com/runoshun/crewteam/internal/infra/mailbox"
	"github.com/runoshun/crewteam/internal/infra/process"
	"github.com/runoshun/crewteam/internal/infra/taskstore"
	"github.com/runoshun/crewteam/internal/infra/teamstore"
)

// DefaultTeamName is used when neither the config nor a flag names a team.
const DefaultTeamName = "crewteam"

// Paths holds the on-disk locations of one team session.
type Paths struct {
	Root     string // Directory holding teams/ and tasks/ (default ~/.claude)
	TeamDir  string // <root>/teams/<team>
	InboxDir string // <root>/teams/<team>/inboxes
	LogsDir  string // <root>/logs/<team>
	TasksDir string // <root>/tasks/<team>
}

// newPaths derives the session paths for team under root.
func newPaths(root, team string) Paths {
	return Paths{
		Root:     root,
		TeamDir:  domain.TeamDir(root, team),
		InboxDir: domain.InboxDir(root, team),
		LogsDir:  domain.LogsDir(root, team),
		TasksDir: domain.TasksDir(root, team),
	}
}

// Container provides dependency injection for the application.
// It holds the loaded configuration and builds adapters and controllers on demand.
type Container struct {
	// Adapters
	Clock         domain.Clock
	ConfigLoader  *config.Loader
	ConfigManager *config.Manager

	// Pointer fields
	Logger *slog.Logger
	Config *domain.Config

	// Session
	Team       string
	WorkDir    string
	DefaultCwd string
	Paths      Paths
}

// New creates a Container for the working directory dir.
// A broken config file is an error; missing files fall back to defaults.
func New(dir string) (*Container, error) {
	loader := config.NewLoader(dir)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(dir, cfg, loader), nil
}

// NewWithConfig creates a Container from an already loaded config.
// Tests use it with a temporary root.
func NewWithConfig(dir string, cfg *domain.Config, loader *config.Loader) *Container {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logging.ParseLevel(cfg.Log.Level),
	}))

	c := &Container{
		Clock:         domain.RealClock{},
		ConfigLoader:  loader,
		ConfigManager: config.NewManager(loader),
		Logger:        logger,
		Config:        cfg,
		WorkDir:       dir,
		DefaultCwd:    git.DefaultCwd(dir),
	}
	team := cfg.Controller.Team
	if team == "" {
		team = DefaultTeamName
	}
	c.SetTeam(team)
	return c
}

// SetTeam switches the container to another team session.
func (c *Container) SetTeam(team string) {
	c.Team = team
	c.Paths = newPaths(c.root(), team)
}

// root returns the configured state root, defaulting to ~/.claude.
func (c *Container) root() string {
	if c.Config.Controller.Root != "" {
		return c.Config.Controller.Root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(c.WorkDir, domain.DefaultRootDirName)
	}
	return filepath.Join(home, domain.DefaultRootDirName)
}

// Mailbox returns the mailbox store of the current team.
func (c *Container) Mailbox(logger *slog.Logger) *mailbox.Store {
	return mailbox.New(c.Paths.InboxDir, mailbox.WithLogger(logger), mailbox.WithClock(c.Clock))
}

// Tasks returns the task store of the current team.
func (c *Container) Tasks() *taskstore.Store {
	return taskstore.New(c.Paths.TasksDir, c.Clock)
}

// TeamStore returns the team config store of the current team.
func (c *Container) TeamStore() *teamstore.Store {
	return teamstore.New(c.Paths.Root, c.Team, c.Clock)
}

// Supervisor returns a process supervisor configured from [controller] and [env].
func (c *Container) Supervisor(logger *slog.Logger) *process.Supervisor {
	ctl := c.Config.Controller
	return process.New(process.Config{
		BaseEnv:      c.Config.Env,
		Logger:       logger,
		Clock:        c.Clock,
		Binary:       ctl.Binary,
		Team:         c.Team,
		LogsDir:      c.Paths.LogsDir,
		DefaultCwd:   c.DefaultCwd,
		ExtraArgs:    ctl.Args,
		KillGrace:    ctl.KillGrace,
		StartupGrace: ctl.StartupGrace,
	})
}

// Session is a controller bound to its log file.
type Session struct {
	Controller *controller.Controller
	Log        *logging.Logger
}

// Close releases the session's log file.
func (s *Session) Close() error {
	return s.Log.Close()
}

// NewSession wires a controller for the current team. Log records go to
// <root>/logs/<team>/controller.log and, when console is non-nil, to console.
// The controller is not initialized yet.
func (c *Container) NewSession(console io.Writer) (*Session, error) {
	log, err := logging.New(c.Paths.LogsDir, logging.ParseLevel(c.Config.Log.Level), console)
	if err != nil {
		return nil, err
	}
	logger := log.Slog()

	ctl := c.Config.Controller
	ctrl := controller.New(controller.Settings{
		Team:                c.Team,
		Description:         c.description(),
		MinVersion:          ctl.MinVersion,
		DefaultCwd:          c.DefaultCwd,
		PollInterval:        ctl.PollInterval,
		AskTimeout:          ctl.AskTimeout,
		WatchAgentMailboxes: ctl.WatchAgentMailboxes,
	}, controller.Dependencies{
		Mailbox:    c.Mailbox(logger),
		Supervisor: c.Supervisor(logger),
		Team:       c.TeamStore(),
		Tasks:      c.Tasks(),
	}, controller.WithLogger(logger), controller.WithClock(c.Clock))

	return &Session{Controller: ctrl, Log: log}, nil
}

// description names the repository and branch the team works on, if any.
func (c *Container) description() string {
	client, err := git.NewClient(c.WorkDir)
	if err != nil {
		return ""
	}
	desc := filepath.Base(client.RepoRoot())
	if branch, err := client.CurrentBranch(); err == nil && branch != "" {
		desc += " (" + branch + ")"
	}
	return desc
}

// SpawnOptions returns the configured agents, or only the named ones
// when names is non-empty. Unknown names get default options.
func (c *Container) SpawnOptions(names []string) []domain.SpawnOptions {
	if len(names) == 0 {
		names = c.Config.AgentNames()
	}
	opts := make([]domain.SpawnOptions, 0, len(names))
	for _, name := range names {
		opts = append(opts, c.Config.Agents[name].SpawnOptions(name))
	}
	return opts
}

// Compatibility probes the configured worker binary without starting a session.
func (c *Container) Compatibility(ctx context.Context) domain.Compatibility {
	ctrl := controller.New(controller.Settings{
		Team:       c.Team,
		MinVersion: c.Config.Controller.MinVersion,
	}, controller.Dependencies{Supervisor: c.Supervisor(c.Logger)})
	return ctrl.VerifyCompatibility(ctx)
}
