package cli

import (
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/runoshun/crewteam/internal/app"
	"github.com/runoshun/crewteam/internal/domain"
)

// newConfigCommand creates the config command.
func newConfigCommand(c *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `Manage crewteam configuration files and settings.`,
		// No RunE: shows subcommand list when called without arguments
	}

	cmd.AddCommand(newConfigShowCommand(c))
	cmd.AddCommand(newConfigTemplateCommand())
	cmd.AddCommand(newConfigInitCommand(c))

	return cmd
}

// newConfigShowCommand creates the config show subcommand.
func newConfigShowCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration",
		Long: `Display effective configuration after merging all sources.

Shows which config files were loaded and the final merged configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()

			_, _ = fmt.Fprintln(w, "[Loaded from]")
			for _, info := range []domain.ConfigInfo{
				c.ConfigManager.GlobalConfigInfo(),
				c.ConfigManager.ProjectConfigInfo(),
			} {
				if info.Path == "" {
					continue
				}
				if info.Exists {
					_, _ = fmt.Fprintf(w, "- %s\n", info.Path)
				} else {
					_, _ = fmt.Fprintf(w, "- %s (not found)\n", info.Path)
				}
			}
			_, _ = fmt.Fprintln(w)

			_, _ = fmt.Fprintln(w, "[Session]")
			_, _ = fmt.Fprintf(w, "team = %q\n", c.Team)
			_, _ = fmt.Fprintf(w, "team_dir = %q\n", c.Paths.TeamDir)
			_, _ = fmt.Fprintf(w, "tasks_dir = %q\n", c.Paths.TasksDir)
			_, _ = fmt.Fprintf(w, "default_cwd = %q\n", c.DefaultCwd)
			_, _ = fmt.Fprintln(w)

			_, _ = fmt.Fprintln(w, "[Effective Config]")
			return formatEffectiveConfig(w, c.Config)
		},
	}
}

// formatEffectiveConfig writes cfg as TOML. Durations are rendered as
// strings so the output can be pasted back into a config file.
func formatEffectiveConfig(w io.Writer, cfg *domain.Config) error {
	ctl := cfg.Controller
	controller := map[string]any{
		"binary":                ctl.Binary,
		"min_version":           ctl.MinVersion,
		"poll_interval":         ctl.PollInterval.String(),
		"kill_grace":            ctl.KillGrace.String(),
		"startup_grace":         ctl.StartupGrace.String(),
		"ask_timeout":           ctl.AskTimeout.String(),
		"watch_agent_mailboxes": ctl.WatchAgentMailboxes,
	}
	if ctl.Team != "" {
		controller["team"] = ctl.Team
	}
	if ctl.Root != "" {
		controller["root"] = ctl.Root
	}
	if len(ctl.Args) > 0 {
		controller["args"] = ctl.Args
	}

	output := map[string]any{
		"controller": controller,
		"log":        map[string]any{"level": cfg.Log.Level},
	}
	if len(cfg.Env) > 0 {
		output["env"] = cfg.Env
	}
	if len(cfg.Agents) > 0 {
		output["agents"] = cfg.Agents
	}

	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(output)
}

// newConfigTemplateCommand creates the config template subcommand.
func newConfigTemplateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Print the config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprint(cmd.OutOrStdout(), domain.ConfigTemplate())
			return nil
		},
	}
}

// newConfigInitCommand creates the config init subcommand.
func newConfigInitCommand(c *app.Container) *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file from the template",
		Long: `Create crewteam.toml in the current directory, or the global config
file with --global. Existing files are never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				path string
				err  error
			)
			if global {
				path, err = c.ConfigManager.InitGlobalConfig()
			} else {
				path, err = c.ConfigManager.InitProjectConfig()
			}
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Create the global config file")

	return cmd
}
