// Package cli provides the command-line interface for crewteam.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runoshun/crewteam/internal/app"
	"github.com/runoshun/crewteam/internal/domain"
)

// Command group IDs.
const (
	groupSetup   = "setup"
	groupSession = "session"
	groupTask    = "task"
)

// NewRootCommand creates the root command for crewteam.
// It receives the container for dependency injection and version for display.
func NewRootCommand(c *app.Container, version string) *cobra.Command {
	var team string

	root := &cobra.Command{
		Use:   "crewteam",
		Short: "Run and coordinate a team of AI coding agents",
		Long: `crewteam spawns worker agent processes, exchanges messages with them
through per-agent mailbox files and answers their permission and plan
approval requests.

Run 'crewteam session' to start a team session with the agents configured
in crewteam.toml.`,
		Version: version,
		// SilenceUsage prevents usage from being printed on errors
		SilenceUsage: true,
		// SilenceErrors prevents Cobra from printing errors (we handle it in main)
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip if container is nil (e.g. in tests)
			if c == nil {
				return nil
			}
			if cmd.Flags().Changed("team") {
				if err := domain.ValidateTeamName(team); err != nil {
					return err
				}
				c.SetTeam(team)
			}
			for _, w := range c.Config.Warnings {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&team, "team", "", "Team name (default from [controller] team, or \"crewteam\")")

	root.AddGroup(
		&cobra.Group{ID: groupSetup, Title: "Setup Commands:"},
		&cobra.Group{ID: groupSession, Title: "Session Commands:"},
		&cobra.Group{ID: groupTask, Title: "Task Management:"},
	)

	// Setup commands
	configCmd := newConfigCommand(c)
	configCmd.GroupID = groupSetup

	checkCmd := newCheckCommand(c)
	checkCmd.GroupID = groupSetup

	versionCmd := newVersionCommand(version)
	versionCmd.GroupID = groupSetup

	// Session commands
	sessionCmd := newSessionCommand(c)
	sessionCmd.GroupID = groupSession

	inboxCmd := newInboxCommand(c)
	inboxCmd.GroupID = groupSession

	// Task management commands
	taskCmd := newTaskCommand(c)
	taskCmd.GroupID = groupTask

	root.AddCommand(
		configCmd,
		checkCmd,
		versionCmd,
		sessionCmd,
		inboxCmd,
		taskCmd,
	)

	return root
}

// newVersionCommand creates the version command.
func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the crewteam version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "crewteam %s\n", version)
			return nil
		},
	}
}
