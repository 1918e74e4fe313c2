package cli

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/runoshun/crewteam/internal/app"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00B894")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#D63031")).Bold(true)
)

// errIncompatible makes the check command exit non-zero.
var errIncompatible = errors.New("worker binary is not compatible")

// newCheckCommand creates the check command.
func newCheckCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the worker binary is installed and supported",
		Long: `Run the configured worker binary with --version and compare the
reported version against [controller] min_version.

Exits with status 1 when the binary is missing or too old.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res := c.Compatibility(cmd.Context())
			w := cmd.OutOrStdout()

			_, _ = fmt.Fprintf(w, "binary:   %s\n", c.Config.Controller.Binary)
			version := res.Version
			if version == "" {
				version = "unknown"
			}
			_, _ = fmt.Fprintf(w, "version:  %s\n", version)
			_, _ = fmt.Fprintf(w, "minimum:  %s\n", res.MinVersion)

			if !res.Compatible {
				_, _ = fmt.Fprintf(w, "status:   %s (%s)\n", failStyle.Render("incompatible"), res.Error)
				return errIncompatible
			}
			_, _ = fmt.Fprintf(w, "status:   %s\n", okStyle.Render("ok"))
			return nil
		},
	}
}
