package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/runoshun/crewteam/internal/app"
	"github.com/runoshun/crewteam/internal/controller"
	"github.com/runoshun/crewteam/internal/domain"
	"github.com/runoshun/crewteam/internal/tui"
)

// shutdownTimeout bounds the cleanup after a session ends.
const shutdownTimeout = 30 * time.Second

// eventBuffer is the size of the event channel feeding the UI.
const eventBuffer = 256

// runTUIFunc is a function variable for launching the TUI, allowing it to be mocked in tests.
var runTUIFunc = runTUI

type sessionOptions struct {
	Agents      []string
	Plain       bool
	AutoApprove bool
}

// newSessionCommand creates the session command.
func newSessionCommand(c *app.Container) *cobra.Command {
	var opts sessionOptions

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run a team session",
		Long: `Start a team session: provision the team directory, spawn the
configured agents and show their activity until you quit.

Agents come from the [agents.<name>] sections of crewteam.toml. Use --agent
to start only some of them, or agents that are not configured at all.

On exit every agent is killed and the team and task directories are removed.
Logs are kept under <root>/logs/<team>.

Examples:
  # Start every configured agent in the terminal UI
  crewteam session

  # Start two agents and print events as plain lines
  crewteam session --agent researcher --agent writer --plain

  # Approve every permission and plan request automatically
  crewteam session --auto-approve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, cmd, c, opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Agents, "agent", nil, "Agent to spawn (can specify multiple; default: all configured)")
	cmd.Flags().BoolVar(&opts.Plain, "plain", false, "Print events as plain lines instead of the terminal UI")
	cmd.Flags().BoolVar(&opts.AutoApprove, "auto-approve", false, "Approve every permission and plan request")

	return cmd
}

func runSession(ctx context.Context, cmd *cobra.Command, c *app.Container, opts sessionOptions) (err error) {
	specs := c.SpawnOptions(opts.Agents)
	if len(specs) == 0 {
		return errors.New("no agents configured: add an [agents.<name>] section or pass --agent")
	}

	var console io.Writer
	if opts.Plain {
		console = cmd.ErrOrStderr()
	}
	sess, err := c.NewSession(console)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()
	defer func() {
		if path := sess.Log.Path(); path != "" {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Session log: %s\n", path)
		}
	}()
	ctrl := sess.Controller

	if res := ctrl.VerifyCompatibility(ctx); !res.Compatible {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", res.Error)
	}

	if err := ctrl.Init(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if serr := ctrl.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = fmt.Errorf("shutdown: %w", serr)
		}
	}()

	if opts.AutoApprove {
		ctrl.Subscribe(autoApprove(ctx, ctrl, cmd.ErrOrStderr()))
	}
	events, closeEvents := ctrl.Events(eventBuffer)
	defer closeEvents()

	for _, spec := range specs {
		if _, err := ctrl.SpawnAgent(ctx, spec); err != nil {
			return err
		}
	}

	if opts.Plain {
		return printEvents(ctx, cmd.OutOrStdout(), events)
	}
	return runTUIFunc(ctx, ctrl, c.Team, events)
}

// autoApprove answers every inbound permission and plan request with approval.
func autoApprove(ctx context.Context, ctrl *controller.Controller, w io.Writer) controller.Handler {
	return func(ev domain.Event) {
		switch ev.Type {
		case domain.EventPermissionRequest, domain.EventPlanApprovalRequest:
			if err := ctrl.Answer(ctx, ev.Message.RequestID, true, ""); err != nil {
				_, _ = fmt.Fprintf(w, "Warning: auto-approve %s: %v\n", ev.Message.RequestID, err)
			}
		}
	}
}

// printEvents writes one line per event until ctx is done.
func printEvents(ctx context.Context, w io.Writer, events <-chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			_, _ = fmt.Fprintf(w, "%s %s\n", ev.Time.Format("15:04:05"), ev.Summary())
		}
	}
}

func runTUI(ctx context.Context, ctrl *controller.Controller, team string, events <-chan domain.Event) error {
	m := tui.New(ctrl, team, events)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("run terminal UI: %w", err)
	}
	return nil
}
