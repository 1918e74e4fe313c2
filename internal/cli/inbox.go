package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/runoshun/crewteam/internal/app"
	"github.com/runoshun/crewteam/internal/domain"
)

// newInboxCommand creates the inbox command.
func newInboxCommand(c *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Inspect and write participant mailboxes",
		Long: `Inspect and write the mailbox files of the current team.

Each participant (every agent, plus "controller") owns one append-only
mailbox. Writing to the controller mailbox from the command line is a
convenient way to simulate an agent while debugging.`,
		// No RunE: shows subcommand list when called without arguments
	}

	cmd.AddCommand(newInboxListCommand(c))
	cmd.AddCommand(newInboxShowCommand(c))
	cmd.AddCommand(newInboxWriteCommand(c))

	return cmd
}

// newInboxListCommand creates the inbox list subcommand.
func newInboxListCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List participants with a mailbox",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := c.Mailbox(c.Logger)
			names, err := store.Participants(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(names) == 0 {
				_, _ = fmt.Fprintln(w, "No mailboxes.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
			_, _ = fmt.Fprintln(tw, "PARTICIPANT\tMESSAGES")
			for _, name := range names {
				entries, err := store.ReadAll(cmd.Context(), name)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(tw, "%s\t%d\n", name, len(entries))
			}
			return tw.Flush()
		},
	}
}

// newInboxShowCommand creates the inbox show subcommand.
func newInboxShowCommand(c *app.Container) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <participant>",
		Short: "Print a participant's mailbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := c.Mailbox(c.Logger).ReadAll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if jsonOutput {
				enc := json.NewEncoder(w)
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			}

			if len(entries) == 0 {
				_, _ = fmt.Fprintln(w, "No messages.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TIME\tFROM\tTYPE\tTEXT")
			for _, e := range entries {
				msg, _ := domain.ParseMessage(e)
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp, e.From, msg.Type, previewEntry(e, msg))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print raw entries as JSON lines")

	return cmd
}

// previewEntry returns a one-line description of an entry for tables.
func previewEntry(e domain.MailboxEntry, msg domain.Message) string {
	text := e.Summary
	if text == "" {
		switch msg.Type {
		case domain.MessagePlainText:
			text = msg.Text
		case domain.MessagePermissionRequest:
			text = msg.ToolName + ": " + msg.Description
		case domain.MessagePlanApprovalRequest:
			text = msg.PlanContent
		case domain.MessageTaskAssignment:
			text = msg.TaskID + " " + msg.Subject
		default:
			text = msg.RequestID
		}
	}
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return line
}

// newInboxWriteCommand creates the inbox write subcommand.
func newInboxWriteCommand(c *app.Container) *cobra.Command {
	var opts struct {
		From    string
		Text    string
		JSON    string
		Summary string
	}

	cmd := &cobra.Command{
		Use:   "write <participant>",
		Short: "Append an entry to a participant's mailbox",
		Long: `Append an entry to a participant's mailbox.

Use --text for a plain message or --json for a structured protocol message.

Examples:
  # Answer the controller as agent "worker"
  crewteam inbox write controller --from worker --text "done"

  # Raise a permission request as agent "worker"
  crewteam inbox write controller --from worker \
    --json '{"type":"permission_request","requestId":"r1","toolName":"Bash"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := opts.Text
			if cmd.Flags().Changed("json") {
				if !strings.HasPrefix(strings.TrimSpace(opts.JSON), "{") {
					return errors.New("--json must be a JSON object")
				}
				if _, err := domain.ParseMessage(domain.MailboxEntry{From: opts.From, Text: opts.JSON}); err != nil {
					return err
				}
				text = opts.JSON
			}
			if strings.TrimSpace(text) == "" {
				return domain.ErrEmptyMessage
			}

			entry := domain.MailboxEntry{From: opts.From, Text: text, Summary: opts.Summary}
			if err := c.Mailbox(c.Logger).Write(cmd.Context(), args[0], entry); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote message to %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", domain.ControllerName, "Sender name")
	cmd.Flags().StringVar(&opts.Text, "text", "", "Plain message text")
	cmd.Flags().StringVar(&opts.JSON, "json", "", "Structured message as a JSON object")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "Short preview shown in listings")
	cmd.MarkFlagsMutuallyExclusive("text", "json")
	cmd.MarkFlagsOneRequired("text", "json")

	return cmd
}
