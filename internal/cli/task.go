package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/runoshun/crewteam/internal/app"
	"github.com/runoshun/crewteam/internal/domain"
	"github.com/runoshun/crewteam/internal/infra/taskstore"
)

// newTaskCommand creates the task command.
func newTaskCommand(c *app.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage the team's task list",
		Long: `Manage the shared task list of the current team.

Tasks live in one JSON file each and get sequential IDs starting at 1.
Agents read and update the same files.`,
		// No RunE: shows subcommand list when called without arguments
	}

	cmd.AddCommand(newTaskCreateCommand(c))
	cmd.AddCommand(newTaskListCommand(c))
	cmd.AddCommand(newTaskShowCommand(c))
	cmd.AddCommand(newTaskUpdateCommand(c))
	cmd.AddCommand(newTaskImportCommand(c))

	return cmd
}

// newTaskCreateCommand creates the task create subcommand.
func newTaskCreateCommand(c *app.Container) *cobra.Command {
	var in domain.NewTaskInput

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			task, err := c.Tasks().Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task #%s\n", task.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Subject, "subject", "", "Task subject (required)")
	cmd.Flags().StringVar(&in.Description, "description", "", "Task description")
	cmd.Flags().StringVar(&in.ActiveForm, "active-form", "", "Present-tense label shown while in progress")
	cmd.Flags().StringVar(&in.Owner, "owner", "", "Owning agent")
	cmd.Flags().StringSliceVar(&in.BlockedBy, "blocked-by", nil, "IDs of tasks this one waits for")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

// newTaskListCommand creates the task list subcommand.
func newTaskListCommand(c *app.Container) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tasks, err := c.Tasks().List(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, tasks)
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(w, "No tasks.")
				return nil
			}
			printTaskList(w, tasks)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// newTaskShowCommand creates the task show subcommand.
func newTaskShowCommand(c *app.Container) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := c.Tasks().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), task)
			}
			printTaskDetails(cmd.OutOrStdout(), task)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// newTaskUpdateCommand creates the task update subcommand.
func newTaskUpdateCommand(c *app.Container) *cobra.Command {
	var opts struct {
		Subject     string
		Description string
		ActiveForm  string
		Status      string
		Owner       string
		BlockedBy   []string
	}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change task fields",
		Long: `Change task fields. Only the flags you pass are applied.

Status is one of: pending, in_progress, completed, deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u domain.TaskUpdate
			flags := cmd.Flags()
			if flags.Changed("subject") {
				u.Subject = &opts.Subject
			}
			if flags.Changed("description") {
				u.Description = &opts.Description
			}
			if flags.Changed("active-form") {
				u.ActiveForm = &opts.ActiveForm
			}
			if flags.Changed("status") {
				status := domain.TaskStatus(opts.Status)
				u.Status = &status
			}
			if flags.Changed("owner") {
				u.Owner = &opts.Owner
			}
			if flags.Changed("blocked-by") {
				u.BlockedBy = append([]string{}, opts.BlockedBy...)
			}

			task, err := c.Tasks().Update(cmd.Context(), args[0], u)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated task #%s\n", task.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "", "New subject")
	cmd.Flags().StringVar(&opts.Description, "description", "", "New description")
	cmd.Flags().StringVar(&opts.ActiveForm, "active-form", "", "New active form")
	cmd.Flags().StringVar(&opts.Status, "status", "", "New status")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "New owner (empty to clear)")
	cmd.Flags().StringSliceVar(&opts.BlockedBy, "blocked-by", nil, "Replace the blocking task IDs")

	return cmd
}

// newTaskImportCommand creates the task import subcommand.
func newTaskImportCommand(c *app.Container) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create tasks from a YAML file",
		Long: `Create tasks from a YAML file.

File format:
  tasks:
    - subject: Write the parser
      description: Handle nested blocks.
    - subject: Review the parser
      owner: reviewer
      blockedBy: ["1"]

A bare list of tasks is accepted as well.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read task file: %w", err)
			}
			drafts, err := taskstore.ParseDrafts(content)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if dryRun {
				_, _ = fmt.Fprintf(w, "Would create %d task(s):\n", len(drafts))
				for i, d := range drafts {
					_, _ = fmt.Fprintf(w, "  %d. %s\n", i+1, d.Subject)
				}
				return nil
			}

			store := c.Tasks()
			for _, d := range drafts {
				task, err := store.Create(cmd.Context(), d)
				if err != nil {
					return fmt.Errorf("create %q: %w", d.Subject, err)
				}
				_, _ = fmt.Fprintf(w, "Created task #%s: %s\n", task.ID, task.Subject)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview tasks without creating")

	return cmd
}

func printTaskList(w io.Writer, tasks []*domain.Task) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTATUS\tOWNER\tBLOCKED BY\tSUBJECT")
	for _, t := range tasks {
		owner := t.Owner
		if owner == "" {
			owner = "-"
		}
		blocked := "-"
		if t.IsBlocked() {
			blocked = strings.Join(t.BlockedBy, ",")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, owner, blocked, t.Subject)
	}
	_ = tw.Flush()
}

func printTaskDetails(w io.Writer, t *domain.Task) {
	_, _ = fmt.Fprintf(w, "# %s: %s\n\n", t.ID, t.Subject)
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Status:\t%s\n", t.Status)
	if t.Owner != "" {
		_, _ = fmt.Fprintf(tw, "Owner:\t%s\n", t.Owner)
	}
	if t.ActiveForm != "" {
		_, _ = fmt.Fprintf(tw, "Active form:\t%s\n", t.ActiveForm)
	}
	if len(t.BlockedBy) > 0 {
		_, _ = fmt.Fprintf(tw, "Blocked by:\t%s\n", strings.Join(t.BlockedBy, ", "))
	}
	if len(t.Blocks) > 0 {
		_, _ = fmt.Fprintf(tw, "Blocks:\t%s\n", strings.Join(t.Blocks, ", "))
	}
	_, _ = fmt.Fprintf(tw, "Created:\t%s\n", t.CreatedAt.Format("2006-01-02 15:04"))
	_, _ = fmt.Fprintf(tw, "Updated:\t%s\n", t.UpdatedAt.Format("2006-01-02 15:04"))
	_ = tw.Flush()

	if t.Description != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", t.Description)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
