// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// todo_cmd.go - Task list commands.

package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/taskpad/internal/todos"
)

// todoListing is the machine-readable form of "taskpad todo list".
type todoListing struct {
	Filter string       `json:"filter" yaml:"filter"`
	Items  []todos.Todo `json:"items" yaml:"items"`
	Stats  todos.Stats  `json:"stats" yaml:"stats"`
}

func newTodoCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "todo",
		Aliases: []string{"todos", "t"},
		Short:   "Manage your tasks",
	}
	cmd.AddCommand(
		newTodoListCommand(a),
		newTodoAddCommand(a),
		newTodoDoneCommand(a, "done", "Mark a task done", true),
		newTodoDoneCommand(a, "undo", "Mark a task not done", false),
		newTodoRenameCommand(a),
		newTodoRemoveCommand(a),
		newTodoClearCommand(a),
	)
	return cmd
}

// parseID parses a task id argument.
func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, &UsageError{Reason: fmt.Sprintf("invalid task id %q", s), Example: "taskpad todo done 3"}
	}
	return id, nil
}

func newTodoListCommand(a *app) *cobra.Command {
	var filter, output string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Example: `  taskpad todo list
  taskpad todo list --filter active
  taskpad todo list -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := todos.ParseFilter(filter)
			if err != nil {
				return &UsageError{Reason: err.Error(), Example: "--filter done"}
			}
			ctx := cmd.Context()
			if err := requireSession(ctx, a); err != nil {
				return err
			}
			if err := a.todos.Refresh(ctx); err != nil {
				return resetOnRejection(a, err)
			}

			listing := todoListing{Filter: string(f), Items: a.todos.Items(f), Stats: a.todos.Stats()}
			return writeOutput(a.io.Out, output, listing, func(w io.Writer) error {
				return printTodos(w, listing)
			})
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", string(todos.FilterAll), "which tasks to show: all, active or done")
	outputFlag(cmd, &output)
	return cmd
}

func printTodos(w io.Writer, l todoListing) error {
	if len(l.Items) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No tasks."))
	}
	for _, t := range l.Items {
		title := ValueStyle.Render(t.Title)
		if t.Done {
			title = DoneStyle.Render(t.Title)
		}
		fmt.Fprintf(w, "%s %s %s\n", RenderCheckbox(t.Done), DimStyle.Render(fmt.Sprintf("%3d", t.ID)), title)
	}
	_, err := fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("%d total, %d done, %d remaining",
		l.Stats.Total, l.Stats.Done, l.Stats.Remaining)))
	return err
}

func newTodoAddCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "add <title...>",
		Short:   "Add a task",
		Example: `  taskpad todo add Buy milk`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := requireSession(ctx, a); err != nil {
				return err
			}
			t, err := a.todos.Add(ctx, strings.Join(args, " "))
			if err != nil {
				return resetOnRejection(a, err)
			}
			fmt.Fprintf(a.io.Out, "%s Added #%d %s\n", SuccessStyle.Render("✓"), t.ID, t.Title)
			return nil
		},
	}
}

func newTodoDoneCommand(a *app, use, short string, done bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := requireSession(ctx, a); err != nil {
				return err
			}
			t, err := a.todos.SetDone(ctx, id, done)
			if err != nil {
				return resetOnRejection(a, err)
			}
			fmt.Fprintf(a.io.Out, "%s %s\n", RenderCheckbox(t.Done), t.Title)
			return nil
		},
	}
}

func newTodoRenameCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title...>",
		Short: "Change a task's title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := requireSession(ctx, a); err != nil {
				return err
			}
			t, err := a.todos.Rename(ctx, id, strings.Join(args[1:], " "))
			if err != nil {
				return resetOnRejection(a, err)
			}
			fmt.Fprintf(a.io.Out, "%s Renamed #%d to %s\n", SuccessStyle.Render("✓"), t.ID, t.Title)
			return nil
		},
	}
}

func newTodoRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := requireSession(ctx, a); err != nil {
				return err
			}
			if err := a.todos.Remove(ctx, id); err != nil {
				return resetOnRejection(a, err)
			}
			fmt.Fprintf(a.io.Out, "%s Deleted #%d\n", SuccessStyle.Render("✓"), id)
			return nil
		},
	}
}

func newTodoClearCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every completed task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := requireSession(ctx, a); err != nil {
				return err
			}
			if err := a.todos.Refresh(ctx); err != nil {
				return resetOnRejection(a, err)
			}
			removed, err := a.todos.ClearCompleted(ctx)
			fmt.Fprintf(a.io.Out, "Cleared %d completed task(s).\n", removed)
			return resetOnRejection(a, err)
		},
	}
}
