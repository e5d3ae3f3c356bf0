package commands

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"taskhive/internal/model"
)

func newListCmd(e *env) *cobra.Command {
	var (
		priority, category string
		completed, pending bool
		limit, offset      int
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List live tasks, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.requireLogin(); err != nil {
				return err
			}
			if completed && pending {
				return usageErr("--completed and --pending are mutually exclusive")
			}
			f := model.Filter{Category: strings.TrimSpace(category), Limit: limit, Offset: offset}
			if priority != "" {
				p, err := model.ParsePriority(priority)
				if err != nil {
					return err
				}
				f.Priority = p
			}
			switch {
			case completed:
				f.IsCompleted = boolPtr(true)
			case pending:
				f.IsCompleted = boolPtr(false)
			}
			if err := e.coord.Load(cmd.Context(), f); err != nil {
				return err
			}
			return e.out.Tasks(e.coord.View())
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&priority, "priority", "p", "", "Low, Medium or High")
	fl.StringVarP(&category, "category", "c", "", "only this category")
	fl.BoolVar(&completed, "completed", false, "only completed tasks")
	fl.BoolVar(&pending, "pending", false, "only open tasks")
	fl.IntVar(&limit, "limit", model.DefaultListLimit, "page size")
	fl.IntVar(&offset, "offset", 0, "skip this many tasks")
	return cmd
}

// taskFields are the flags shared by add and edit.
type taskFields struct {
	title, description, priority, category, due string
}

func (f *taskFields) register(fl *pflag.FlagSet, withTitle bool) {
	if withTitle {
		fl.StringVarP(&f.title, "title", "t", "", "new title")
	}
	fl.StringVarP(&f.description, "description", "d", "", "free text")
	fl.StringVarP(&f.priority, "priority", "p", "", "Low, Medium or High")
	fl.StringVarP(&f.category, "category", "c", "", "category label")
	fl.StringVar(&f.due, "due", "", "due date YYYY-MM-DD, empty to clear on edit")
}

func parseDue(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, &model.ValidationError{Field: "due_date", Message: "must be YYYY-MM-DD"}
	}
	return &d, nil
}

func newAddCmd(e *env) *cobra.Command {
	var f taskFields
	cmd := &cobra.Command{
		Use:   "add TITLE...",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireLogin(); err != nil {
				return err
			}
			in := model.TaskCreate{
				Title:       strings.Join(args, " "),
				Description: f.description,
				Category:    strings.TrimSpace(f.category),
			}
			if f.priority != "" {
				p, err := model.ParsePriority(f.priority)
				if err != nil {
					return err
				}
				in.Priority = p
			}
			due, err := parseDue(f.due)
			if err != nil {
				return err
			}
			in.DueDate = due

			t, err := e.coord.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			if e.out.JSONMode() {
				return e.out.JSON(t)
			}
			e.out.Success("created %s %q", t.ID, t.Title)
			return nil
		},
	}
	f.register(cmd.Flags(), false)
	return cmd
}

func newEditCmd(e *env) *cobra.Command {
	var f taskFields
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change fields of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireLogin(); err != nil {
				return err
			}
			fl := cmd.Flags()
			var p model.Patch
			if fl.Changed("title") {
				p.Title = &f.title
			}
			if fl.Changed("description") {
				p.Description = &f.description
			}
			if fl.Changed("category") {
				c := strings.TrimSpace(f.category)
				p.Category = &c
			}
			if fl.Changed("priority") {
				pr, err := model.ParsePriority(f.priority)
				if err != nil {
					return err
				}
				p.Priority = &pr
			}
			if fl.Changed("due") {
				due, err := parseDue(f.due)
				if err != nil {
					return err
				}
				if due == nil {
					return usageErr("clearing a due date is not supported; pass a new date")
				}
				p.DueDate = due
			}

			t, err := e.coord.Update(cmd.Context(), model.TaskID(args[0]), p)
			if err != nil {
				return err
			}
			return e.out.Task(t)
		},
	}
	f.register(cmd.Flags(), true)
	return cmd
}

func newDoneCmd(e *env) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "done ID...",
		Short: "Mark tasks completed (or open again with --undo)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireLogin(); err != nil {
				return err
			}
			ids, err := requireIDs(args)
			if err != nil {
				return err
			}
			status := !undo
			if len(ids) == 1 {
				t, err := e.coord.Update(cmd.Context(), ids[0], model.Patch{IsCompleted: &status})
				if err != nil {
					return err
				}
				if e.out.JSONMode() {
					return e.out.JSON(t)
				}
				e.out.Success("%s %q", doneVerb(status), t.Title)
				return nil
			}
			res, err := e.coord.BulkUpdate(cmd.Context(), model.BulkUpdateRequest{
				TaskIDs:    ids,
				UpdateType: model.BulkStatus,
				Params:     model.BulkParams{Status: &status},
			})
			if err != nil {
				return err
			}
			return e.out.Bulk(res)
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "mark as not completed")
	return cmd
}

func doneVerb(status bool) string {
	if status {
		return "completed"
	}
	return "reopened"
}

func newRmCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID...",
		Short: "Move tasks to the trash",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireLogin(); err != nil {
				return err
			}
			ids, err := requireIDs(args)
			if err != nil {
				return err
			}
			if len(ids) == 1 {
				if err := e.coord.Delete(cmd.Context(), ids[0]); err != nil {
					return err
				}
				e.out.Success("moved %s to trash", ids[0])
				return nil
			}
			res, err := e.coord.BulkDelete(cmd.Context(), ids)
			if err != nil {
				return err
			}
			return e.out.Bulk(res)
		},
	}
}

func newStatsCmd(e *env) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show task counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.requireLogin(); err != nil {
				return err
			}
			if local {
				// Counts over the first page only, like the list view.
				if err := e.coord.Load(cmd.Context(), model.Filter{Limit: model.MaxListLimit}); err != nil {
					return err
				}
				return e.out.Stats(e.coord.Stats())
			}
			st, err := e.client.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return e.out.Stats(st)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "compute from the fetched list instead of asking the server")
	return cmd
}

func boolPtr(b bool) *bool { return &b }
