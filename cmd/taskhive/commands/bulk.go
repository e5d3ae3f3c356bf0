package commands

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"taskhive/internal/model"
	"taskhive/internal/taskcache"
)

func newBulkCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Change or trash many tasks at once; all or nothing",
	}
	cmd.AddCommand(newBulkUpdateCmd(e), newBulkDeleteCmd(e))
	return cmd
}

func newBulkUpdateCmd(e *env) *cobra.Command {
	var status, category, priority string
	cmd := &cobra.Command{
		Use:   "update ID...",
		Short: "Set one field on every listed task",
		Example: `  taskhive bulk update a1,b2 --status true
  taskhive bulk update a1 b2 --priority high`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireLogin(); err != nil {
				return err
			}
			ids, err := requireIDs(args)
			if err != nil {
				return err
			}

			fl := cmd.Flags()
			set := 0
			for _, name := range []string{"status", "category", "priority"} {
				if fl.Changed(name) {
					set++
				}
			}
			if set != 1 {
				return usageErr("pass exactly one of --status, --category, --priority")
			}

			var (
				typ    model.BulkUpdateType
				params model.BulkParams
			)
			switch {
			case fl.Changed("status"):
				b, err := strconv.ParseBool(status)
				if err != nil {
					return &model.ValidationError{Field: "status", Message: "must be true or false"}
				}
				typ, params.Status = model.BulkStatus, &b
			case fl.Changed("category"):
				c := strings.TrimSpace(category)
				typ, params.Category = model.BulkCategory, &c
			default:
				p, err := model.ParsePriority(priority)
				if err != nil {
					return err
				}
				typ, params.Priority = model.BulkPriority, &p
			}

			e.coord.Selection().SelectAll(ids)
			res, err := e.coord.BulkUpdateSelected(cmd.Context(), typ, params, taskcache.ClearAfterSettle)
			if err != nil {
				return err
			}
			return e.out.Bulk(res)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&status, "status", "", "true or false")
	fl.StringVar(&category, "category", "", "new category")
	fl.StringVar(&priority, "priority", "", "Low, Medium or High")
	return cmd
}

func newBulkDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Move every listed task to the trash",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireLogin(); err != nil {
				return err
			}
			ids, err := requireIDs(args)
			if err != nil {
				return err
			}
			e.coord.Selection().SelectAll(ids)
			res, err := e.coord.BulkDeleteSelected(cmd.Context(), taskcache.ClearAfterSettle)
			if err != nil {
				return err
			}
			return e.out.Bulk(res)
		},
	}
}
