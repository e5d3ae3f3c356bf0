package commands

import (
	"github.com/spf13/cobra"

	"taskhive/internal/model"
)

func newTrashCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Inspect and restore deleted tasks",
	}
	cmd.AddCommand(newTrashListCmd(e), newTrashRestoreCmd(e), newTrashCleanupCmd(e))
	return cmd
}

func newTrashListCmd(e *env) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deleted tasks, most recently deleted first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.requireLogin(); err != nil {
				return err
			}
			page, err := e.client.ListTrash(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if e.out.JSONMode() {
				return e.out.JSON(page)
			}
			return e.out.Tasks(page.Tasks)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", model.DefaultListLimit, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many tasks")
	return cmd
}

func newTrashRestoreCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "restore ID...",
		Short: "Bring deleted tasks back",
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
				t, err := e.coord.Restore(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if e.out.JSONMode() {
					return e.out.JSON(t)
				}
				e.out.Success("restored %q", t.Title)
				return nil
			}
			res, err := e.client.RestoreMany(cmd.Context(), ids)
			if err != nil {
				return err
			}
			return e.out.Bulk(res)
		},
	}
}

func newTrashCleanupCmd(e *env) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Permanently delete trash older than N days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.requireLogin(); err != nil {
				return err
			}
			res, err := e.client.CleanupTrash(cmd.Context(), days)
			if err != nil {
				return err
			}
			return e.out.Bulk(res)
		},
	}
	cmd.Flags().IntVar(&days, "older-than-days", 0, "age threshold; 0 uses the server's retention")
	return cmd
}
