package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"taskhive/internal/auth"
	"taskhive/internal/config"
	"taskhive/internal/logging"
	"taskhive/internal/ops"
	"taskhive/internal/serverapp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "taskhive-ops",
		Short:        "Backup, restore and maintenance for a taskhive data directory",
		SilenceUsage: true,
	}
	root.AddCommand(newBackupCmd(), newRestoreCmd(), newDrillCmd(), newPurgeCmd())
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newBackupCmd() *cobra.Command {
	var dataDir, out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the data directory as .tar.gz",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				out = filepath.Join("backups", ops.ArchiveName(time.Now()))
			}
			sum, err := ops.BackupDataDir(dataDir, out)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"archive": out, "files": sum.Files, "bytes": sum.Bytes})
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "path to data directory")
	cmd.Flags().StringVar(&out, "out", "", "output archive path (.tar.gz)")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var archive, target string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Unpack a backup archive into a directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if archive == "" {
				return fmt.Errorf("archive is required")
			}
			sum, err := ops.RestoreDataDir(archive, target)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"target": target, "files": sum.Files, "bytes": sum.Bytes})
		},
	}
	cmd.Flags().StringVar(&archive, "archive", "", "input backup archive (.tar.gz)")
	cmd.Flags().StringVar(&target, "target-dir", "data-restored", "restore target directory")
	return cmd
}

func newDrillCmd() *cobra.Command {
	var dataDir, workDir string
	cmd := &cobra.Command{
		Use:   "drill",
		Short: "Back up, restore and compare digests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := ops.Drill(dataDir, workDir, time.Now())
			if err != nil {
				return fmt.Errorf("drill failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "path to data directory")
	cmd.Flags().StringVar(&workDir, "work-dir", os.TempDir(), "temporary workspace for drill artifacts")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	var (
		configPath string
		days       int
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Permanently delete expired trash and sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return err
			}
			cfg = config.FromEnv(cfg)
			if days > 0 {
				cfg.Trash.RetentionDays = days
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: "text", Writer: cmd.ErrOrStderr()})

			backend, err := serverapp.OpenBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			j := &ops.Janitor{
				Tasks:     backend,
				Retention: time.Duration(cfg.Trash.RetentionDays) * 24 * time.Hour,
				Logger:    logger,
			}
			if cfg.Storage.Backend != config.BackendMemory {
				sessions, err := auth.NewFileRepo(filepath.Join(cfg.Server.DataDir, "auth"))
				if err != nil {
					return err
				}
				j.Sessions = sessions
			}

			rep, err := j.Purge(cmd.Context())
			if err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}
			logger.Info("purge finished", "tasks", rep.Tasks, "sessions", rep.Sessions, "retention_days", cfg.Trash.RetentionDays)
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("TASKHIVE_CONFIG"), "config file (yaml or toml)")
	cmd.Flags().IntVar(&days, "older-than-days", 0, "override trash.retention_days")
	return cmd
}
