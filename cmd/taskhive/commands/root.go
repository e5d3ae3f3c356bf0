package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskhive/internal/logging"
	"taskhive/internal/model"
	"taskhive/internal/printer"
	"taskhive/internal/taskcache"
	"taskhive/pkg/taskapi"
)

// env is everything a subcommand needs, built once the profile is read.
type env struct {
	profilePath string
	profile     *viper.Viper
	verbose     bool

	logger *log.Logger
	out    *printer.Printer
	client *taskapi.Client
	coord  *taskcache.Coordinator
}

// NewRootCmd builds the taskhive command tree.
func NewRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:   "taskhive",
		Short: "Manage your tasks from the terminal",
		Long: `taskhive talks to a taskhive server. Log in once with
"taskhive login --email you@example.com"; the session token is kept in
your profile.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&e.profilePath, "profile", "", "profile file (default $TASKHIVE_PROFILE or the user config dir)")
	pf.String("base-url", "", "server base URL")
	pf.StringP("output", "o", "", "output format: table or json")
	pf.BoolVarP(&e.verbose, "verbose", "v", false, "log requests and mutation outcomes")

	root.AddCommand(
		newLoginCmd(e),
		newLogoutCmd(e),
		newListCmd(e),
		newAddCmd(e),
		newEditCmd(e),
		newDoneCmd(e),
		newRmCmd(e),
		newBulkCmd(e),
		newTrashCmd(e),
		newStatsCmd(e),
	)
	return root
}

// Execute runs the CLI and renders any error with a hint.
func Execute(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	root := NewRootCmd()
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	return explain(printer.New(stdout, stderr, ""), err)
}

func (e *env) setup(cmd *cobra.Command) error {
	v, err := loadProfile(e.resolveProfilePath())
	if err != nil {
		return err
	}
	pf := cmd.Root().PersistentFlags()
	if err := v.BindPFlag(keyBaseURL, pf.Lookup("base-url")); err != nil {
		return err
	}
	if err := v.BindPFlag(keyOutput, pf.Lookup("output")); err != nil {
		return err
	}
	e.profile = v

	level := "warn"
	if e.verbose {
		level = "debug"
	}
	e.logger = logging.New(logging.Options{Level: level, Format: "text", Writer: cmd.ErrOrStderr(), Prefix: "taskhive"})
	e.out = printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), v.GetString(keyOutput))

	e.client, err = taskapi.New(v.GetString(keyBaseURL),
		taskapi.WithToken(v.GetString(keyToken)),
		taskapi.WithLogger(e.logger),
	)
	if err != nil {
		return err
	}
	e.coord = taskcache.NewCoordinator(e.client, taskcache.Options{
		Logger:      e.logger,
		SkipRefetch: true,
		OnSettle: func(s taskcache.Settlement) {
			e.logger.Debug("settled", "op", s.Op, "ids", len(s.IDs), "outcome", s.Outcome, "version", s.Version)
		},
	})
	return nil
}

func (e *env) resolveProfilePath() string {
	if e.profilePath != "" {
		return e.profilePath
	}
	return defaultProfilePath()
}

func (e *env) requireLogin() error {
	if e.client.Token() == "" {
		return taskapi.ErrUnauthenticated
	}
	return nil
}

func explain(p *printer.Printer, err error) error {
	var verr *model.ValidationError
	var bulk *taskapi.BulkError
	switch {
	case errors.Is(err, taskapi.ErrUnauthenticated):
		return p.Error("Not logged in", "The server rejected the session or no token is stored.",
			[]string{"Run: taskhive login --email you@example.com"})
	case errors.As(err, &verr):
		return p.Error("Invalid input", verr.Error(), nil)
	case errors.Is(err, model.ErrValidation):
		return p.Error("Invalid input", err.Error(), nil)
	case errors.Is(err, taskapi.ErrForbidden):
		return p.Error("Not allowed", "At least one task is not yours or is not in the expected state. Nothing was changed.", nil)
	case errors.Is(err, taskapi.ErrNotFound):
		return p.Error("Task not found", err.Error(), []string{"Run: taskhive list"})
	case errors.As(err, &bulk):
		return p.Error("Bulk operation failed", bulk.Error(), nil)
	case errors.Is(err, taskapi.ErrRateLimited):
		return p.Error("Rate limited", "Too many requests; wait a moment and retry.", nil)
	case errors.Is(err, taskapi.ErrTransport):
		return p.Error("Server unreachable", err.Error(),
			[]string{"Check --base-url or TASKHIVE_BASE_URL", "Start the server: taskhive-server"})
	}
	return p.Error("Error", err.Error(), nil)
}

func parseIDs(args []string) []model.TaskID {
	var ids []model.TaskID
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, model.TaskID(part))
			}
		}
	}
	return model.DedupIDs(ids)
}

func requireIDs(args []string) ([]model.TaskID, error) {
	ids := parseIDs(args)
	if len(ids) == 0 {
		return nil, &model.ValidationError{Field: "id", Message: "at least one task id is required"}
	}
	return ids, nil
}

func usageErr(format string, a ...any) error {
	return &model.ValidationError{Message: fmt.Sprintf(format, a...)}
}
