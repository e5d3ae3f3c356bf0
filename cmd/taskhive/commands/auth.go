package commands

import (
	"bufio"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"taskhive/pkg/taskapi"
)

func newLoginCmd(e *env) *cobra.Command {
	var email, code string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a one-time code",
		Long: `Requests a one-time code for --email, then verifies it. Without --code
the code is read from stdin. The server prints issued codes to its log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(email) == "" {
				return usageErr("--email is required")
			}
			ctx := cmd.Context()
			if code == "" {
				exp, err := e.client.RequestOTP(ctx, email)
				if err != nil {
					return err
				}
				e.out.Step("code sent to %s, valid until %s", email, exp.Local().Format("15:04"))
				e.out.Step("enter code:")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return usageErr("no code entered")
				}
				code = strings.TrimSpace(line)
			}

			sess, err := e.client.VerifyOTP(ctx, email, code)
			if err != nil {
				return err
			}
			if err := saveProfile(e.resolveProfilePath(), map[string]any{
				keyBaseURL: e.profile.GetString(keyBaseURL),
				keyToken:   sess.Token,
			}); err != nil {
				return err
			}
			if e.out.JSONMode() {
				return e.out.JSON(map[string]any{"user": sess.User, "expires_at": sess.ExpiresAt})
			}
			e.out.Success("logged in as %s", sess.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&code, "code", "", "one-time code; skips requesting a new one")
	return cmd
}

func newLogoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if e.client.Token() != "" {
				if err := e.client.Logout(cmd.Context()); err != nil && !errors.Is(err, taskapi.ErrUnauthenticated) {
					e.out.Warning("server logout failed: %v", err)
				}
			}
			if err := saveProfile(e.resolveProfilePath(), map[string]any{keyToken: ""}); err != nil {
				return err
			}
			e.out.Success("logged out")
			return nil
		},
	}
}
