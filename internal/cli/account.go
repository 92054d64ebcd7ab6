package cli

import (
	"context"
	"time"

	"autograde-session/internal/app"
	"autograde-session/internal/config"
	"autograde-session/internal/domain"
	transport "autograde-session/internal/transport/http"
	"github.com/spf13/cobra"
)

// Account commands only talk to the grading service, so they skip opening a store.
func newAccounts(configPath string) (*app.Accounts, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	client := transport.NewClient(cfg.Remote.BaseURL, config.TTLDuration(cfg.Remote.Timeout, 15*time.Second))
	return app.NewAccounts(client), nil
}

func bindCredentials(cmd *cobra.Command, creds *domain.Credentials, withUsername bool) {
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password")
	if withUsername {
		cmd.Flags().StringVar(&creds.Username, "username", "", "display name")
	}
}

func NewLoginCmd(configPath *string) *cobra.Command {
	var creds domain.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print the token for --token / AUTOGRADE_TOKEN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccount(cmd.Context(), *configPath, func(ctx context.Context, accounts *app.Accounts) (any, error) {
				return accounts.Login(ctx, creds)
			}, cmd)
		},
	}
	bindCredentials(cmd, &creds, false)
	return cmd
}

func NewRegisterCmd(configPath *string) *cobra.Command {
	var creds domain.Credentials
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on the grading service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccount(cmd.Context(), *configPath, func(ctx context.Context, accounts *app.Accounts) (any, error) {
				return accounts.Register(ctx, creds)
			}, cmd)
		},
	}
	bindCredentials(cmd, &creds, true)
	return cmd
}

func runAccount(ctx context.Context, configPath string, fn func(context.Context, *app.Accounts) (any, error), cmd *cobra.Command) error {
	accounts, err := newAccounts(configPath)
	if err != nil {
		return err
	}
	out, err := fn(ctx, accounts)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}
