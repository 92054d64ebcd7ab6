package cli

import (
	"fmt"
	"os"

	"autograde-session/internal/app"
	"github.com/spf13/cobra"
)

// authFlags lets one-shot commands act for a logged-in user.
type authFlags struct {
	token  string
	userID string
}

func (f *authFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.token, "token", os.Getenv("AUTOGRADE_TOKEN"), "bearer token from login")
	cmd.Flags().StringVar(&f.userID, "user-id", os.Getenv("AUTOGRADE_USER_ID"), "user id from login")
}

func (f *authFlags) provider() app.AuthProvider {
	if f.token == "" {
		return nil
	}
	return app.StaticAuth{Token: f.token, UserID: f.userID}
}

func NewPreviewCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "preview TEST_ID",
		Short: "Show test details without starting a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *configPath, func(rt *runtime) error {
				test, err := rt.controller(nil).Preview(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), test)
			})
		},
	}
}

func NewStartCmd(configPath *string) *cobra.Command {
	var auth authFlags
	var username string
	cmd := &cobra.Command{
		Use:   "start TEST_ID",
		Short: "Start a test as a guest (--username) or as the logged-in user (--token)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *configPath, func(rt *runtime) error {
				controller := rt.controller(auth.provider())
				defer controller.Close()

				var res app.StartResult
				var err error
				if username != "" {
					res, err = controller.StartGuest(cmd.Context(), args[0], username)
				} else {
					res, err = controller.StartAuthenticated(cmd.Context(), args[0])
				}
				if err != nil {
					if res.Response.Message != "" {
						return fmt.Errorf("%w (server said: %s)", err, res.Response.Message)
					}
					return err
				}
				state := controller.State()
				return printJSON(cmd.OutOrStdout(), struct {
					Session any    `json:"session"`
					Test    any    `json:"test"`
					Message string `json:"message,omitempty"`
				}{res.Session, state.Test, res.Response.Message})
			})
		},
	}
	auth.bind(cmd)
	cmd.Flags().StringVar(&username, "username", "", "guest display name")
	return cmd
}

func NewAnswerCmd(configPath *string) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "answer QUESTION_ID TEXT",
		Short: "Record an answer locally; an empty TEXT clears it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *configPath, func(rt *runtime) error {
				coordinator := rt.coordinator(nil)
				defer coordinator.Close()
				return coordinator.RecordAnswer(cmd.Context(), sessionID, args[0], args[1])
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id printed by start")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func NewBookmarkCmd(configPath *string) *cobra.Command {
	var sessionID string
	var unmark bool
	cmd := &cobra.Command{
		Use:   "bookmark QUESTION_ID",
		Short: "Bookmark a question for review (--clear removes the bookmark)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *configPath, func(rt *runtime) error {
				coordinator := rt.coordinator(nil)
				defer coordinator.Close()
				return coordinator.SetBookmark(cmd.Context(), sessionID, args[0], !unmark)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id printed by start")
	cmd.Flags().BoolVar(&unmark, "clear", false, "remove the bookmark")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func NewSubmitCmd(configPath *string) *cobra.Command {
	var auth authFlags
	var sessionID string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit every answered question of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *configPath, func(rt *runtime) error {
				coordinator := rt.coordinator(auth.provider())
				defer coordinator.Close()
				ack, err := coordinator.Submit(cmd.Context(), sessionID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ack)
			})
		},
	}
	auth.bind(cmd)
	cmd.Flags().StringVar(&sessionID, "session", "", "session id printed by start")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
