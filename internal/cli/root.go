package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:           "autograde-session",
		Short:         "Test session and answer-sync engine for the grading service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.AddCommand(NewServeCmd(&configPath))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	cmd.AddCommand(NewPreviewCmd(&configPath))
	cmd.AddCommand(NewStartCmd(&configPath))
	cmd.AddCommand(NewAnswerCmd(&configPath))
	cmd.AddCommand(NewBookmarkCmd(&configPath))
	cmd.AddCommand(NewSubmitCmd(&configPath))
	cmd.AddCommand(NewLoginCmd(&configPath))
	cmd.AddCommand(NewRegisterCmd(&configPath))
	return cmd
}
