package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webarc/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:          "webarc-worker",
		Short:        "Capture worker for the webarc archive.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is $%s)", config.EnvConfigPath))

	cmd.AddCommand(newServeCmd(&cfgFile))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// resolveConfigPath prefers the flag, then the environment variable.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(config.EnvConfigPath)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the worker version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
