package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/armiapp/armi/cmd/do/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "do",
		Short:         "Operator tools for the ARMi accounts service",
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(cmd.MigrateCmd())
	rootCmd.AddCommand(cmd.GrantLifetimeCmd())
	rootCmd.AddCommand(cmd.RevokeLifetimeCmd())
	rootCmd.AddCommand(cmd.ResetOnboardingCmd())
	rootCmd.AddCommand(cmd.CleanupTokensCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
