package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/armiapp/armi/internal/onboarding"
)

func GrantLifetimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "grant-lifetime <email>",
		Short:   "Grant a user pro for life",
		Example: "  do grant-lifetime friend@example.com",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setProForLife(cmd, args[0], true)
		},
	}
}

func RevokeLifetimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-lifetime <email>",
		Short: "Remove a user's pro for life grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setProForLife(cmd, args[0], false)
		},
	}
}

func setProForLife(cmd *cobra.Command, email string, proForLife bool) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	user, err := e.userByEmail(email)
	if err != nil {
		return err
	}

	err = e.profiles.SetProForLife(user.ID, proForLife)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: is_pro_for_life=%t\n", user.Email, proForLife)
	return nil
}

// ResetOnboardingCmd clears a user's onboarding flags so the modals show again.
func ResetOnboardingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-onboarding <email>",
		Short: "Show the onboarding modals to a user again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			user, err := e.userByEmail(args[0])
			if err != nil {
				return err
			}

			flags, err := e.flags()
			if err != nil {
				return err
			}

			err = onboarding.Reset(cmd.Context(), flags, user.ID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "onboarding reset for %s\n", user.Email)
			return nil
		},
	}
}

func CleanupTokensCmd() *cobra.Command {
	var olderThan time.Duration

	cleanupCmd := &cobra.Command{
		Use:   "cleanup-tokens",
		Short: "Delete expired and used tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			removed, err := e.tokens.CleanupExpired(olderThan)
			if err != nil {
				return fmt.Errorf("failed to clean up tokens: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d tokens\n", removed)
			return nil
		},
	}

	cleanupCmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "keep tokens that expired more recently than this")
	return cleanupCmd
}
