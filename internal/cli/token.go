package cli

import (
	"fmt"
	"time"

	"github.com/ashureev/techscreen/internal/config"
	"github.com/ashureev/techscreen/internal/identity"
	"github.com/spf13/cobra"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

// tokenCmd signs a recruiter token with JWT_SECRET for local development.
var tokenCmd = &cobra.Command{
	Use:   "token <tenant-id>",
	Short: "Issue a recruiter bearer token for local development",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		token, err := identity.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer).Issue(tokenUser, args[0], tokenTTL)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "dev-recruiter", "subject (recruiter user id)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
