package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bealive/commitment-ledger/internal/auth"
)

var (
	tokenParticipant string
	tokenName        string
	tokenTTL         time.Duration
)

// tokenCmd mints a participant token for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed participant token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if tokenParticipant == "" {
			return errors.New("--participant is required")
		}
		token, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.Issuer).GenerateToken(tokenParticipant, tokenName, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenParticipant, "participant", "p", "", "participant id (token subject)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
