package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"genstudio/internal/billing"
	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/infra/credentials"
	"genstudio/internal/providers/runway"
)

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print the provider credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			client := runway.NewClient(runway.Options{
				Credentials: credentials.Env{domain.CredentialRunway: cfg.RunwayAPIKey},
				BaseURL:     cfg.RunwayBaseURL,
				APIVersion:  cfg.RunwayAPIVersion,
			})
			return runBalance(cmd, client)
		},
	}
}

func runBalance(cmd *cobra.Command, source billing.Source) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	doc, err := source.Organization(ctx)
	if err != nil {
		return fmt.Errorf("fetch organization: %w", err)
	}
	credits, ok := billing.ExtractCredits(doc)
	if !ok {
		return billing.ErrNoBalance
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%.0f credits ($%.2f)\n", credits, credits/100)
	return nil
}
