package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/infra/credentials"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage provider API keys stored in postgres",
	}

	cmd.AddCommand(newKeysSetCmd())
	cmd.AddCommand(newKeysDeleteCmd())
	return cmd
}

func openCredentialStore(ctx context.Context, kind, op string) (*credentials.Store, func(), error) {
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}
	logger := infra.NewLogger("cli").With().Str("cmd", "keys "+op).Str("kind", kind).Logger()
	return credentials.NewStore(infra.NewSQLRunner(pool, logger)), pool.Close, nil
}

// envKeys maps a credential kind to the variable used when --key is omitted.
var envKeys = map[string]string{
	domain.CredentialRunway: "RUNWAY_API_KEY",
	domain.CredentialOpenAI: "OPENAI_API_KEY",
	domain.CredentialGemini: "GEMINI_API_KEY",
}

func newKeysSetCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:       "set <runway|openai|gemini>",
		Short:     "Persist an API key in the integration_tokens table",
		Args:      cobra.ExactArgs(1),
		ValidArgs: credentials.Kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := strings.ToLower(strings.TrimSpace(args[0]))
			if _, ok := envKeys[kind]; !ok {
				return fmt.Errorf("unsupported key kind %q", args[0])
			}
			if strings.TrimSpace(key) == "" {
				key = os.Getenv(envKeys[kind])
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return fmt.Errorf("%s key is required via --key or %s", kind, envKeys[kind])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			store, closeStore, err := openCredentialStore(ctx, kind, "set")
			if err != nil {
				return err
			}
			defer closeStore()
			if err := store.Set(ctx, kind, key, map[string]any{"source": "studioctl"}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s key\n", kind)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "API key (falls back to the provider's environment variable)")
	return cmd
}

func newKeysDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <runway|openai|gemini>",
		Short: "Remove a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := strings.ToLower(strings.TrimSpace(args[0]))
			if _, ok := envKeys[kind]; !ok {
				return fmt.Errorf("unsupported key kind %q", args[0])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			store, closeStore, err := openCredentialStore(ctx, kind, "delete")
			if err != nil {
				return err
			}
			defer closeStore()
			if err := store.Delete(ctx, kind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s key\n", kind)
			return nil
		},
	}
}
