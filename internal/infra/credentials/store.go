// Package credentials resolves provider API keys from the environment and
// the integration_tokens table.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// Kinds lists the credential kinds a Store accepts.
var Kinds = []string{domain.CredentialRunway, domain.CredentialOpenAI, domain.CredentialGemini}

func knownKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Store keeps provider tokens in Postgres.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Key returns the stored token for kind, or "" when none is stored.
func (s *Store) Key(ctx context.Context, kind string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, kind)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: load %s: %w", kind, err)
	}
	return strings.TrimSpace(token), nil
}

// Set stores token for kind, replacing any previous value.
func (s *Store) Set(ctx context.Context, kind, token string, props map[string]any) error {
	if !knownKind(kind) {
		return &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown credential kind %q", kind)}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return &domain.ValidationError{Field: "token", Reason: kind + " api key is required"}
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, kind, token, raw); err != nil {
		return fmt.Errorf("credentials: store %s: %w", kind, err)
	}
	return nil
}

// Delete removes the stored token for kind. Deleting a missing kind is not an
// error.
func (s *Store) Delete(ctx context.Context, kind string) error {
	if !knownKind(kind) {
		return &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown credential kind %q", kind)}
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QDeleteIntegrationToken, kind); err != nil {
		return fmt.Errorf("credentials: delete %s: %w", kind, err)
	}
	return nil
}

// Env holds keys taken from configuration.
type Env map[string]string

func (e Env) Key(_ context.Context, kind string) (string, error) {
	return strings.TrimSpace(e[kind]), nil
}

// Chain asks each source in turn and returns the first non-empty key.
type Chain []domain.CredentialSource

func (c Chain) Key(ctx context.Context, kind string) (string, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		key, err := src.Key(ctx, kind)
		if err != nil {
			return "", err
		}
		if key != "" {
			return key, nil
		}
	}
	return "", nil
}

var (
	_ domain.CredentialSource = (*Store)(nil)
	_ domain.CredentialSource = Env(nil)
	_ domain.CredentialSource = Chain(nil)
)
