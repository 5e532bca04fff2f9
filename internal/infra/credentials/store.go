// Package credentials manages provider API tokens kept in the database so
// keys can be rotated without redeploying. Environment configuration still
// wins when set; the store is the fallback.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"server/internal/infra"
	"server/internal/sqlinline"
)

const (
	ProviderKie    = "kie"
	ProviderStripe = "stripe"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) KieAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderKie)
}

func (s *Store) StripeWebhookSecret(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderStripe)
}

// Token returns the stored token for a provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetKieAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("kie api key is required")
	}
	return s.upsert(ctx, ProviderKie, key, nil)
}

func (s *Store) SetStripeWebhookSecret(ctx context.Context, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return errors.New("stripe webhook secret is required")
	}
	return s.upsert(ctx, ProviderStripe, secret, nil)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
