package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"livedesk/internal/integrations/credentials"
)

// UnifiedIntegration is the row key for the cross-integration token shared by
// every connected integration.
const UnifiedIntegration = "unified"

// CredentialStore persists integration access tokens.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore wraps the shared handle.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

type tokenRow struct {
	Integration string    `db:"integration"`
	AccessToken string    `db:"access_token"`
	ExpiresAt   time.Time `db:"expires_at"`
	Source      string    `db:"source"`
}

func (s *CredentialStore) token(ctx context.Context, integration string) (*credentials.Token, error) {
	query := s.db.Rebind(`
		SELECT integration, access_token, expires_at, source
		FROM integration_tokens WHERE integration = ?`)

	var row tokenRow
	err := s.db.GetContext(ctx, &row, query, integration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting token for %s: %w", integration, err)
	}
	return &credentials.Token{
		AccessToken: row.AccessToken,
		ExpiresAt:   row.ExpiresAt,
		Source:      credentials.Source(row.Source),
	}, nil
}

// Token returns the dedicated persisted token for the integration, nil when
// absent.
func (s *CredentialStore) Token(ctx context.Context, integration string) (*credentials.Token, error) {
	return s.token(ctx, integration)
}

// UnifiedToken returns the cross-integration token, nil when absent.
func (s *CredentialStore) UnifiedToken(ctx context.Context) (*credentials.Token, error) {
	return s.token(ctx, UnifiedIntegration)
}

// Save upserts the token for an integration.
func (s *CredentialStore) Save(ctx context.Context, integration string, tok credentials.Token) error {
	query := s.db.Rebind(`
		INSERT INTO integration_tokens (integration, access_token, expires_at, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (integration) DO UPDATE SET
			access_token = excluded.access_token,
			expires_at = excluded.expires_at,
			source = excluded.source`)

	source := tok.Source
	if source == "" {
		source = credentials.SourceDedicated
	}
	if _, err := s.db.ExecContext(ctx, query, integration, tok.AccessToken, tok.ExpiresAt, string(source)); err != nil {
		return fmt.Errorf("saving token for %s: %w", integration, err)
	}
	return nil
}

// Delete clears the stored token, e.g. on disconnect or auth failure.
func (s *CredentialStore) Delete(ctx context.Context, integration string) error {
	query := s.db.Rebind(`DELETE FROM integration_tokens WHERE integration = ?`)
	if _, err := s.db.ExecContext(ctx, query, integration); err != nil {
		return fmt.Errorf("deleting token for %s: %w", integration, err)
	}
	return nil
}
