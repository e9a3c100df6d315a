package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/slipstream/scrapecore/internal/crypto"
)

const cookieSaltKey = "cookie_salt"

// SQLCookieStore persists provider session cookies in the provider_cookies
// table. Values are encrypted when a secret is configured.
type SQLCookieStore struct {
	db  *sql.DB
	box *crypto.SecretBox
	now func() time.Time
}

// NewCookieStore creates a store on db. An empty secret stores cookies in
// plain text.
func NewCookieStore(ctx context.Context, db *sql.DB, secret string) (*SQLCookieStore, error) {
	s := &SQLCookieStore{db: db, now: time.Now}
	if secret == "" {
		return s, nil
	}

	salt, err := s.loadOrCreateSalt(ctx)
	if err != nil {
		return nil, err
	}
	box, err := crypto.NewSecretBox(secret, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie cipher: %w", err)
	}
	s.box = box
	return s, nil
}

func (s *SQLCookieStore) loadOrCreateSalt(ctx context.Context) ([]byte, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = ?`, cookieSaltKey).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		if encoded, err = crypto.GenerateSalt(); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if _, err = s.db.ExecContext(ctx, `INSERT INTO app_settings (key, value) VALUES (?, ?)`, cookieSaltKey, encoded); err != nil {
			return nil, fmt.Errorf("failed to store salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load salt: %w", err)
	}
	return crypto.DecodeSalt(encoded)
}

// GetCookies returns the saved cookies of a provider, or "" when none are
// saved or they have expired.
func (s *SQLCookieStore) GetCookies(ctx context.Context, providerID string) (string, error) {
	var value string
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT cookies, expires_at FROM provider_cookies WHERE provider_id = ?`, providerID,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load cookies: %w", err)
	}
	if expiresAt.Valid && s.now().After(expiresAt.Time) {
		return "", nil
	}

	if crypto.IsEncrypted(value) {
		if s.box == nil {
			return "", fmt.Errorf("cookies for %s are encrypted but no secret is configured", providerID)
		}
		return s.box.Decrypt(value)
	}
	return value, nil
}

// SaveCookies stores cookies for a provider until expiresAt.
func (s *SQLCookieStore) SaveCookies(ctx context.Context, providerID, cookies string, expiresAt time.Time) error {
	value := cookies
	if s.box != nil {
		var err error
		if value, err = s.box.Encrypt(cookies); err != nil {
			return fmt.Errorf("failed to encrypt cookies: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_cookies (provider_id, cookies, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			cookies = excluded.cookies,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		providerID, value, expiresAt.UTC(), s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	return nil
}

// ClearCookies removes the saved cookies of a provider.
func (s *SQLCookieStore) ClearCookies(ctx context.Context, providerID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM provider_cookies WHERE provider_id = ?`, providerID); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return nil
}
