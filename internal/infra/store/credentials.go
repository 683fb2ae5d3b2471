package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Credential is the stored access/refresh token pair for the remote
// playback API. A deployment holds at most one authoritative record.
type Credential struct {
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// SaveCredential upserts the singleton credential record.
func (s *Store) SaveCredential(ctx context.Context, c *Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, access_token, refresh_token, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		c.AccessToken, c.RefreshToken, c.ExpiresAt, c.UpdatedAt)
	return errors.Wrap(err, "failed to save credential")
}

// GetCredential returns the stored credential, or nil when the deployment
// has not been authorized yet.
func (s *Store) GetCredential(ctx context.Context) (*Credential, error) {
	var c Credential
	err := s.db.GetContext(ctx, &c, `
		SELECT access_token, refresh_token, expires_at, updated_at
		FROM credentials WHERE id = 1`)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get credential")
	}
	return &c, nil
}

// PurgeCredential deletes the stored credential (operator action,
// forcing re-authorization).
func (s *Store) PurgeCredential(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials`)
	return errors.Wrap(err, "failed to purge credential")
}
