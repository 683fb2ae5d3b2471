package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/auxbox/auxbox/internal/domain/user"
)

// EnsureUser creates a user record if one does not exist yet.
// Existing records are left untouched.
func (s *Store) EnsureUser(ctx context.Context, username, displayName string) error {
	u := user.New(username, displayName)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, display_name, created_at, access_granted, served)
		VALUES (?, ?, ?, 0, 0)
		ON CONFLICT(username) DO NOTHING`,
		u.Username, u.DisplayName, u.CreatedAt)
	return errors.Wrap(err, "failed to ensure user")
}

// GetUser returns a user by username.
func (s *Store) GetUser(ctx context.Context, username string) (*user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, `
		SELECT username, display_name, created_at, access_granted, served
		FROM users WHERE username = ?`, username)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get user")
	}
	return &u, nil
}

// ListUsers returns all users in account creation order.
func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	var users []user.User
	err := s.db.SelectContext(ctx, &users, `
		SELECT username, display_name, created_at, access_granted, served
		FROM users ORDER BY created_at, username`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	return users, nil
}

// UsersWithAccess returns access-granted users in account creation order.
func (s *Store) UsersWithAccess(ctx context.Context) ([]user.User, error) {
	var users []user.User
	err := s.db.SelectContext(ctx, &users, `
		SELECT username, display_name, created_at, access_granted, served
		FROM users WHERE access_granted = 1 ORDER BY created_at, username`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users with access")
	}
	return users, nil
}

// SetAccess sets a user's access-granted flag.
func (s *Store) SetAccess(ctx context.Context, username string, granted bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET access_granted = ? WHERE username = ?`, granted, username)
	if err != nil {
		return errors.Wrap(err, "failed to set access")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetServed sets a user's already-served flag for the current cycle.
func (s *Store) SetServed(ctx context.Context, username string, served bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET served = ? WHERE username = ?`, served, username)
	return errors.Wrap(err, "failed to set served")
}

// ResetServed clears the already-served flag for every user (new cycle).
func (s *Store) ResetServed(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET served = 0`)
	return errors.Wrap(err, "failed to reset served flags")
}

// DeleteUser removes a user and their requests.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return errors.Wrap(err, "failed to delete user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// touchUserCreatedAt is used by tests to force deterministic creation order.
func (s *Store) touchUserCreatedAt(ctx context.Context, username string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET created_at = ? WHERE username = ?`, at, username)
	return err
}
