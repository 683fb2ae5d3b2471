package store

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/auxbox/auxbox/internal/domain/request"
)

// AppendRequest appends a request to the owning user's list. The queue
// position is assigned inside the INSERT so concurrent submissions for the
// same user cannot lose an update. Returns ErrDuplicateRequest when the
// user already has an unplayed copy of the track.
func (s *Store) AppendRequest(ctx context.Context, r *request.Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests
			(username, track_id, track_uri, track_name, artist_name, duration_ms,
			 queue_position, submitted_at, played)
		VALUES (?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(queue_position), 0) + 1 FROM requests WHERE username = ?),
			?, 0)`,
		r.Username, r.TrackID, r.TrackURI, r.TrackName, r.ArtistName, r.DurationMs,
		r.Username, r.SubmittedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateRequest
		}
		return errors.Wrap(err, "failed to append request")
	}
	return nil
}

// UnplayedRequests returns a user's pending requests, oldest first
// (timestamp, then submission order).
func (s *Store) UnplayedRequests(ctx context.Context, username string) ([]request.Request, error) {
	var reqs []request.Request
	err := s.db.SelectContext(ctx, &reqs, `
		SELECT * FROM requests
		WHERE username = ? AND played = 0
		ORDER BY submitted_at, queue_position`, username)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unplayed requests")
	}
	return reqs, nil
}

// AnyUnplayed reports whether any user has an unplayed request for the track.
func (s *Store) AnyUnplayed(ctx context.Context, trackID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM requests WHERE track_id = ? AND played = 0`, trackID)
	if err != nil {
		return false, errors.Wrap(err, "failed to check unplayed requests")
	}
	return n > 0, nil
}

// AnyEligiblePending reports whether any access-granted user still has an
// unplayed request.
func (s *Store) AnyEligiblePending(ctx context.Context) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM requests r
		JOIN users u ON u.username = r.username
		WHERE r.played = 0 AND u.access_granted = 1`)
	if err != nil {
		return false, errors.Wrap(err, "failed to check pending requests")
	}
	return n > 0, nil
}

// MarkPlayed marks a specific user's pending request for the track URI as
// played. The prior row state is untouched if no matching request exists.
func (s *Store) MarkPlayed(ctx context.Context, username, trackURI string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET played = 1, played_at = ?
		WHERE username = ? AND track_uri = ? AND played = 0`,
		at, username, trackURI)
	return errors.Wrap(err, "failed to mark request played")
}

// MarkPlayedByURI marks the oldest pending request matching the track URI,
// across all users, as played and returns the owning username. Returns nil
// when no pending request matches (the track was played by other means).
func (s *Store) MarkPlayedByURI(ctx context.Context, trackURI string, at time.Time) (*string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var row struct {
		ID       int64  `db:"id"`
		Username string `db:"username"`
	}
	err = tx.GetContext(ctx, &row, `
		SELECT id, username FROM requests
		WHERE track_uri = ? AND played = 0
		ORDER BY submitted_at, queue_position LIMIT 1`, trackURI)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find matching request")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE requests SET played = 1, played_at = ? WHERE id = ?`, at, row.ID); err != nil {
		return nil, errors.Wrap(err, "failed to mark request played")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit")
	}
	return &row.Username, nil
}

// LastRequester returns the username of the most recently played request
// matching the track URI, restricted to requests marked played after since.
// Returns nil when no such request exists.
func (s *Store) LastRequester(ctx context.Context, trackURI string, since time.Time) (*string, error) {
	var username string
	err := s.db.GetContext(ctx, &username, `
		SELECT username FROM requests
		WHERE track_uri = ? AND played = 1 AND played_at > ?
		ORDER BY played_at DESC LIMIT 1`, trackURI, since)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find requester")
	}
	return &username, nil
}

// ResetPlayed clears the played flag on every request (operator action).
func (s *Store) ResetPlayed(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE requests SET played = 0, played_at = NULL`)
	return errors.Wrap(err, "failed to reset played flags")
}
