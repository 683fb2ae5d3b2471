package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/auxbox/auxbox/internal/domain/history"
)

// InsertHistory appends an entry to the play history.
func (s *Store) InsertHistory(ctx context.Context, e *history.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history
			(track_id, track_uri, track_name, artist_id, artist_name,
			 album_name, album_art_url, duration_ms, requested_by, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TrackID, e.TrackURI, e.TrackName, e.ArtistID, e.ArtistName,
		e.AlbumName, e.AlbumArtURL, e.DurationMs, e.RequestedBy, e.ObservedAt)
	return errors.Wrap(err, "failed to insert history entry")
}

// LatestHistory returns the most recently observed entry, or nil when the
// history is empty.
func (s *Store) LatestHistory(ctx context.Context) (*history.Entry, error) {
	var e history.Entry
	err := s.db.GetContext(ctx, &e, `
		SELECT * FROM history ORDER BY observed_at DESC, id DESC LIMIT 1`)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get latest history entry")
	}
	return &e, nil
}

// RecentPlay returns the most recent history entry for the track observed
// at or after since, or nil if the track has not been played in the window.
func (s *Store) RecentPlay(ctx context.Context, trackID string, since time.Time) (*history.Entry, error) {
	var e history.Entry
	err := s.db.GetContext(ctx, &e, `
		SELECT * FROM history
		WHERE track_id = ? AND observed_at > ?
		ORDER BY observed_at DESC LIMIT 1`, trackID, since)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to check recent plays")
	}
	return &e, nil
}

// ListHistory returns a page of history entries, newest first, along with
// the total entry count.
func (s *Store) ListHistory(ctx context.Context, page, pageSize int) ([]history.Entry, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM history`); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count history")
	}

	var entries []history.Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT * FROM history ORDER BY observed_at DESC, id DESC LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list history")
	}
	return entries, total, nil
}

// PurgeHistory deletes all history entries (operator action).
func (s *Store) PurgeHistory(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history`)
	return errors.Wrap(err, "failed to purge history")
}
