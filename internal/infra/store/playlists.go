package store

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/auxbox/auxbox/internal/domain/playlist"
)

// SavePlaylist stores a user-submitted playlist with its tracks.
func (s *Store) SavePlaylist(ctx context.Context, p *playlist.Playlist) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO playlists (username, name, created_at) VALUES (?, ?, ?)`,
		p.Username, p.Name, p.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to insert playlist")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get playlist id")
	}

	for i, t := range p.Tracks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO playlist_tracks
				(playlist_id, track_id, track_uri, track_name, artist_name, duration_ms, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, t.TrackID, t.TrackURI, t.TrackName, t.ArtistName, t.DurationMs, i+1); err != nil {
			return errors.Wrap(err, "failed to insert playlist track")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit playlist")
	}
	p.ID = id
	return nil
}

// OldestPlaylist returns the user's oldest stored playlist with its tracks,
// or nil when the user has none.
func (s *Store) OldestPlaylist(ctx context.Context, username string) (*playlist.Playlist, error) {
	var p playlist.Playlist
	err := s.db.GetContext(ctx, &p, `
		SELECT id, username, name, created_at FROM playlists
		WHERE username = ? ORDER BY created_at, id LIMIT 1`, username)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get oldest playlist")
	}

	err = s.db.SelectContext(ctx, &p.Tracks, `
		SELECT * FROM playlist_tracks WHERE playlist_id = ? ORDER BY position`, p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist tracks")
	}
	return &p, nil
}

// DeletePlaylist removes a stored playlist and its tracks.
func (s *Store) DeletePlaylist(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete playlist")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPlaylists returns all stored playlists (without tracks), oldest first.
func (s *Store) ListPlaylists(ctx context.Context) ([]playlist.Playlist, error) {
	var lists []playlist.Playlist
	err := s.db.SelectContext(ctx, &lists, `
		SELECT id, username, name, created_at FROM playlists ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list playlists")
	}
	return lists, nil
}
