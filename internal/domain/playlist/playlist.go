// Package playlist provides the stored playlist domain entity.
package playlist

import "time"

// Playlist is a user-submitted set of tracks. The scheduler imports tracks
// from a user's oldest playlist into their request list when the user has
// nothing pending.
type Playlist struct {
	ID        int64     `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	Tracks    []Track   `db:"-" json:"tracks,omitempty"`
}

// Track is one entry of a stored playlist.
type Track struct {
	PlaylistID int64  `db:"playlist_id" json:"-"`
	TrackID    string `db:"track_id" json:"trackId"`
	TrackURI   string `db:"track_uri" json:"trackUri"`
	TrackName  string `db:"track_name" json:"trackName"`
	ArtistName string `db:"artist_name" json:"artistName"`
	DurationMs int64  `db:"duration_ms" json:"durationMs"`
	Position   int64  `db:"position" json:"position"`
}
