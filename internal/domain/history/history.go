// Package history provides the play history domain entity.
package history

import "time"

// Entry is an immutable record of a track observed playing on the device.
// RequestedBy is nil when the track was not matched to any pending request
// (manually played or queued from another control surface).
type Entry struct {
	ID          int64     `db:"id" json:"id"`
	TrackID     string    `db:"track_id" json:"trackId"`
	TrackURI    string    `db:"track_uri" json:"trackUri"`
	TrackName   string    `db:"track_name" json:"trackName"`
	ArtistID    string    `db:"artist_id" json:"artistId"`
	ArtistName  string    `db:"artist_name" json:"artistName"`
	AlbumName   string    `db:"album_name" json:"albumName"`
	AlbumArtURL string    `db:"album_art_url" json:"albumArtUrl"`
	DurationMs  int64     `db:"duration_ms" json:"durationMs"`
	RequestedBy *string   `db:"requested_by" json:"requestedBy,omitempty"`
	ObservedAt  time.Time `db:"observed_at" json:"observedAt"`
}
