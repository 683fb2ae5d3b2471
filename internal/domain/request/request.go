// Package request provides the Request domain entity.
package request

import "time"

// Request is a user's submission of one track to be played.
// A request is owned exclusively by its user; at most one unplayed
// copy of a given track may exist per user.
type Request struct {
	ID            int64      `db:"id" json:"id"`
	Username      string     `db:"username" json:"username"`             // Owning user
	TrackID       string     `db:"track_id" json:"trackId"`              // Spotify track ID
	TrackURI      string     `db:"track_uri" json:"trackUri"`            // Spotify URI
	TrackName     string     `db:"track_name" json:"trackName"`          // Display metadata
	ArtistName    string     `db:"artist_name" json:"artistName"`        // Primary artist
	DurationMs    int64      `db:"duration_ms" json:"durationMs"`        // Track duration in milliseconds
	QueuePosition int64      `db:"queue_position" json:"queuePosition"`  // Submission order within the user's own list
	SubmittedAt   time.Time  `db:"submitted_at" json:"submittedAt"`
	Played        bool       `db:"played" json:"played"`
	PlayedAt      *time.Time `db:"played_at" json:"playedAt,omitempty"`
}

// Duration returns the track duration.
func (r *Request) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}
