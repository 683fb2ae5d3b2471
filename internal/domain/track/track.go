// Package track provides the Track domain entity.
package track

import "time"

// Track represents a Spotify track entity.
// Contains only information retrieved from the Spotify API.
type Track struct {
	ID          string        `json:"id"`          // Spotify Track ID
	URI         string        `json:"uri"`         // Spotify URI (spotify:track:<id>)
	Name        string        `json:"name"`        // Track name
	Artists     []string      `json:"artists"`     // Artist names
	ArtistID    string        `json:"artistId"`    // Primary artist ID
	Album       string        `json:"album"`       // Album name
	AlbumArtURL string        `json:"albumArtUrl"` // Album art URL
	Duration    time.Duration `json:"durationNs"`  // Track duration
	Explicit    bool          `json:"explicit"`    // Explicit content flag
	Popularity  int           `json:"popularity"`  // Popularity score (0-100)
}

// PrimaryArtist returns the first (main) artist name, or "" if unknown.
func (t *Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// NowPlaying represents the playback state reported by the remote device.
type NowPlaying struct {
	Track      Track
	ProgressMs int
	IsPlaying  bool
}
