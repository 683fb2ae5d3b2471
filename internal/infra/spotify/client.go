// Package spotify provides a client for the Spotify API.
package spotify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/auxbox/auxbox/internal/domain/track"
)

// Client is a Spotify API client wrapping the device-control endpoints.
type Client struct {
	client     *spotify.Client
	maxRetries int
	retryDelay time.Duration
}

// New creates a new Spotify client. Tokens are supplied by the source on
// every outbound call; the credential manager implements it.
func New(source oauth2.TokenSource) *Client {
	httpClient := oauth2.NewClient(context.Background(), source)
	return &Client{
		client:     spotify.New(httpClient),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*track.Track, error) {
	id := ExtractTrackID(trackID)

	var result *spotify.FullTrack
	err := c.retry(func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	return convertTrack(result), nil
}

// Search searches for tracks on Spotify.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	if query == "" {
		return nil, errors.New("search query is required")
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	var result *spotify.SearchResult
	err := c.retry(func() error {
		r, err := c.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to search")
	}

	tracks := make([]track.Track, 0, len(result.Tracks.Tracks))
	for _, t := range result.Tracks.Tracks {
		tracks = append(tracks, *convertTrack(&t))
	}

	return tracks, nil
}

// NowPlaying returns the device's currently playing track, or nil when
// nothing is playing.
func (c *Client) NowPlaying(ctx context.Context) (*track.NowPlaying, error) {
	var playing *spotify.CurrentlyPlaying
	err := c.retry(func() error {
		p, err := c.client.PlayerCurrentlyPlaying(ctx)
		if err != nil {
			return err
		}
		playing = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get now playing")
	}

	if playing == nil || playing.Item == nil {
		return nil, nil
	}

	return &track.NowPlaying{
		Track:      *convertTrack(playing.Item),
		ProgressMs: int(playing.Progress),
		IsPlaying:  playing.Playing,
	}, nil
}

// QueueTrack enqueues a track on the remote playback device.
func (c *Client) QueueTrack(ctx context.Context, trackURI string) error {
	id := ExtractTrackID(trackURI)
	err := c.retry(func() error {
		return c.client.QueueSong(ctx, spotify.ID(id))
	})
	return errors.Wrap(err, "failed to queue track")
}

// GetQueue returns the track IDs in the device's own upcoming queue,
// current track included.
func (c *Client) GetQueue(ctx context.Context) ([]string, error) {
	var queue *spotify.Queue
	err := c.retry(func() error {
		q, err := c.client.GetQueue(ctx)
		if err != nil {
			return err
		}
		queue = q
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get device queue")
	}

	ids := make([]string, 0, len(queue.Items)+1)
	if queue.CurrentlyPlaying.ID != "" {
		ids = append(ids, string(queue.CurrentlyPlaying.ID))
	}
	for _, t := range queue.Items {
		ids = append(ids, string(t.ID))
	}
	return ids, nil
}

// GetAudioAnalysis returns the raw audio analysis for a track.
func (c *Client) GetAudioAnalysis(ctx context.Context, trackID string) (*spotify.AudioAnalysis, error) {
	id := ExtractTrackID(trackID)

	var analysis *spotify.AudioAnalysis
	err := c.retry(func() error {
		a, err := c.client.GetAudioAnalysis(ctx, spotify.ID(id))
		if err != nil {
			return err
		}
		analysis = a
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get audio analysis")
	}
	return analysis, nil
}

// GetPlaylist retrieves a playlist's name and tracks by ID, URL, or URI.
func (c *Client) GetPlaylist(ctx context.Context, playlistURL string) (string, []track.Track, error) {
	playlistID := ExtractPlaylistID(playlistURL)
	if playlistID == "" {
		return "", nil, errors.New("invalid playlist URL")
	}

	var pl *spotify.FullPlaylist
	err := c.retry(func() error {
		p, err := c.client.GetPlaylist(ctx, spotify.ID(playlistID))
		if err != nil {
			return err
		}
		pl = p
		return nil
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to get playlist")
	}
	name := pl.Name

	var tracks []track.Track
	offset := 0
	limit := 100

	for {
		var page *spotify.PlaylistItemPage
		err := c.retry(func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
				spotify.Limit(limit),
				spotify.Offset(offset),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return "", nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			// Only process tracks (exclude episodes)
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				tracks = append(tracks, *convertTrack(item.Track.Track))
			}
		}

		if len(page.Items) < limit {
			break
		}
		offset += limit
	}

	return name, tracks, nil
}

// TrackURL returns the Spotify URL for a track.
func TrackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

// TrackURI returns the Spotify URI for a track ID.
func TrackURI(trackID string) string {
	return "spotify:track:" + trackID
}

// convertTrack converts a Spotify FullTrack to domain Track.
func convertTrack(t *spotify.FullTrack) *track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var artistID string
	if len(t.Artists) > 0 {
		artistID = string(t.Artists[0].ID)
	}

	var albumArt string
	if len(t.Album.Images) > 0 {
		albumArt = t.Album.Images[0].URL
	}

	return &track.Track{
		ID:          string(t.ID),
		URI:         TrackURI(string(t.ID)),
		Name:        t.Name,
		Artists:     artists,
		ArtistID:    artistID,
		Album:       t.Album.Name,
		AlbumArtURL: albumArt,
		Duration:    time.Duration(t.Duration) * time.Millisecond,
		Explicit:    t.Explicit,
		Popularity:  int(t.Popularity),
	}
}

// retry retries an operation with linear backoff.
func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// ExtractPlaylistID extracts the playlist ID from a Spotify playlist URL or URI.
func ExtractPlaylistID(input string) string {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:playlist:") {
		return strings.TrimPrefix(input, "spotify:playlist:")
	}

	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/playlist/") {
		parts := strings.Split(input, "/playlist/")
		if len(parts) >= 2 {
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already a playlist ID
	return input
}

var trackIDPattern = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)

// ExtractTrackID extracts the track ID from a Spotify track URL, URI or
// bare ID. Returns the empty string when the input does not contain a
// well-formed track ID.
func ExtractTrackID(input string) string {
	input = strings.TrimSpace(input)

	id := input
	if strings.HasPrefix(input, "spotify:track:") {
		id = strings.TrimPrefix(input, "spotify:track:")
	} else if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		id = strings.Split(parts[len(parts)-1], "?")[0]
		id = strings.TrimRight(id, "/")
	}

	if !trackIDPattern.MatchString(id) {
		return ""
	}
	return id
}
