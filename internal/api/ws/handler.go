package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"
	spotifyapi "github.com/zmb3/spotify/v2"

	"github.com/auxbox/auxbox/internal/app/admission"
	"github.com/auxbox/auxbox/internal/app/notification"
	"github.com/auxbox/auxbox/internal/app/scheduler"
	"github.com/auxbox/auxbox/internal/domain/playlist"
	"github.com/auxbox/auxbox/internal/domain/request"
	"github.com/auxbox/auxbox/internal/domain/track"
	"github.com/auxbox/auxbox/internal/domain/user"
	"github.com/auxbox/auxbox/internal/infra/spotify"
)

const commandTimeout = 15 * time.Second

// Store is the persistence surface the handler reads and writes.
type Store interface {
	EnsureUser(ctx context.Context, username, displayName string) error
	GetUser(ctx context.Context, username string) (*user.User, error)
	UnplayedRequests(ctx context.Context, username string) ([]request.Request, error)
	SavePlaylist(ctx context.Context, p *playlist.Playlist) error
	ListPlaylists(ctx context.Context) ([]playlist.Playlist, error)
}

// Gateway is the catalog surface backing search and playlist commands.
type Gateway interface {
	Search(ctx context.Context, query string, limit int) ([]track.Track, error)
	GetPlaylist(ctx context.Context, playlistURL string) (string, []track.Track, error)
	GetAudioAnalysis(ctx context.Context, trackID string) (*spotifyapi.AudioAnalysis, error)
}

// Admitter validates and appends track submissions.
type Admitter interface {
	Submit(ctx context.Context, username, input string) (admission.Result, *track.Track, error)
}

// Queue projects the fair play order.
type Queue interface {
	VirtualQueue(ctx context.Context) ([]scheduler.Entry, error)
}

// command is one incoming viewer message.
type command struct {
	Action   string `json:"action"`
	Username string `json:"username,omitempty"`
	Query    string `json:"query,omitempty"`
	Track    string `json:"track,omitempty"`
	Playlist string `json:"playlist,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Handler upgrades viewer connections and dispatches their commands.
type Handler struct {
	manager  *notification.Manager
	store    Store
	gateway  Gateway
	admitter Admitter
	queue    Queue
	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket handler.
func NewHandler(manager *notification.Manager, st Store, gateway Gateway, admitter Admitter, queue Queue) *Handler {
	return &Handler{
		manager:  manager,
		store:    st,
		gateway:  gateway,
		admitter: admitter,
		queue:    queue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Viewers connect from whatever host serves the frontend.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the viewer's pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("websocket upgrade failed: %v", err)
		return
	}

	client := newClient(h, conn)
	client.subID = h.manager.Subscribe(client)
	zlog.Info().Msgf("viewer connected: %s (%d online)", r.RemoteAddr, h.manager.SubscriberCount())

	go client.writePump()
	client.readPump()

	zlog.Info().Msgf("viewer disconnected: %s", r.RemoteAddr)
}

func (h *Handler) dispatch(c *Client, cmd command) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch cmd.Action {
	case "login":
		h.handleLogin(ctx, c, cmd)
	case "search":
		h.handleSearch(ctx, c, cmd)
	case "add-to-queue":
		h.handleAddToQueue(ctx, c, cmd)
	case "get-queue":
		h.handleGetQueue(ctx, c)
	case "get-user-queue":
		h.handleGetUserQueue(ctx, c, cmd)
	case "get-playlist":
		h.handleGetPlaylist(ctx, c, cmd)
	case "submit-playlist":
		h.handleSubmitPlaylist(ctx, c, cmd)
	case "get-playlists":
		h.handleGetPlaylists(ctx, c)
	case "fetch-song-analysis":
		h.handleSongAnalysis(ctx, c, cmd)
	default:
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "unknown_action"}))
	}
}

type errorPayload struct {
	Code        string     `json:"code"`
	Message     string     `json:"message,omitempty"`
	Track       string     `json:"track,omitempty"`
	AvailableAt *time.Time `json:"availableAt,omitempty"`
}

type loginPayload struct {
	Status        string `json:"status"`
	Username      string `json:"username,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	AccessGranted bool   `json:"accessGranted"`
}

func (h *Handler) handleLogin(ctx context.Context, c *Client, cmd command) {
	if cmd.Username == "" {
		h.reply(c, notification.New(notification.TypeLoginResult, loginPayload{Status: "login-error"}))
		return
	}

	displayName := cmd.Name
	if displayName == "" {
		displayName = cmd.Username
	}
	if err := h.store.EnsureUser(ctx, cmd.Username, displayName); err != nil {
		zlog.Error().Msgf("login failed: user=%s err=%v", cmd.Username, err)
		h.reply(c, notification.New(notification.TypeLoginResult, loginPayload{Status: "login-error"}))
		return
	}

	u, err := h.store.GetUser(ctx, cmd.Username)
	if err != nil {
		h.reply(c, notification.New(notification.TypeLoginResult, loginPayload{Status: "login-error"}))
		return
	}

	c.setUsername(u.Username)
	zlog.Info().Msgf("viewer logged in: %s (access=%v)", u.Username, u.AccessGranted)
	h.reply(c, notification.New(notification.TypeLoginResult, loginPayload{
		Status:        "login-success",
		Username:      u.Username,
		DisplayName:   u.DisplayName,
		AccessGranted: u.AccessGranted,
	}))
}

func (h *Handler) handleSearch(ctx context.Context, c *Client, cmd command) {
	if cmd.Query == "" {
		h.reply(c, notification.New(notification.TypeSearchResults, map[string]any{"query": "", "tracks": []track.Track{}}))
		return
	}

	tracks, err := h.gateway.Search(ctx, cmd.Query, 20)
	if err != nil {
		zlog.Error().Msgf("search failed: query=%q err=%v", cmd.Query, err)
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "gateway_unavailable"}))
		return
	}

	h.reply(c, notification.New(notification.TypeSearchResults, map[string]any{
		"query":  cmd.Query,
		"tracks": tracks,
	}))
}

func (h *Handler) handleAddToQueue(ctx context.Context, c *Client, cmd command) {
	username := c.Username()
	if username == "" {
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "not_logged_in"}))
		return
	}

	result, t, err := h.admitter.Submit(ctx, username, cmd.Track)
	if err != nil {
		zlog.Error().Msgf("submission failed: user=%s err=%v", username, err)
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "internal_error"}))
		return
	}
	if !result.Accepted {
		payload := errorPayload{Code: result.Code, Track: cmd.Track, AvailableAt: result.AvailableAt}
		if t != nil {
			payload.Message = t.Name
		}
		h.reply(c, notification.New(notification.TypeQueueError, payload))
		return
	}

	h.reply(c, notification.New(notification.TypeQueueUpdate, map[string]any{
		"username": username,
		"track":    t,
	}))
	h.broadcastQueue(ctx)
}

func (h *Handler) handleGetQueue(ctx context.Context, c *Client) {
	entries, err := h.queue.VirtualQueue(ctx)
	if err != nil {
		zlog.Error().Msgf("queue projection failed: %v", err)
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "internal_error"}))
		return
	}
	h.reply(c, notification.New(notification.TypeQueueData, map[string]any{"entries": entries}))
}

func (h *Handler) handleGetUserQueue(ctx context.Context, c *Client, cmd command) {
	username := cmd.Username
	if username == "" {
		username = c.Username()
	}
	if username == "" {
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "not_logged_in"}))
		return
	}

	reqs, err := h.store.UnplayedRequests(ctx, username)
	if err != nil {
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "internal_error"}))
		return
	}
	h.reply(c, notification.New(notification.TypeUserQueue, map[string]any{
		"username": username,
		"requests": reqs,
	}))
}

func (h *Handler) handleGetPlaylist(ctx context.Context, c *Client, cmd command) {
	name, tracks, err := h.gateway.GetPlaylist(ctx, cmd.Playlist)
	if err != nil {
		zlog.Error().Msgf("playlist fetch failed: %v", err)
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "gateway_unavailable"}))
		return
	}
	h.reply(c, notification.New(notification.TypePlaylistData, map[string]any{
		"name":   name,
		"tracks": tracks,
	}))
}

func (h *Handler) handleSubmitPlaylist(ctx context.Context, c *Client, cmd command) {
	username := c.Username()
	if username == "" {
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "not_logged_in"}))
		return
	}

	name, tracks, err := h.gateway.GetPlaylist(ctx, cmd.Playlist)
	if err != nil {
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "gateway_unavailable"}))
		return
	}
	if cmd.Name != "" {
		name = cmd.Name
	}

	p := &playlist.Playlist{
		Username:  username,
		Name:      name,
		CreatedAt: time.Now(),
		Tracks:    make([]playlist.Track, len(tracks)),
	}
	for i, t := range tracks {
		p.Tracks[i] = playlist.Track{
			TrackID:    t.ID,
			TrackURI:   t.URI,
			TrackName:  t.Name,
			ArtistName: t.PrimaryArtist(),
			DurationMs: int64(t.Duration / time.Millisecond),
			Position:   int64(i),
		}
	}
	if err := h.store.SavePlaylist(ctx, p); err != nil {
		zlog.Error().Msgf("playlist save failed: user=%s err=%v", username, err)
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "internal_error"}))
		return
	}

	zlog.Info().Msgf("playlist stored: user=%s name=%q tracks=%d", username, name, len(tracks))
	h.reply(c, notification.New(notification.TypePlaylistData, map[string]any{
		"name":       name,
		"trackCount": len(tracks),
		"saved":      true,
	}))
}

func (h *Handler) handleGetPlaylists(ctx context.Context, c *Client) {
	lists, err := h.store.ListPlaylists(ctx)
	if err != nil {
		zlog.Error().Msgf("playlist listing failed: %v", err)
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "internal_error"}))
		return
	}
	h.reply(c, notification.New(notification.TypePlaylistData, map[string]any{
		"playlists": lists,
	}))
}

func (h *Handler) handleSongAnalysis(ctx context.Context, c *Client, cmd command) {
	trackID := spotify.ExtractTrackID(cmd.Track)
	if trackID == "" {
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "invalid_track"}))
		return
	}

	analysis, err := h.gateway.GetAudioAnalysis(ctx, trackID)
	if err != nil {
		h.reply(c, notification.New(notification.TypeQueueError, errorPayload{Code: "gateway_unavailable", Track: cmd.Track}))
		return
	}
	h.reply(c, notification.New(notification.TypeSongAnalysis, map[string]any{
		"track":    trackID,
		"analysis": analysis,
	}))
}

// broadcastQueue pushes a fresh queue projection to every viewer.
func (h *Handler) broadcastQueue(ctx context.Context) {
	entries, err := h.queue.VirtualQueue(ctx)
	if err != nil {
		zlog.Error().Msgf("queue projection failed: %v", err)
		return
	}
	h.manager.Broadcast(notification.New(notification.TypeQueueData, map[string]any{"entries": entries}))
}

func (h *Handler) reply(c *Client, msg *notification.Message) {
	if err := c.Send(msg); err != nil {
		zlog.Debug().Msgf("reply dropped: %v", err)
	}
}
