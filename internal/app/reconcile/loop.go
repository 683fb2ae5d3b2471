// Package reconcile drives the playback reconciliation loop: it polls the
// shared account's now-playing state, records track transitions with their
// requesters, and keeps the device queue fed from the fair queue.
package reconcile

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/auxbox/auxbox/internal/app/notification"
	"github.com/auxbox/auxbox/internal/app/scheduler"
	"github.com/auxbox/auxbox/internal/domain/history"
	"github.com/auxbox/auxbox/internal/domain/request"
	"github.com/auxbox/auxbox/internal/domain/track"
	"github.com/auxbox/auxbox/internal/domain/user"
)

// attributionWindow bounds how far back a played request can be matched to
// a transition. The normal hand-off to actual-play gap is one track length.
const attributionWindow = time.Hour

// Gateway is the playback-device surface the loop reconciles against.
type Gateway interface {
	NowPlaying(ctx context.Context) (*track.NowPlaying, error)
	QueueTrack(ctx context.Context, trackURI string) error
}

// Store is the persistence surface the loop records observations to.
type Store interface {
	LatestHistory(ctx context.Context) (*history.Entry, error)
	InsertHistory(ctx context.Context, e *history.Entry) error
	MarkPlayedByURI(ctx context.Context, trackURI string, at time.Time) (*string, error)
	LastRequester(ctx context.Context, trackURI string, since time.Time) (*string, error)
	IsActive(ctx context.Context) (bool, error)
}

// Scheduler selects the next request to push to the device.
type Scheduler interface {
	NextRequest(ctx context.Context) (*user.User, *request.Request, error)
	Commit(ctx context.Context, u *user.User, r *request.Request) error
}

// Notifier broadcasts events to connected viewers.
type Notifier interface {
	Broadcast(msg *notification.Message)
}

// TrackChange is the payload broadcast on every observed transition.
type TrackChange struct {
	Track       track.Track `json:"track"`
	RequestedBy *string     `json:"requestedBy,omitempty"`
	ObservedAt  time.Time   `json:"observedAt"`
}

// Config holds loop configuration.
type Config struct {
	Interval time.Duration
}

// Loop is the reconciliation loop. Ticks run strictly sequentially; a tick
// that overruns delays the next one rather than overlapping it.
type Loop struct {
	gateway   Gateway
	store     Store
	scheduler Scheduler
	notifier  Notifier
	interval  time.Duration

	// pushPending retries a failed device push on the next tick instead of
	// waiting for another transition.
	pushPending bool
}

// New creates a new reconciliation loop.
func New(gateway Gateway, st Store, sched Scheduler, notifier Notifier, config Config) *Loop {
	interval := config.Interval
	if interval <= 0 {
		interval = 4 * time.Second
	}
	return &Loop{
		gateway:   gateway,
		store:     st,
		scheduler: sched,
		notifier:  notifier,
		interval:  interval,
	}
}

// Run blocks, ticking at the configured interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	zlog.Info().Msgf("reconcile loop started: interval=%s", l.interval)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msg("reconcile loop stopped")
			return
		case <-ticker.C:
			l.safeTick(ctx)
		}
	}
}

// safeTick bounds one tick by the poll interval and absorbs failures: a bad
// poll never kills the loop.
func (l *Loop) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("reconcile tick panicked: %v", r)
		}
	}()

	tickCtx, cancel := context.WithTimeout(ctx, l.interval)
	defer cancel()

	if err := l.tick(tickCtx); err != nil {
		zlog.Warn().Msgf("reconcile tick failed: %v", err)
	}
}

func (l *Loop) tick(ctx context.Context) error {
	np, err := l.gateway.NowPlaying(ctx)
	if err != nil {
		return errors.Wrap(err, "now playing poll failed")
	}
	if np == nil || np.Track.ID == "" {
		return nil
	}

	latest, err := l.store.LatestHistory(ctx)
	if err != nil {
		return err
	}
	if latest != nil && latest.TrackID == np.Track.ID {
		if l.pushPending {
			return l.pushNext(ctx)
		}
		return nil
	}

	now := time.Now()

	// Transition observed. Attribute it: a pending request for this URI is
	// consumed first, otherwise the most recently committed one within the
	// window. Organic plays on the shared account stay unattributed.
	requestedBy, err := l.store.MarkPlayedByURI(ctx, np.Track.URI, now)
	if err != nil {
		return err
	}
	if requestedBy == nil {
		requestedBy, err = l.store.LastRequester(ctx, np.Track.URI, now.Add(-attributionWindow))
		if err != nil {
			return err
		}
	}

	entry := &history.Entry{
		TrackID:     np.Track.ID,
		TrackURI:    np.Track.URI,
		TrackName:   np.Track.Name,
		ArtistID:    np.Track.ArtistID,
		ArtistName:  np.Track.PrimaryArtist(),
		AlbumName:   np.Track.Album,
		AlbumArtURL: np.Track.AlbumArtURL,
		DurationMs:  int64(np.Track.Duration / time.Millisecond),
		RequestedBy: requestedBy,
		ObservedAt:  now,
	}
	if err := l.store.InsertHistory(ctx, entry); err != nil {
		return err
	}

	by := "nobody"
	if requestedBy != nil {
		by = *requestedBy
	}
	zlog.Info().Msgf("track change: %q by %q (requested by %s)", np.Track.Name, entry.ArtistName, by)

	l.notifier.Broadcast(notification.New(notification.TypeTrackChange, TrackChange{
		Track:       np.Track,
		RequestedBy: requestedBy,
		ObservedAt:  now,
	}))

	return l.pushNext(ctx)
}

// pushNext hands the fair queue's next request to the device, when the
// jukebox is active and the queue is not exhausted.
func (l *Loop) pushNext(ctx context.Context) error {
	active, err := l.store.IsActive(ctx)
	if err != nil {
		return err
	}
	if !active {
		l.pushPending = false
		return nil
	}

	u, r, err := l.scheduler.NextRequest(ctx)
	if errors.Is(err, scheduler.ErrQueueExhausted) {
		l.pushPending = false
		return nil
	}
	if err != nil {
		return err
	}

	if err := l.gateway.QueueTrack(ctx, r.TrackURI); err != nil {
		l.pushPending = true
		return errors.Wrapf(err, "failed to queue %q for %s", r.TrackName, u.Username)
	}
	l.pushPending = false

	if err := l.scheduler.Commit(ctx, u, r); err != nil {
		return err
	}

	zlog.Info().Msgf("queued next: %q for %s", r.TrackName, u.Username)
	return nil
}
