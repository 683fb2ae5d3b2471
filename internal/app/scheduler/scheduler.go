// Package scheduler computes the fair round-robin play order over all
// users' pending request lists.
package scheduler

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/auxbox/auxbox/internal/domain/playlist"
	"github.com/auxbox/auxbox/internal/domain/request"
	"github.com/auxbox/auxbox/internal/domain/user"
	"github.com/auxbox/auxbox/internal/infra/store"
)

// ErrQueueExhausted is returned by NextRequest when no access-granted user
// has an unplayed request.
var ErrQueueExhausted = errors.New("queue exhausted")

// Store is the persistence surface the scheduler operates against.
type Store interface {
	UsersWithAccess(ctx context.Context) ([]user.User, error)
	UnplayedRequests(ctx context.Context, username string) ([]request.Request, error)
	AnyEligiblePending(ctx context.Context) (bool, error)
	ResetServed(ctx context.Context) error
	SetServed(ctx context.Context, username string, served bool) error
	MarkPlayed(ctx context.Context, username, trackURI string, at time.Time) error
	AppendRequest(ctx context.Context, r *request.Request) error
	OldestPlaylist(ctx context.Context, username string) (*playlist.Playlist, error)
	DeletePlaylist(ctx context.Context, id int64) error
}

// Config represents scheduler configuration.
type Config struct {
	// PlaylistRefill imports tracks from a user's oldest stored playlist
	// into their request list when they have nothing pending.
	PlaylistRefill bool
}

// Scheduler implements the round-robin fairness policy: exactly one request
// is considered per user per cycle, independent of how many requests any one
// user has queued. Users are visited in account creation order.
type Scheduler struct {
	store  Store
	config Config
}

// New creates a new scheduler.
func New(store Store, config Config) *Scheduler {
	return &Scheduler{store: store, config: config}
}

// NextRequest returns the next (user, request) pair to hand to playback.
// It does not mutate any state; call Commit after a successful hand-off.
// Returns ErrQueueExhausted when every access-granted user's list is drained.
func (s *Scheduler) NextRequest(ctx context.Context) (*user.User, *request.Request, error) {
	// At most two passes: one over the current cycle, one after a reset.
	for attempt := 0; attempt < 2; attempt++ {
		users, err := s.store.UsersWithAccess(ctx)
		if err != nil {
			return nil, nil, err
		}

		for i := range users {
			u := &users[i]
			if u.Served {
				continue
			}

			reqs, err := s.store.UnplayedRequests(ctx, u.Username)
			if err != nil {
				return nil, nil, err
			}
			if len(reqs) == 0 && s.config.PlaylistRefill {
				if err := s.refill(ctx, u.Username); err != nil {
					zlog.Error().Msgf("playlist refill failed: user=%s err=%v", u.Username, err)
				} else {
					reqs, err = s.store.UnplayedRequests(ctx, u.Username)
					if err != nil {
						return nil, nil, err
					}
				}
			}
			if len(reqs) == 0 {
				continue
			}

			return u, &reqs[0], nil
		}

		// No eligible user in this cycle. If there is pending work, start a
		// new cycle by resetting every served flag and scan again.
		pending, err := s.store.AnyEligiblePending(ctx)
		if err != nil {
			return nil, nil, err
		}
		if !pending {
			return nil, nil, ErrQueueExhausted
		}
		if err := s.store.ResetServed(ctx); err != nil {
			return nil, nil, err
		}
		zlog.Debug().Msg("scheduling cycle complete, served flags reset")
	}

	return nil, nil, ErrQueueExhausted
}

// Commit records a successful hand-off to playback: the request is marked
// played and the user is marked served for the current cycle.
func (s *Scheduler) Commit(ctx context.Context, u *user.User, r *request.Request) error {
	if err := s.store.MarkPlayed(ctx, u.Username, r.TrackURI, time.Now()); err != nil {
		return err
	}
	return s.store.SetServed(ctx, u.Username, true)
}

// Entry is one slot of the virtual queue projection.
type Entry struct {
	Username    string          `json:"username"`
	DisplayName string          `json:"displayName"`
	Request     request.Request `json:"request"`
}

// VirtualQueue returns the full predicted play order. It is a pure
// simulation over a snapshot of the store: repeated calls with no
// intervening mutation return identical output, and the head of the result
// agrees with what NextRequest would pick.
func (s *Scheduler) VirtualQueue(ctx context.Context) ([]Entry, error) {
	users, err := s.store.UsersWithAccess(ctx)
	if err != nil {
		return nil, err
	}

	// Snapshot every user's pending list and served flag.
	queues := make([][]request.Request, len(users))
	served := make([]bool, len(users))
	for i := range users {
		reqs, err := s.store.UnplayedRequests(ctx, users[i].Username)
		if err != nil {
			return nil, err
		}
		queues[i] = reqs
		served[i] = users[i].Served
	}

	var out []Entry
	for {
		progressed := false
		for i := range users {
			if served[i] || len(queues[i]) == 0 {
				continue
			}
			out = append(out, Entry{
				Username:    users[i].Username,
				DisplayName: users[i].DisplayName,
				Request:     queues[i][0],
			})
			queues[i] = queues[i][1:]
			served[i] = true
			progressed = true
		}

		if !progressed {
			remaining := false
			for i := range users {
				if len(queues[i]) > 0 {
					remaining = true
					break
				}
			}
			if !remaining {
				return out, nil
			}
			// New cycle
			for i := range served {
				served[i] = false
			}
		}
	}
}

// refill imports the user's oldest stored playlist into their request list.
// The playlist is consumed: once imported it is removed so the same tracks
// are not re-queued endlessly. Tracks already pending are skipped.
func (s *Scheduler) refill(ctx context.Context, username string) error {
	pl, err := s.store.OldestPlaylist(ctx, username)
	if err != nil {
		return err
	}
	if pl == nil || len(pl.Tracks) == 0 {
		return nil
	}

	now := time.Now()
	imported := 0
	for _, t := range pl.Tracks {
		r := &request.Request{
			Username:    username,
			TrackID:     t.TrackID,
			TrackURI:    t.TrackURI,
			TrackName:   t.TrackName,
			ArtistName:  t.ArtistName,
			DurationMs:  t.DurationMs,
			SubmittedAt: now,
		}
		if err := s.store.AppendRequest(ctx, r); err != nil {
			if errors.Is(err, store.ErrDuplicateRequest) {
				continue
			}
			return err
		}
		imported++
	}

	zlog.Info().Msgf("refilled queue from playlist: user=%s playlist=%q tracks=%d", username, pl.Name, imported)
	return s.store.DeletePlaylist(ctx, pl.ID)
}
