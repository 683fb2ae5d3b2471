package admission

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/auxbox/auxbox/internal/domain/request"
	"github.com/auxbox/auxbox/internal/domain/track"
	"github.com/auxbox/auxbox/internal/infra/spotify"
	"github.com/auxbox/auxbox/internal/infra/store"
)

// Gateway resolves track metadata for submissions.
type Gateway interface {
	GetTrack(ctx context.Context, trackID string) (*track.Track, error)
}

// Store is the persistence surface the controller appends accepted
// submissions to.
type Store interface {
	EnsureUser(ctx context.Context, username, displayName string) error
	AppendRequest(ctx context.Context, r *request.Request) error
}

// FilterConfig selects and configures one filter from the registry.
type FilterConfig struct {
	Enabled  bool
	Settings map[string]any
}

// Controller runs every submission through metadata resolution and the
// filter chain before appending it to the submitter's request list.
type Controller struct {
	gateway Gateway
	store   Store
	chain   *Chain
}

// New creates an admission controller with the given pre-built chain.
func New(gateway Gateway, st Store, chain *Chain) *Controller {
	return &Controller{gateway: gateway, store: st, chain: chain}
}

// BuildChain assembles the filter chain: registry filters selected by
// config, plus the stateful filters that need store and gateway access.
// Registry filters default to enabled when config omits them. Filter order
// is fixed so the rejection code is deterministic when several would match:
// duration, already-queued, cooldown, then content policy.
func BuildChain(configs map[string]FilterConfig, st *store.Store, deviceQueue DeviceQueue) (*Chain, error) {
	chain := NewChain()

	addFilter := func(f Filter) error {
		cfg, configured := configs[f.Name()]
		if configured && !cfg.Enabled {
			zlog.Info().Msgf("filter disabled: %s", f.Name())
			return nil
		}
		if err := f.ValidateConfig(cfg.Settings); err != nil {
			return errors.Wrapf(err, "invalid config for filter %s", f.Name())
		}
		chain.Add(f)
		return nil
	}

	ordered := []Filter{
		newRegistered("duration_limit_filter"),
		NewAlreadyQueuedFilter(st, deviceQueue),
		NewCooldownFilter(st),
		newRegistered("content_policy_filter"),
	}
	for _, f := range ordered {
		if f == nil {
			continue
		}
		if err := addFilter(f); err != nil {
			return nil, err
		}
	}

	return chain, nil
}

func newRegistered(name string) Filter {
	factory, ok := registry[name]
	if !ok {
		return nil
	}
	return factory()
}

// Submit validates a track submission and, if accepted, appends it to the
// user's request list. A rejected submission returns a Result with the
// rejecting filter's code; the error return is reserved for infrastructure
// failures.
func (c *Controller) Submit(ctx context.Context, username, input string) (Result, *track.Track, error) {
	trackID := spotify.ExtractTrackID(input)
	if trackID == "" {
		return Reject("invalid_track"), nil, nil
	}

	t, err := c.gateway.GetTrack(ctx, trackID)
	if err != nil {
		zlog.Error().Msgf("track lookup failed: id=%s err=%v", trackID, err)
		return Reject("gateway_unavailable"), nil, nil
	}

	sub := Submission{Username: username, TrackID: t.ID, TrackURI: t.URI}
	result := c.chain.Execute(ctx, sub, *t)
	if !result.Accepted {
		zlog.Info().Msgf("submission rejected: user=%s track=%s code=%s", username, t.Name, result.Code)
		return result, t, nil
	}

	if err := c.store.EnsureUser(ctx, username, username); err != nil {
		return Result{}, nil, err
	}

	r := &request.Request{
		Username:    username,
		TrackID:     t.ID,
		TrackURI:    t.URI,
		TrackName:   t.Name,
		ArtistName:  t.PrimaryArtist(),
		DurationMs:  int64(t.Duration / time.Millisecond),
		SubmittedAt: time.Now(),
	}
	if err := c.store.AppendRequest(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicateRequest) {
			// Lost a race with a concurrent submission of the same track.
			return Reject("already_queued"), t, nil
		}
		return Result{}, nil, err
	}

	zlog.Info().Msgf("submission accepted: user=%s track=%q artist=%q", username, t.Name, r.ArtistName)
	return Accept(), t, nil
}
