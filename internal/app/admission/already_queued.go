package admission

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/auxbox/auxbox/internal/domain/track"
)

// AlreadyQueuedFilter rejects tracks that are already waiting to play,
// either in any user's pending request list or in the playback device's
// own queue.
type AlreadyQueuedFilter struct {
	pending     PendingChecker
	deviceQueue DeviceQueue
}

// PendingChecker reports whether a track is pending in any request list.
type PendingChecker interface {
	AnyUnplayed(ctx context.Context, trackID string) (bool, error)
}

// DeviceQueue exposes the track IDs currently on the playback device,
// including the one now playing.
type DeviceQueue interface {
	GetQueue(ctx context.Context) ([]string, error)
}

// NewAlreadyQueuedFilter creates a new already-queued filter.
func NewAlreadyQueuedFilter(pending PendingChecker, deviceQueue DeviceQueue) *AlreadyQueuedFilter {
	return &AlreadyQueuedFilter{
		pending:     pending,
		deviceQueue: deviceQueue,
	}
}

func (f *AlreadyQueuedFilter) Name() string {
	return "already_queued_filter"
}

func (f *AlreadyQueuedFilter) Description() string {
	return "Rejects tracks already pending in a request list or on the device queue"
}

func (f *AlreadyQueuedFilter) ReturnCodes() []string {
	return []string{"already_queued", "gateway_unavailable"}
}

func (f *AlreadyQueuedFilter) ValidateConfig(_ map[string]any) error {
	// No configuration needed
	return nil
}

func (f *AlreadyQueuedFilter) Check(ctx context.Context, _ Submission, t track.Track) Result {
	pending, err := f.pending.AnyUnplayed(ctx, t.ID)
	if err != nil {
		zlog.Error().Msgf("pending lookup failed: %v", err)
		return Accept()
	}
	if pending {
		return Reject("already_queued")
	}

	if f.deviceQueue != nil {
		ids, err := f.deviceQueue.GetQueue(ctx)
		if err != nil {
			zlog.Warn().Msgf("device queue lookup failed: %v", err)
			return Reject("gateway_unavailable")
		}
		for _, id := range ids {
			if id == t.ID {
				return Reject("already_queued")
			}
		}
	}

	return Accept()
}
