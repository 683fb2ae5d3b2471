package admission

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auxbox/auxbox/internal/domain/history"
	"github.com/auxbox/auxbox/internal/domain/request"
	"github.com/auxbox/auxbox/internal/domain/track"
	"github.com/auxbox/auxbox/internal/infra/store"
)

func testTrack(id string, d time.Duration) track.Track {
	return track.Track{
		ID:       id,
		URI:      "spotify:track:" + id,
		Name:     "track " + id,
		Artists:  []string{"Artist"},
		Duration: d,
	}
}

func TestDurationLimitFilter(t *testing.T) {
	f := NewDurationLimitFilter()
	require.NoError(t, f.ValidateConfig(nil))

	tests := []struct {
		name     string
		duration time.Duration
		accepted bool
	}{
		{"short track", 3 * time.Minute, true},
		{"exactly at limit", 8 * time.Minute, true},
		{"just over limit", 8*time.Minute + time.Millisecond, false},
		{"long track", 20 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(context.Background(), Submission{}, testTrack("t1", tt.duration))
			assert.Equal(t, tt.accepted, result.Accepted)
			if !tt.accepted {
				assert.Equal(t, "too_long", result.Code)
			}
		})
	}
}

func TestDurationLimitFilterCustomLimit(t *testing.T) {
	f := NewDurationLimitFilter()
	require.NoError(t, f.ValidateConfig(map[string]any{"max_minutes": 2}))

	result := f.Check(context.Background(), Submission{}, testTrack("t1", 3*time.Minute))
	assert.False(t, result.Accepted)
}

func TestDurationLimitFilterNoLimit(t *testing.T) {
	f := NewDurationLimitFilter()
	require.NoError(t, f.ValidateConfig(map[string]any{"max_minutes": 0}))

	result := f.Check(context.Background(), Submission{}, testTrack("t1", time.Hour))
	assert.True(t, result.Accepted)
}

func TestDurationLimitFilterInvalidConfig(t *testing.T) {
	f := NewDurationLimitFilter()
	assert.Error(t, f.ValidateConfig(map[string]any{"max_minutes": -1}))
}

func TestDurationLimitFilterDefaultWhenUnset(t *testing.T) {
	// An absent key gets the default; only an explicit zero disables the
	// limit.
	f := NewDurationLimitFilter()
	require.NoError(t, f.ValidateConfig(map[string]any{}))

	result := f.Check(context.Background(), Submission{}, testTrack("t1", 9*time.Minute))
	assert.False(t, result.Accepted)
	assert.Equal(t, "too_long", result.Code)
}

func TestCooldownFilterZeroWindowRejected(t *testing.T) {
	f := NewCooldownFilter(&fakePlayLookup{})
	assert.Error(t, f.ValidateConfig(map[string]any{"hours": 0}))
}

type fakePlayLookup struct {
	entry *history.Entry
}

func (f *fakePlayLookup) RecentPlay(_ context.Context, trackID string, since time.Time) (*history.Entry, error) {
	if f.entry == nil || f.entry.TrackID != trackID {
		return nil, nil
	}
	if !f.entry.ObservedAt.After(since) {
		return nil, nil
	}
	return f.entry, nil
}

func TestCooldownFilter(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		playedAt time.Time
		accepted bool
	}{
		{"never played", time.Time{}, true},
		{"played an hour ago", now.Add(-time.Hour), false},
		{"played just inside the window", now.Add(-12*time.Hour + time.Minute), false},
		{"window fully elapsed", now.Add(-12*time.Hour - time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &fakePlayLookup{}
			if !tt.playedAt.IsZero() {
				lookup.entry = &history.Entry{TrackID: "t1", ObservedAt: tt.playedAt}
			}

			f := NewCooldownFilter(lookup)
			require.NoError(t, f.ValidateConfig(nil))

			result := f.Check(context.Background(), Submission{}, testTrack("t1", time.Minute))
			assert.Equal(t, tt.accepted, result.Accepted)
			if !tt.accepted {
				assert.Equal(t, "on_cooldown", result.Code)
				require.NotNil(t, result.AvailableAt)
				assert.Equal(t, tt.playedAt.Add(12*time.Hour), *result.AvailableAt)
			}
		})
	}
}

func TestCooldownFilterCustomWindow(t *testing.T) {
	playedAt := time.Now().Add(-2 * time.Hour)
	lookup := &fakePlayLookup{entry: &history.Entry{TrackID: "t1", ObservedAt: playedAt}}

	f := NewCooldownFilter(lookup)
	require.NoError(t, f.ValidateConfig(map[string]any{"hours": 1}))

	result := f.Check(context.Background(), Submission{}, testTrack("t1", time.Minute))
	assert.True(t, result.Accepted)
}

func TestContentPolicyFilter(t *testing.T) {
	f := NewContentPolicyFilter()
	require.NoError(t, f.ValidateConfig(map[string]any{
		"block_explicit":  true,
		"blocked_artists": []string{"Banned Band"},
	}))

	clean := testTrack("t1", time.Minute)
	assert.True(t, f.Check(context.Background(), Submission{}, clean).Accepted)

	explicit := testTrack("t2", time.Minute)
	explicit.Explicit = true
	result := f.Check(context.Background(), Submission{}, explicit)
	assert.False(t, result.Accepted)
	assert.Equal(t, "filtered", result.Code)

	banned := testTrack("t3", time.Minute)
	banned.Artists = []string{"banned band", "Someone Else"}
	assert.False(t, f.Check(context.Background(), Submission{}, banned).Accepted)
}

type fakePending struct {
	pending map[string]bool
}

func (f *fakePending) AnyUnplayed(_ context.Context, trackID string) (bool, error) {
	return f.pending[trackID], nil
}

type fakeDeviceQueue struct {
	ids []string
	err error
}

func (f *fakeDeviceQueue) GetQueue(_ context.Context) ([]string, error) {
	return f.ids, f.err
}

func TestAlreadyQueuedFilter(t *testing.T) {
	pending := &fakePending{pending: map[string]bool{"queued": true}}
	device := &fakeDeviceQueue{ids: []string{"playing", "next"}}

	f := NewAlreadyQueuedFilter(pending, device)

	assert.False(t, f.Check(context.Background(), Submission{}, testTrack("queued", time.Minute)).Accepted)
	assert.False(t, f.Check(context.Background(), Submission{}, testTrack("playing", time.Minute)).Accepted)
	assert.True(t, f.Check(context.Background(), Submission{}, testTrack("fresh", time.Minute)).Accepted)
}

func TestAlreadyQueuedFilterDeviceUnavailable(t *testing.T) {
	pending := &fakePending{pending: map[string]bool{}}
	device := &fakeDeviceQueue{err: errors.New("no active device")}

	f := NewAlreadyQueuedFilter(pending, device)
	result := f.Check(context.Background(), Submission{}, testTrack("fresh", time.Minute))
	assert.False(t, result.Accepted)
	assert.Equal(t, "gateway_unavailable", result.Code)
}

func TestChainStopsAtFirstRejection(t *testing.T) {
	chain := NewChain()

	short := NewDurationLimitFilter()
	require.NoError(t, short.ValidateConfig(map[string]any{"max_minutes": 1}))
	chain.Add(short)

	policy := NewContentPolicyFilter()
	require.NoError(t, policy.ValidateConfig(map[string]any{"block_explicit": true}))
	chain.Add(policy)

	long := testTrack("t1", time.Hour)
	long.Explicit = true
	result := chain.Execute(context.Background(), Submission{}, long)
	assert.False(t, result.Accepted)
	assert.Equal(t, "too_long", result.Code)
}

type fakeGateway struct {
	tracks map[string]*track.Track
	err    error
}

func (f *fakeGateway) GetTrack(_ context.Context, trackID string) (*track.Track, error) {
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tracks[trackID]
	if !ok {
		return nil, errors.New("not found")
	}
	return t, nil
}

type fakeControllerStore struct {
	users    map[string]bool
	appended []request.Request
}

func (f *fakeControllerStore) EnsureUser(_ context.Context, username, _ string) error {
	if f.users == nil {
		f.users = map[string]bool{}
	}
	f.users[username] = true
	return nil
}

func (f *fakeControllerStore) AppendRequest(_ context.Context, r *request.Request) error {
	f.appended = append(f.appended, *r)
	return nil
}

func TestControllerSubmit(t *testing.T) {
	tr := testTrack("6rqhFgbbKwnb9MLmUQDhG6", 3*time.Minute)
	gw := &fakeGateway{tracks: map[string]*track.Track{tr.ID: &tr}}
	st := &fakeControllerStore{}

	chain := NewChain()
	dl := NewDurationLimitFilter()
	require.NoError(t, dl.ValidateConfig(nil))
	chain.Add(dl)

	c := New(gw, st, chain)

	result, got, err := c.Submit(context.Background(), "alice", "spotify:track:6rqhFgbbKwnb9MLmUQDhG6")
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	require.NotNil(t, got)
	assert.Equal(t, tr.ID, got.ID)

	require.Len(t, st.appended, 1)
	r := st.appended[0]
	assert.Equal(t, "alice", r.Username)
	assert.Equal(t, tr.URI, r.TrackURI)
	assert.Equal(t, tr.Name, r.TrackName)
	assert.Equal(t, int64(180000), r.DurationMs)
	assert.True(t, st.users["alice"])
}

func TestControllerSubmitRejected(t *testing.T) {
	tr := testTrack("6rqhFgbbKwnb9MLmUQDhG6", time.Hour)
	gw := &fakeGateway{tracks: map[string]*track.Track{tr.ID: &tr}}
	st := &fakeControllerStore{}

	chain := NewChain()
	dl := NewDurationLimitFilter()
	require.NoError(t, dl.ValidateConfig(nil))
	chain.Add(dl)

	c := New(gw, st, chain)

	result, _, err := c.Submit(context.Background(), "alice", "6rqhFgbbKwnb9MLmUQDhG6")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, "too_long", result.Code)
	assert.Empty(t, st.appended)
}

func TestControllerSubmitGatewayDown(t *testing.T) {
	gw := &fakeGateway{err: errors.New("boom")}
	c := New(gw, &fakeControllerStore{}, NewChain())

	result, _, err := c.Submit(context.Background(), "alice", "6rqhFgbbKwnb9MLmUQDhG6")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, "gateway_unavailable", result.Code)
}

func TestControllerSubmitInvalidInput(t *testing.T) {
	c := New(&fakeGateway{}, &fakeControllerStore{}, NewChain())

	result, _, err := c.Submit(context.Background(), "alice", "not a track at all!")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, "invalid_track", result.Code)
}

func TestRegisteredFilters(t *testing.T) {
	registered := GetRegistered()
	assert.Contains(t, registered, "duration_limit_filter")
	assert.Contains(t, registered, "content_policy_filter")
}

func TestBuildChainOrder(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	chain, err := BuildChain(nil, st, &fakeDeviceQueue{})
	require.NoError(t, err)

	var names []string
	for _, f := range chain.Filters() {
		names = append(names, f.Name())
	}
	assert.Equal(t, []string{
		"duration_limit_filter",
		"already_queued_filter",
		"cooldown_filter",
		"content_policy_filter",
	}, names)
}

func TestBuildChainDisablesFilters(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	chain, err := BuildChain(map[string]FilterConfig{
		"cooldown_filter":       {Enabled: false},
		"content_policy_filter": {Enabled: false},
	}, st, &fakeDeviceQueue{})
	require.NoError(t, err)

	var names []string
	for _, f := range chain.Filters() {
		names = append(names, f.Name())
	}
	assert.Equal(t, []string{"duration_limit_filter", "already_queued_filter"}, names)
}
