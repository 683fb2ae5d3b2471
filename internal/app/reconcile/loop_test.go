package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auxbox/auxbox/internal/app/notification"
	"github.com/auxbox/auxbox/internal/app/scheduler"
	"github.com/auxbox/auxbox/internal/domain/history"
	"github.com/auxbox/auxbox/internal/domain/request"
	"github.com/auxbox/auxbox/internal/domain/track"
	"github.com/auxbox/auxbox/internal/domain/user"
)

type fakeGateway struct {
	nowPlaying *track.NowPlaying
	nowErr     error
	queued     []string
	queueErr   error
}

func (f *fakeGateway) NowPlaying(_ context.Context) (*track.NowPlaying, error) {
	return f.nowPlaying, f.nowErr
}

func (f *fakeGateway) QueueTrack(_ context.Context, uri string) error {
	if f.queueErr != nil {
		return f.queueErr
	}
	f.queued = append(f.queued, uri)
	return nil
}

type fakeLoopStore struct {
	latest     *history.Entry
	inserted   []history.Entry
	pendingFor map[string]string // track URI -> username with a pending request
	playedFor  map[string]string // track URI -> username who committed recently
	active     bool
}

func (f *fakeLoopStore) LatestHistory(_ context.Context) (*history.Entry, error) {
	return f.latest, nil
}

func (f *fakeLoopStore) InsertHistory(_ context.Context, e *history.Entry) error {
	f.inserted = append(f.inserted, *e)
	f.latest = e
	return nil
}

func (f *fakeLoopStore) MarkPlayedByURI(_ context.Context, uri string, _ time.Time) (*string, error) {
	username, ok := f.pendingFor[uri]
	if !ok {
		return nil, nil
	}
	delete(f.pendingFor, uri)
	return &username, nil
}

func (f *fakeLoopStore) LastRequester(_ context.Context, uri string, _ time.Time) (*string, error) {
	username, ok := f.playedFor[uri]
	if !ok {
		return nil, nil
	}
	return &username, nil
}

func (f *fakeLoopStore) IsActive(_ context.Context) (bool, error) {
	return f.active, nil
}

type fakeScheduler struct {
	next      *request.Request
	user      *user.User
	committed []string
}

func (f *fakeScheduler) NextRequest(_ context.Context) (*user.User, *request.Request, error) {
	if f.next == nil {
		return nil, nil, scheduler.ErrQueueExhausted
	}
	return f.user, f.next, nil
}

func (f *fakeScheduler) Commit(_ context.Context, _ *user.User, r *request.Request) error {
	f.committed = append(f.committed, r.TrackURI)
	f.next = nil
	return nil
}

type fakeNotifier struct {
	messages []*notification.Message
}

func (f *fakeNotifier) Broadcast(msg *notification.Message) {
	f.messages = append(f.messages, msg)
}

func playing(id, name string) *track.NowPlaying {
	return &track.NowPlaying{
		Track: track.Track{
			ID:       id,
			URI:      "spotify:track:" + id,
			Name:     name,
			Artists:  []string{"Artist"},
			Duration: 3 * time.Minute,
		},
		IsPlaying: true,
	}
}

func newLoop(gw *fakeGateway, st *fakeLoopStore, sched *fakeScheduler, n *fakeNotifier) *Loop {
	return New(gw, st, sched, n, Config{Interval: 4 * time.Second})
}

func TestTickRecordsTransition(t *testing.T) {
	gw := &fakeGateway{nowPlaying: playing("t1", "Song One")}
	st := &fakeLoopStore{
		pendingFor: map[string]string{"spotify:track:t1": "alice"},
		active:     true,
	}
	sched := &fakeScheduler{
		user: &user.User{Username: "bob"},
		next: &request.Request{Username: "bob", TrackURI: "spotify:track:t2", TrackName: "Song Two"},
	}
	n := &fakeNotifier{}

	l := newLoop(gw, st, sched, n)
	require.NoError(t, l.tick(context.Background()))

	require.Len(t, st.inserted, 1)
	entry := st.inserted[0]
	assert.Equal(t, "t1", entry.TrackID)
	assert.Equal(t, "Song One", entry.TrackName)
	require.NotNil(t, entry.RequestedBy)
	assert.Equal(t, "alice", *entry.RequestedBy)

	require.Len(t, n.messages, 1)
	assert.Equal(t, notification.TypeTrackChange, n.messages[0].Type)

	assert.Equal(t, []string{"spotify:track:t2"}, gw.queued)
	assert.Equal(t, []string{"spotify:track:t2"}, sched.committed)
}

func TestTickAttributesCommittedRequest(t *testing.T) {
	gw := &fakeGateway{nowPlaying: playing("t1", "Song One")}
	st := &fakeLoopStore{
		playedFor: map[string]string{"spotify:track:t1": "carol"},
	}

	l := newLoop(gw, st, &fakeScheduler{}, &fakeNotifier{})
	require.NoError(t, l.tick(context.Background()))

	require.Len(t, st.inserted, 1)
	require.NotNil(t, st.inserted[0].RequestedBy)
	assert.Equal(t, "carol", *st.inserted[0].RequestedBy)
}

func TestTickOrganicPlayUnattributed(t *testing.T) {
	gw := &fakeGateway{nowPlaying: playing("t1", "Song One")}
	st := &fakeLoopStore{}

	l := newLoop(gw, st, &fakeScheduler{}, &fakeNotifier{})
	require.NoError(t, l.tick(context.Background()))

	require.Len(t, st.inserted, 1)
	assert.Nil(t, st.inserted[0].RequestedBy)
}

func TestTickNoTransition(t *testing.T) {
	gw := &fakeGateway{nowPlaying: playing("t1", "Song One")}
	st := &fakeLoopStore{latest: &history.Entry{TrackID: "t1"}}
	n := &fakeNotifier{}

	l := newLoop(gw, st, &fakeScheduler{}, n)
	require.NoError(t, l.tick(context.Background()))

	assert.Empty(t, st.inserted)
	assert.Empty(t, n.messages)
}

func TestTickNothingPlaying(t *testing.T) {
	gw := &fakeGateway{}
	st := &fakeLoopStore{}

	l := newLoop(gw, st, &fakeScheduler{}, &fakeNotifier{})
	require.NoError(t, l.tick(context.Background()))
	assert.Empty(t, st.inserted)
}

func TestTickInactiveDoesNotPush(t *testing.T) {
	gw := &fakeGateway{nowPlaying: playing("t1", "Song One")}
	st := &fakeLoopStore{active: false}
	sched := &fakeScheduler{
		user: &user.User{Username: "bob"},
		next: &request.Request{TrackURI: "spotify:track:t2"},
	}

	l := newLoop(gw, st, sched, &fakeNotifier{})
	require.NoError(t, l.tick(context.Background()))

	require.Len(t, st.inserted, 1)
	assert.Empty(t, gw.queued)
	assert.Empty(t, sched.committed)
}

func TestTickQueueExhausted(t *testing.T) {
	gw := &fakeGateway{nowPlaying: playing("t1", "Song One")}
	st := &fakeLoopStore{active: true}

	l := newLoop(gw, st, &fakeScheduler{}, &fakeNotifier{})
	require.NoError(t, l.tick(context.Background()))
	assert.Empty(t, gw.queued)
}

func TestTickRetriesFailedPush(t *testing.T) {
	gw := &fakeGateway{
		nowPlaying: playing("t1", "Song One"),
		queueErr:   errors.New("no active device"),
	}
	st := &fakeLoopStore{active: true}
	sched := &fakeScheduler{
		user: &user.User{Username: "bob"},
		next: &request.Request{Username: "bob", TrackURI: "spotify:track:t2"},
	}

	l := newLoop(gw, st, sched, &fakeNotifier{})
	assert.Error(t, l.tick(context.Background()))
	assert.Empty(t, sched.committed)

	// Device recovers; same track is still playing so there is no new
	// transition, but the pending push goes through.
	gw.queueErr = nil
	require.NoError(t, l.tick(context.Background()))
	assert.Equal(t, []string{"spotify:track:t2"}, gw.queued)
	assert.Equal(t, []string{"spotify:track:t2"}, sched.committed)
}

func TestTickPollFailure(t *testing.T) {
	gw := &fakeGateway{nowErr: errors.New("network down")}
	l := newLoop(gw, &fakeLoopStore{}, &fakeScheduler{}, &fakeNotifier{})
	assert.Error(t, l.tick(context.Background()))
}
