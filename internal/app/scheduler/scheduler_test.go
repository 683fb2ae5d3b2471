package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auxbox/auxbox/internal/domain/playlist"
	"github.com/auxbox/auxbox/internal/domain/request"
	"github.com/auxbox/auxbox/internal/domain/user"
	"github.com/auxbox/auxbox/internal/infra/store"
)

type fakeStore struct {
	users     []user.User
	requests  map[string][]request.Request
	playlists map[string][]playlist.Playlist
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests:  map[string][]request.Request{},
		playlists: map[string][]playlist.Playlist{},
	}
}

func (f *fakeStore) addUser(username string) {
	f.users = append(f.users, user.User{
		Username:      username,
		DisplayName:   username,
		AccessGranted: true,
	})
}

func (f *fakeStore) addRequest(username, trackID string) {
	f.nextID++
	f.requests[username] = append(f.requests[username], request.Request{
		ID:          f.nextID,
		Username:    username,
		TrackID:     trackID,
		TrackURI:    "spotify:track:" + trackID,
		TrackName:   trackID,
		SubmittedAt: time.Now(),
	})
}

func (f *fakeStore) UsersWithAccess(_ context.Context) ([]user.User, error) {
	var out []user.User
	for _, u := range f.users {
		if u.AccessGranted {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) UnplayedRequests(_ context.Context, username string) ([]request.Request, error) {
	return f.requests[username], nil
}

func (f *fakeStore) AnyEligiblePending(_ context.Context) (bool, error) {
	for _, u := range f.users {
		if u.AccessGranted && len(f.requests[u.Username]) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ResetServed(_ context.Context) error {
	for i := range f.users {
		f.users[i].Served = false
	}
	return nil
}

func (f *fakeStore) SetServed(_ context.Context, username string, served bool) error {
	for i := range f.users {
		if f.users[i].Username == username {
			f.users[i].Served = served
		}
	}
	return nil
}

func (f *fakeStore) MarkPlayed(_ context.Context, username, trackURI string, _ time.Time) error {
	reqs := f.requests[username]
	for i, r := range reqs {
		if r.TrackURI == trackURI {
			f.requests[username] = append(reqs[:i:i], reqs[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) AppendRequest(_ context.Context, r *request.Request) error {
	for _, pending := range f.requests[r.Username] {
		if pending.TrackID == r.TrackID {
			return store.ErrDuplicateRequest
		}
	}
	f.nextID++
	r.ID = f.nextID
	f.requests[r.Username] = append(f.requests[r.Username], *r)
	return nil
}

func (f *fakeStore) OldestPlaylist(_ context.Context, username string) (*playlist.Playlist, error) {
	pls := f.playlists[username]
	if len(pls) == 0 {
		return nil, nil
	}
	return &pls[0], nil
}

func (f *fakeStore) DeletePlaylist(_ context.Context, id int64) error {
	for username, pls := range f.playlists {
		for i, pl := range pls {
			if pl.ID == id {
				f.playlists[username] = append(pls[:i:i], pls[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func drain(t *testing.T, s *Scheduler) []string {
	t.Helper()
	var order []string
	for {
		u, r, err := s.NextRequest(context.Background())
		if err == ErrQueueExhausted {
			return order
		}
		require.NoError(t, err)
		order = append(order, u.Username+":"+r.TrackID)
		require.NoError(t, s.Commit(context.Background(), u, r))
	}
}

func TestNextRequestRoundRobin(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice")
	fs.addUser("bob")
	fs.addUser("carol")
	fs.addRequest("alice", "a1")
	fs.addRequest("alice", "a2")
	fs.addRequest("alice", "a3")
	fs.addRequest("bob", "b1")
	fs.addRequest("carol", "c1")
	fs.addRequest("carol", "c2")

	s := New(fs, Config{})
	order := drain(t, s)

	assert.Equal(t, []string{
		"alice:a1", "bob:b1", "carol:c1",
		"alice:a2", "carol:c2",
		"alice:a3",
	}, order)
}

func TestNextRequestLateJoiner(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice")
	fs.addUser("bob")
	fs.addRequest("alice", "a1")
	fs.addRequest("alice", "a2")

	s := New(fs, Config{})
	ctx := context.Background()

	u, r, err := s.NextRequest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "a1", r.TrackID)
	require.NoError(t, s.Commit(ctx, u, r))

	// bob submits after alice's first track was handed off; he goes next
	// even though alice queued earlier.
	fs.addRequest("bob", "b1")

	u, r, err = s.NextRequest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, "b1", r.TrackID)
	require.NoError(t, s.Commit(ctx, u, r))

	u, r, err = s.NextRequest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "a2", r.TrackID)
}

func TestNextRequestDoesNotMutate(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice")
	fs.addRequest("alice", "a1")

	s := New(fs, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		u, r, err := s.NextRequest(ctx)
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
		assert.Equal(t, "a1", r.TrackID)
	}
}

func TestNextRequestExhausted(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice")

	s := New(fs, Config{})
	_, _, err := s.NextRequest(context.Background())
	assert.ErrorIs(t, err, ErrQueueExhausted)
}

func TestNextRequestSkipsUnauthorized(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice")
	fs.users[0].AccessGranted = false
	fs.addRequest("alice", "a1")

	s := New(fs, Config{})
	_, _, err := s.NextRequest(context.Background())
	assert.ErrorIs(t, err, ErrQueueExhausted)
}

func TestPlaylistRefill(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice")
	fs.playlists["alice"] = []playlist.Playlist{{
		ID:       7,
		Username: "alice",
		Name:     "road trip",
		Tracks: []playlist.Track{
			{TrackID: "p1", TrackURI: "spotify:track:p1", TrackName: "p1"},
			{TrackID: "p2", TrackURI: "spotify:track:p2", TrackName: "p2"},
		},
	}}

	s := New(fs, Config{PlaylistRefill: true})
	order := drain(t, s)

	assert.Equal(t, []string{"alice:p1", "alice:p2"}, order)
	assert.Empty(t, fs.playlists["alice"], "imported playlist should be consumed")
}

func TestPlaylistRefillDisabled(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice")
	fs.playlists["alice"] = []playlist.Playlist{{
		ID:       7,
		Username: "alice",
		Tracks:   []playlist.Track{{TrackID: "p1", TrackURI: "spotify:track:p1"}},
	}}

	s := New(fs, Config{PlaylistRefill: false})
	_, _, err := s.NextRequest(context.Background())
	assert.ErrorIs(t, err, ErrQueueExhausted)
	assert.Len(t, fs.playlists["alice"], 1)
}

func TestVirtualQueue(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice")
	fs.addUser("bob")
	fs.addRequest("alice", "a1")
	fs.addRequest("alice", "a2")
	fs.addRequest("bob", "b1")

	s := New(fs, Config{})

	entries, err := s.VirtualQueue(context.Background())
	require.NoError(t, err)

	var order []string
	for _, e := range entries {
		order = append(order, e.Username+":"+e.Request.TrackID)
	}
	assert.Equal(t, []string{"alice:a1", "bob:b1", "alice:a2"}, order)

	// Pure projection: repeated calls agree, and the head matches what
	// NextRequest would pick.
	again, err := s.VirtualQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entries, again)

	u, r, err := s.NextRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entries[0].Username, u.Username)
	assert.Equal(t, entries[0].Request.TrackID, r.TrackID)
}

func TestVirtualQueueRespectsServedFlags(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice")
	fs.addUser("bob")
	fs.users[0].Served = true
	fs.addRequest("alice", "a1")
	fs.addRequest("bob", "b1")

	s := New(fs, Config{})
	entries, err := s.VirtualQueue(context.Background())
	require.NoError(t, err)

	var order []string
	for _, e := range entries {
		order = append(order, e.Username+":"+e.Request.TrackID)
	}
	// alice already had her turn this cycle; bob finishes it, then alice
	// leads the next one.
	assert.Equal(t, []string{"bob:b1", "alice:a1"}, order)
}

func TestVirtualQueueEmpty(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice")

	s := New(fs, Config{})
	entries, err := s.VirtualQueue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
