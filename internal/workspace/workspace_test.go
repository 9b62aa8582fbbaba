package workspace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/roomline/internal/feed"
	"github.com/BioHazard786/roomline/internal/identity"
	"github.com/BioHazard786/roomline/internal/prefs"
	"github.com/BioHazard786/roomline/internal/session"
	"github.com/BioHazard786/roomline/internal/store"
)

type stubStream struct{ kind session.Kind }

func (s *stubStream) Kind() session.Kind { return s.kind }
func (s *stubStream) Close() error       { return nil }
func (s *stubStream) OnEnded(func())     {}

type stubRemote struct {
	kind   session.Kind
	closed *atomic.Int32
}

func (r *stubRemote) Kind() session.Kind { return r.kind }
func (r *stubRemote) Close() error {
	r.closed.Add(1)
	return nil
}

type stubPub struct{ id string }

func (p *stubPub) ID() string { return p.id }

func (p *stubPub) Enable(context.Context) error { return nil }

func (p *stubPub) Disable(context.Context) error { return nil }

func (p *stubPub) ReplaceStream(context.Context, session.LocalStream) error { return nil }

type stubMember struct {
	room *stubRoom
	n    atomic.Int32
}

func (m *stubMember) ID() string { return "me" }

func (m *stubMember) Publish(_ context.Context, s session.LocalStream) (session.LocalPublication, error) {
	return &stubPub{id: fmt.Sprintf("me-%d", m.n.Add(1))}, nil
}

func (m *stubMember) Unpublish(context.Context, session.LocalPublication) error { return nil }

func (m *stubMember) Subscribe(_ context.Context, id string) (session.RemoteStream, error) {
	for _, p := range m.room.pubs {
		if p.ID == id {
			return &stubRemote{kind: p.Kind, closed: &m.room.closed}, nil
		}
	}
	return nil, fmt.Errorf("no publication %s", id)
}

func (m *stubMember) Leave(context.Context) error {
	m.room.left.Store(true)
	return nil
}

type stubRoom struct {
	name   string
	pubs   []session.RemotePublication
	closed atomic.Int32
	left   atomic.Bool
}

func (r *stubRoom) Name() string { return r.name }
func (r *stubRoom) Join(context.Context) (session.LocalMember, error) {
	return &stubMember{room: r}, nil
}
func (r *stubRoom) Publications() []session.RemotePublication { return r.pubs }
func (r *stubRoom) OnStreamPublished(func(session.RemotePublication)) func() {
	return func() {}
}
func (r *stubRoom) OnStreamUnpublished(func(session.RemotePublication)) func() {
	return func() {}
}
func (r *stubRoom) OnStreamEnabled(func(session.RemotePublication, bool)) func() {
	return func() {}
}
func (r *stubRoom) Dispose(context.Context) error { return nil }

type stubSDK struct {
	mu     sync.Mutex
	rooms  map[string]*stubRoom
	remote int
}

func (s *stubSDK) CaptureMicrophoneAndCamera(context.Context) (session.LocalStream, session.LocalStream, error) {
	return &stubStream{kind: session.KindAudio}, &stubStream{kind: session.KindVideo}, nil
}

func (s *stubSDK) CaptureDisplay(context.Context) (session.LocalStream, error) {
	return &stubStream{kind: session.KindVideo}, nil
}

// FindOrCreate returns a room already populated with remote members, each
// publishing audio and video.
func (s *stubSDK) FindOrCreate(_ context.Context, name string) (session.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[name]; ok {
		return r, nil
	}
	r := &stubRoom{name: name}
	for i := 0; i < s.remote; i++ {
		member := fmt.Sprintf("m%d", i)
		r.pubs = append(r.pubs,
			session.RemotePublication{ID: member + "-a", PublisherID: member, PublisherName: member, Kind: session.KindAudio},
			session.RemotePublication{ID: member + "-v", PublisherID: member, PublisherName: member, Kind: session.KindVideo},
		)
	}
	s.rooms[name] = r
	return r, nil
}

type fixture struct {
	store    *store.MemoryStore
	prefs    *prefs.Memory
	auth     *identity.Provider
	verifier *identity.Verifier
	sdk      *stubSDK
}

func newFixture(t *testing.T, remote int) *fixture {
	t.Helper()

	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "thread/t1", map[string]any{"title": "General"}))
	require.NoError(t, s.Set(ctx, "thread/t2", map[string]any{"title": "Random"}))
	require.NoError(t, s.Set(ctx, "room/r1", map[string]any{"title": "Standup"}))
	require.NoError(t, s.Set(ctx, "room/r2", map[string]any{"title": "Retro"}))

	v := identity.NewVerifier("test-secret", "roomline")
	return &fixture{
		store:    s,
		prefs:    prefs.NewMemory(),
		auth:     identity.NewProvider(v),
		verifier: v,
		sdk:      &stubSDK{rooms: map[string]*stubRoom{}, remote: remote},
	}
}

func (f *fixture) workspace(t *testing.T, views Views) *Workspace {
	t.Helper()
	w := New(Options{
		Store:       f.store,
		Prefs:       f.prefs,
		Auth:        f.auth,
		Capture:     f.sdk,
		Connect:     f.sdk,
		CallTimeout: time.Second,
		Logger:      zerolog.Nop(),
	}, views)
	w.Start(context.Background())
	t.Cleanup(func() { w.Close(context.Background()) })
	return w
}

func (f *fixture) signIn(t *testing.T) {
	t.Helper()
	token, err := f.verifier.Issue(identity.Identity{ID: "u1", DisplayName: "Ada"}, time.Hour)
	require.NoError(t, err)
	_, err = f.auth.SignIn(token)
	require.NoError(t, err)
}

func TestWorkspace_FeedsFollowSignIn(t *testing.T) {
	f := newFixture(t, 0)

	var mu sync.Mutex
	var threads feed.List
	w := f.workspace(t, Views{Threads: func(l feed.List) {
		mu.Lock()
		threads = l
		mu.Unlock()
	}})

	assert.False(t, w.SignedIn())
	assert.Equal(t, 0, f.store.ListenerCount(ThreadsPath))
	require.NoError(t, w.JoinCurrentRoom(context.Background()))
	assert.Equal(t, session.Idle, w.Call.State().Phase)

	f.signIn(t)
	assert.True(t, w.SignedIn())
	assert.Equal(t, 1, f.store.ListenerCount(ThreadsPath))
	assert.Equal(t, 1, f.store.ListenerCount(RoomsPath))

	mu.Lock()
	assert.Len(t, threads.Rows, 2)
	mu.Unlock()

	f.auth.SignOut()
	assert.False(t, w.SignedIn())
	assert.Equal(t, 0, f.store.ListenerCount(ThreadsPath))
	assert.Equal(t, 0, f.store.ListenerCount(RoomsPath))
}

func TestWorkspace_ReselectingThreadKeepsOneMessageListener(t *testing.T) {
	f := newFixture(t, 0)
	f.signIn(t)
	w := f.workspace(t, Views{})

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Threads.Select("t2"))
		require.NoError(t, w.Threads.Select("t1"))
	}

	assert.Equal(t, "t1", w.Chat.Thread())
	assert.Equal(t, 1, f.store.ListenerCount("messages/t1"))
	assert.Equal(t, 0, f.store.ListenerCount("messages/t2"))

	saved, ok := f.prefs.Get(prefs.KeyCurrentThread)
	require.True(t, ok)
	assert.Equal(t, "t1", saved)

	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 0, f.store.ListenerCount("messages/t1"))

	// A fresh workspace over the same local state reopens the saved thread.
	again := f.workspace(t, Views{})
	assert.Equal(t, "t1", again.Chat.Thread())
	assert.Equal(t, 1, f.store.ListenerCount("messages/t1"))
}

func TestWorkspace_RoomSwitchEndsCall(t *testing.T) {
	for _, remote := range []int{0, 1, 3, 8} {
		t.Run(fmt.Sprintf("%d members", remote), func(t *testing.T) {
			f := newFixture(t, remote)
			f.signIn(t)
			w := f.workspace(t, Views{})

			require.NoError(t, w.Rooms.Select("r1"))
			require.NoError(t, w.JoinCurrentRoom(context.Background()))

			st := w.Call.State()
			require.Equal(t, session.Live, st.Phase)
			assert.Equal(t, "Standup", st.Room)
			assert.Len(t, st.Tiles, remote)

			require.NoError(t, w.Rooms.Select("r2"))

			st = w.Call.State()
			assert.Equal(t, session.Idle, st.Phase)
			assert.Empty(t, st.Tiles)

			room := f.sdk.rooms["Standup"]
			assert.True(t, room.left.Load())
			assert.Equal(t, int32(2*remote), room.closed.Load())
		})
	}
}

func TestWorkspace_SignOutEndsCall(t *testing.T) {
	f := newFixture(t, 2)
	f.signIn(t)
	w := f.workspace(t, Views{})

	require.NoError(t, w.Rooms.Select("r1"))
	require.NoError(t, w.JoinCurrentRoom(context.Background()))
	require.Equal(t, session.Live, w.Call.State().Phase)

	f.auth.SignOut()
	st := w.Call.State()
	assert.Equal(t, session.Idle, st.Phase)
	assert.Empty(t, st.Tiles)
}
