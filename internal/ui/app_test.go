package ui

import (
	"context"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/roomline/internal/feed"
	"github.com/BioHazard786/roomline/internal/identity"
	"github.com/BioHazard786/roomline/internal/prefs"
	"github.com/BioHazard786/roomline/internal/session"
	"github.com/BioHazard786/roomline/internal/store"
	"github.com/BioHazard786/roomline/internal/workspace"
)

func newTestApp(t *testing.T) (*App, *Bridge) {
	t.Helper()

	s := store.NewMemoryStore()
	require.NoError(t, s.Set(context.Background(), "thread/t1", map[string]any{"title": "General"}))

	v := identity.NewVerifier("test-secret", "roomline")
	auth := identity.NewProvider(v)
	token, err := v.Issue(identity.Identity{ID: "u1", DisplayName: "Ada"}, time.Hour)
	require.NoError(t, err)
	_, err = auth.SignIn(token)
	require.NoError(t, err)

	b := NewBridge()
	ws := workspace.New(workspace.Options{
		Store:  s,
		Prefs:  prefs.NewMemory(),
		Auth:   auth,
		Logger: zerolog.Nop(),
	}, b.Views())
	ws.Start(context.Background())
	t.Cleanup(func() {
		b.Close()
		ws.Close(context.Background())
	})

	a := NewApp(ws, b)
	a.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return a, b
}

// pump feeds queued renders into the app until cond holds.
func pump(t *testing.T, a *App, b *Bridge, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case msg := <-b.updates:
			a.Update(msg)
		case <-deadline:
			t.Fatal("condition not reached")
		}
	}
}

// run executes the command an action key produced and applies its result.
func run(t *testing.T, a *App, cmd tea.Cmd) {
	t.Helper()
	require.NotNil(t, cmd)
	msg := cmd()
	done, ok := msg.(doneMsg)
	require.True(t, ok, "unexpected message %T", msg)
	require.NoError(t, done.err)
	a.Update(done)
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestApp_ThreadMessageLifecycle(t *testing.T) {
	a, b := newTestApp(t)

	pump(t, a, b, func() bool { return len(a.threads.Rows) == 1 })
	assert.Equal(t, "General", a.threads.Rows[0].Title)

	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	run(t, a, cmd)
	pump(t, a, b, func() bool { return a.thread == "t1" })
	assert.Equal(t, "General", a.threads.Header)

	a.Update(key("c"))
	require.Equal(t, modeCompose, a.mode)
	a.composer.SetValue("hello <b>world</b>")
	_, cmd = a.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Equal(t, modeBrowse, a.mode)
	run(t, a, cmd)

	pump(t, a, b, func() bool { return len(a.items) == 1 })
	assert.Equal(t, "hello world", a.items[0].Text)
	assert.Equal(t, "Ada", a.items[0].AuthorName)
	assert.True(t, a.items[0].Deletable)

	id := a.items[0].ID
	_, cmd = a.Update(key("l"))
	run(t, a, cmd)
	pump(t, a, b, func() bool { return a.liked[id] })
	pump(t, a, b, func() bool { return len(a.items) == 1 && a.items[0].LikeCount == 1 })
	assert.Contains(t, a.View(), IconLike)

	_, cmd = a.Update(key("d"))
	run(t, a, cmd)
	pump(t, a, b, func() bool { return len(a.items) == 0 })
}

func TestApp_CreateThread(t *testing.T) {
	a, b := newTestApp(t)
	pump(t, a, b, func() bool { return len(a.threads.Rows) == 1 })

	_, cmd := a.Update(key("n"))
	assert.NotNil(t, cmd)
	require.Equal(t, modeTitle, a.mode)

	_, cmd = a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd, "blank titles are ignored")

	a.Update(key("n"))
	a.title.SetValue("  Design review ")
	_, cmd = a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	run(t, a, cmd)
	assert.Equal(t, "Created Design review", a.status)

	pump(t, a, b, func() bool { return a.threads.Header == "Design review" })
	assert.Len(t, a.threads.Rows, 2)
	assert.Equal(t, "Design review", a.threads.Rows[a.threadCursor].Title)
}

func TestApp_JoinNeedsRoom(t *testing.T) {
	a, _ := newTestApp(t)

	a.Update(tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, tabVideo, a.tab)

	_, cmd := a.Update(key("j"))
	assert.Nil(t, cmd)
	require.Error(t, a.err)
	assert.Contains(t, a.View(), "select a room first")
}

func TestApp_CallGrid(t *testing.T) {
	tests := []struct {
		remote int
		more   string
	}{
		{0, ""},
		{3, ""},
		{8, ""},
		{10, "+2 more"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d remote", tt.remote), func(t *testing.T) {
			a, _ := newTestApp(t)
			a.Update(tea.KeyMsg{Type: tea.KeyTab})

			st := session.State{Phase: session.Live, Room: "Standup", AudioMuted: true}
			for i := 0; i < tt.remote; i++ {
				st.Tiles = append(st.Tiles, session.Tile{
					MemberID: fmt.Sprintf("m%d", i),
					Name:     fmt.Sprintf("member-%d", i),
					Elements: []session.Element{{PublicationID: fmt.Sprintf("p%d", i), Kind: session.KindVideo}},
				})
			}
			a.Update(callMsg(st))

			out := a.View()
			assert.Contains(t, out, "Standup")
			assert.Contains(t, out, "You")
			assert.Contains(t, out, IconMicOff)
			if tt.more != "" {
				assert.Contains(t, out, tt.more)
			} else {
				assert.NotContains(t, out, "more")
			}
			if tt.remote == 0 {
				assert.Contains(t, out, "Nobody else is here yet")
			}
		})
	}
}

func TestApp_CallErrorIsShown(t *testing.T) {
	a, _ := newTestApp(t)
	a.Update(tea.KeyMsg{Type: tea.KeyTab})

	a.Update(callMsg(session.State{Phase: session.Idle, Err: session.ErrMediaUnavailable}))
	assert.ErrorIs(t, a.err, session.ErrMediaUnavailable)
	assert.Contains(t, a.View(), session.ErrMediaUnavailable.Error())
}

func TestBridge_QueuesUntilClosed(t *testing.T) {
	b := NewBridge()
	views := b.Views()

	views.Threads(feed.List{Header: "General"})
	views.Call(session.State{Phase: session.Joining})

	msg := b.listen()()
	require.IsType(t, threadsMsg{}, msg)
	assert.Equal(t, "General", msg.(threadsMsg).Header)

	msg = b.listen()()
	require.IsType(t, callMsg{}, msg)
	assert.Equal(t, session.Joining, msg.(callMsg).Phase)

	b.Close()
	assert.Nil(t, b.listen()())

	for i := 0; i < updateBuffer+1; i++ {
		views.Rooms(feed.List{})
	}
}

type countingStream struct {
	kind    session.Kind
	packets int64
}

func (s *countingStream) Kind() session.Kind { return s.kind }
func (s *countingStream) Close() error       { return nil }
func (s *countingStream) Packets() int64     { return s.packets }

func TestRosterRows(t *testing.T) {
	rows := rosterRows([]session.Tile{
		{
			MemberID: "m1",
			Name:     "Grace",
			Elements: []session.Element{
				{PublicationID: "a", Kind: session.KindAudio, Stream: &countingStream{session.KindAudio, 40}},
				{PublicationID: "v", Kind: session.KindVideo, Paused: true, Stream: &countingStream{session.KindVideo, 2}},
			},
		},
		{MemberID: "m2", Elements: []session.Element{{PublicationID: "s", Kind: session.KindVideo}}},
	})

	assert.Equal(t, []RosterRow{
		{Name: "Grace", Audio: "on", Video: "paused", Packets: 42},
		{Name: "m2", Audio: "-", Video: "on"},
	}, rows)
}
