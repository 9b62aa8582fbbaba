package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/roomline/internal/identity"
	"github.com/BioHazard786/roomline/internal/prefs"
	"github.com/BioHazard786/roomline/internal/store"
)

type fakeView struct {
	mu      sync.Mutex
	renders [][]Item
	threads []string
	liked   map[string]bool
	scrolls []int
}

func newFakeView() *fakeView {
	return &fakeView{liked: map[string]bool{}}
}

func (v *fakeView) RenderMessages(threadID string, items []Item) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.threads = append(v.threads, threadID)
	v.renders = append(v.renders, items)
	v.liked = map[string]bool{}
}

func (v *fakeView) MarkLiked(id string, liked bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.liked[id] = liked
}

func (v *fakeView) RestoreScroll(offset int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrolls = append(v.scrolls, offset)
}

func (v *fakeView) last() []Item {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.renders) == 0 {
		return nil
	}
	return v.renders[len(v.renders)-1]
}

func (v *fakeView) isLiked(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.liked[id]
}

var (
	alice = &identity.Identity{ID: "u-alice", DisplayName: "Alice", AvatarURL: "https://img/alice.png"}
	bob   = &identity.Identity{ID: "u-bob", DisplayName: "Bob"}
	fixed = time.Date(2025, 3, 7, 9, 5, 0, 0, time.UTC)
)

func newFeed(t *testing.T, opts ...Option) (*Feed, *store.MemoryStore, *fakeView, *prefs.Memory) {
	t.Helper()
	s := store.NewMemoryStore()
	v := newFakeView()
	p := prefs.NewMemory()
	opts = append([]Option{WithClock(func() time.Time { return fixed }), WithScrollDelay(0)}, opts...)
	f := NewFeed(s, p, v, opts...)
	t.Cleanup(f.Close)
	return f, s, v, p
}

func TestFeed_SendRendersSanitizedMessage(t *testing.T) {
	ctx := context.Background()
	f, _, v, _ := newFeed(t)
	f.SetViewer(alice)
	require.NoError(t, f.Open(ctx, "t1"))

	key, err := f.Send(ctx, `<p>hi <b>there</b></p><script>alert(1)</script>`)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	items := v.last()
	require.Len(t, items, 1)
	got := items[0]
	assert.Equal(t, key, got.ID)
	assert.Equal(t, "Alice", got.AuthorName)
	assert.Equal(t, "https://img/alice.png", got.AuthorIcon)
	assert.Equal(t, "03月07日09:05", got.Date)
	assert.Equal(t, "u-alice", got.UID)
	assert.NotContains(t, got.HTML, "script")
	assert.Equal(t, "hi there", got.Text)
	assert.True(t, got.Deletable)
}

func TestFeed_SignedOutActionsAreNoops(t *testing.T) {
	ctx := context.Background()
	f, s, _, _ := newFeed(t)
	require.NoError(t, f.Open(ctx, "t1"))

	key, err := f.Send(ctx, "hello")
	require.NoError(t, err)
	assert.Empty(t, key)

	liked, err := f.ToggleLike(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, liked)
	require.NoError(t, f.Delete(ctx, "m1"))

	n, err := s.Get(ctx, "messages")
	require.NoError(t, err)
	assert.False(t, n.Exists)
}

func TestFeed_EmptyBodyIsIgnored(t *testing.T) {
	ctx := context.Background()
	f, _, _, _ := newFeed(t)
	f.SetViewer(alice)
	require.NoError(t, f.Open(ctx, "t1"))

	key, err := f.Send(ctx, "<p><br></p>")
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestFeed_ToggleLikeTwiceRestoresState(t *testing.T) {
	ctx := context.Background()
	f, s, v, _ := newFeed(t)
	f.SetViewer(alice)
	require.NoError(t, f.Open(ctx, "t1"))
	key, err := f.Send(ctx, "hello")
	require.NoError(t, err)

	liked, err := f.ToggleLike(ctx, key)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.EqualValues(t, 1, v.last()[0].LikeCount)
	assert.Eventually(t, func() bool { return v.isLiked(key) }, time.Second, 5*time.Millisecond)

	liked, err = f.ToggleLike(ctx, key)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.EqualValues(t, 0, v.last()[0].LikeCount)

	flag, err := s.Get(ctx, "likes/"+key+"/u-alice")
	require.NoError(t, err)
	var b bool
	require.NoError(t, flag.Decode(&b))
	assert.False(t, b)
}

// gatedStore holds every Update until n of them are in flight.
type gatedStore struct {
	*store.MemoryStore
	arrived sync.WaitGroup
}

func (g *gatedStore) Update(ctx context.Context, path string, fields map[string]any) error {
	g.arrived.Done()
	g.arrived.Wait()
	return g.MemoryStore.Update(ctx, path, fields)
}

func TestFeed_ConcurrentTogglesKeepCountInStep(t *testing.T) {
	const toggles = 9

	ctx := context.Background()
	mem := store.NewMemoryStore()
	v := newFakeView()
	require.NoError(t, mem.Set(ctx, "messages/t1/m1", Message{AuthorName: "Bob", HTML: "hi", UID: "u-bob"}))

	gs := &gatedStore{MemoryStore: mem}
	gs.arrived.Add(toggles)
	f := NewFeed(gs, prefs.NewMemory(), v, WithScrollDelay(0))
	t.Cleanup(f.Close)
	f.SetViewer(alice)
	require.NoError(t, f.Open(ctx, "t1"))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		likes int
	)
	for range toggles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			liked, err := f.ToggleLike(ctx, "m1")
			assert.NoError(t, err)
			if liked {
				mu.Lock()
				likes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, toggles/2+1, likes)

	count, err := mem.Get(ctx, "messages/t1/m1/likeCount")
	require.NoError(t, err)
	var n int
	require.NoError(t, count.Decode(&n))
	assert.Equal(t, 1, n)

	flag, err := mem.Get(ctx, "likes/m1/u-alice")
	require.NoError(t, err)
	var b bool
	require.NoError(t, flag.Decode(&b))
	assert.True(t, b)
}

func TestFeed_StaleLikeMarkIsDropped(t *testing.T) {
	ctx := context.Background()
	f, _, v, _ := newFeed(t)
	f.SetViewer(alice)
	require.NoError(t, f.Open(ctx, "t1"))
	key, err := f.Send(ctx, "first")
	require.NoError(t, err)

	f.mu.Lock()
	stale := f.gen
	f.mu.Unlock()

	_, err = f.Send(ctx, "second")
	require.NoError(t, err)
	require.Len(t, v.last(), 2)

	f.mark(stale, key)
	assert.False(t, v.isLiked(key))

	f.mu.Lock()
	fresh := f.gen
	f.mu.Unlock()
	f.mark(fresh, key)
	assert.True(t, v.isLiked(key))
}

func TestFeed_DeleteRequiresAuthor(t *testing.T) {
	ctx := context.Background()
	f, s, v, _ := newFeed(t)
	f.SetViewer(alice)
	require.NoError(t, f.Open(ctx, "t1"))
	key, err := f.Send(ctx, "mine")
	require.NoError(t, err)
	_, err = f.ToggleLike(ctx, key)
	require.NoError(t, err)

	f.SetViewer(&identity.Identity{ID: bob.ID, DisplayName: "Alice"})
	assert.ErrorIs(t, f.Delete(ctx, key), ErrNotAuthor)
	require.Len(t, v.last(), 1)

	f.SetViewer(alice)
	require.NoError(t, f.Delete(ctx, key))
	assert.Empty(t, v.last())

	likes, err := s.Get(ctx, "likes/"+key)
	require.NoError(t, err)
	assert.False(t, likes.Exists)

	assert.ErrorIs(t, f.Delete(ctx, key), ErrNotFound)
}

func TestFeed_LegacyMessageWithoutUIDIsNotDeletable(t *testing.T) {
	ctx := context.Background()
	f, s, v, _ := newFeed(t)
	require.NoError(t, s.Set(ctx, "messages/t1/m1", map[string]any{
		"uI": "icon", "uN": "Alice", "date": "01月01日00:00", "html": "old", "likeCount": 2,
	}))
	f.SetViewer(alice)
	require.NoError(t, f.Open(ctx, "t1"))

	items := v.last()
	require.Len(t, items, 1)
	assert.False(t, items[0].Deletable)
	assert.EqualValues(t, 2, items[0].LikeCount)
	assert.ErrorIs(t, f.Delete(ctx, "m1"), ErrNotAuthor)
}

func TestFeed_ReopeningKeepsOneListener(t *testing.T) {
	ctx := context.Background()
	f, s, v, _ := newFeed(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, f.Open(ctx, "t1"))
		require.NoError(t, f.Open(ctx, "t2"))
	}
	require.NoError(t, f.Open(ctx, "t1"))

	assert.Equal(t, 1, s.ListenerCount("messages/t1"))
	assert.Equal(t, 0, s.ListenerCount("messages/t2"))
	assert.Equal(t, "t1", f.Thread())

	before := len(v.threads)
	require.NoError(t, s.Set(ctx, "messages/t2/x", map[string]any{"html": "elsewhere"}))
	assert.Len(t, v.threads, before)
}

func TestFeed_ScrollIsRestoredAfterRender(t *testing.T) {
	ctx := context.Background()
	f, s, v, p := newFeed(t)
	require.NoError(t, p.Set(prefs.KeyScroll, "240"))
	require.NoError(t, f.Open(ctx, "t1"))
	require.Equal(t, []int{240}, v.scrolls)

	f.SaveScroll(80)
	got, _ := p.Get(prefs.KeyScroll)
	assert.Equal(t, "80", got)

	require.NoError(t, s.Set(ctx, "messages/t1/m1", map[string]any{"html": "x"}))
	assert.Equal(t, []int{240, 80}, v.scrolls)
}

func TestFeed_SaveScrollDebounces(t *testing.T) {
	f, _, _, p := newFeed(t, WithScrollDelay(time.Hour))

	f.SaveScroll(10)
	f.SaveScroll(20)
	_, ok := p.Get(prefs.KeyScroll)
	assert.False(t, ok)

	f.Flush()
	got, _ := p.Get(prefs.KeyScroll)
	assert.Equal(t, "20", got)
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "line one\nline two", PlainText("<p>line one</p><p>line two</p>"))
	assert.Equal(t, "a & b", PlainText("a &amp; b"))
	assert.Equal(t, "", PlainText("<p><br></p>"))
}
