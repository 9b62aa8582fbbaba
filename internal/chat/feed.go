package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/roomline/internal/feed"
	"github.com/BioHazard786/roomline/internal/identity"
	"github.com/BioHazard786/roomline/internal/prefs"
	"github.com/BioHazard786/roomline/internal/store"
)

const (
	MessagesPath = "messages"
	LikesPath    = "likes"

	DefaultDateFormat  = "01月02日15:04"
	defaultProbeLimit  = 8
	defaultScrollDelay = 300 * time.Millisecond
)

var (
	ErrNotAuthor = errors.New("only the author can delete a message")
	ErrNotFound  = errors.New("message not found")
)

// View receives the rendered thread. MarkLiked arrives after
// RenderMessages, once the viewer's like state for a message is known.
type View interface {
	RenderMessages(threadID string, items []Item)
	MarkLiked(messageID string, liked bool)
	RestoreScroll(offset int)
}

type Option func(*Feed)

func WithDateFormat(layout string) Option {
	return func(f *Feed) {
		if layout != "" {
			f.dateFormat = layout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

// WithProbeLimit bounds how many like lookups run at once.
func WithProbeLimit(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.probeLimit = n
		}
	}
}

func WithScrollDelay(d time.Duration) Option {
	return func(f *Feed) { f.scrollDelay = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(f *Feed) { f.log = l }
}

// Feed follows the messages of one thread at a time.
type Feed struct {
	store store.Store
	prefs prefs.Store
	view  View
	slot  *feed.Slot
	log   zerolog.Logger

	dateFormat  string
	now         func() time.Time
	probeLimit  int
	scrollDelay time.Duration

	// viewMu orders renders and like marks, so a mark never lands on a
	// newer list than the one it was looked up for.
	viewMu sync.Mutex

	mu          sync.Mutex
	thread      string
	viewer      *identity.Identity
	gen         uint64
	scrollTimer *time.Timer
	scroll      *int
}

func NewFeed(s store.Store, p prefs.Store, view View, opts ...Option) *Feed {
	f := &Feed{
		store:       s,
		prefs:       p,
		view:        view,
		slot:        feed.NewSlot(s),
		log:         zerolog.Nop(),
		dateFormat:  DefaultDateFormat,
		now:         time.Now,
		probeLimit:  defaultProbeLimit,
		scrollDelay: defaultScrollDelay,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// SetViewer sets who is looking at the feed. Nil means signed out, which
// turns every action into a no-op.
func (f *Feed) SetViewer(id *identity.Identity) {
	f.mu.Lock()
	f.viewer = id
	f.mu.Unlock()
}

func (f *Feed) Thread() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.thread
}

// Open starts following threadID, replacing any previous thread. Opening
// the thread that is already open does nothing.
func (f *Feed) Open(ctx context.Context, threadID string) error {
	if threadID == "" {
		return nil
	}
	f.mu.Lock()
	if f.thread == threadID && f.slot.Path() != "" {
		f.mu.Unlock()
		return nil
	}
	f.thread = threadID
	f.gen++
	f.mu.Unlock()

	path := store.Join(MessagesPath, threadID)
	err := f.slot.Attach(ctx, path, func(snap store.Snapshot) {
		f.render(threadID, snap)
	})
	if err != nil {
		f.mu.Lock()
		if f.thread == threadID {
			f.thread = ""
		}
		f.mu.Unlock()
		return fmt.Errorf("open thread %s: %w", threadID, err)
	}
	return nil
}

// Close stops following the current thread and flushes the scroll offset.
func (f *Feed) Close() {
	f.slot.Detach()
	f.mu.Lock()
	f.thread = ""
	f.gen++
	f.mu.Unlock()
	f.Flush()
}

// Send posts body to the open thread. It returns the new message key, or
// "" when there is nothing to send.
func (f *Feed) Send(ctx context.Context, body string) (string, error) {
	f.mu.Lock()
	thread, viewer := f.thread, f.viewer
	f.mu.Unlock()
	if thread == "" || viewer == nil {
		return "", nil
	}

	clean := Sanitize(body)
	if PlainText(clean) == "" {
		return "", nil
	}

	key := f.store.NewKey()
	msg := Message{
		AuthorIcon: viewer.AvatarURL,
		AuthorName: viewer.DisplayName,
		Date:       f.now().Format(f.dateFormat),
		HTML:       clean,
		LikeCount:  0,
		UID:        viewer.ID,
	}
	if err := f.store.Set(ctx, store.Join(MessagesPath, thread, key), msg); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return key, nil
}

// ToggleLike flips the viewer's like on messageID and adjusts its count in
// the same write. It returns the new like state.
func (f *Feed) ToggleLike(ctx context.Context, messageID string) (bool, error) {
	f.mu.Lock()
	thread, viewer := f.thread, f.viewer
	f.mu.Unlock()
	if thread == "" || viewer == nil || messageID == "" {
		return false, nil
	}

	var liked bool
	err := f.store.Update(ctx, "", map[string]any{
		store.Join(LikesPath, messageID, viewer.ID): store.Toggle{
			Counter: store.Join(MessagesPath, thread, messageID, "likeCount"),
			Result:  &liked,
		},
	})
	if err != nil {
		return false, fmt.Errorf("toggle like: %w", err)
	}
	return liked, nil
}

// Delete removes messageID and its likes. Only the author may delete.
func (f *Feed) Delete(ctx context.Context, messageID string) error {
	f.mu.Lock()
	thread, viewer := f.thread, f.viewer
	f.mu.Unlock()
	if thread == "" || viewer == nil || messageID == "" {
		return nil
	}

	path := store.Join(MessagesPath, thread, messageID)
	node, err := f.store.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if !node.Exists {
		return ErrNotFound
	}
	var msg Message
	if err := node.Decode(&msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if msg.UID == "" || msg.UID != viewer.ID {
		return ErrNotAuthor
	}

	err = f.store.Update(ctx, "", map[string]any{
		path:                             nil,
		store.Join(LikesPath, messageID): nil,
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// SaveScroll records the scroll offset. Writes are debounced; Flush forces
// the pending one out.
func (f *Feed) SaveScroll(offset int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scroll = &offset
	if f.scrollDelay <= 0 {
		f.flushLocked()
		return
	}
	if f.scrollTimer != nil {
		f.scrollTimer.Stop()
	}
	f.scrollTimer = time.AfterFunc(f.scrollDelay, f.Flush)
}

func (f *Feed) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scrollTimer != nil {
		f.scrollTimer.Stop()
		f.scrollTimer = nil
	}
	f.flushLocked()
}

func (f *Feed) flushLocked() {
	if f.scroll == nil {
		return
	}
	offset := *f.scroll
	f.scroll = nil
	if err := f.prefs.Set(prefs.KeyScroll, strconv.Itoa(offset)); err != nil {
		f.log.Warn().Err(err).Msg("failed to persist scroll offset")
	}
}

func (f *Feed) savedScroll() (int, bool) {
	f.mu.Lock()
	pending := f.scroll
	f.mu.Unlock()
	if pending != nil {
		return *pending, true
	}
	v, ok := f.prefs.Get(prefs.KeyScroll)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (f *Feed) render(threadID string, snap store.Snapshot) {
	f.viewMu.Lock()
	defer f.viewMu.Unlock()

	f.mu.Lock()
	if f.thread != threadID {
		f.mu.Unlock()
		return
	}
	f.gen++
	gen := f.gen
	viewer := f.viewer
	f.mu.Unlock()

	items := make([]Item, 0, snap.Len())
	for _, c := range snap.Children {
		var msg Message
		if err := c.Decode(&msg); err != nil {
			f.log.Warn().Err(err).Str("message", c.Key).Msg("skipping malformed message")
			continue
		}
		msg.ID = c.Key
		msg.HTML = Sanitize(msg.HTML)
		items = append(items, Item{
			Message:   msg,
			Text:      PlainText(msg.HTML),
			Deletable: viewer != nil && msg.UID != "" && msg.UID == viewer.ID,
		})
	}

	f.view.RenderMessages(threadID, items)
	if offset, ok := f.savedScroll(); ok {
		f.view.RestoreScroll(offset)
	}

	if viewer != nil && len(items) > 0 {
		go f.probe(gen, viewer.ID, items)
	}
}

// probe looks up the viewer's like flag for every rendered message and
// marks the liked ones, unless a newer render has replaced the list.
func (f *Feed) probe(gen uint64, uid string, items []Item) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.probeLimit)
	for _, it := range items {
		id := it.ID
		g.Go(func() error {
			liked, err := f.liked(ctx, id, uid)
			if err != nil {
				return err
			}
			if liked {
				f.mark(gen, id)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		f.log.Warn().Err(err).Msg("like lookup failed")
	}
}

// mark applies a like mark unless a newer render has replaced the list.
func (f *Feed) mark(gen uint64, messageID string) {
	f.viewMu.Lock()
	defer f.viewMu.Unlock()
	if f.current(gen) {
		f.view.MarkLiked(messageID, true)
	}
}

func (f *Feed) current(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen == gen
}

func (f *Feed) liked(ctx context.Context, messageID, uid string) (bool, error) {
	node, err := f.store.Get(ctx, store.Join(LikesPath, messageID, uid))
	if err != nil {
		return false, fmt.Errorf("load like: %w", err)
	}
	if !node.Exists {
		return false, nil
	}
	var v bool
	if err := node.Decode(&v); err != nil {
		return false, nil
	}
	return v, nil
}
