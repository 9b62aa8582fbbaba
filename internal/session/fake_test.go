package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

type fakeStream struct {
	kind   Kind
	name   string
	closed atomic.Bool

	mu    sync.Mutex
	ended func()
}

func (s *fakeStream) Kind() Kind { return s.kind }

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeStream) OnEnded(fn func()) {
	s.mu.Lock()
	s.ended = fn
	s.mu.Unlock()
}

// End simulates the source stopping by itself.
func (s *fakeStream) End() {
	s.mu.Lock()
	fn := s.ended
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeRemote struct {
	kind   Kind
	closed atomic.Bool
}

func (r *fakeRemote) Kind() Kind { return r.kind }

func (r *fakeRemote) Close() error {
	r.closed.Store(true)
	return nil
}

type fakePub struct {
	id string

	mu      sync.Mutex
	enabled bool
	stream  LocalStream
}

func (p *fakePub) ID() string { return p.id }

func (p *fakePub) Enable(context.Context) error {
	p.mu.Lock()
	p.enabled = true
	p.mu.Unlock()
	return nil
}

func (p *fakePub) Disable(context.Context) error {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
	return nil
}

func (p *fakePub) ReplaceStream(_ context.Context, s LocalStream) error {
	p.mu.Lock()
	p.stream = s
	p.mu.Unlock()
	return nil
}

func (p *fakePub) current() (LocalStream, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream, p.enabled
}

type fakeMember struct {
	id        string
	// failAfter makes Publish fail once this many publications exist.
	failAfter int

	mu      sync.Mutex
	pubs    []*fakePub
	remotes []*fakeRemote
	left    bool
}

func (m *fakeMember) ID() string { return m.id }

func (m *fakeMember) Publish(_ context.Context, s LocalStream) (LocalPublication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAfter > 0 && len(m.pubs) >= m.failAfter {
		return nil, errors.New("publish rejected")
	}
	p := &fakePub{id: fmt.Sprintf("%s-pub-%d", m.id, len(m.pubs)), enabled: true, stream: s}
	m.pubs = append(m.pubs, p)
	return p, nil
}

func (m *fakeMember) Unpublish(context.Context, LocalPublication) error { return nil }

func (m *fakeMember) Subscribe(_ context.Context, publicationID string) (RemoteStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &fakeRemote{kind: KindVideo}
	m.remotes = append(m.remotes, r)
	return r, nil
}

func (m *fakeMember) Leave(context.Context) error {
	m.mu.Lock()
	m.left = true
	m.mu.Unlock()
	return nil
}

func (m *fakeMember) videoPub() *fakePub {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pubs[1]
}

type fakeRoom struct {
	name   string
	member *fakeMember

	mu          sync.Mutex
	pubs        []RemotePublication
	onPublish   map[int]func(RemotePublication)
	onUnpublish map[int]func(RemotePublication)
	onEnabled   map[int]func(RemotePublication, bool)
	next        int
	disposed    bool
}

func newFakeRoom(name string, pubs ...RemotePublication) *fakeRoom {
	return &fakeRoom{
		name:        name,
		member:      &fakeMember{id: "me"},
		pubs:        pubs,
		onPublish:   map[int]func(RemotePublication){},
		onUnpublish: map[int]func(RemotePublication){},
		onEnabled:   map[int]func(RemotePublication, bool){},
	}
}

func (r *fakeRoom) Name() string { return r.name }

func (r *fakeRoom) Join(context.Context) (LocalMember, error) { return r.member, nil }

func (r *fakeRoom) Publications() []RemotePublication {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemotePublication(nil), r.pubs...)
}

func (r *fakeRoom) OnStreamPublished(fn func(RemotePublication)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	r.onPublish[id] = fn
	return func() { r.mu.Lock(); delete(r.onPublish, id); r.mu.Unlock() }
}

func (r *fakeRoom) OnStreamUnpublished(fn func(RemotePublication)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	r.onUnpublish[id] = fn
	return func() { r.mu.Lock(); delete(r.onUnpublish, id); r.mu.Unlock() }
}

func (r *fakeRoom) OnStreamEnabled(fn func(RemotePublication, bool)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	r.onEnabled[id] = fn
	return func() { r.mu.Lock(); delete(r.onEnabled, id); r.mu.Unlock() }
}

func (r *fakeRoom) Dispose(context.Context) error {
	r.mu.Lock()
	r.disposed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeRoom) publish(p RemotePublication) {
	r.mu.Lock()
	r.pubs = append(r.pubs, p)
	fns := make([]func(RemotePublication), 0, len(r.onPublish))
	for _, fn := range r.onPublish {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (r *fakeRoom) unpublish(p RemotePublication) {
	r.mu.Lock()
	fns := make([]func(RemotePublication), 0, len(r.onUnpublish))
	for _, fn := range r.onUnpublish {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (r *fakeRoom) setEnabled(p RemotePublication, enabled bool) {
	r.mu.Lock()
	fns := make([]func(RemotePublication, bool), 0, len(r.onEnabled))
	for _, fn := range r.onEnabled {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(p, enabled)
	}
}

func (r *fakeRoom) handlerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.onPublish) + len(r.onUnpublish) + len(r.onEnabled)
}

type fakeConnector struct {
	room *fakeRoom
	// block makes FindOrCreate hang until closed, ignoring ctx.
	block chan struct{}
}

func (c *fakeConnector) FindOrCreate(_ context.Context, name string) (Room, error) {
	if c.block != nil {
		<-c.block
		return nil, errors.New("unblocked")
	}
	c.room.name = name
	return c.room, nil
}

type fakeCapturer struct {
	err     error
	gate    chan struct{}
	entered chan struct{}

	mu      sync.Mutex
	audio   *fakeStream
	video   *fakeStream
	display *fakeStream
}

func (c *fakeCapturer) CaptureMicrophoneAndCamera(ctx context.Context) (LocalStream, LocalStream, error) {
	if c.entered != nil {
		close(c.entered)
	}
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, nil, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = &fakeStream{kind: KindAudio, name: "mic"}
	c.video = &fakeStream{kind: KindVideo, name: "camera"}
	return c.audio, c.video, nil
}

func (c *fakeCapturer) CaptureDisplay(context.Context) (LocalStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.display = &fakeStream{kind: KindVideo, name: "display"}
	return c.display, nil
}

func (c *fakeCapturer) streams() (audio, video, display *fakeStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio, c.video, c.display
}
