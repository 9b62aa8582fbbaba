// Package session drives a single media call: capture local devices, join
// a room, publish, mirror remote publications onto tiles and tear it all
// down again.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Phase int

const (
	Idle Phase = iota
	Joining
	Live
	Leaving
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case Live:
		return "live"
	case Leaving:
		return "leaving"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Local preview sources.
const (
	PreviewCamera = "camera"
	PreviewScreen = "screen"
)

// State is a point-in-time copy of the controller.
type State struct {
	Phase      Phase
	Room       string
	MemberID   string
	AudioMuted bool
	VideoMuted bool
	Sharing    bool
	Preview    string
	Tiles      []Tile
	// Err is the reason the last join or share attempt failed.
	Err error
}

const DefaultTimeout = 15 * time.Second

type Option func(*Controller)

// WithTimeout bounds every individual SDK call.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller owns the one call this client can be in.
//
// Transitions hold op for their whole duration. User actions (Join and the
// toggles) give up with ErrBusy when op is taken; Leave, ForceLeave and the
// automatic share revert wait for it.
type Controller struct {
	capture Capturer
	connect Connector
	timeout time.Duration
	log     zerolog.Logger

	op sync.Mutex

	mu         sync.Mutex
	phase      Phase
	gen        uint64
	sess       *call
	tiles      *TileSet
	err        error
	cancelJoin context.CancelFunc
	watchers   map[int]func(State)
	nextWatch  int
}

type call struct {
	room   Room
	member LocalMember

	audio, video       LocalStream
	audioPub, videoPub LocalPublication
	display            LocalStream

	audioMuted       bool
	videoMuted       bool
	mutedBeforeShare bool

	retired map[string]bool
	cancels []func()
}

func NewController(capture Capturer, connect Connector, opts ...Option) *Controller {
	c := &Controller{
		capture:  capture,
		connect:  connect,
		timeout:  DefaultTimeout,
		log:      zerolog.Nop(),
		tiles:    NewTileSet(),
		watchers: map[int]func(State){},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// OnChange calls fn with a fresh State after every change. The returned
// func unregisters it.
func (c *Controller) OnChange(fn func(State)) (cancel func()) {
	c.mu.Lock()
	c.nextWatch++
	id := c.nextWatch
	c.watchers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// Join enters room. A blank room name is ignored.
func (c *Controller) Join(ctx context.Context, room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return nil
	}
	if !c.op.TryLock() {
		return ErrBusy
	}
	defer c.op.Unlock()

	c.mu.Lock()
	if c.phase != Idle {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelJoin = cancel
	c.phase = Joining
	c.err = nil
	c.gen++
	gen := c.gen
	c.sess = &call{retired: map[string]bool{}}
	c.mu.Unlock()
	c.notify()

	err := c.join(ctx, gen, room)

	c.mu.Lock()
	c.cancelJoin = nil
	c.mu.Unlock()

	if err != nil {
		cause := err
		if errors.Is(err, context.Canceled) {
			cause = nil
		} else {
			c.log.Error().Err(err).Str("room", room).Msg("join failed")
		}
		_ = c.teardown(context.WithoutCancel(ctx), cause)
		return err
	}
	return nil
}

func (c *Controller) join(ctx context.Context, gen uint64, name string) error {
	s := c.sess

	type pair struct{ audio, video LocalStream }
	media, err := await(c, ctx, "capture", func(ctx context.Context) (pair, error) {
		a, v, err := c.capture.CaptureMicrophoneAndCamera(ctx)
		return pair{a, v}, err
	}, func(p pair) { closeStreams(p.audio, p.video) })
	if err != nil {
		if !errors.Is(err, ErrMediaUnavailable) && !errors.Is(err, context.Canceled) {
			err = WrapError("capture", fmt.Errorf("%w: %w", ErrMediaUnavailable, err), "")
		}
		return err
	}
	c.mu.Lock()
	s.audio, s.video = media.audio, media.video
	c.mu.Unlock()

	room, err := await(c, ctx, "find room", func(ctx context.Context) (Room, error) {
		return c.connect.FindOrCreate(ctx, name)
	}, func(r Room) { _ = r.Dispose(context.Background()) })
	if err != nil {
		return err
	}
	c.mu.Lock()
	s.room = room
	c.mu.Unlock()

	member, err := await(c, ctx, "join", room.Join, func(m LocalMember) { _ = m.Leave(context.Background()) })
	if err != nil {
		return err
	}
	c.mu.Lock()
	s.member = member
	c.mu.Unlock()

	unpublish := func(p LocalPublication) { _ = p.Disable(context.Background()) }
	audioPub, err := await(c, ctx, "publish audio", func(ctx context.Context) (LocalPublication, error) {
		return member.Publish(ctx, media.audio)
	}, unpublish)
	if err != nil {
		return err
	}
	c.mu.Lock()
	s.audioPub = audioPub
	c.mu.Unlock()

	videoPub, err := await(c, ctx, "publish video", func(ctx context.Context) (LocalPublication, error) {
		return member.Publish(ctx, media.video)
	}, unpublish)
	if err != nil {
		return err
	}
	c.mu.Lock()
	s.videoPub = videoPub
	c.mu.Unlock()

	cancels := []func(){
		room.OnStreamPublished(func(p RemotePublication) { go c.published(gen, p) }),
		room.OnStreamUnpublished(func(p RemotePublication) { go c.unpublished(gen, p) }),
		room.OnStreamEnabled(func(p RemotePublication, enabled bool) { c.enabled(gen, p, enabled) }),
	}

	c.mu.Lock()
	s.cancels = cancels
	c.mu.Unlock()

	for _, p := range room.Publications() {
		c.published(gen, p)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return NewError("join", context.Canceled)
	}
	c.phase = Live
	c.mu.Unlock()
	c.notify()
	return nil
}

// Leave exits the call, waiting for any transition in flight.
func (c *Controller) Leave(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()
	if phase != Live {
		return ErrNotLive
	}
	return c.teardown(ctx, nil)
}

// ForceLeave ends the call whatever it is doing, aborting a join in
// progress. It is a no-op when idle.
func (c *Controller) ForceLeave(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelJoin != nil {
		c.cancelJoin()
	}
	c.mu.Unlock()

	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()
	if phase == Idle {
		return nil
	}
	if err := c.teardown(ctx, nil); err != nil {
		c.log.Warn().Err(err).Msg("forced leave finished with errors")
	}
	return nil
}

// ToggleAudio mutes or unmutes the microphone and returns the new muted state.
func (c *Controller) ToggleAudio(ctx context.Context) (bool, error) {
	if !c.op.TryLock() {
		return false, ErrBusy
	}
	defer c.op.Unlock()

	s, err := c.live()
	if err != nil {
		return false, err
	}
	muted := !s.audioMuted
	if err := c.setEnabled(ctx, "toggle audio", s.audioPub, !muted); err != nil {
		return s.audioMuted, err
	}
	c.mu.Lock()
	s.audioMuted = muted
	c.mu.Unlock()
	c.notify()
	return muted, nil
}

// ToggleVideo mutes or unmutes the video publication, which carries the
// display while sharing.
func (c *Controller) ToggleVideo(ctx context.Context) (bool, error) {
	if !c.op.TryLock() {
		return false, ErrBusy
	}
	defer c.op.Unlock()

	s, err := c.live()
	if err != nil {
		return false, err
	}
	muted := !s.videoMuted
	if err := c.setEnabled(ctx, "toggle video", s.videoPub, !muted); err != nil {
		return s.videoMuted, err
	}
	c.mu.Lock()
	s.videoMuted = muted
	c.mu.Unlock()
	c.notify()
	return muted, nil
}

// StartScreenShare replaces the camera on the video publication with a
// captured display. The audio publication is untouched.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	if !c.op.TryLock() {
		return ErrBusy
	}
	defer c.op.Unlock()

	s, err := c.live()
	if err != nil {
		return err
	}
	if s.display != nil {
		return nil
	}

	display, err := await(c, ctx, "capture display", c.capture.CaptureDisplay, func(d LocalStream) { _ = d.Close() })
	if err != nil {
		if !errors.Is(err, ErrMediaUnavailable) {
			err = WrapError("capture display", fmt.Errorf("%w: %w", ErrMediaUnavailable, err), "")
		}
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		c.notify()
		return err
	}

	if err := c.run(ctx, "share screen", func(ctx context.Context) error {
		return s.videoPub.ReplaceStream(ctx, display)
	}); err != nil {
		_ = display.Close()
		return err
	}
	if s.videoMuted {
		if err := c.setEnabled(ctx, "share screen", s.videoPub, true); err != nil {
			c.log.Warn().Err(err).Msg("failed to enable video for screen share")
		}
	}

	c.mu.Lock()
	gen := c.gen
	s.mutedBeforeShare = s.videoMuted
	s.videoMuted = false
	s.display = display
	c.err = nil
	c.mu.Unlock()

	display.OnEnded(func() { go c.displayEnded(gen, display) })
	c.notify()
	return nil
}

// StopScreenShare puts the camera back on the video publication.
func (c *Controller) StopScreenShare(ctx context.Context) error {
	if !c.op.TryLock() {
		return ErrBusy
	}
	defer c.op.Unlock()

	s, err := c.live()
	if err != nil {
		return err
	}
	return c.revertShare(ctx, s)
}

// displayEnded handles the display source stopping on its own. It takes
// the same path as StopScreenShare.
func (c *Controller) displayEnded(gen uint64, display LocalStream) {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	s := c.sess
	stale := c.gen != gen || c.phase != Live || s == nil || s.display != display
	c.mu.Unlock()
	if stale {
		return
	}
	if err := c.revertShare(context.Background(), s); err != nil {
		c.log.Error().Err(err).Msg("failed to stop screen share")
	}
}

// revertShare requires op to be held.
func (c *Controller) revertShare(ctx context.Context, s *call) error {
	c.mu.Lock()
	display := s.display
	c.mu.Unlock()
	if display == nil {
		return nil
	}

	if err := c.run(ctx, "stop screen share", func(ctx context.Context) error {
		return s.videoPub.ReplaceStream(ctx, s.video)
	}); err != nil {
		return err
	}

	c.mu.Lock()
	restore := s.mutedBeforeShare
	current := s.videoMuted
	c.mu.Unlock()

	var errs []error
	if restore != current {
		if err := c.setEnabled(ctx, "stop screen share", s.videoPub, !restore); err != nil {
			errs = append(errs, err)
		}
	}

	if err := display.Close(); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	s.videoMuted = restore
	s.display = nil
	c.mu.Unlock()
	c.notify()
	return errors.Join(errs...)
}

// teardown requires op to be held. It always ends in Idle.
func (c *Controller) teardown(ctx context.Context, cause error) error {
	c.mu.Lock()
	s := c.sess
	c.phase = Leaving
	c.gen++
	c.mu.Unlock()
	c.notify()

	var errs []error
	if s != nil {
		for _, cancel := range s.cancels {
			cancel()
		}
		for _, pub := range []LocalPublication{s.audioPub, s.videoPub} {
			if pub == nil {
				continue
			}
			if err := c.run(ctx, "disable", pub.Disable); err != nil {
				errs = append(errs, err)
			}
		}
		if s.member != nil {
			if err := c.run(ctx, "leave", s.member.Leave); err != nil {
				errs = append(errs, err)
			}
		}
		if s.room != nil {
			if err := c.run(ctx, "dispose", s.room.Dispose); err != nil {
				errs = append(errs, err)
			}
		}
		if err := closeStreams(s.display, s.video, s.audio); err != nil {
			errs = append(errs, err)
		}
	}
	for _, el := range c.tiles.Clear() {
		if el.Stream != nil {
			if err := el.Stream.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	c.mu.Lock()
	c.phase = Idle
	c.sess = nil
	c.err = cause
	c.mu.Unlock()
	c.notify()

	if len(errs) > 0 {
		return WrapError("leave", errors.Join(errs...), "")
	}
	return nil
}

func (c *Controller) published(gen uint64, p RemotePublication) {
	c.mu.Lock()
	s := c.sess
	ok := c.gen == gen && s != nil && s.member != nil && (c.phase == Joining || c.phase == Live)
	c.mu.Unlock()
	if !ok || p.PublisherID == s.member.ID() {
		return
	}

	stream, err := await(c, context.Background(), "subscribe", func(ctx context.Context) (RemoteStream, error) {
		return s.member.Subscribe(ctx, p.ID)
	}, func(r RemoteStream) { _ = r.Close() })
	if err != nil {
		c.log.Warn().Err(err).Str("publication", p.ID).Msg("subscribe failed")
		return
	}

	c.mu.Lock()
	if c.gen != gen || s.retired[p.ID] {
		c.mu.Unlock()
		_ = stream.Close()
		return
	}
	attached := c.tiles.Attach(p.PublisherID, p.PublisherName, Element{
		PublicationID: p.ID,
		Kind:          p.Kind,
		Stream:        stream,
	})
	c.mu.Unlock()

	if !attached {
		_ = stream.Close()
		return
	}
	c.notify()
}

func (c *Controller) unpublished(gen uint64, p RemotePublication) {
	c.mu.Lock()
	if c.gen != gen || c.sess == nil {
		c.mu.Unlock()
		return
	}
	el, ok := c.tiles.Detach(p.ID)
	if !ok {
		c.sess.retired[p.ID] = true
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	if el.Stream != nil {
		_ = el.Stream.Close()
	}
	c.notify()
}

func (c *Controller) enabled(gen uint64, p RemotePublication, enabled bool) {
	c.mu.Lock()
	changed := c.gen == gen && c.tiles.SetPaused(p.ID, !enabled)
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Controller) live() (*call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Live || c.sess == nil {
		return nil, ErrNotLive
	}
	return c.sess, nil
}

func (c *Controller) setEnabled(ctx context.Context, op string, pub LocalPublication, enabled bool) error {
	if enabled {
		return c.run(ctx, op, pub.Enable)
	}
	return c.run(ctx, op, pub.Disable)
}

func (c *Controller) run(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := await(c, ctx, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, nil)
	return err
}

// await runs fn with the controller's timeout. If the deadline passes
// first, await returns ErrTimeout and hands any late result to discard.
func await[T any](c *Controller, ctx context.Context, op string, fn func(context.Context) (T, error), discard func(T)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		cancel()
		if r.err != nil {
			var se *Error
			if errors.As(r.err, &se) {
				return zero, r.err
			}
			return zero, NewError(op, r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		err := ctx.Err()
		go func() {
			defer cancel()
			r := <-done
			if r.err == nil && discard != nil {
				discard(r.v)
			}
		}()
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, NewError(op, ErrTimeout)
		}
		return zero, NewError(op, err)
	}
}

func closeStreams(streams ...LocalStream) error {
	var errs []error
	for _, s := range streams {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) stateLocked() State {
	st := State{Phase: c.phase, Err: c.err, Tiles: c.tiles.Snapshot()}
	if s := c.sess; s != nil {
		if s.room != nil {
			st.Room = s.room.Name()
		}
		if s.member != nil {
			st.MemberID = s.member.ID()
		}
		st.AudioMuted = s.audioMuted
		st.VideoMuted = s.videoMuted
		st.Sharing = s.display != nil
		if s.video != nil {
			st.Preview = PreviewCamera
		}
		if st.Sharing {
			st.Preview = PreviewScreen
		}
	}
	return st
}

func (c *Controller) notify() {
	c.mu.Lock()
	st := c.stateLocked()
	fns := make([]func(State), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
