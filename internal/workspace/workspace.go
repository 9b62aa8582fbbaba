// Package workspace holds everything one signed-in client works with: the
// shared store, local preferences, the thread and room lists, the open
// message feed and the call.
package workspace

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BioHazard786/roomline/internal/chat"
	"github.com/BioHazard786/roomline/internal/feed"
	"github.com/BioHazard786/roomline/internal/identity"
	"github.com/BioHazard786/roomline/internal/prefs"
	"github.com/BioHazard786/roomline/internal/session"
	"github.com/BioHazard786/roomline/internal/store"
)

// Collection paths in the shared store.
const (
	ThreadsPath = "thread"
	RoomsPath   = "room"
)

// Views receives renders. Any field may be nil.
type Views struct {
	Threads  func(feed.List)
	Rooms    func(feed.List)
	Messages chat.View
	Call     func(session.State)
}

// Options are the collaborators a Workspace is built from.
type Options struct {
	Store       store.Store
	Prefs       prefs.Store
	Auth        *identity.Provider
	Capture     session.Capturer
	Connect     session.Connector
	CallTimeout time.Duration
	DateFormat  string
	Logger      zerolog.Logger
}

type Workspace struct {
	Store   store.Store
	Prefs   prefs.Store
	Auth    *identity.Provider
	Threads *feed.Projector
	Rooms   *feed.Projector
	Chat    *chat.Feed
	Call    *session.Controller

	log zerolog.Logger

	mu         sync.Mutex
	ctx        context.Context
	signedIn   bool
	cancelAuth func()
	cancelCall func()
}

func New(opts Options, views Views) *Workspace {
	w := &Workspace{
		Store: opts.Store,
		Prefs: opts.Prefs,
		Auth:  opts.Auth,
		log:   opts.Logger,
		ctx:   context.Background(),
	}

	messages := views.Messages
	if messages == nil {
		messages = nopView{}
	}
	chatOpts := []chat.Option{chat.WithLogger(opts.Logger.With().Str("component", "chat").Logger())}
	if opts.DateFormat != "" {
		chatOpts = append(chatOpts, chat.WithDateFormat(opts.DateFormat))
	}
	w.Chat = chat.NewFeed(opts.Store, opts.Prefs, messages, chatOpts...)

	w.Call = session.NewController(opts.Capture, opts.Connect,
		session.WithTimeout(opts.CallTimeout),
		session.WithLogger(opts.Logger.With().Str("component", "call").Logger()),
	)
	if views.Call != nil {
		w.cancelCall = w.Call.OnChange(views.Call)
	}

	threadOpts := []feed.Option{
		feed.WithLogger(opts.Logger.With().Str("component", "threads").Logger()),
		feed.WithOnCurrent(w.openThread),
	}
	if views.Threads != nil {
		threadOpts = append(threadOpts, feed.WithRenderer(views.Threads))
	}
	w.Threads = feed.New(opts.Store, ThreadsPath, opts.Prefs, prefs.KeyCurrentThread, threadOpts...)

	roomOpts := []feed.Option{
		feed.WithLogger(opts.Logger.With().Str("component", "rooms").Logger()),
		feed.WithOnSelect(w.roomChanged),
	}
	if views.Rooms != nil {
		roomOpts = append(roomOpts, feed.WithRenderer(views.Rooms))
	}
	w.Rooms = feed.New(opts.Store, RoomsPath, opts.Prefs, prefs.KeyCurrentRoom, roomOpts...)

	return w
}

// Start follows the identity provider. Feeds run only while someone is
// signed in.
func (w *Workspace) Start(ctx context.Context) {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	cancel := w.Auth.OnAuthStateChanged(w.authChanged)

	w.mu.Lock()
	w.cancelAuth = cancel
	w.mu.Unlock()
}

// Close ends the call, stops every feed and flushes local state.
func (w *Workspace) Close(ctx context.Context) error {
	w.mu.Lock()
	cancelAuth, cancelCall := w.cancelAuth, w.cancelCall
	w.cancelAuth, w.cancelCall = nil, nil
	w.mu.Unlock()
	if cancelAuth != nil {
		cancelAuth()
	}

	err := w.Call.ForceLeave(ctx)
	if cancelCall != nil {
		cancelCall()
	}
	w.stopFeeds()
	return err
}

// SignedIn reports whether feeds are running.
func (w *Workspace) SignedIn() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.signedIn
}

// JoinCurrentRoom joins the call named after the selected room.
func (w *Workspace) JoinCurrentRoom(ctx context.Context) error {
	if !w.SignedIn() {
		return nil
	}
	return w.Call.Join(ctx, w.Rooms.List().Header)
}

func (w *Workspace) authChanged(id *identity.Identity) {
	w.mu.Lock()
	ctx := w.ctx
	was := w.signedIn
	w.signedIn = id != nil
	w.mu.Unlock()

	w.Chat.SetViewer(id)

	if id == nil {
		if was {
			w.log.Info().Msg("signed out")
		}
		if err := w.Call.ForceLeave(ctx); err != nil {
			w.log.Warn().Err(err).Msg("leave on sign out failed")
		}
		w.stopFeeds()
		return
	}

	w.log.Info().Str("user", id.ID).Msg("signed in")
	if err := errors.Join(w.Threads.Start(ctx), w.Rooms.Start(ctx)); err != nil {
		w.log.Error().Err(err).Msg("failed to start feeds")
	}
}

func (w *Workspace) stopFeeds() {
	w.Threads.Stop()
	w.Rooms.Stop()
	w.Chat.Close()
}

// openThread keeps the message feed on the current thread. Open is a
// no-op for the thread already open, so re-renders never stack listeners.
func (w *Workspace) openThread(row feed.Row) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()

	if err := w.Chat.Open(ctx, row.Key); err != nil {
		w.log.Error().Err(err).Str("thread", row.Key).Msg("failed to open thread")
	}
}

// roomChanged ends a live call when another room is selected.
func (w *Workspace) roomChanged(prev, next string) {
	if prev == next {
		return
	}
	if w.Call.State().Phase == session.Idle {
		return
	}

	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()

	w.log.Info().Str("from", prev).Str("to", next).Msg("room changed, leaving call")
	if err := w.Call.ForceLeave(ctx); err != nil {
		w.log.Warn().Err(err).Msg("forced leave failed")
	}
}

type nopView struct{}

func (nopView) RenderMessages(string, []chat.Item) {}
func (nopView) MarkLiked(string, bool)             {}
func (nopView) RestoreScroll(int)                  {}
