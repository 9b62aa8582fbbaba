package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/BioHazard786/roomline/internal/config"
	"github.com/BioHazard786/roomline/internal/session"
	"github.com/BioHazard786/roomline/internal/signaling"
)

var ErrDisposed = errors.New("room disposed")

// Room is a resolved room on the hub. It drains the signaling handler for
// as long as the connection lives.
type Room struct {
	name    string
	cfg     *config.Config
	client  *signaling.Client
	handler *signaling.Handler
	display string
	log     zerolog.Logger

	mu          sync.Mutex
	pubs        map[string]session.RemotePublication
	order       []string
	member      *Member
	nextHandler int
	published   map[int]func(session.RemotePublication)
	unpublished map[int]func(session.RemotePublication)
	enabled     map[int]func(session.RemotePublication, bool)
	offers      map[string]chan signaling.SignalPayload
	early       map[string]signaling.SignalPayload
	disposed    bool
}

func newRoom(name string, cfg *config.Config, client *signaling.Client, handler *signaling.Handler, display string, logger zerolog.Logger) *Room {
	return &Room{
		name:        name,
		cfg:         cfg,
		client:      client,
		handler:     handler,
		display:     display,
		log:         logger,
		pubs:        map[string]session.RemotePublication{},
		published:   map[int]func(session.RemotePublication){},
		unpublished: map[int]func(session.RemotePublication){},
		enabled:     map[int]func(session.RemotePublication, bool){},
		offers:      map[string]chan signaling.SignalPayload{},
		early:       map[string]signaling.SignalPayload{},
	}
}

func (r *Room) Name() string { return r.name }

func (r *Room) Join(ctx context.Context) (session.LocalMember, error) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil, ErrDisposed
	}
	if r.member != nil {
		r.mu.Unlock()
		return nil, session.ErrAlreadyJoined
	}
	r.mu.Unlock()

	msg, err := signaling.NewMessage(signaling.MessageTypeJoin, signaling.JoinPayload{Name: r.display})
	if err != nil {
		return nil, err
	}
	msg.Room = r.name

	reply, err := r.handler.Request(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("join %q: %w", r.name, err)
	}
	var joined signaling.JoinedPayload
	if err := reply.Decode(&joined); err != nil {
		return nil, err
	}

	m := newMember(r, reply.MemberID, joined.Name)

	r.mu.Lock()
	r.member = m
	for _, info := range joined.Publications {
		r.addPublication(info)
	}
	r.mu.Unlock()

	r.log.Info().Str("member", m.id).Str("name", m.name).Msg("joined room")
	return m, nil
}

// Publications lists what other members currently publish.
func (r *Room) Publications() []session.RemotePublication {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]session.RemotePublication, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.pubs[id])
	}
	return out
}

func (r *Room) OnStreamPublished(fn func(session.RemotePublication)) func() {
	return r.on(func(id int) { r.published[id] = fn }, func(id int) { delete(r.published, id) })
}

func (r *Room) OnStreamUnpublished(fn func(session.RemotePublication)) func() {
	return r.on(func(id int) { r.unpublished[id] = fn }, func(id int) { delete(r.unpublished, id) })
}

func (r *Room) OnStreamEnabled(fn func(session.RemotePublication, bool)) func() {
	return r.on(func(id int) { r.enabled[id] = fn }, func(id int) { delete(r.enabled, id) })
}

func (r *Room) on(add, remove func(id int)) func() {
	r.mu.Lock()
	id := r.nextHandler
	r.nextHandler++
	add(id)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		remove(id)
		r.mu.Unlock()
	}
}

// Dispose closes every peer connection and the hub connection.
func (r *Room) Dispose(ctx context.Context) error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	m := r.member
	r.member = nil
	clear(r.early)
	r.mu.Unlock()

	var err error
	if m != nil {
		err = m.closePeers()
	}
	r.client.Close()

	select {
	case <-r.handler.Done():
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (r *Room) pump() {
	for {
		select {
		case <-r.handler.Done():
			r.log.Debug().Msg("signaling connection ended")
			return

		case info := <-r.handler.StreamPublished:
			r.mu.Lock()
			pub := r.addPublication(info)
			fns := snapshot(r.published)
			r.mu.Unlock()
			for _, fn := range fns {
				fn(pub)
			}

		case info := <-r.handler.StreamUnpublished:
			r.mu.Lock()
			pub, ok := r.removePublication(info.ID)
			fns := snapshot(r.unpublished)
			r.mu.Unlock()
			if !ok {
				pub = remotePublication(info)
			}
			for _, fn := range fns {
				fn(pub)
			}

		case info := <-r.handler.StreamEnabled:
			r.mu.Lock()
			fns := make([]func(session.RemotePublication, bool), 0, len(r.enabled))
			for _, fn := range r.enabled {
				fns = append(fns, fn)
			}
			r.mu.Unlock()
			for _, fn := range fns {
				fn(remotePublication(info), info.Enabled)
			}

		case msg := <-r.handler.MemberJoined:
			r.log.Debug().Str("member", msg.MemberID).Msg("member joined")

		case msg := <-r.handler.MemberLeft:
			r.log.Debug().Str("member", msg.MemberID).Msg("member left")

		case msg := <-r.handler.Subscribe:
			if m := r.currentMember(); m != nil {
				go m.serve(msg)
			}

		case msg := <-r.handler.Signal:
			r.signal(msg)

		case text := <-r.handler.Error:
			r.log.Warn().Str("error", text).Msg("signaling error")
		}
	}
}

func (r *Room) signal(msg *signaling.Message) {
	var p signaling.SignalPayload
	if err := msg.Decode(&p); err != nil {
		r.log.Warn().Err(err).Msg("bad signal")
		return
	}

	if p.Type == "offer" {
		r.mu.Lock()
		ch, ok := r.offers[p.SubscriptionID]
		if ok {
			delete(r.offers, p.SubscriptionID)
		} else if r.member != nil {
			r.early[p.SubscriptionID] = p
		}
		r.mu.Unlock()
		if ok {
			ch <- p
		}
		return
	}

	m := r.currentMember()
	if m == nil {
		return
	}
	if err := m.answered(p); err != nil {
		r.log.Warn().Err(err).Str("subscription", p.SubscriptionID).Msg("failed to apply answer")
	}
}

// awaitOffer waits for the publisher's offer for a subscription.
func (r *Room) awaitOffer(ctx context.Context, subscriptionID string) (signaling.SignalPayload, error) {
	r.mu.Lock()
	if p, ok := r.early[subscriptionID]; ok {
		delete(r.early, subscriptionID)
		r.mu.Unlock()
		return p, nil
	}
	ch := make(chan signaling.SignalPayload, 1)
	r.offers[subscriptionID] = ch
	r.mu.Unlock()

	select {
	case p := <-ch:
		return p, nil
	case <-r.handler.Done():
		r.dropOffer(subscriptionID)
		return signaling.SignalPayload{}, signaling.ErrClosed
	case <-ctx.Done():
		r.dropOffer(subscriptionID)
		return signaling.SignalPayload{}, ctx.Err()
	}
}

func (r *Room) dropOffer(subscriptionID string) {
	r.mu.Lock()
	delete(r.offers, subscriptionID)
	delete(r.early, subscriptionID)
	r.mu.Unlock()
}

func (r *Room) currentMember() *Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.member
}

func (r *Room) left(m *Member) {
	r.mu.Lock()
	if r.member == m {
		r.member = nil
		r.pubs = map[string]session.RemotePublication{}
		r.order = nil
		clear(r.early)
	}
	r.mu.Unlock()
}

// addPublication requires mu.
func (r *Room) addPublication(info signaling.PublicationInfo) session.RemotePublication {
	pub := remotePublication(info)
	if _, ok := r.pubs[pub.ID]; !ok {
		r.order = append(r.order, pub.ID)
	}
	r.pubs[pub.ID] = pub
	return pub
}

// removePublication requires mu.
func (r *Room) removePublication(id string) (session.RemotePublication, bool) {
	pub, ok := r.pubs[id]
	if !ok {
		return session.RemotePublication{}, false
	}
	delete(r.pubs, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return pub, true
}

func remotePublication(info signaling.PublicationInfo) session.RemotePublication {
	return session.RemotePublication{
		ID:            info.ID,
		PublisherID:   info.PublisherID,
		PublisherName: info.PublisherName,
		Kind:          session.Kind(info.Kind),
	}
}

func snapshot(m map[int]func(session.RemotePublication)) []func(session.RemotePublication) {
	fns := make([]func(session.RemotePublication), 0, len(m))
	for _, fn := range m {
		fns = append(fns, fn)
	}
	return fns
}
