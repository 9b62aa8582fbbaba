package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/BioHazard786/roomline/internal/session"
	"github.com/BioHazard786/roomline/internal/signaling"
)

// negotiateTimeout bounds the publisher side of a subscription, which runs
// outside any caller's context.
const negotiateTimeout = 30 * time.Second

var ErrUnsupportedStream = errors.New("stream was not captured by this package")

// Member is the local participant of a joined room.
type Member struct {
	room *Room
	id   string
	name string
	log  zerolog.Logger

	mu       sync.Mutex
	pubs     map[string]*Publication
	outgoing map[string]*outgoing
	incoming map[string]*Remote
	left     bool
}

// outgoing is the publisher end of one subscription.
type outgoing struct {
	pc  *webrtc.PeerConnection
	pub *Publication
}

func newMember(r *Room, id, name string) *Member {
	return &Member{
		room:     r,
		id:       id,
		name:     name,
		log:      r.log.With().Str("member", id).Logger(),
		pubs:     map[string]*Publication{},
		outgoing: map[string]*outgoing{},
		incoming: map[string]*Remote{},
	}
}

func (m *Member) ID() string { return m.id }

// Name is the display name the hub assigned.
func (m *Member) Name() string { return m.name }

func (m *Member) Publish(ctx context.Context, s session.LocalStream) (session.LocalPublication, error) {
	stream, ok := s.(*Stream)
	if !ok {
		return nil, ErrUnsupportedStream
	}

	msg, err := signaling.NewMessage(signaling.MessageTypePublish, signaling.PublishPayload{Kind: string(stream.Kind())})
	if err != nil {
		return nil, err
	}
	reply, err := m.room.handler.Request(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", stream.Kind(), err)
	}
	var info signaling.PublicationInfo
	if err := reply.Decode(&info); err != nil {
		return nil, err
	}

	pub := newPublication(m, info.ID, stream)
	m.mu.Lock()
	m.pubs[pub.id] = pub
	m.mu.Unlock()

	m.log.Debug().Str("publication", pub.id).Str("kind", string(stream.Kind())).Msg("published")
	return pub, nil
}

func (m *Member) Unpublish(ctx context.Context, p session.LocalPublication) error {
	m.mu.Lock()
	pub, ok := m.pubs[p.ID()]
	delete(m.pubs, p.ID())
	var conns []*webrtc.PeerConnection
	for id, out := range m.outgoing {
		if out.pub == pub {
			conns = append(conns, out.pc)
			delete(m.outgoing, id)
		}
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	var errs []error
	for _, pc := range conns {
		errs = append(errs, pc.Close())
	}

	msg, err := signaling.NewMessage(signaling.MessageTypeUnpublish, signaling.PublicationPayload{PublicationID: pub.id})
	if err != nil {
		return err
	}
	if _, err := m.room.handler.Request(ctx, msg); err != nil {
		errs = append(errs, fmt.Errorf("unpublish: %w", err))
	}
	return errors.Join(errs...)
}

// Subscribe asks the publisher for an offer and answers it. The returned
// stream is live once ICE connects.
func (m *Member) Subscribe(ctx context.Context, publicationID string) (session.RemoteStream, error) {
	msg, err := signaling.NewMessage(signaling.MessageTypeSubscribe, signaling.SubscribePayload{PublicationID: publicationID})
	if err != nil {
		return nil, err
	}
	reply, err := m.room.handler.Request(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	var sub signaling.SubscribePayload
	if err := reply.Decode(&sub); err != nil {
		return nil, err
	}
	publisher := reply.MemberID

	offer, err := m.room.awaitOffer(ctx, sub.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("wait for offer: %w", err)
	}

	pc, err := NewPeerConnection(m.room.cfg)
	if err != nil {
		return nil, err
	}
	kind := session.KindVideo
	m.room.mu.Lock()
	if p, ok := m.room.pubs[publicationID]; ok {
		kind = p.Kind
	}
	m.room.mu.Unlock()
	remote := newRemote(pc, kind, m.log, func() {
		m.mu.Lock()
		delete(m.incoming, sub.SubscriptionID)
		m.mu.Unlock()
	})

	sdp, err := CreateAnswer(ctx, pc, offer.SDP)
	if err != nil {
		pc.Close()
		return nil, err
	}

	answer, err := signaling.NewMessage(signaling.MessageTypeSignal, signaling.SignalPayload{
		SubscriptionID: sub.SubscriptionID,
		Type:           webrtc.SDPTypeAnswer.String(),
		SDP:            sdp,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}
	answer.Target = publisher
	if err := m.room.handler.Send(ctx, answer); err != nil {
		pc.Close()
		return nil, err
	}

	m.mu.Lock()
	m.incoming[sub.SubscriptionID] = remote
	m.mu.Unlock()
	return remote, nil
}

func (m *Member) Leave(ctx context.Context) error {
	m.mu.Lock()
	if m.left {
		m.mu.Unlock()
		return nil
	}
	m.left = true
	m.mu.Unlock()

	err := m.closePeers()
	m.room.left(m)

	if _, rerr := m.room.handler.Request(ctx, &signaling.Message{
		Type: signaling.MessageTypeLeave,
		Room: m.room.name,
	}); rerr != nil {
		err = errors.Join(err, fmt.Errorf("leave: %w", rerr))
	}
	return err
}

// serve answers a hub instruction to offer one of our publications to a
// subscriber.
func (m *Member) serve(order *signaling.Message) {
	var sub signaling.SubscribePayload
	if err := order.Decode(&sub); err != nil {
		m.log.Warn().Err(err).Msg("bad subscribe order")
		return
	}
	log := m.log.With().Str("subscription", sub.SubscriptionID).Str("subscriber", order.MemberID).Logger()

	m.mu.Lock()
	pub, ok := m.pubs[sub.PublicationID]
	left := m.left
	m.mu.Unlock()
	if !ok || left {
		log.Warn().Str("publication", sub.PublicationID).Msg("subscribe order for unknown publication")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), negotiateTimeout)
	defer cancel()

	if err := m.offer(ctx, order.MemberID, sub, pub); err != nil {
		log.Error().Err(err).Msg("failed to offer publication")
		return
	}
	log.Debug().Msg("offer sent")
}

func (m *Member) offer(ctx context.Context, subscriber string, sub signaling.SubscribePayload, pub *Publication) error {
	pc, err := NewPeerConnection(m.room.cfg)
	if err != nil {
		return err
	}

	sender, err := pc.AddTrack(pub.track())
	if err != nil {
		pc.Close()
		return fmt.Errorf("add track: %w", err)
	}
	go drainRTCP(sender)

	out := &outgoing{pc: pc, pub: pub}
	m.mu.Lock()
	if m.left {
		m.mu.Unlock()
		pc.Close()
		return ErrDisposed
	}
	m.outgoing[sub.SubscriptionID] = out
	m.mu.Unlock()
	pub.addSender(sub.SubscriptionID, sender)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			go m.dropOutgoing(sub.SubscriptionID)
		}
	})

	sdp, err := CreateOffer(ctx, pc)
	if err != nil {
		m.dropOutgoing(sub.SubscriptionID)
		return err
	}

	msg, err := signaling.NewMessage(signaling.MessageTypeSignal, signaling.SignalPayload{
		SubscriptionID: sub.SubscriptionID,
		Type:           webrtc.SDPTypeOffer.String(),
		SDP:            sdp,
	})
	if err != nil {
		m.dropOutgoing(sub.SubscriptionID)
		return err
	}
	msg.Target = subscriber
	if err := m.room.handler.Send(ctx, msg); err != nil {
		m.dropOutgoing(sub.SubscriptionID)
		return err
	}
	return nil
}

func (m *Member) answered(p signaling.SignalPayload) error {
	m.mu.Lock()
	out, ok := m.outgoing[p.SubscriptionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending offer for subscription %s", p.SubscriptionID)
	}
	return ApplyAnswer(out.pc, p)
}

func (m *Member) dropOutgoing(subscriptionID string) {
	m.mu.Lock()
	out, ok := m.outgoing[subscriptionID]
	delete(m.outgoing, subscriptionID)
	m.mu.Unlock()
	if !ok {
		return
	}
	out.pub.removeSender(subscriptionID)
	out.pc.Close()
}

// closePeers closes every peer connection the member owns.
func (m *Member) closePeers() error {
	m.mu.Lock()
	outs := m.outgoing
	ins := m.incoming
	m.outgoing = map[string]*outgoing{}
	m.incoming = map[string]*Remote{}
	m.mu.Unlock()

	var errs []error
	for id, out := range outs {
		out.pub.removeSender(id)
		errs = append(errs, out.pc.Close())
	}
	for _, in := range ins {
		errs = append(errs, in.Close())
	}
	return errors.Join(errs...)
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
