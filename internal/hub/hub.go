// Package hub is the signaling server. It keeps rooms, members and
// publications, and relays subscription offers and answers between members.
package hub

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BioHazard786/roomline/internal/signaling"
)

type envelope struct {
	client *Client
	msg    *signaling.Message
}

// Hub is the central brain of the signaling server. All room state is owned
// by the goroutine running Run.
type Hub struct {
	rooms map[string]*Room

	register  chan *Client
	leaving   chan *Client
	broadcast chan envelope
	query     chan func()
	stopped   chan struct{}

	log zerolog.Logger
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:     map[string]*Room{},
		register:  make(chan *Client),
		leaving:   make(chan *Client),
		broadcast: make(chan envelope),
		query:     make(chan func()),
		stopped:   make(chan struct{}),
		log:       logger,
	}
}

// Register hands a new connection to the hub. It reports false once the
// hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.leaving <- c:
	case <-h.stopped:
	}
}

func (h *Hub) dispatch(c *Client, msg *signaling.Message) bool {
	select {
	case h.broadcast <- envelope{client: c, msg: msg}:
		return true
	case <-h.stopped:
		return false
	}
}

// Rooms returns the member count of every room.
func (h *Hub) Rooms(ctx context.Context) (map[string]int, error) {
	out := make(chan map[string]int, 1)
	fn := func() {
		m := make(map[string]int, len(h.rooms))
		for name, r := range h.rooms {
			m[name] = len(r.Members)
		}
		out <- m
	}
	select {
	case h.query <- fn:
	case <-h.stopped:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case m := <-out:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			c.log.Debug().Msg("client registered")

		case c := <-h.leaving:
			c.log.Debug().Msg("client unregistered")
			h.leave(c)
			h.release(c)
			close(c.Send)

		case fn := <-h.query:
			fn()

		case e := <-h.broadcast:
			h.handle(e.client, e.msg)
		}
	}
}

func (h *Hub) handle(c *Client, msg *signaling.Message) {
	c.log.Debug().Str("type", msg.Type).Msg("message received")

	switch msg.Type {
	case signaling.MessageTypeFindOrCreate:
		h.findOrCreate(c, msg)
	case signaling.MessageTypeJoin:
		h.join(c, msg)
	case signaling.MessageTypePublish:
		h.publish(c, msg)
	case signaling.MessageTypeUnpublish:
		h.unpublish(c, msg)
	case signaling.MessageTypeSetEnabled:
		h.setEnabled(c, msg)
	case signaling.MessageTypeSubscribe:
		h.subscribe(c, msg)
	case signaling.MessageTypeSignal:
		h.signal(c, msg)
	case signaling.MessageTypeLeave:
		memberID := c.memberID
		if memberID == "" {
			h.fail(c, msg, "You are not in a room")
			return
		}
		h.leave(c)
		h.send(c, &signaling.Message{
			Type:      signaling.MessageTypeMemberLeft,
			RequestID: msg.RequestID,
			MemberID:  memberID,
		})
	default:
		c.log.Warn().Str("type", msg.Type).Msg("unknown message type")
		h.fail(c, msg, "Unknown message type")
	}
}

func (h *Hub) findOrCreate(c *Client, msg *signaling.Message) {
	name := strings.TrimSpace(msg.Room)
	if name == "" {
		h.fail(c, msg, "Room name is required")
		return
	}
	if c.memberID != "" {
		h.fail(c, msg, "Already in a room")
		return
	}

	room, ok := h.rooms[name]
	if !ok {
		room = newRoom(name)
		h.rooms[name] = room
		h.log.Info().Str("room", name).Msg("room created")
	}
	if c.room != room {
		h.release(c)
		c.room = room
		c.looking = true
		room.lookers++
	}

	h.send(c, &signaling.Message{
		Type:      signaling.MessageTypeRoomReady,
		RequestID: msg.RequestID,
		Room:      name,
	})
}

func (h *Hub) join(c *Client, msg *signaling.Message) {
	if c.memberID != "" {
		h.fail(c, msg, "Already in a room")
		return
	}
	room := c.room
	if room == nil || (msg.Room != "" && msg.Room != room.Name) {
		h.fail(c, msg, "Room not found")
		return
	}

	var p signaling.JoinPayload
	if len(msg.Payload) > 0 {
		if err := msg.Decode(&p); err != nil {
			h.fail(c, msg, "Invalid join payload")
			return
		}
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = guestName(room.names())
	}

	if c.looking {
		room.lookers--
		c.looking = false
	}
	c.memberID = uuid.NewString()
	c.name = name
	room.Members[c.memberID] = c
	h.log.Info().Str("room", room.Name).Str("member", c.memberID).Msg("member joined")

	joined, _ := signaling.NewMessage(signaling.MessageTypeJoined, signaling.JoinedPayload{
		Name:         name,
		Publications: room.publications(),
	})
	joined.RequestID = msg.RequestID
	joined.Room = room.Name
	joined.MemberID = c.memberID
	h.send(c, joined)

	notice, _ := signaling.NewMessage(signaling.MessageTypeMemberJoined, signaling.MemberPayload{Name: name})
	notice.Room = room.Name
	notice.MemberID = c.memberID
	h.broadcastRoom(room, c, notice)
}

func (h *Hub) publish(c *Client, msg *signaling.Message) {
	room, ok := h.member(c, msg)
	if !ok {
		return
	}
	var p signaling.PublishPayload
	if err := msg.Decode(&p); err != nil || (p.Kind != "audio" && p.Kind != "video") {
		h.fail(c, msg, "Invalid publication kind")
		return
	}

	pub := &signaling.PublicationInfo{
		ID:            uuid.NewString(),
		PublisherID:   c.memberID,
		PublisherName: c.name,
		Kind:          p.Kind,
		Enabled:       true,
	}
	room.addPublication(pub)

	reply, _ := signaling.NewMessage(signaling.MessageTypePublished, pub)
	reply.RequestID = msg.RequestID
	reply.Room = room.Name
	reply.MemberID = c.memberID
	h.send(c, reply)

	notice, _ := signaling.NewMessage(signaling.MessageTypeStreamPublished, pub)
	notice.Room = room.Name
	notice.MemberID = c.memberID
	h.broadcastRoom(room, c, notice)
}

func (h *Hub) unpublish(c *Client, msg *signaling.Message) {
	room, pub, ok := h.ownPublication(c, msg)
	if !ok {
		return
	}
	room.removePublication(pub.ID)
	h.announceUnpublished(room, c, pub, msg.RequestID)
}

func (h *Hub) setEnabled(c *Client, msg *signaling.Message) {
	room, ok := h.member(c, msg)
	if !ok {
		return
	}
	var p signaling.SetEnabledPayload
	if err := msg.Decode(&p); err != nil {
		h.fail(c, msg, "Invalid payload")
		return
	}
	pub, ok := room.Publications[p.PublicationID]
	if !ok || pub.PublisherID != c.memberID {
		h.fail(c, msg, "Publication not found")
		return
	}
	pub.Enabled = p.Enabled

	reply, _ := signaling.NewMessage(signaling.MessageTypeStreamEnabled, pub)
	reply.Room = room.Name
	reply.MemberID = c.memberID
	h.broadcastRoom(room, c, reply)

	ack := *reply
	ack.RequestID = msg.RequestID
	h.send(c, &ack)
}

func (h *Hub) subscribe(c *Client, msg *signaling.Message) {
	room, ok := h.member(c, msg)
	if !ok {
		return
	}
	var p signaling.SubscribePayload
	if err := msg.Decode(&p); err != nil {
		h.fail(c, msg, "Invalid payload")
		return
	}
	pub, ok := room.Publications[p.PublicationID]
	if !ok {
		h.fail(c, msg, "Publication not found")
		return
	}
	if pub.PublisherID == c.memberID {
		h.fail(c, msg, "Cannot subscribe to your own publication")
		return
	}
	publisher, ok := room.Members[pub.PublisherID]
	if !ok {
		h.fail(c, msg, "Publisher has left")
		return
	}

	sub := signaling.SubscribePayload{PublicationID: pub.ID, SubscriptionID: uuid.NewString()}

	offer, _ := signaling.NewMessage(signaling.MessageTypeSubscribe, sub)
	offer.Room = room.Name
	offer.MemberID = c.memberID
	h.send(publisher, offer)

	reply := *offer
	reply.RequestID = msg.RequestID
	reply.MemberID = publisher.memberID
	h.send(c, &reply)
}

func (h *Hub) signal(c *Client, msg *signaling.Message) {
	room, ok := h.member(c, msg)
	if !ok {
		return
	}
	target, ok := room.Members[msg.Target]
	if !ok || target == c {
		h.fail(c, msg, "Target is not in the room")
		return
	}
	h.send(target, &signaling.Message{
		Type:     signaling.MessageTypeSignal,
		Room:     room.Name,
		MemberID: c.memberID,
		Target:   target.memberID,
		Payload:  msg.Payload,
	})
}

// leave removes c from its room, unpublishing everything it published.
func (h *Hub) leave(c *Client) {
	room := c.room
	if room == nil || c.memberID == "" {
		return
	}

	for _, pub := range room.publications() {
		if pub.PublisherID != c.memberID {
			continue
		}
		p, _ := room.removePublication(pub.ID)
		h.announceUnpublished(room, c, p, "")
	}

	delete(room.Members, c.memberID)
	notice := &signaling.Message{
		Type:     signaling.MessageTypeMemberLeft,
		Room:     room.Name,
		MemberID: c.memberID,
	}
	h.broadcastRoom(room, c, notice)
	h.log.Info().Str("room", room.Name).Str("member", c.memberID).Msg("member left")

	c.memberID = ""
	c.name = ""
	c.room = nil
	h.gc(room)
}

// release drops c's pending lookup of a room it never joined.
func (h *Hub) release(c *Client) {
	if c.room == nil || !c.looking {
		return
	}
	room := c.room
	room.lookers--
	c.looking = false
	c.room = nil
	h.gc(room)
}

func (h *Hub) gc(room *Room) {
	if room.empty() && h.rooms[room.Name] == room {
		delete(h.rooms, room.Name)
		h.log.Info().Str("room", room.Name).Msg("room deleted")
	}
}

func (h *Hub) announceUnpublished(room *Room, from *Client, pub *signaling.PublicationInfo, requestID string) {
	notice, _ := signaling.NewMessage(signaling.MessageTypeStreamUnpublished, pub)
	notice.Room = room.Name
	notice.MemberID = from.memberID
	h.broadcastRoom(room, from, notice)

	if requestID != "" {
		ack := *notice
		ack.RequestID = requestID
		h.send(from, &ack)
	}
}

func (h *Hub) member(c *Client, msg *signaling.Message) (*Room, bool) {
	if c.memberID == "" || c.room == nil {
		h.fail(c, msg, "You must join a room first")
		return nil, false
	}
	return c.room, true
}

func (h *Hub) ownPublication(c *Client, msg *signaling.Message) (*Room, *signaling.PublicationInfo, bool) {
	room, ok := h.member(c, msg)
	if !ok {
		return nil, nil, false
	}
	var p signaling.PublicationPayload
	if err := msg.Decode(&p); err != nil {
		h.fail(c, msg, "Invalid payload")
		return nil, nil, false
	}
	pub, ok := room.Publications[p.PublicationID]
	if !ok || pub.PublisherID != c.memberID {
		h.fail(c, msg, "Publication not found")
		return nil, nil, false
	}
	return room, pub, true
}

func (h *Hub) broadcastRoom(room *Room, except *Client, msg *signaling.Message) {
	for _, m := range room.Members {
		if m != except {
			h.send(m, msg)
		}
	}
}

func (h *Hub) fail(c *Client, req *signaling.Message, text string) {
	msg, _ := signaling.NewMessage(signaling.MessageTypeError, signaling.ErrorPayload{Error: text})
	msg.RequestID = req.RequestID
	h.send(c, msg)
}

// send never blocks the hub. A client whose buffer is full is disconnected.
func (h *Hub) send(c *Client, msg *signaling.Message) {
	select {
	case c.Send <- msg:
	default:
		c.log.Warn().Str("type", msg.Type).Msg("send buffer full, dropping client")
		c.Conn.Close()
	}
}
