package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ServerError is an error reply from the hub.
type ServerError struct {
	Op      string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Handler routes incoming signaling messages: replies go back to the
// Request that is waiting for them, everything else to the typed channels.
type Handler struct {
	client *Client

	StreamPublished   chan PublicationInfo
	StreamUnpublished chan PublicationInfo
	StreamEnabled     chan PublicationInfo
	MemberJoined      chan *Message
	MemberLeft        chan *Message
	Subscribe         chan *Message
	Signal            chan *Message
	Error             chan string

	done chan struct{}

	mu      sync.Mutex
	pending map[string]chan *Message
	closed  bool
}

func NewHandler(client *Client) *Handler {
	return &Handler{
		client:            client,
		StreamPublished:   make(chan PublicationInfo, 32),
		StreamUnpublished: make(chan PublicationInfo, 32),
		StreamEnabled:     make(chan PublicationInfo, 32),
		MemberJoined:      make(chan *Message, 32),
		MemberLeft:        make(chan *Message, 32),
		Subscribe:         make(chan *Message, 32),
		Signal:            make(chan *Message, 64),
		Error:             make(chan string, 8),
		done:              make(chan struct{}),
		pending:           map[string]chan *Message{},
	}
}

// Start routes messages until the connection closes. Run it in its own
// goroutine.
func (h *Handler) Start() {
	defer h.shutdown()

	for msg := range h.client.Incoming() {
		if msg.RequestID != "" && h.reply(msg) {
			continue
		}

		switch msg.Type {
		case MessageTypeStreamPublished:
			h.routePublication(msg, h.StreamPublished)

		case MessageTypeStreamUnpublished:
			h.routePublication(msg, h.StreamUnpublished)

		case MessageTypeStreamEnabled:
			h.routePublication(msg, h.StreamEnabled)

		case MessageTypeMemberJoined:
			h.MemberJoined <- msg

		case MessageTypeMemberLeft:
			h.MemberLeft <- msg

		case MessageTypeSubscribe:
			h.Subscribe <- msg

		case MessageTypeSignal:
			h.Signal <- msg

		case MessageTypeError:
			h.handleError(msg)

		default:
		}
	}
}

// Done is closed once the connection has ended and Start has returned.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Request sends msg with a fresh request id and waits for the hub's reply.
func (h *Handler) Request(ctx context.Context, msg *Message) (*Message, error) {
	id := uuid.NewString()
	ch := make(chan *Message, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.pending[id] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	msg.RequestID = id
	if err := h.client.Send(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if reply.Type == MessageTypeError {
			var p ErrorPayload
			_ = reply.Decode(&p)
			return nil, &ServerError{Op: msg.Type, Message: p.Error}
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send sends msg without waiting for a reply.
func (h *Handler) Send(ctx context.Context, msg *Message) error {
	return h.client.Send(ctx, msg)
}

func (h *Handler) reply(msg *Message) bool {
	h.mu.Lock()
	ch, ok := h.pending[msg.RequestID]
	if ok {
		delete(h.pending, msg.RequestID)
	}
	h.mu.Unlock()
	if ok {
		ch <- msg
	}
	return ok
}

func (h *Handler) routePublication(msg *Message, ch chan PublicationInfo) {
	var info PublicationInfo
	if err := msg.Decode(&info); err != nil {
		h.pushError(err.Error())
		return
	}
	ch <- info
}

func (h *Handler) handleError(msg *Message) {
	var p ErrorPayload
	if err := msg.Decode(&p); err != nil {
		h.pushError("unknown error")
		return
	}
	h.pushError(p.Error)
}

func (h *Handler) pushError(s string) {
	select {
	case h.Error <- s:
	default:
	}
}

func (h *Handler) shutdown() {
	h.mu.Lock()
	h.closed = true
	for id, ch := range h.pending {
		close(ch)
		delete(h.pending, id)
	}
	h.mu.Unlock()
	close(h.done)
}

// IsServerError reports whether err came from the hub.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
