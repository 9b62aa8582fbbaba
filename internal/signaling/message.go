package signaling

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope for every websocket frame between a client and
// the hub.
type Message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Room      string          `json:"room,omitempty"`
	MemberID  string          `json:"member_id,omitempty"`
	Target    string          `json:"target,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Client to hub.
const (
	MessageTypeFindOrCreate = "find_or_create"
	MessageTypeJoin         = "join"
	MessageTypePublish      = "publish"
	MessageTypeUnpublish    = "unpublish"
	MessageTypeSetEnabled   = "set_enabled"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeSignal       = "signal"
	MessageTypeLeave        = "leave"
)

// Hub to client. Subscribe and signal are also relayed hub to client.
const (
	MessageTypeRoomReady         = "room_ready"
	MessageTypeJoined            = "joined"
	MessageTypePublished         = "published"
	MessageTypeStreamPublished   = "stream_published"
	MessageTypeStreamUnpublished = "stream_unpublished"
	MessageTypeStreamEnabled     = "stream_enabled"
	MessageTypeMemberJoined      = "member_joined"
	MessageTypeMemberLeft        = "member_left"
	MessageTypeError             = "error"
)

// PublicationInfo describes one published stream.
type PublicationInfo struct {
	ID            string `json:"id"`
	PublisherID   string `json:"publisher_id"`
	PublisherName string `json:"publisher_name,omitempty"`
	Kind          string `json:"kind"`
	Enabled       bool   `json:"enabled"`
}

type JoinPayload struct {
	Name string `json:"name,omitempty"`
}

// JoinedPayload answers a join with the member's name and what is
// already published in the room.
type JoinedPayload struct {
	Name         string            `json:"name"`
	Publications []PublicationInfo `json:"publications"`
}

type MemberPayload struct {
	Name string `json:"name,omitempty"`
}

type PublishPayload struct {
	Kind string `json:"kind"`
}

type PublicationPayload struct {
	PublicationID string `json:"publication_id"`
}

type SetEnabledPayload struct {
	PublicationID string `json:"publication_id"`
	Enabled       bool   `json:"enabled"`
}

// SubscribePayload is sent to the subscriber as the reply and to the
// publisher as the instruction to offer the stream.
type SubscribePayload struct {
	PublicationID  string `json:"publication_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// SignalPayload carries an SDP offer or answer for one subscription.
type SignalPayload struct {
	SubscriptionID string `json:"subscription_id"`
	Type           string `json:"type"`
	SDP            string `json:"sdp"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage builds a message with payload encoded as JSON.
func NewMessage(typ string, payload any) (*Message, error) {
	msg := &Message{Type: typ}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	msg.Payload = b
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}
