package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/roomline/internal/session"
	"github.com/BioHazard786/roomline/internal/signaling"
)

// Publication is one published local stream and the senders carrying it to
// each subscriber.
type Publication struct {
	member *Member
	id     string

	mu      sync.Mutex
	stream  *Stream
	enabled bool
	senders map[string]*webrtc.RTPSender
}

func newPublication(m *Member, id string, s *Stream) *Publication {
	return &Publication{
		member:  m,
		id:      id,
		stream:  s,
		enabled: true,
		senders: map[string]*webrtc.RTPSender{},
	}
}

func (p *Publication) ID() string { return p.id }

func (p *Publication) Enable(ctx context.Context) error {
	return p.setEnabled(ctx, true)
}

func (p *Publication) Disable(ctx context.Context) error {
	return p.setEnabled(ctx, false)
}

func (p *Publication) setEnabled(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	p.enabled = enabled
	p.stream.SetEnabled(enabled)
	p.mu.Unlock()

	msg, err := signaling.NewMessage(signaling.MessageTypeSetEnabled, signaling.SetEnabledPayload{
		PublicationID: p.id,
		Enabled:       enabled,
	})
	if err != nil {
		return err
	}
	if _, err := p.member.room.handler.Request(ctx, msg); err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	return nil
}

// ReplaceStream moves every subscriber onto s without renegotiating.
func (p *Publication) ReplaceStream(ctx context.Context, s session.LocalStream) error {
	stream, ok := s.(*Stream)
	if !ok {
		return ErrUnsupportedStream
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for id, sender := range p.senders {
		if err := sender.ReplaceTrack(stream.Track()); err != nil {
			errs = append(errs, fmt.Errorf("replace track for %s: %w", id, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	stream.SetEnabled(p.enabled)
	p.stream = stream
	return nil
}

func (p *Publication) track() webrtc.TrackLocal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream.Track()
}

func (p *Publication) addSender(id string, s *webrtc.RTPSender) {
	p.mu.Lock()
	p.senders[id] = s
	p.mu.Unlock()
}

func (p *Publication) removeSender(id string) {
	p.mu.Lock()
	delete(p.senders, id)
	p.mu.Unlock()
}
