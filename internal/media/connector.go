package media

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/BioHazard786/roomline/internal/config"
	"github.com/BioHazard786/roomline/internal/session"
	"github.com/BioHazard786/roomline/internal/signaling"
)

// Connector resolves rooms on the signaling hub.
type Connector struct {
	cfg  *config.Config
	name func() string
	log  zerolog.Logger
}

type ConnectorOption func(*Connector)

// WithDisplayName sets the name members join under. It is read on every
// join so it follows sign-in changes.
func WithDisplayName(fn func() string) ConnectorOption {
	return func(c *Connector) { c.name = fn }
}

func NewConnector(cfg *config.Config, logger zerolog.Logger, opts ...ConnectorOption) *Connector {
	c := &Connector{
		cfg:  cfg,
		name: func() string { return "" },
		log:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindOrCreate opens a connection to the hub and resolves name. Each room
// owns its connection until Dispose.
func (c *Connector) FindOrCreate(ctx context.Context, name string) (session.Room, error) {
	client := signaling.NewClient(c.cfg.SignalURL, c.log)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to signaling server: %w", err)
	}

	handler := signaling.NewHandler(client)
	go handler.Start()

	if _, err := handler.Request(ctx, &signaling.Message{
		Type: signaling.MessageTypeFindOrCreate,
		Room: name,
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("find room %q: %w", name, err)
	}

	r := newRoom(name, c.cfg, client, handler, c.name(), c.log.With().Str("room", name).Logger())
	go r.pump()
	return r, nil
}

var (
	_ session.Connector        = (*Connector)(nil)
	_ session.Capturer         = (*Capturer)(nil)
	_ session.Room             = (*Room)(nil)
	_ session.LocalMember      = (*Member)(nil)
	_ session.LocalPublication = (*Publication)(nil)
	_ session.LocalStream      = (*Stream)(nil)
	_ session.RemoteStream     = (*Remote)(nil)
)
