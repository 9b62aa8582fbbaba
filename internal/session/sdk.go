package session

import "context"

// Kind is the media type of a stream.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// LocalStream is a captured local source.
type LocalStream interface {
	Kind() Kind
	Close() error
	// OnEnded registers fn to run once if the source stops by itself,
	// for example when a shared display goes away.
	OnEnded(fn func())
}

// RemoteStream is a subscribed remote track.
type RemoteStream interface {
	Kind() Kind
	Close() error
}

// RemotePublication describes a stream some member published into a room.
type RemotePublication struct {
	ID            string
	PublisherID   string
	PublisherName string
	Kind          Kind
}

type LocalPublication interface {
	ID() string
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	// ReplaceStream swaps the source without republishing.
	ReplaceStream(ctx context.Context, s LocalStream) error
}

type LocalMember interface {
	ID() string
	Publish(ctx context.Context, s LocalStream) (LocalPublication, error)
	Unpublish(ctx context.Context, p LocalPublication) error
	Subscribe(ctx context.Context, publicationID string) (RemoteStream, error)
	Leave(ctx context.Context) error
}

// Room is a named rendezvous. The On* registrations return a func that
// removes the handler. Handlers may be invoked from any goroutine.
type Room interface {
	Name() string
	Join(ctx context.Context) (LocalMember, error)
	Publications() []RemotePublication
	OnStreamPublished(fn func(RemotePublication)) (cancel func())
	OnStreamUnpublished(fn func(RemotePublication)) (cancel func())
	OnStreamEnabled(fn func(pub RemotePublication, enabled bool)) (cancel func())
	Dispose(ctx context.Context) error
}

type Capturer interface {
	CaptureMicrophoneAndCamera(ctx context.Context) (audio, video LocalStream, err error)
	CaptureDisplay(ctx context.Context) (LocalStream, error)
}

type Connector interface {
	FindOrCreate(ctx context.Context, name string) (Room, error)
}
