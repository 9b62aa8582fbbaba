package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/BioHazard786/roomline/internal/session"
)

// Remote is the subscriber end of one subscription. The terminal cannot
// render media, so packets are read and counted.
type Remote struct {
	pc      *webrtc.PeerConnection
	kind    session.Kind
	log     zerolog.Logger
	release func()

	packets atomic.Int64
	bytes   atomic.Int64
	once    sync.Once
}

func newRemote(pc *webrtc.PeerConnection, kind session.Kind, logger zerolog.Logger, release func()) *Remote {
	r := &Remote{pc: pc, kind: kind, log: logger, release: release}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.log.Debug().Str("codec", track.Codec().MimeType).Msg("track received")
		go r.read(track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.log.Debug().Str("state", state.String()).Msg("subscription state")
	})
	return r
}

func (r *Remote) Kind() session.Kind { return r.kind }

// Packets is the number of RTP packets received so far.
func (r *Remote) Packets() int64 { return r.packets.Load() }

// Bytes is the payload volume received so far.
func (r *Remote) Bytes() int64 { return r.bytes.Load() }

func (r *Remote) Close() error {
	var err error
	r.once.Do(func() {
		err = r.pc.Close()
		if r.release != nil {
			r.release()
		}
	})
	return err
}

func (r *Remote) read(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		r.packets.Add(1)
		r.bytes.Add(int64(len(pkt.Payload)))
	}
}
