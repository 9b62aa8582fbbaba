package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/roomline/internal/config"
	"github.com/BioHazard786/roomline/internal/signaling"
)

var ErrUnexpectedSignal = errors.New("unexpected signal type")

// ICEServers builds the ICE configuration from cfg.
func ICEServers(cfg *config.Config) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}

	if turn := cfg.GetTURNServers(); turn != nil {
		username, password := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return servers
}

// NewPeerConnection creates a peer connection with the default codecs and
// interceptors. Receivers ask for a keyframe at a fixed interval so a late
// subscriber gets a picture quickly.
func NewPeerConnection(cfg *config.Config) (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	i.Add(pli)

	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	policy := webrtc.ICETransportPolicyAll
	if cfg.RelayOnly() {
		policy = webrtc.ICETransportPolicyRelay
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         ICEServers(cfg),
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}

// CreateOffer sets a local offer and returns it once ICE gathering is
// complete, so no trickle candidates need to be exchanged.
func CreateOffer(ctx context.Context, pc *webrtc.PeerConnection) (string, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return localDescription(ctx, pc, gathered)
}

// CreateAnswer applies a remote offer and returns the gathered answer.
func CreateAnswer(ctx context.Context, pc *webrtc.PeerConnection, offer string) (string, error) {
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return localDescription(ctx, pc, gathered)
}

// ApplyAnswer completes a negotiation started with CreateOffer.
func ApplyAnswer(pc *webrtc.PeerConnection, p signaling.SignalPayload) error {
	if p.Type != webrtc.SDPTypeAnswer.String() {
		return fmt.Errorf("%w: %s", ErrUnexpectedSignal, p.Type)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func localDescription(ctx context.Context, pc *webrtc.PeerConnection, gathered <-chan struct{}) (string, error) {
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return pc.LocalDescription().SDP, nil
}
