// Package rtc implements the call core's media-transport abstractions on top
// of Pion WebRTC. It is the only package that touches Pion directly.
package rtc

import (
	"context"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"voicelink-backend/internal/domain"
	"voicelink-backend/internal/service/call"
)

// Config holds transport configuration.
type Config struct {
	// STUNServers are ICE server URLs. Empty selects a public default.
	STUNServers []string
}

// DefaultSTUNServer matches the reference client configuration.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// Factory builds Pion-backed peer transports sharing one webrtc.API.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
	log *zap.Logger
}

// NewFactory creates a transport factory. The media device, when non-nil,
// contributes its codecs to the shared media engine so captured tracks can
// be attached to peer connections.
func NewFactory(cfg Config, device *MediaDevice, log *zap.Logger) (*Factory, error) {
	if log == nil {
		log = zap.NewNop()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := populateMediaEngine(mediaEngine, device); err != nil {
		return nil, fmt.Errorf("failed to configure media engine: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	stun := cfg.STUNServers
	if len(stun) == 0 {
		stun = []string{DefaultSTUNServer}
	}

	return &Factory{
		api: api,
		cfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stun}},
		},
		log: log,
	}, nil
}

// NewPeerTransport creates one peer connection. Local media tracks are
// attached when the handle carries any; otherwise the connection is built
// receive-only so offer/answer still produce valid media sections.
func (f *Factory) NewPeerTransport(media call.MediaHandle, events call.TransportEvents) (call.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	if handle, ok := media.(*Handle); ok && handle != nil && len(handle.tracks) > 0 {
		for _, track := range handle.tracks {
			if _, err := pc.AddTrack(track); err != nil {
				f.log.Warn("failed to attach local track", zap.Error(err))
			}
		}
	} else {
		addRecvOnlyTransceivers(pc, f.log)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || events.OnCandidate == nil {
			return
		}
		init := c.ToJSON()
		events.OnCandidate(&domain.Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if events.OnStateChange == nil {
			return
		}
		events.OnStateChange(mapConnState(state))
	})

	return &peerTransport{pc: pc}, nil
}

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio so
// CreateOffer/CreateAnswer always produce valid m-lines.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection, log *zap.Logger) {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Warn("failed to add recvonly transceiver",
				zap.String("kind", kind.String()), zap.Error(err))
		}
	}
}

func mapConnState(state webrtc.PeerConnectionState) domain.LinkConnState {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return domain.LinkConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.LinkDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.LinkFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.LinkClosed
	default:
		return domain.LinkConnecting
	}
}

// peerTransport adapts one webrtc.PeerConnection to the call core.
type peerTransport struct {
	pc *webrtc.PeerConnection
}

func (t *peerTransport) CreateOffer(_ context.Context) (*domain.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set local offer: %w", err)
	}
	return &domain.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (t *peerTransport) CreateAnswer(_ context.Context) (*domain.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local answer: %w", err)
	}
	return &domain.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (t *peerTransport) SetRemoteDescription(desc *domain.SessionDescription) error {
	if desc == nil {
		return fmt.Errorf("missing session description")
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (t *peerTransport) AddCandidate(cand *domain.Candidate) error {
	if cand == nil {
		return nil
	}
	if err := t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}); err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

func (t *peerTransport) Close() error {
	return t.pc.Close()
}
