package call

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicelink-backend/internal/domain"
)

// PeerLink owns one point-to-point negotiation with a remote participant.
// It is created at most once per (session, peer) pair and is only ever
// touched from the owning session's goroutine.
type PeerLink struct {
	peerID    uuid.UUID
	role      domain.LinkRole
	negState  domain.NegotiationState
	connState domain.LinkConnState
	transport PeerTransport

	// Locally discovered candidates buffered until the remote description
	// is known, then replayed in discovery order.
	pending     []*domain.Candidate
	remoteKnown bool
	closed      bool

	send func(env *domain.SignalEnvelope) error
	log  *zap.Logger
}

func newPeerLink(peerID uuid.UUID, transport PeerTransport, send func(*domain.SignalEnvelope) error, log *zap.Logger) *PeerLink {
	return &PeerLink{
		peerID:    peerID,
		negState:  domain.NegotiationNew,
		connState: domain.LinkConnecting,
		transport: transport,
		send:      send,
		log:       log.With(zap.String("peer_id", peerID.String())),
	}
}

// PeerID returns the remote participant identifier.
func (l *PeerLink) PeerID() uuid.UUID { return l.peerID }

// Role returns the negotiation role, empty until negotiation starts.
func (l *PeerLink) Role() domain.LinkRole { return l.role }

// NegotiationState returns the current offer/answer progress.
func (l *PeerLink) NegotiationState() domain.NegotiationState { return l.negState }

// Closed reports whether the link has been torn down.
func (l *PeerLink) Closed() bool { return l.closed }

// startOffer fixes the offerer role and emits a point-to-point offer.
func (l *PeerLink) startOffer(ctx context.Context) error {
	if l.closed {
		return nil
	}
	l.role = domain.RoleOfferer

	sdp, err := l.transport.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := l.send(&domain.SignalEnvelope{
		Type: domain.SignalOffer,
		To:   &l.peerID,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("failed to send offer: %w", err)
	}

	l.negState = domain.NegotiationOfferSent
	l.log.Debug("offer sent")
	return nil
}

// handleOffer applies a remote offer and replies with an answer. The link
// becomes the answerer; an offer received on an offerer link is a protocol
// violation and is discarded.
func (l *PeerLink) handleOffer(ctx context.Context, sdp *domain.SessionDescription) error {
	if l.closed || sdp == nil {
		return nil
	}
	if l.role == domain.RoleOfferer {
		l.log.Warn("discarding offer received on offerer link")
		return nil
	}
	l.role = domain.RoleAnswerer
	l.negState = domain.NegotiationOfferReceived

	if err := l.transport.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("failed to apply remote offer: %w", err)
	}
	l.remoteReady()

	answer, err := l.transport.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := l.send(&domain.SignalEnvelope{
		Type: domain.SignalAnswer,
		To:   &l.peerID,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("failed to send answer: %w", err)
	}

	l.negState = domain.NegotiationAnswerSent
	l.log.Debug("answer sent")
	return nil
}

// handleAnswer applies the remote answer on an offerer link.
func (l *PeerLink) handleAnswer(sdp *domain.SessionDescription) error {
	if l.closed || sdp == nil {
		return nil
	}
	if err := l.transport.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("failed to apply remote answer: %w", err)
	}
	l.negState = domain.NegotiationAnswerReceived
	l.remoteReady()
	return nil
}

// handleRemoteCandidate applies a trickled candidate from the remote peer.
// Candidates for a closed link are silently discarded.
func (l *PeerLink) handleRemoteCandidate(cand *domain.Candidate) error {
	if l.closed || cand == nil {
		return nil
	}
	if err := l.transport.AddCandidate(cand); err != nil {
		return fmt.Errorf("failed to add remote candidate: %w", err)
	}
	return nil
}

// handleLocalCandidate emits a locally discovered candidate immediately when
// the remote description is known, otherwise buffers it for replay.
func (l *PeerLink) handleLocalCandidate(cand *domain.Candidate) {
	if l.closed || cand == nil {
		return
	}
	if !l.remoteKnown {
		l.pending = append(l.pending, cand)
		return
	}
	l.emitCandidate(cand)
}

// handleConnState records transport connectivity. A terminal failure closes
// only this link; the session decides nothing else from it.
func (l *PeerLink) handleConnState(state domain.LinkConnState) {
	if l.closed {
		return
	}
	l.connState = state
	if state == domain.LinkConnected {
		l.negState = domain.NegotiationConnected
	}
}

// remoteReady marks the remote description known and flushes the pending
// candidate buffer in discovery order.
func (l *PeerLink) remoteReady() {
	l.remoteKnown = true
	for _, cand := range l.pending {
		l.emitCandidate(cand)
	}
	l.pending = nil
}

func (l *PeerLink) emitCandidate(cand *domain.Candidate) {
	if err := l.send(&domain.SignalEnvelope{
		Type:      domain.SignalICE,
		To:        &l.peerID,
		Candidate: cand,
	}); err != nil {
		l.log.Warn("failed to send candidate", zap.Error(err))
	}
}

// close releases the connection handle and candidate buffer. Idempotent.
func (l *PeerLink) close() {
	if l.closed {
		return
	}
	l.closed = true
	l.pending = nil
	l.negState = domain.NegotiationClosed
	l.connState = domain.LinkClosed
	if err := l.transport.Close(); err != nil {
		l.log.Warn("failed to close peer transport", zap.Error(err))
	}
	l.log.Debug("peer link closed")
}
