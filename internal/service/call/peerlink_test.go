package call

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voicelink-backend/internal/domain"
)

type linkFixture struct {
	link      *PeerLink
	transport *fakeTransport

	mu   sync.Mutex
	sent []*domain.SignalEnvelope
}

func newLinkFixture(t *testing.T) *linkFixture {
	t.Helper()
	f := &linkFixture{transport: &fakeTransport{}}
	f.link = newPeerLink(uuid.New(), f.transport, func(env *domain.SignalEnvelope) error {
		f.mu.Lock()
		copied := *env
		f.sent = append(f.sent, &copied)
		f.mu.Unlock()
		return nil
	}, zap.NewNop())
	return f
}

func (f *linkFixture) sentOfType(t domain.SignalType) []*domain.SignalEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SignalEnvelope
	for _, env := range f.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func TestPeerLinkOffererFlow(t *testing.T) {
	f := newLinkFixture(t)

	require.NoError(t, f.link.startOffer(context.Background()))
	assert.Equal(t, domain.RoleOfferer, f.link.Role())
	assert.Equal(t, domain.NegotiationOfferSent, f.link.NegotiationState())

	offers := f.sentOfType(domain.SignalOffer)
	require.Len(t, offers, 1)
	require.NotNil(t, offers[0].To)
	assert.Equal(t, f.link.PeerID(), *offers[0].To)

	require.NoError(t, f.link.handleAnswer(&domain.SessionDescription{Type: "answer", SDP: "v=0 remote"}))
	assert.Equal(t, domain.NegotiationAnswerReceived, f.link.NegotiationState())
	require.Len(t, f.transport.remote, 1)
	assert.Equal(t, "answer", f.transport.remote[0].Type)
}

func TestPeerLinkAnswererFlow(t *testing.T) {
	f := newLinkFixture(t)

	require.NoError(t, f.link.handleOffer(context.Background(), &domain.SessionDescription{Type: "offer", SDP: "v=0 remote"}))
	assert.Equal(t, domain.RoleAnswerer, f.link.Role())
	assert.Equal(t, domain.NegotiationAnswerSent, f.link.NegotiationState())

	answers := f.sentOfType(domain.SignalAnswer)
	require.Len(t, answers, 1)
	require.NotNil(t, answers[0].To)
	assert.Equal(t, f.link.PeerID(), *answers[0].To)
}

func TestPeerLinkDiscardsOfferOnOffererLink(t *testing.T) {
	f := newLinkFixture(t)

	require.NoError(t, f.link.startOffer(context.Background()))
	require.NoError(t, f.link.handleOffer(context.Background(), &domain.SessionDescription{Type: "offer", SDP: "v=0 glare"}))

	// The role never flips and the remote offer never reaches the transport.
	assert.Equal(t, domain.RoleOfferer, f.link.Role())
	assert.Empty(t, f.transport.remote)
	assert.Empty(t, f.sentOfType(domain.SignalAnswer))
}

func TestPeerLinkBuffersLocalCandidatesUntilRemoteKnown(t *testing.T) {
	f := newLinkFixture(t)
	require.NoError(t, f.link.startOffer(context.Background()))

	f.link.handleLocalCandidate(&domain.Candidate{Candidate: "candidate:1"})
	f.link.handleLocalCandidate(&domain.Candidate{Candidate: "candidate:2"})

	// Nothing leaves the link before the remote description arrives.
	assert.Empty(t, f.sentOfType(domain.SignalICE))

	require.NoError(t, f.link.handleAnswer(&domain.SessionDescription{Type: "answer", SDP: "v=0 remote"}))

	ice := f.sentOfType(domain.SignalICE)
	require.Len(t, ice, 2)
	assert.Equal(t, "candidate:1", ice[0].Candidate.Candidate)
	assert.Equal(t, "candidate:2", ice[1].Candidate.Candidate)

	// Later candidates trickle straight through.
	f.link.handleLocalCandidate(&domain.Candidate{Candidate: "candidate:3"})
	ice = f.sentOfType(domain.SignalICE)
	require.Len(t, ice, 3)
	assert.Equal(t, "candidate:3", ice[2].Candidate.Candidate)
}

func TestPeerLinkRemoteCandidateBeforeCloseOnly(t *testing.T) {
	f := newLinkFixture(t)
	require.NoError(t, f.link.startOffer(context.Background()))

	require.NoError(t, f.link.handleRemoteCandidate(&domain.Candidate{Candidate: "candidate:r1"}))
	require.Len(t, f.transport.candidates, 1)

	f.link.close()

	// Late arrivals after close are dropped without error.
	require.NoError(t, f.link.handleRemoteCandidate(&domain.Candidate{Candidate: "candidate:r2"}))
	assert.Len(t, f.transport.candidates, 1)
}

func TestPeerLinkCloseIsIdempotent(t *testing.T) {
	f := newLinkFixture(t)
	require.NoError(t, f.link.startOffer(context.Background()))

	f.link.close()
	f.link.close()
	f.link.close()

	assert.Equal(t, 1, f.transport.closeCount())
	assert.True(t, f.link.Closed())
	assert.Equal(t, domain.NegotiationClosed, f.link.NegotiationState())

	// A closed link refuses to restart negotiation.
	require.NoError(t, f.link.startOffer(context.Background()))
	assert.Len(t, f.sentOfType(domain.SignalOffer), 1)
}

func TestPeerLinkConnectedState(t *testing.T) {
	f := newLinkFixture(t)
	require.NoError(t, f.link.startOffer(context.Background()))
	require.NoError(t, f.link.handleAnswer(&domain.SessionDescription{Type: "answer", SDP: "v=0 remote"}))

	f.link.handleConnState(domain.LinkConnected)
	assert.Equal(t, domain.NegotiationConnected, f.link.NegotiationState())
}
