package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicelink-backend/internal/domain"
)

// fakeSignaler records every envelope the call core emits.
type fakeSignaler struct {
	mu   sync.Mutex
	sent []*domain.SignalEnvelope
}

func (f *fakeSignaler) Send(_ context.Context, env *domain.SignalEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *env
	f.sent = append(f.sent, &copied)
	return nil
}

func (f *fakeSignaler) ofType(t domain.SignalType) []*domain.SignalEnvelope {
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

func (f *fakeSignaler) count(t domain.SignalType) int {
	return len(f.ofType(t))
}

// fakeHandle tracks media ownership and release counts.
type fakeHandle struct {
	mu       sync.Mutex
	releases int
	audio    bool
	video    bool
}

func (h *fakeHandle) SetAudioEnabled(enabled bool) {
	h.mu.Lock()
	h.audio = enabled
	h.mu.Unlock()
}

func (h *fakeHandle) SetVideoEnabled(enabled bool) {
	h.mu.Lock()
	h.video = enabled
	h.mu.Unlock()
}

func (h *fakeHandle) Release() error {
	h.mu.Lock()
	h.releases++
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) releaseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releases
}

// fakeDevice hands out fakeHandles, or fails when err is set.
type fakeDevice struct {
	mu       sync.Mutex
	err      error
	acquired []*fakeHandle
}

func (d *fakeDevice) Acquire(_ context.Context) (MediaHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	h := &fakeHandle{audio: true, video: true}
	d.acquired = append(d.acquired, h)
	return h, nil
}

func (d *fakeDevice) handles() []*fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeHandle(nil), d.acquired...)
}

// fakeTransport is a scriptable PeerTransport.
type fakeTransport struct {
	mu         sync.Mutex
	events     TransportEvents
	candidates []*domain.Candidate
	remote     []*domain.SessionDescription
	closes     int
}

func (t *fakeTransport) CreateOffer(_ context.Context) (*domain.SessionDescription, error) {
	return &domain.SessionDescription{Type: "offer", SDP: "v=0 offer"}, nil
}

func (t *fakeTransport) CreateAnswer(_ context.Context) (*domain.SessionDescription, error) {
	return &domain.SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func (t *fakeTransport) SetRemoteDescription(desc *domain.SessionDescription) error {
	t.mu.Lock()
	t.remote = append(t.remote, desc)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) AddCandidate(cand *domain.Candidate) error {
	t.mu.Lock()
	t.candidates = append(t.candidates, cand)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// fakeFactory records every transport it builds, keyed by creation order.
type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeTransport
}

func (f *fakeFactory) NewPeerTransport(_ MediaHandle, events TransportEvents) (PeerTransport, error) {
	t := &fakeTransport{events: events}
	f.mu.Lock()
	f.created = append(f.created, t)
	f.mu.Unlock()
	return t, nil
}

func (f *fakeFactory) transports() []*fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTransport(nil), f.created...)
}

// endEvent is one OnCallEnded notification.
type endEvent struct {
	roomID  uuid.UUID
	outcome domain.CallOutcome
}

// testHarness bundles a registry with its collaborator fakes.
type testHarness struct {
	registry *Registry
	selfID   uuid.UUID
	sig      *fakeSignaler
	device   *fakeDevice
	factory  *fakeFactory

	mu       sync.Mutex
	incoming []string
	ended    []endEvent
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		selfID:  uuid.New(),
		sig:     &fakeSignaler{},
		device:  &fakeDevice{},
		factory: &fakeFactory{},
	}
	h.registry = NewRegistry(RegistryConfig{
		SelfID:      h.selfID,
		Signaler:    h.sig,
		Media:       h.device,
		Transports:  h.factory,
		DisplayName: func() string { return "Tester" },
		Callbacks: Callbacks{
			OnIncomingCall: func(_ uuid.UUID, _ uuid.UUID, callerName string) {
				h.mu.Lock()
				h.incoming = append(h.incoming, callerName)
				h.mu.Unlock()
			},
			OnCallEnded: func(roomID uuid.UUID, outcome domain.CallOutcome) {
				h.mu.Lock()
				h.ended = append(h.ended, endEvent{roomID: roomID, outcome: outcome})
				h.mu.Unlock()
			},
		},
		GraceDelay: 50 * time.Millisecond,
	})
	return h
}

func (h *testHarness) endedEvents() []endEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]endEvent(nil), h.ended...)
}

func (h *testHarness) incomingCalls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.incoming...)
}

func (h *testHarness) deliver(env *domain.SignalEnvelope) {
	h.registry.HandleEnvelope(env)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestStartCallAnnouncesAndDials(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	assert.Equal(t, domain.CallStateDialing, sess.State())
	assert.Equal(t, 1, h.registry.ActiveCount())

	starts := h.sig.ofType(domain.SignalCallStart)
	require.Len(t, starts, 1)
	assert.Equal(t, "Tester", starts[0].CallerName)
	assert.Equal(t, roomID, starts[0].RoomID)
	assert.Equal(t, h.selfID, starts[0].From)

	assert.Equal(t, 1, h.sig.count(domain.SignalJoin))
	assert.Len(t, h.device.handles(), 1)
}

func TestStartCallDeviceFailureLeavesNoSession(t *testing.T) {
	h := newHarness(t)
	h.device.err = ErrDeviceBusy

	_, err := h.registry.StartCall(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.Equal(t, 0, h.registry.ActiveCount())
	assert.Equal(t, 0, h.sig.count(domain.SignalCallStart))
}

func TestStartCallTwiceSameRoom(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()

	_, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	_, err = h.registry.StartCall(context.Background(), roomID)
	assert.ErrorIs(t, err, ErrCallActive)
}

func TestIncomingCallRings(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	caller := uuid.New()

	h.deliver(&domain.SignalEnvelope{
		Type:       domain.SignalCallIncoming,
		RoomID:     roomID,
		From:       caller,
		CallerName: "Alice",
	})

	eventually(t, func() bool {
		sess, ok := h.registry.Get(roomID)
		return ok && sess.State() == domain.CallStateRinging
	}, "session should ring")

	eventually(t, func() bool {
		calls := h.incomingCalls()
		return len(calls) == 1 && calls[0] == "Alice"
	}, "incoming callback should fire")

	// No media is touched before answering.
	assert.Empty(t, h.device.handles())
}

func TestAnswerJoinsCall(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalCallIncoming, RoomID: roomID, From: uuid.New(), CallerName: "Alice"})
	eventually(t, func() bool {
		sess, ok := h.registry.Get(roomID)
		return ok && sess.State() == domain.CallStateRinging
	}, "session should ring")

	sess, _ := h.registry.Get(roomID)
	require.NoError(t, sess.Answer(context.Background()))

	assert.Equal(t, 1, h.sig.count(domain.SignalJoin))
	assert.Len(t, h.device.handles(), 1)
}

func TestAnswerDeviceFailureDeclines(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	caller := uuid.New()

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalCallIncoming, RoomID: roomID, From: caller, CallerName: "Alice"})
	eventually(t, func() bool {
		sess, ok := h.registry.Get(roomID)
		return ok && sess.State() == domain.CallStateRinging
	}, "session should ring")

	h.device.err = ErrPermissionDenied
	sess, _ := h.registry.Get(roomID)
	err := sess.Answer(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	declines := h.sig.ofType(domain.SignalCallDecline)
	require.Len(t, declines, 1)
	require.NotNil(t, declines[0].To)
	assert.Equal(t, caller, *declines[0].To)
	assert.Equal(t, 0, h.registry.ActiveCount())
}

func TestDeclineNotifiesCaller(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	caller := uuid.New()

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalCallIncoming, RoomID: roomID, From: caller, CallerName: "Alice"})
	eventually(t, func() bool {
		sess, ok := h.registry.Get(roomID)
		return ok && sess.State() == domain.CallStateRinging
	}, "session should ring")

	sess, _ := h.registry.Get(roomID)
	require.NoError(t, sess.Decline(context.Background()))

	declines := h.sig.ofType(domain.SignalCallDecline)
	require.Len(t, declines, 1)
	require.NotNil(t, declines[0].To)
	assert.Equal(t, caller, *declines[0].To)

	ended := h.endedEvents()
	require.Len(t, ended, 1)
	assert.Equal(t, domain.OutcomeDeclined, ended[0].outcome)
	assert.Equal(t, 0, h.registry.ActiveCount())
}

func TestStopWhileDialingCancels(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	require.NoError(t, sess.Stop(context.Background()))

	assert.Equal(t, 1, h.sig.count(domain.SignalCallCancel))
	assert.Equal(t, 0, h.sig.count(domain.SignalLeft))
	assert.Empty(t, h.endedEvents(), "local stop reports no completion")
	assert.Equal(t, 0, h.registry.ActiveCount())
}

func TestStopWhileRingingAsCalleeIsQuiet(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalCallIncoming, RoomID: roomID, From: uuid.New(), CallerName: "Alice"})
	eventually(t, func() bool {
		sess, ok := h.registry.Get(roomID)
		return ok && sess.State() == domain.CallStateRinging
	}, "session should ring")

	sess, _ := h.registry.Get(roomID)
	require.NoError(t, sess.Stop(context.Background()))

	// The callee never sent the cancel; only the initiator may withdraw.
	assert.Equal(t, 0, h.sig.count(domain.SignalCallCancel))
	assert.Equal(t, 0, h.registry.ActiveCount())
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	require.NoError(t, sess.Stop(context.Background()))
	require.NoError(t, sess.Stop(context.Background()))
	require.NoError(t, sess.Stop(context.Background()))
}

func TestJoinedPeerGetsOffer(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	peer := uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalJoined, RoomID: roomID, From: peer, PeerID: peer})

	eventually(t, func() bool {
		return sess.State() == domain.CallStateActive
	}, "session should go active on joined")

	offers := h.sig.ofType(domain.SignalOffer)
	require.Len(t, offers, 1)
	require.NotNil(t, offers[0].To)
	assert.Equal(t, peer, *offers[0].To)
	assert.Equal(t, 1, sess.ParticipantCount())
	assert.Equal(t, 1, sess.LinkCount())

	// Duplicate joined announcements never renegotiate.
	h.deliver(&domain.SignalEnvelope{Type: domain.SignalJoined, RoomID: roomID, From: peer, PeerID: peer})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.sig.count(domain.SignalOffer))
	assert.Equal(t, 1, sess.LinkCount())
}

func TestPeersListCreatesPassiveLinks(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	peerA, peerB := uuid.New(), uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalPeers, RoomID: roomID, Peers: []uuid.UUID{peerA, peerB}})

	eventually(t, func() bool {
		return sess.State() == domain.CallStateActive && sess.LinkCount() == 2
	}, "links should be created for listed peers")

	// Existing participants offer toward us; we wait.
	assert.Equal(t, 0, h.sig.count(domain.SignalOffer))
}

func TestInboundOfferGetsAnswer(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	peer := uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	h.deliver(&domain.SignalEnvelope{
		Type:   domain.SignalOffer,
		RoomID: roomID,
		From:   peer,
		SDP:    &domain.SessionDescription{Type: "offer", SDP: "v=0 remote"},
	})

	eventually(t, func() bool {
		return h.sig.count(domain.SignalAnswer) == 1
	}, "answer should be sent")

	answers := h.sig.ofType(domain.SignalAnswer)
	require.NotNil(t, answers[0].To)
	assert.Equal(t, peer, *answers[0].To)
	assert.Equal(t, domain.CallStateActive, sess.State())
}

func TestLastPeerLeavingEndsCallAfterGrace(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	peer := uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalJoined, RoomID: roomID, From: peer, PeerID: peer})
	eventually(t, func() bool { return sess.State() == domain.CallStateActive }, "active")

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalLeft, RoomID: roomID, From: peer, PeerID: peer})

	eventually(t, func() bool { return sess.State() == domain.CallStateEnding || sess.State() == domain.CallStateIdle }, "ending")

	eventually(t, func() bool {
		ended := h.endedEvents()
		return len(ended) == 1 && ended[0].outcome == domain.OutcomeEnded
	}, "completion callback after grace")

	eventually(t, func() bool { return h.registry.ActiveCount() == 0 }, "session removed")

	ends := h.sig.ofType(domain.SignalCallEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, domain.StatusCompleted, ends[0].Status)
	require.NotNil(t, ends[0].StartedAt)
}

func TestPeerLeavingKeepsCallAliveForOthers(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	peerA, peerB := uuid.New(), uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalJoined, RoomID: roomID, From: peerA, PeerID: peerA})
	h.deliver(&domain.SignalEnvelope{Type: domain.SignalJoined, RoomID: roomID, From: peerB, PeerID: peerB})
	eventually(t, func() bool { return sess.LinkCount() == 2 }, "both links up")

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalLeft, RoomID: roomID, From: peerA, PeerID: peerA})

	eventually(t, func() bool { return sess.LinkCount() == 1 }, "departed link closed")
	assert.Equal(t, domain.CallStateActive, sess.State())
	assert.Equal(t, 1, sess.ParticipantCount())

	// Only the departed peer's transport is torn down.
	transports := h.factory.transports()
	require.Len(t, transports, 2)
	assert.Equal(t, 1, transports[0].closeCount())
	assert.Equal(t, 0, transports[1].closeCount())

	// No grace teardown fires while a participant remains.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.CallStateActive, sess.State())
	assert.Empty(t, h.endedEvents())
	assert.Equal(t, 0, h.sig.count(domain.SignalCallEnd))
	assert.Equal(t, 1, h.registry.ActiveCount())
}

func TestDeclinedWhileDialingEndsAfterGrace(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	peer := uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalCallDeclined, RoomID: roomID, From: peer, PeerID: peer})

	eventually(t, func() bool { return sess.State() == domain.CallStateEnding || sess.State() == domain.CallStateIdle }, "ending")

	eventually(t, func() bool {
		ended := h.endedEvents()
		return len(ended) == 1 && ended[0].outcome == domain.OutcomeDeclined
	}, "declined callback after grace")

	ends := h.sig.ofType(domain.SignalCallEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, domain.StatusDeclined, ends[0].Status)
}

func TestDeclinedWhileActiveIsIgnored(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	peerA, peerB := uuid.New(), uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalJoined, RoomID: roomID, From: peerA, PeerID: peerA})
	eventually(t, func() bool { return sess.State() == domain.CallStateActive }, "active")

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalCallDeclined, RoomID: roomID, From: peerB, PeerID: peerB})
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, domain.CallStateActive, sess.State())
	assert.Empty(t, h.endedEvents())
	assert.Equal(t, 1, h.registry.ActiveCount())
}

func TestCancelledWhileRingingTearsDownImmediately(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	caller := uuid.New()

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalCallIncoming, RoomID: roomID, From: caller, CallerName: "Alice"})
	eventually(t, func() bool {
		sess, ok := h.registry.Get(roomID)
		return ok && sess.State() == domain.CallStateRinging
	}, "ringing")

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalCallCancelled, RoomID: roomID, From: caller, PeerID: caller})

	eventually(t, func() bool {
		ended := h.endedEvents()
		return len(ended) == 1 && ended[0].outcome == domain.OutcomeCancelled
	}, "cancelled callback")

	eventually(t, func() bool { return h.registry.ActiveCount() == 0 }, "session removed")

	// Cancellation produces no history report.
	assert.Equal(t, 0, h.sig.count(domain.SignalCallEnd))
}

func TestMediaReleasedExactlyOnce(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	peer := uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalJoined, RoomID: roomID, From: peer, PeerID: peer})
	eventually(t, func() bool { return sess.State() == domain.CallStateActive }, "active")

	require.NoError(t, sess.Stop(context.Background()))
	require.NoError(t, sess.Stop(context.Background()))

	handles := h.device.handles()
	require.Len(t, handles, 1)
	assert.Equal(t, 1, handles[0].releaseCount())

	// The leave announcement carried our own id.
	lefts := h.sig.ofType(domain.SignalLeft)
	require.Len(t, lefts, 1)
	assert.Equal(t, h.selfID, lefts[0].PeerID)
}

func TestStopDiscardsPendingGraceTimer(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	peer := uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalJoined, RoomID: roomID, From: peer, PeerID: peer})
	eventually(t, func() bool { return sess.State() == domain.CallStateActive }, "active")

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalLeft, RoomID: roomID, From: peer, PeerID: peer})
	eventually(t, func() bool { return sess.State() == domain.CallStateEnding }, "ending")

	require.NoError(t, sess.Stop(context.Background()))

	// The stop preempted the grace timer, so no completion is reported.
	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, h.endedEvents())
	assert.Equal(t, 0, h.sig.count(domain.SignalCallEnd))
}

func TestFailedLinkIsClosedButSessionSurvives(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()
	peerA, peerB := uuid.New(), uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalJoined, RoomID: roomID, From: peerA, PeerID: peerA})
	h.deliver(&domain.SignalEnvelope{Type: domain.SignalJoined, RoomID: roomID, From: peerB, PeerID: peerB})
	eventually(t, func() bool { return sess.LinkCount() == 2 }, "two links")

	// The first transport created belongs to peerA.
	transports := h.factory.transports()
	require.Len(t, transports, 2)
	transports[0].events.OnStateChange(domain.LinkFailed)

	eventually(t, func() bool { return sess.LinkCount() == 1 }, "failed link closed")
	assert.Equal(t, domain.CallStateActive, sess.State())
	assert.Equal(t, 2, sess.ParticipantCount())
	eventually(t, func() bool { return transports[0].closeCount() == 1 }, "transport closed")
}

func TestUnknownEnvelopeForUnknownRoomIsDropped(t *testing.T) {
	h := newHarness(t)

	h.deliver(&domain.SignalEnvelope{Type: domain.SignalOffer, RoomID: uuid.New(), From: uuid.New()})
	h.deliver(&domain.SignalEnvelope{Type: domain.SignalLeft, RoomID: uuid.New(), From: uuid.New()})

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, h.registry.ActiveCount())
}

func TestMuteTogglesPropagateToHandle(t *testing.T) {
	h := newHarness(t)
	roomID := uuid.New()

	sess, err := h.registry.StartCall(context.Background(), roomID)
	require.NoError(t, err)

	sess.SetAudioEnabled(false)

	eventually(t, func() bool {
		handles := h.device.handles()
		if len(handles) != 1 {
			return false
		}
		handles[0].mu.Lock()
		defer handles[0].mu.Unlock()
		return !handles[0].audio && handles[0].video
	}, "audio should be muted")
}

func TestShutdownStopsEverySession(t *testing.T) {
	h := newHarness(t)

	_, err := h.registry.StartCall(context.Background(), uuid.New())
	require.NoError(t, err)
	_, err = h.registry.StartCall(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, 2, h.registry.ActiveCount())

	h.registry.Shutdown(context.Background())
	assert.Equal(t, 0, h.registry.ActiveCount())
}
