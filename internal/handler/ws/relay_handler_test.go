package ws

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicelink-backend/internal/domain"
	"voicelink-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

// fakeRecorder captures persisted call records.
type fakeRecorder struct {
	mu   sync.Mutex
	recs []*domain.CallRecord
	err  error
}

func (f *fakeRecorder) Record(_ context.Context, rec *domain.CallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeRecorder) records() []*domain.CallRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.CallRecord(nil), f.recs...)
}

// fakePresence marks configured users offline and records lookups.
type fakePresence struct {
	mu      sync.Mutex
	offline map[uuid.UUID]bool
	queried []uuid.UUID
}

func (f *fakePresence) IsUserOnline(_ context.Context, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, userID)
	return !f.offline[userID], nil
}

func (f *fakePresence) queriedUsers() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.queried...)
}

// fakeRoster serves a static member list.
type fakeRoster struct {
	members []uuid.UUID
}

func (f *fakeRoster) Members(_ context.Context, _ uuid.UUID) ([]uuid.UUID, error) {
	return f.members, nil
}

// newTestHub builds a hub without Redis and without the run loop so tests can
// drive addClient/removeClient/route synchronously.
func newTestHub(recorder CallRecorder, presence PresenceChecker, roster RoomRoster) *RelayHub {
	return &RelayHub{
		rooms:               make(map[uuid.UUID]map[uuid.UUID]*RelayClient),
		callParticipants:    make(map[uuid.UUID]map[uuid.UUID]bool),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		instanceID:          uuid.New().String(),
		recorder:            recorder,
		presence:            presence,
		roster:              roster,
		register:            make(chan *RelayClient),
		unregister:          make(chan *RelayClient),
		inbound:             make(chan *inboundFrame, 16),
		maxConnections:      16,
		semaphore:           make(chan struct{}, 16),
	}
}

func newTestClient(hub *RelayHub, roomID uuid.UUID) *RelayClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RelayClient{
		hub:    hub,
		send:   make(chan []byte, 8),
		userID: uuid.New(),
		roomID: roomID,
		ctx:    ctx,
		cancel: cancel,
	}
}

func recvEnvelope(t *testing.T, client *RelayClient) *domain.SignalEnvelope {
	t.Helper()
	select {
	case payload := <-client.send:
		var env domain.SignalEnvelope
		require.NoError(t, json.Unmarshal(payload, &env))
		return &env
	case <-time.After(time.Second):
		t.Fatal("expected an envelope, got none")
		return nil
	}
}

func assertNoEnvelope(t *testing.T, client *RelayClient) {
	t.Helper()
	select {
	case payload := <-client.send:
		t.Fatalf("expected no envelope, got %s", payload)
	default:
	}
}

// joinCall seats a client in its room's call and returns the peers reply.
func joinCall(t *testing.T, hub *RelayHub, client *RelayClient) *domain.SignalEnvelope {
	t.Helper()
	hub.route(client, &domain.SignalEnvelope{Type: domain.SignalJoin})
	env := recvEnvelope(t, client)
	require.Equal(t, domain.SignalPeers, env.Type)
	return env
}

func TestRouteCallStartBecomesIncoming(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	caller := newTestClient(hub, roomID)
	callee := newTestClient(hub, roomID)
	hub.addClient(caller)
	hub.addClient(callee)

	hub.route(caller, &domain.SignalEnvelope{Type: domain.SignalCallStart, CallerName: "Alice"})

	env := recvEnvelope(t, callee)
	assert.Equal(t, domain.SignalCallIncoming, env.Type)
	assert.Equal(t, caller.userID, env.From)
	assert.Equal(t, roomID, env.RoomID)
	assert.Equal(t, "Alice", env.CallerName)
	assert.False(t, env.Timestamp.IsZero())

	// The caller never hears their own ring.
	assertNoEnvelope(t, caller)
}

func TestRouteCallStartSanitizesCallerName(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	caller := newTestClient(hub, roomID)
	callee := newTestClient(hub, roomID)
	hub.addClient(caller)
	hub.addClient(callee)

	hub.route(caller, &domain.SignalEnvelope{Type: domain.SignalCallStart, CallerName: "  Ali\x00ce \n Smith  "})

	env := recvEnvelope(t, callee)
	assert.Equal(t, "Alice Smith", env.CallerName)
}

func TestRouteJoinRepliesWithPeersAndAnnounces(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	existing := newTestClient(hub, roomID)
	joiner := newTestClient(hub, roomID)
	hub.addClient(existing)
	hub.addClient(joiner)

	first := joinCall(t, hub, existing)
	assert.Empty(t, first.Peers)

	second := joinCall(t, hub, joiner)
	require.Len(t, second.Peers, 1)
	assert.Equal(t, existing.userID, second.Peers[0])

	joinedEnv := recvEnvelope(t, existing)
	assert.Equal(t, domain.SignalJoined, joinedEnv.Type)
	assert.Equal(t, joiner.userID, joinedEnv.PeerID)
}

func TestJoinListsOnlyCallParticipants(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	caller := newTestClient(hub, roomID)
	callee := newTestClient(hub, roomID)
	hub.addClient(caller)
	hub.addClient(callee)

	hub.route(caller, &domain.SignalEnvelope{Type: domain.SignalCallStart, CallerName: "Alice"})
	ring := recvEnvelope(t, callee)
	assert.Equal(t, domain.SignalCallIncoming, ring.Type)

	// The callee is connected but still ringing: the caller enters an empty
	// call and no mesh traffic reaches the callee.
	peers := joinCall(t, hub, caller)
	assert.Empty(t, peers.Peers)
	assertNoEnvelope(t, callee)

	peers = joinCall(t, hub, callee)
	require.Len(t, peers.Peers, 1)
	assert.Equal(t, caller.userID, peers.Peers[0])

	joined := recvEnvelope(t, caller)
	assert.Equal(t, domain.SignalJoined, joined.Type)
	assert.Equal(t, callee.userID, joined.PeerID)
}

func TestRouteDeclineBroadcastsToRoom(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	caller := newTestClient(hub, roomID)
	declining := newTestClient(hub, roomID)
	bystander := newTestClient(hub, roomID)
	hub.addClient(caller)
	hub.addClient(declining)
	hub.addClient(bystander)

	to := caller.userID
	hub.route(declining, &domain.SignalEnvelope{Type: domain.SignalCallDecline, To: &to})

	for _, member := range []*RelayClient{caller, bystander} {
		env := recvEnvelope(t, member)
		assert.Equal(t, domain.SignalCallDeclined, env.Type)
		assert.Equal(t, declining.userID, env.PeerID)
		assert.Nil(t, env.To, "decline fans out room-wide")
	}
	assertNoEnvelope(t, declining)
}

func TestRouteCancelBecomesCancelled(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	caller := newTestClient(hub, roomID)
	callee := newTestClient(hub, roomID)
	hub.addClient(caller)
	hub.addClient(callee)

	hub.route(caller, &domain.SignalEnvelope{Type: domain.SignalCallCancel})

	env := recvEnvelope(t, callee)
	assert.Equal(t, domain.SignalCallCancelled, env.Type)
	assert.Equal(t, caller.userID, env.PeerID)
}

func TestRouteLeftCarriesPeerID(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	leaving := newTestClient(hub, roomID)
	staying := newTestClient(hub, roomID)
	hub.addClient(leaving)
	hub.addClient(staying)
	joinCall(t, hub, staying)
	joinCall(t, hub, leaving)
	recvEnvelope(t, staying) // joined notice for the second participant

	hub.route(leaving, &domain.SignalEnvelope{Type: domain.SignalLeft})

	env := recvEnvelope(t, staying)
	assert.Equal(t, domain.SignalLeft, env.Type)
	assert.Equal(t, leaving.userID, env.PeerID)

	// The departed seat is freed.
	assert.Empty(t, hub.callPeers(context.Background(), roomID, staying.userID))
}

func TestDisconnectedParticipantAnnouncesLeft(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	caller := newTestClient(hub, roomID)
	peer := newTestClient(hub, roomID)
	hub.addClient(caller)
	hub.addClient(peer)
	joinCall(t, hub, caller)
	joinCall(t, hub, peer)
	recvEnvelope(t, caller) // joined notice for the peer

	hub.removeClient(peer)

	env := recvEnvelope(t, caller)
	assert.Equal(t, domain.SignalLeft, env.Type)
	assert.Equal(t, peer.userID, env.From)
	assert.Equal(t, peer.userID, env.PeerID)

	// The seat is already gone; a repeated removal stays quiet.
	hub.removeClient(peer)
	assertNoEnvelope(t, caller)
}

func TestDisconnectBeforeJoinIsSilent(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	caller := newTestClient(hub, roomID)
	ringing := newTestClient(hub, roomID)
	hub.addClient(caller)
	hub.addClient(ringing)
	joinCall(t, hub, caller)

	// A ringing client that drops never held a seat, so nobody is told.
	hub.removeClient(ringing)
	assertNoEnvelope(t, caller)
}

func TestRouteNegotiationRequiresTarget(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	sender := newTestClient(hub, roomID)
	peer := newTestClient(hub, roomID)
	other := newTestClient(hub, roomID)
	hub.addClient(sender)
	hub.addClient(peer)
	hub.addClient(other)

	// Untargeted offers are dropped, not broadcast.
	hub.route(sender, &domain.SignalEnvelope{
		Type: domain.SignalOffer,
		SDP:  &domain.SessionDescription{Type: "offer", SDP: "v=0"},
	})
	assertNoEnvelope(t, peer)
	assertNoEnvelope(t, other)

	to := peer.userID
	hub.route(sender, &domain.SignalEnvelope{
		Type: domain.SignalOffer,
		To:   &to,
		SDP:  &domain.SessionDescription{Type: "offer", SDP: "v=0"},
	})

	env := recvEnvelope(t, peer)
	assert.Equal(t, domain.SignalOffer, env.Type)
	assert.Equal(t, sender.userID, env.From)
	assertNoEnvelope(t, other)
}

func TestRouteUnknownTypeIsDropped(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	sender := newTestClient(hub, roomID)
	peer := newTestClient(hub, roomID)
	hub.addClient(sender)
	hub.addClient(peer)

	hub.route(sender, &domain.SignalEnvelope{Type: domain.SignalCallIncoming})
	hub.route(sender, &domain.SignalEnvelope{Type: "bogus"})

	assertNoEnvelope(t, peer)
}

func TestRouteCallEndIsPersistedNotRelayed(t *testing.T) {
	recorder := &fakeRecorder{}
	hub := newTestHub(recorder, nil, nil)
	roomID := uuid.New()
	reporter := newTestClient(hub, roomID)
	peer := newTestClient(hub, roomID)
	hub.addClient(reporter)
	hub.addClient(peer)

	started := time.Now().Add(-90 * time.Second)
	hub.route(reporter, &domain.SignalEnvelope{
		Type:      domain.SignalCallEnd,
		Status:    domain.StatusDeclined,
		StartedAt: &started,
	})

	assertNoEnvelope(t, peer)

	recs := recorder.records()
	require.Len(t, recs, 1)
	assert.Equal(t, roomID, recs[0].RoomID)
	assert.Equal(t, reporter.userID, recs[0].CallerID)
	assert.Equal(t, domain.StatusDeclined, recs[0].Status)
	assert.Equal(t, started, recs[0].StartedAt)
	require.NotNil(t, recs[0].EndedAt)
	assert.InDelta(t, 90, recs[0].Duration, 2)
	assert.NotEqual(t, uuid.Nil, recs[0].CallID)
}

func TestRouteCallEndDefaultsToCompleted(t *testing.T) {
	recorder := &fakeRecorder{}
	hub := newTestHub(recorder, nil, nil)
	roomID := uuid.New()
	reporter := newTestClient(hub, roomID)
	hub.addClient(reporter)

	hub.route(reporter, &domain.SignalEnvelope{Type: domain.SignalCallEnd})

	recs := recorder.records()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.StatusCompleted, recs[0].Status)
}

func TestCallStartChecksRosterPresence(t *testing.T) {
	offlineMember := uuid.New()
	presence := &fakePresence{offline: map[uuid.UUID]bool{offlineMember: true}}

	hub := newTestHub(nil, presence, nil)
	roomID := uuid.New()
	caller := newTestClient(hub, roomID)
	hub.addClient(caller)

	roster := &fakeRoster{members: []uuid.UUID{caller.userID, offlineMember}}
	hub.roster = roster

	hub.route(caller, &domain.SignalEnvelope{Type: domain.SignalCallStart})

	// Only the non-sender member is checked.
	queried := presence.queriedUsers()
	require.Len(t, queried, 1)
	assert.Equal(t, offlineMember, queried[0])
}

func TestSlowConsumerIsDropped(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	sender := newTestClient(hub, roomID)
	slow := newTestClient(hub, roomID)
	hub.addClient(sender)
	hub.addClient(slow)
	joinCall(t, hub, sender)
	joinCall(t, hub, slow)
	recvEnvelope(t, sender) // joined notice for the slow client

	// Saturate the slow client's buffer.
	for i := 0; i < cap(slow.send); i++ {
		slow.send <- []byte("{}")
	}

	hub.route(sender, &domain.SignalEnvelope{Type: domain.SignalLeft})

	hub.mu.RLock()
	_, stillThere := hub.rooms[roomID][slow.userID]
	hub.mu.RUnlock()
	assert.False(t, stillThere, "slow consumer should be evicted")

	select {
	case <-slow.ctx.Done():
	default:
		t.Fatal("slow consumer context should be cancelled")
	}
}

func TestReconnectReplacesStaleConnection(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	first := newTestClient(hub, roomID)
	hub.addClient(first)

	second := newTestClient(hub, roomID)
	second.userID = first.userID
	hub.addClient(second)

	hub.mu.RLock()
	current := hub.rooms[roomID][first.userID]
	hub.mu.RUnlock()
	assert.Same(t, second, current)

	select {
	case <-first.ctx.Done():
	default:
		t.Fatal("stale connection context should be cancelled")
	}
}

func TestReconnectKeepsCallSeat(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	observer := newTestClient(hub, roomID)
	first := newTestClient(hub, roomID)
	hub.addClient(observer)
	hub.addClient(first)
	joinCall(t, hub, observer)
	joinCall(t, hub, first)
	recvEnvelope(t, observer) // joined notice for the first connection

	second := newTestClient(hub, roomID)
	second.userID = first.userID
	hub.addClient(second)

	// The stale connection's unregister must not unseat the user.
	hub.removeClient(first)
	assertNoEnvelope(t, observer)

	peers := hub.callPeers(context.Background(), roomID, observer.userID)
	require.Len(t, peers, 1)
	assert.Equal(t, first.userID, peers[0])
}

func TestEvictingLastClientCleansUpRoom(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	client := newTestClient(hub, roomID)
	hub.addClient(client)

	hub.mu.RLock()
	_, subExists := hub.subscriptionCancels[roomID]
	hub.mu.RUnlock()
	require.True(t, subExists)

	for i := 0; i < cap(client.send); i++ {
		client.send <- []byte("{}")
	}
	hub.sendTo(roomID, client.userID, &domain.SignalEnvelope{
		Type:   domain.SignalPeers,
		RoomID: roomID,
	})

	hub.mu.RLock()
	_, roomExists := hub.rooms[roomID]
	_, subExists = hub.subscriptionCancels[roomID]
	hub.mu.RUnlock()
	assert.False(t, roomExists, "evicting the last client should delete the room")
	assert.False(t, subExists, "evicting the last client should cancel the subscription")
}

func TestRemoveLastClientCleansUpRoom(t *testing.T) {
	hub := newTestHub(nil, nil, nil)
	roomID := uuid.New()
	client := newTestClient(hub, roomID)
	hub.addClient(client)

	hub.removeClient(client)

	hub.mu.RLock()
	_, roomExists := hub.rooms[roomID]
	_, subExists := hub.subscriptionCancels[roomID]
	hub.mu.RUnlock()
	assert.False(t, roomExists)
	assert.False(t, subExists)

	// Removing an already-removed client is harmless.
	hub.removeClient(client)
}
