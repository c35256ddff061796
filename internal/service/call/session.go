package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicelink-backend/internal/domain"
)

// eventKind discriminates the inputs serialized onto a session's goroutine.
type eventKind int

const (
	evStart eventKind = iota
	evRing
	evAnswer
	evDecline
	evStop
	evEnvelope
	evLocalCandidate
	evLinkState
	evGraceExpired
	evSetAudio
	evSetVideo
)

type sessionEvent struct {
	kind      eventKind
	ctx       context.Context
	env       *domain.SignalEnvelope
	peerID    uuid.UUID
	callerID  uuid.UUID
	caller    string
	cand      *domain.Candidate
	connState domain.LinkConnState
	outcome   domain.CallOutcome
	enabled   bool
	resp      chan error
}

// Session is one call attached to a room. Inbound envelopes, local UI
// actions and timer expirations are all serialized onto a single goroutine,
// so state transitions never interleave. Long-running operations (media
// acquisition, negotiation) run inline on that goroutine: later events for
// the session queue up and are processed in arrival order.
type Session struct {
	registry *Registry
	roomID   uuid.UUID
	selfID   uuid.UUID
	log      *zap.Logger

	events chan sessionEvent
	done   chan struct{}

	// Owned by the run goroutine.
	state         domain.CallState
	initiator     uuid.UUID
	startedAt     time.Time
	participants  map[uuid.UUID]struct{}
	links         map[uuid.UUID]*PeerLink
	handle        MediaHandle
	mediaReleased bool
	hadPeer       bool
	graceTimer    *time.Timer
	tornDown      bool
	audioEnabled  bool
	videoEnabled  bool

	// Mirror of loop-owned state for concurrent observers.
	obsMu      sync.RWMutex
	obsState   domain.CallState
	obsPeers   int
	obsLinks   int
	obsStarted time.Time
}

const sessionEventBuffer = 64

func newSession(registry *Registry, roomID, initiator uuid.UUID) *Session {
	return &Session{
		registry:     registry,
		roomID:       roomID,
		selfID:       registry.selfID,
		log:          registry.log.With(zap.String("room_id", roomID.String())),
		events:       make(chan sessionEvent, sessionEventBuffer),
		done:         make(chan struct{}),
		state:        domain.CallStateIdle,
		obsState:     domain.CallStateIdle,
		initiator:    initiator,
		participants: make(map[uuid.UUID]struct{}),
		links:        make(map[uuid.UUID]*PeerLink),
		audioEnabled: true,
		videoEnabled: true,
	}
}

// RoomID returns the room this session is attached to.
func (s *Session) RoomID() uuid.UUID { return s.roomID }

// Initiator returns the participant who started the call.
func (s *Session) Initiator() uuid.UUID { return s.initiator }

// State returns the current call state.
func (s *Session) State() domain.CallState {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	return s.obsState
}

// ParticipantCount returns the number of remote participants currently joined.
func (s *Session) ParticipantCount() int {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	return s.obsPeers
}

// LinkCount returns the number of live (non-closed) peer links.
func (s *Session) LinkCount() int {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	return s.obsLinks
}

// StartedAt returns when the session left idle.
func (s *Session) StartedAt() time.Time {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	return s.obsStarted
}

// Done is closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Answer accepts an incoming (ringing) call: local media is acquired and a
// join announcement is emitted.
func (s *Session) Answer(ctx context.Context) error {
	return s.ask(ctx, sessionEvent{kind: evAnswer})
}

// Decline rejects a ringing call, notifying the caller point-to-point.
func (s *Session) Decline(ctx context.Context) error {
	return s.ask(ctx, sessionEvent{kind: evDecline})
}

// Stop ends local involvement in the call. In idle it is a no-op; while
// dialing or ringing before any peer joined it cancels the call; once
// active it leaves and tears down immediately, discarding any pending
// grace timer.
func (s *Session) Stop(ctx context.Context) error {
	err := s.ask(ctx, sessionEvent{kind: evStop})
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	return err
}

// SetAudioEnabled toggles the local audio track.
func (s *Session) SetAudioEnabled(enabled bool) {
	s.post(sessionEvent{kind: evSetAudio, enabled: enabled})
}

// SetVideoEnabled toggles the local video track.
func (s *Session) SetVideoEnabled(enabled bool) {
	s.post(sessionEvent{kind: evSetVideo, enabled: enabled})
}

// start drives the idle -> dialing transition for an outgoing call.
func (s *Session) start(ctx context.Context) error {
	return s.ask(ctx, sessionEvent{kind: evStart})
}

// ring drives the idle -> ringing transition for an incoming call.
func (s *Session) ring(callerID uuid.UUID, callerName string) {
	s.post(sessionEvent{kind: evRing, callerID: callerID, caller: callerName})
}

// deliver queues an inbound envelope for processing in arrival order.
func (s *Session) deliver(env *domain.SignalEnvelope) {
	s.post(sessionEvent{kind: evEnvelope, env: env})
}

// post enqueues an event, giving up if the session is gone.
func (s *Session) post(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// ask enqueues an event and waits for the loop to process it.
func (s *Session) ask(ctx context.Context, ev sessionEvent) error {
	ev.ctx = ctx
	ev.resp = make(chan error, 1)
	select {
	case s.events <- ev:
	case <-s.done:
		return ErrNoSession
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ev.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the session's single thread of control. After teardown it keeps
// draining briefly so callers that raced the shutdown still get answers.
func (s *Session) run() {
	for {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
		case <-s.done:
			for {
				select {
				case ev := <-s.events:
					s.dispatch(ev)
				case <-time.After(drainWindow):
					return
				}
			}
		}
	}
}

const drainWindow = 100 * time.Millisecond

func (s *Session) dispatch(ev sessionEvent) {
	if s.tornDown {
		if ev.resp != nil {
			if ev.kind == evStop {
				ev.resp <- nil
			} else {
				ev.resp <- ErrNoSession
			}
		}
		return
	}

	var err error
	switch ev.kind {
	case evStart:
		err = s.onStart(ev.ctx)
	case evRing:
		s.onRing(ev.callerID, ev.caller)
	case evAnswer:
		err = s.onAnswer(ev.ctx)
	case evDecline:
		err = s.onDecline(ev.ctx)
	case evStop:
		err = s.onStop(ev.ctx)
	case evEnvelope:
		s.onEnvelope(ev.env)
	case evLocalCandidate:
		if link, ok := s.links[ev.peerID]; ok {
			link.handleLocalCandidate(ev.cand)
		}
	case evLinkState:
		s.onLinkState(ev.peerID, ev.connState)
	case evGraceExpired:
		s.onGraceExpired(ev.outcome)
	case evSetAudio:
		s.audioEnabled = ev.enabled
		if s.handle != nil && !s.mediaReleased {
			s.handle.SetAudioEnabled(ev.enabled)
		}
	case evSetVideo:
		s.videoEnabled = ev.enabled
		if s.handle != nil && !s.mediaReleased {
			s.handle.SetVideoEnabled(ev.enabled)
		}
	}
	if ev.resp != nil {
		ev.resp <- err
	}
	s.publishObservable()
}

// onStart acquires local media and announces the call to the room.
func (s *Session) onStart(ctx context.Context) error {
	if s.state != domain.CallStateIdle {
		return ErrInvalidState
	}
	if err := s.acquireMedia(ctx); err != nil {
		s.teardown()
		return err
	}

	s.setState(domain.CallStateDialing)
	s.startedAt = time.Now().UTC()

	if err := s.sendEnvelope(ctx, &domain.SignalEnvelope{
		Type:       domain.SignalCallStart,
		CallerName: s.registry.displayName(),
	}); err != nil {
		s.log.Warn("failed to announce call start", zap.Error(err))
	}
	if err := s.sendEnvelope(ctx, &domain.SignalEnvelope{Type: domain.SignalJoin}); err != nil {
		s.log.Warn("failed to announce join", zap.Error(err))
	}
	s.log.Info("call started", zap.String("state", string(s.state)))
	return nil
}

// onRing transitions idle -> ringing and notifies the incoming-call
// collaborator.
func (s *Session) onRing(callerID uuid.UUID, callerName string) {
	if s.state != domain.CallStateIdle {
		return
	}
	s.initiator = callerID
	s.setState(domain.CallStateRinging)
	s.startedAt = time.Now().UTC()
	s.log.Info("incoming call", zap.String("caller_id", callerID.String()))

	if s.registry.callbacks.OnIncomingCall != nil {
		s.registry.callbacks.OnIncomingCall(s.roomID, callerID, callerName)
	}
}

// onAnswer accepts a ringing call: acquire media, join the room.
func (s *Session) onAnswer(ctx context.Context) error {
	if s.state != domain.CallStateRinging {
		return ErrInvalidState
	}
	if err := s.acquireMedia(ctx); err != nil {
		// Device failure aborts this attempt only; tell the caller we are
		// not joining.
		s.sendDecline(ctx)
		s.teardown()
		return err
	}
	if err := s.sendEnvelope(ctx, &domain.SignalEnvelope{Type: domain.SignalJoin}); err != nil {
		s.log.Warn("failed to announce join", zap.Error(err))
	}
	return nil
}

// onDecline rejects a ringing call and reports a declined completion.
func (s *Session) onDecline(ctx context.Context) error {
	if s.state != domain.CallStateRinging {
		return ErrInvalidState
	}
	s.sendDecline(ctx)
	if s.registry.callbacks.OnCallEnded != nil {
		s.registry.callbacks.OnCallEnded(s.roomID, domain.OutcomeDeclined)
	}
	s.teardown()
	return nil
}

func (s *Session) sendDecline(ctx context.Context) {
	to := s.initiator
	if err := s.sendEnvelope(ctx, &domain.SignalEnvelope{
		Type: domain.SignalCallDecline,
		To:   &to,
	}); err != nil {
		s.log.Warn("failed to send decline", zap.Error(err))
	}
}

// onStop implements the local "stop" action for every state.
func (s *Session) onStop(ctx context.Context) error {
	switch s.state {
	case domain.CallStateIdle:
		// Re-entrant stop is a no-op.
		return nil
	case domain.CallStateDialing, domain.CallStateRinging:
		if !s.hadPeer {
			// Cancel before anyone joined: no completion record.
			if s.initiator == s.selfID {
				if err := s.sendEnvelope(ctx, &domain.SignalEnvelope{Type: domain.SignalCallCancel}); err != nil {
					s.log.Warn("failed to send cancel", zap.Error(err))
				}
			}
			s.teardown()
			return nil
		}
		fallthrough
	case domain.CallStateActive, domain.CallStateEnding:
		if len(s.participants) > 0 {
			if err := s.sendEnvelope(ctx, &domain.SignalEnvelope{Type: domain.SignalLeft, PeerID: s.selfID}); err != nil {
				s.log.Warn("failed to send leave", zap.Error(err))
			}
		}
		s.teardown()
		return nil
	}
	return nil
}

// onEnvelope dispatches one inbound envelope. Per-peer negotiation errors
// close only the affected link.
func (s *Session) onEnvelope(env *domain.SignalEnvelope) {
	if env == nil || s.tornDown {
		return
	}
	switch env.Type {
	case domain.SignalPeers:
		s.onPeers(env.Peers)
	case domain.SignalJoined:
		s.onJoined(env.PeerID)
	case domain.SignalLeft:
		s.onLeft(env.PeerID)
	case domain.SignalOffer:
		s.onOffer(env.From, env.SDP)
	case domain.SignalAnswer:
		s.onAnswerSDP(env.From, env.SDP)
	case domain.SignalICE:
		s.onCandidate(env.From, env.Candidate)
	case domain.SignalCallDeclined:
		s.onDeclined(env.PeerID)
	case domain.SignalCallCancelled:
		s.onCancelled()
	case domain.SignalCallStart, domain.SignalCallIncoming:
		// Already in a session for this room; duplicate announcements are
		// ignored.
	default:
		s.log.Debug("discarding unexpected envelope", zap.String("type", string(env.Type)))
	}
}

// onPeers reacts to the relay's enumeration of participants already in the
// call. Links created here stay passive: the existing peers offer toward us.
func (s *Session) onPeers(peers []uuid.UUID) {
	for _, peerID := range peers {
		if peerID == s.selfID {
			continue
		}
		s.participants[peerID] = struct{}{}
		if _, ok := s.links[peerID]; !ok {
			if _, err := s.createLink(peerID); err != nil {
				s.log.Warn("failed to create peer link",
					zap.String("peer_id", peerID.String()), zap.Error(err))
			}
		}
	}
	if len(s.participants) > 0 {
		s.markActive()
	}
}

// onJoined reacts to a newly joined participant. The local side already has
// a session, so it takes the offerer role toward the newcomer. Duplicate
// notifications for an already-linked peer are no-ops.
func (s *Session) onJoined(peerID uuid.UUID) {
	if peerID == uuid.Nil || peerID == s.selfID {
		return
	}
	if _, ok := s.links[peerID]; ok {
		return
	}
	s.participants[peerID] = struct{}{}
	s.markActive()

	link, err := s.createLink(peerID)
	if err != nil {
		s.log.Warn("failed to create peer link",
			zap.String("peer_id", peerID.String()), zap.Error(err))
		return
	}
	if err := link.startOffer(context.Background()); err != nil {
		s.failLink(link, err)
	}
}

// onLeft closes the departing peer's link. When the last remote participant
// is gone the session schedules grace teardown with a completed outcome.
func (s *Session) onLeft(peerID uuid.UUID) {
	delete(s.participants, peerID)
	if link, ok := s.links[peerID]; ok {
		link.close()
		delete(s.links, peerID)
	}
	if s.state == domain.CallStateActive && len(s.participants) == 0 {
		s.setState(domain.CallStateEnding)
		s.scheduleGrace(domain.OutcomeEnded)
	}
}

// onOffer answers an inbound offer, creating an answerer link for a peer we
// have not seen yet.
func (s *Session) onOffer(from uuid.UUID, sdp *domain.SessionDescription) {
	if from == uuid.Nil {
		return
	}
	link, ok := s.links[from]
	if !ok {
		s.participants[from] = struct{}{}
		var err error
		if link, err = s.createLink(from); err != nil {
			s.log.Warn("failed to create peer link for offer",
				zap.String("peer_id", from.String()), zap.Error(err))
			return
		}
	}
	s.markActive()
	if err := link.handleOffer(context.Background(), sdp); err != nil {
		s.failLink(link, err)
	}
}

// onAnswerSDP applies a remote answer; an answer without a matching link is
// discarded and logged, never fatal.
func (s *Session) onAnswerSDP(from uuid.UUID, sdp *domain.SessionDescription) {
	link, ok := s.links[from]
	if !ok {
		s.log.Warn("discarding answer from unknown peer", zap.String("peer_id", from.String()))
		return
	}
	if err := link.handleAnswer(sdp); err != nil {
		s.failLink(link, err)
	}
}

// onCandidate applies a trickled candidate; candidates for closed or unknown
// links are silently discarded.
func (s *Session) onCandidate(from uuid.UUID, cand *domain.Candidate) {
	link, ok := s.links[from]
	if !ok {
		return
	}
	if err := link.handleRemoteCandidate(cand); err != nil {
		s.log.Warn("failed to apply remote candidate",
			zap.String("peer_id", from.String()), zap.Error(err))
	}
}

// onDeclined handles a declined notice. Once the session is active the
// decline concerns only the declining peer and is ignored; while dialing or
// ringing it ends the attempt after the grace delay.
func (s *Session) onDeclined(peerID uuid.UUID) {
	if s.state == domain.CallStateActive {
		s.log.Debug("ignoring decline while active", zap.String("peer_id", peerID.String()))
		return
	}
	if s.state != domain.CallStateDialing && s.state != domain.CallStateRinging {
		return
	}
	s.setState(domain.CallStateEnding)
	s.scheduleGrace(domain.OutcomeDeclined)
}

// onCancelled handles the caller withdrawing the call before we answered.
func (s *Session) onCancelled() {
	if s.state != domain.CallStateRinging {
		return
	}
	if s.registry.callbacks.OnCallEnded != nil {
		s.registry.callbacks.OnCallEnded(s.roomID, domain.OutcomeCancelled)
	}
	s.teardown()
}

// onLinkState records transport connectivity; a terminal failure closes only
// the affected link.
func (s *Session) onLinkState(peerID uuid.UUID, state domain.LinkConnState) {
	link, ok := s.links[peerID]
	if !ok {
		return
	}
	link.handleConnState(state)
	if state == domain.LinkFailed {
		s.log.Warn("peer link failed", zap.String("peer_id", peerID.String()))
		link.close()
	}
}

// onGraceExpired performs the deferred teardown scheduled by a decline or a
// last-peer-leave. The pending timer is discarded by any earlier stop, and
// teardown itself is idempotent, so a late fire is harmless.
func (s *Session) onGraceExpired(outcome domain.CallOutcome) {
	if s.tornDown {
		return
	}
	if s.registry.callbacks.OnCallEnded != nil {
		s.registry.callbacks.OnCallEnded(s.roomID, outcome)
	}

	status := domain.StatusCompleted
	if outcome == domain.OutcomeDeclined {
		status = domain.StatusDeclined
	}
	started := s.startedAt
	if err := s.sendEnvelope(context.Background(), &domain.SignalEnvelope{
		Type:      domain.SignalCallEnd,
		Status:    status,
		StartedAt: &started,
	}); err != nil {
		s.log.Warn("failed to report call end", zap.Error(err))
	}
	s.teardown()
}

// markActive moves dialing/ringing to active on the first confirmation that
// a remote participant is in the call.
func (s *Session) markActive() {
	s.hadPeer = true
	if s.state == domain.CallStateDialing || s.state == domain.CallStateRinging {
		s.setState(domain.CallStateActive)
		s.log.Info("call active", zap.Int("participants", len(s.participants)))
	}
}

// createLink builds the peer transport and registers the link. The factory
// events are bounced back onto the session goroutine so the link is never
// touched concurrently.
func (s *Session) createLink(peerID uuid.UUID) (*PeerLink, error) {
	var handle MediaHandle
	if !s.mediaReleased {
		handle = s.handle
	}
	transport, err := s.registry.transports.NewPeerTransport(handle, TransportEvents{
		OnCandidate: func(cand *domain.Candidate) {
			s.postAsync(sessionEvent{kind: evLocalCandidate, peerID: peerID, cand: cand})
		},
		OnStateChange: func(state domain.LinkConnState) {
			s.postAsync(sessionEvent{kind: evLinkState, peerID: peerID, connState: state})
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer transport: %w", err)
	}
	link := newPeerLink(peerID, transport, s.sendFromLoop, s.log)
	s.links[peerID] = link
	return link, nil
}

// failLink contains a negotiation error to the single affected link.
func (s *Session) failLink(link *PeerLink, err error) {
	s.log.Warn("peer negotiation failed",
		zap.String("peer_id", link.peerID.String()), zap.Error(err))
	link.close()
}

// postAsync enqueues without blocking; transport callbacks must not stall
// behind a busy loop, so overflow is dropped with a warning.
func (s *Session) postAsync(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
		s.log.Warn("session event queue full, dropping event")
	}
}

// scheduleGrace arms the cancellable teardown timer.
func (s *Session) scheduleGrace(outcome domain.CallOutcome) {
	s.cancelGrace()
	s.graceTimer = time.AfterFunc(s.registry.graceDelay, func() {
		s.post(sessionEvent{kind: evGraceExpired, outcome: outcome})
	})
}

func (s *Session) cancelGrace() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

// acquireMedia obtains the exclusive local media handle, at most once per
// session.
func (s *Session) acquireMedia(ctx context.Context) error {
	if s.handle != nil {
		return nil
	}
	handle, err := s.registry.media.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire local media: %w", err)
	}
	s.handle = handle
	s.handle.SetAudioEnabled(s.audioEnabled)
	s.handle.SetVideoEnabled(s.videoEnabled)
	return nil
}

// releaseMedia releases the handle exactly once, on any exit path.
func (s *Session) releaseMedia() {
	if s.handle == nil || s.mediaReleased {
		return
	}
	s.mediaReleased = true
	if err := s.handle.Release(); err != nil {
		s.log.Warn("failed to release local media", zap.Error(err))
	}
}

// teardown closes every peer link, releases media and removes the session
// from the registry. Guarded against double execution.
func (s *Session) teardown() {
	if s.tornDown {
		return
	}
	s.tornDown = true
	s.cancelGrace()
	for peerID, link := range s.links {
		link.close()
		delete(s.links, peerID)
	}
	s.participants = make(map[uuid.UUID]struct{})
	s.releaseMedia()
	s.setState(domain.CallStateIdle)
	s.registry.remove(s.roomID)
	close(s.done)
	s.log.Info("session torn down")
}

// sendFromLoop is the bound sender handed to peer links.
func (s *Session) sendFromLoop(env *domain.SignalEnvelope) error {
	return s.sendEnvelope(context.Background(), env)
}

func (s *Session) sendEnvelope(ctx context.Context, env *domain.SignalEnvelope) error {
	env.RoomID = s.roomID
	env.From = s.selfID
	env.Timestamp = time.Now().UTC()
	return s.registry.sig.Send(ctx, env)
}

func (s *Session) setState(state domain.CallState) {
	s.state = state
}

// publishObservable refreshes the mirror read by State/ParticipantCount/
// LinkCount without touching loop-owned state from other goroutines.
func (s *Session) publishObservable() {
	live := 0
	for _, link := range s.links {
		if !link.closed {
			live++
		}
	}
	s.obsMu.Lock()
	s.obsState = s.state
	s.obsPeers = len(s.participants)
	s.obsLinks = live
	s.obsStarted = s.startedAt
	s.obsMu.Unlock()
}
