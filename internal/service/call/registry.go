package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicelink-backend/internal/domain"
)

// Registry is the process-wide map from room identifier to active call
// session: the single source of truth for "is a call active in room X".
// It is created once at client startup and passed by reference to every
// consumer. The map is mutex-guarded; per-session transitions are
// serialized by one goroutine per session.
type Registry struct {
	selfID      uuid.UUID
	sig         Signaler
	media       MediaDevice
	transports  TransportFactory
	displayName DisplayNameFunc
	callbacks   Callbacks
	graceDelay  time.Duration
	log         *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// RegistryConfig wires the registry's collaborators.
type RegistryConfig struct {
	SelfID      uuid.UUID
	Signaler    Signaler
	Media       MediaDevice
	Transports  TransportFactory
	DisplayName DisplayNameFunc
	Callbacks   Callbacks

	// GraceDelay is the pause between detecting a call-ending condition and
	// full teardown. Zero selects the default.
	GraceDelay time.Duration
	Logger     *zap.Logger
}

// DefaultGraceDelay matches the UI notice window of the reference client.
const DefaultGraceDelay = 2 * time.Second

// NewRegistry creates an empty session registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = DefaultGraceDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DisplayName == nil {
		cfg.DisplayName = func() string { return cfg.SelfID.String() }
	}
	return &Registry{
		selfID:      cfg.SelfID,
		sig:         cfg.Signaler,
		media:       cfg.Media,
		transports:  cfg.Transports,
		displayName: cfg.DisplayName,
		callbacks:   cfg.Callbacks,
		graceDelay:  cfg.GraceDelay,
		log:         cfg.Logger,
		sessions:    make(map[uuid.UUID]*Session),
	}
}

// StartCall begins an outgoing call in roomID. It acquires local media and
// announces the call to the room; device errors abort the attempt and leave
// no session behind.
func (r *Registry) StartCall(ctx context.Context, roomID uuid.UUID) (*Session, error) {
	sess, err := r.create(roomID, r.selfID)
	if err != nil {
		return nil, err
	}
	if err := sess.start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start call: %w", err)
	}
	return sess, nil
}

// Get returns the active session for roomID, if any.
func (r *Registry) Get(roomID uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[roomID]
	return sess, ok
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// HandleEnvelope routes an inbound envelope to the owning session. A
// call-incoming announcement for a room with no session creates one in the
// ringing state and fires the incoming-call callback; envelopes for unknown
// sessions are discarded defensively.
func (r *Registry) HandleEnvelope(env *domain.SignalEnvelope) {
	if env == nil {
		return
	}

	if sess, ok := r.Get(env.RoomID); ok {
		sess.deliver(env)
		return
	}

	switch env.Type {
	case domain.SignalCallIncoming, domain.SignalCallStart:
		sess, err := r.create(env.RoomID, env.From)
		if err != nil {
			// Lost the race with a concurrent StartCall; the local call wins.
			r.log.Debug("ignoring incoming call for busy room",
				zap.String("room_id", env.RoomID.String()))
			return
		}
		sess.ring(env.From, env.CallerName)
	default:
		r.log.Debug("dropping envelope for unknown session",
			zap.String("type", string(env.Type)),
			zap.String("room_id", env.RoomID.String()))
	}
}

// Shutdown stops every live session. Used on client exit.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.Stop(ctx); err != nil {
			r.log.Warn("failed to stop session on shutdown", zap.Error(err))
		}
	}
}

// create inserts a fresh idle session for roomID. At most one session per
// room may exist at any time.
func (r *Registry) create(roomID, initiator uuid.UUID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[roomID]; ok {
		return nil, ErrCallActive
	}
	sess := newSession(r, roomID, initiator)
	r.sessions[roomID] = sess
	go sess.run()
	return sess, nil
}

// remove drops a session that has returned to idle.
func (r *Registry) remove(roomID uuid.UUID) {
	r.mu.Lock()
	delete(r.sessions, roomID)
	r.mu.Unlock()
}
