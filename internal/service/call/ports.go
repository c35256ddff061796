package call

import (
	"context"

	"github.com/google/uuid"

	"voicelink-backend/internal/domain"
)

// Signaler delivers signal envelopes to the relay. Implemented by the
// WebSocket relay gateway; the call core never touches the network directly.
type Signaler interface {
	Send(ctx context.Context, env *domain.SignalEnvelope) error
}

// MediaHandle is the ownership token for the locally captured audio/video
// resource. It is acquired at most once per session, shared by reference
// across all peer links, and released exactly once on any exit path.
type MediaHandle interface {
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Release() error
}

// MediaDevice acquires the local capture device. Acquire fails with one of
// ErrPermissionDenied, ErrDeviceBusy or ErrDeviceAbsent when the device
// cannot be opened.
type MediaDevice interface {
	Acquire(ctx context.Context) (MediaHandle, error)
}

// PeerTransport abstracts one native peer connection. CreateOffer and
// CreateAnswer also install the generated description locally.
type PeerTransport interface {
	CreateOffer(ctx context.Context) (*domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (*domain.SessionDescription, error)
	SetRemoteDescription(desc *domain.SessionDescription) error
	AddCandidate(cand *domain.Candidate) error
	Close() error
}

// TransportEvents receives asynchronous transport notifications. Callbacks
// fire on transport-owned goroutines; implementations must not block.
type TransportEvents struct {
	OnCandidate   func(cand *domain.Candidate)
	OnStateChange func(state domain.LinkConnState)
}

// TransportFactory builds a PeerTransport attached to the session's local
// media handle. A nil handle produces a receive-only transport.
type TransportFactory interface {
	NewPeerTransport(media MediaHandle, events TransportEvents) (PeerTransport, error)
}

// Callbacks are the notifications this core exposes to the UI/history layer.
// Both are optional and are invoked from the session goroutine.
type Callbacks struct {
	// OnIncomingCall fires when a call-incoming announcement arrives for a
	// room the client has no session in.
	OnIncomingCall func(roomID, callerID uuid.UUID, callerName string)

	// OnCallEnded fires when a call ends from the remote side
	// (declined, cancelled or ended).
	OnCallEnded func(roomID uuid.UUID, outcome domain.CallOutcome)
}

// DisplayNameFunc resolves the local user's display name for call-start
// announcements.
type DisplayNameFunc func() string
