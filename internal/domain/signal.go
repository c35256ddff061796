package domain

import (
	"time"

	"github.com/google/uuid"
)

// SignalType discriminates the control messages exchanged through the relay.
type SignalType string

const (
	// Room-wide announcements
	SignalCallStart     SignalType = "call-start"
	SignalJoin          SignalType = "join"
	SignalJoined        SignalType = "joined"
	SignalLeft          SignalType = "left"
	SignalCallDeclined  SignalType = "call-declined"
	SignalCallCancel    SignalType = "call-cancel"
	SignalCallCancelled SignalType = "call-cancelled"

	// Point-to-point
	SignalPeers        SignalType = "peers"
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICE          SignalType = "ice"
	SignalCallDecline  SignalType = "call-decline"
	SignalCallIncoming SignalType = "call-incoming"

	// Client -> server only
	SignalCallEnd SignalType = "call-end"
)

// SessionDescription is the negotiated media capability description
// exchanged as offer/answer between two peers.
type SessionDescription struct {
	Type string `json:"type"` // offer, answer
	SDP  string `json:"sdp"`
}

// Candidate is one trickled network path by which a peer may be reachable.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

// SignalEnvelope is the wire unit for call signaling. Messages carrying a To
// field are delivered point-to-point; messages without one are broadcast to
// all call participants in the room except the sender.
type SignalEnvelope struct {
	Type   SignalType `json:"type"`
	RoomID uuid.UUID  `json:"room_id"`
	From   uuid.UUID  `json:"from,omitempty"`
	To     *uuid.UUID `json:"to,omitempty"`

	// Type-specific payload fields
	CallerName string              `json:"caller_name,omitempty"` // call-start, call-incoming
	PeerID     uuid.UUID           `json:"peer_id,omitempty"`     // joined, left, call-declined, call-cancelled
	Peers      []uuid.UUID         `json:"peers,omitempty"`       // peers
	SDP        *SessionDescription `json:"sdp,omitempty"`         // offer, answer
	Candidate  *Candidate          `json:"candidate,omitempty"`   // ice
	Status     CallStatus          `json:"status,omitempty"`      // call-end
	StartedAt  *time.Time          `json:"started_at,omitempty"`  // call-end

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// PointToPoint reports whether the envelope names a single recipient.
func (e *SignalEnvelope) PointToPoint() bool {
	return e.To != nil && *e.To != uuid.Nil
}
