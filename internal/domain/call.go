package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallState is the call-level lifecycle of a session.
type CallState string

const (
	CallStateIdle    CallState = "idle"
	CallStateDialing CallState = "dialing"
	CallStateRinging CallState = "ringing"
	CallStateActive  CallState = "active"
	CallStateEnding  CallState = "ending"
)

// LinkRole is fixed for the lifetime of a peer link once negotiation starts.
// The side that was already in the session when a new participant announced
// joining offers toward that participant.
type LinkRole string

const (
	RoleOfferer  LinkRole = "offerer"
	RoleAnswerer LinkRole = "answerer"
)

// NegotiationState tracks the offer/answer exchange on one peer link.
type NegotiationState string

const (
	NegotiationNew            NegotiationState = "new"
	NegotiationOfferSent      NegotiationState = "offer_sent"
	NegotiationOfferReceived  NegotiationState = "offer_received"
	NegotiationAnswerSent     NegotiationState = "answer_sent"
	NegotiationAnswerReceived NegotiationState = "answer_received"
	NegotiationConnected      NegotiationState = "connected"
	NegotiationClosed         NegotiationState = "closed"
)

// LinkConnState is the connectivity state reported by the media transport.
type LinkConnState string

const (
	LinkConnecting   LinkConnState = "connecting"
	LinkConnected    LinkConnState = "connected"
	LinkDisconnected LinkConnState = "disconnected"
	LinkFailed       LinkConnState = "failed"
	LinkClosed       LinkConnState = "closed"
)

// CallOutcome is the reason reported to the history/notification collaborator
// when a call ends from the remote side.
type CallOutcome string

const (
	OutcomeDeclined  CallOutcome = "declined"
	OutcomeCancelled CallOutcome = "cancelled"
	OutcomeEnded     CallOutcome = "ended"
)

// CallStatus is the completion status carried by a call-end envelope and
// persisted in call history. Cancelled calls produce no record.
type CallStatus string

const (
	StatusDeclined  CallStatus = "declined"
	StatusCompleted CallStatus = "completed"
)

// CallRecord is one completed or declined call, as persisted for history.
type CallRecord struct {
	CallID    uuid.UUID  `json:"call_id"`
	RoomID    uuid.UUID  `json:"room_id"`
	CallerID  uuid.UUID  `json:"caller_id"`
	Status    CallStatus `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Duration  int        `json:"duration,omitempty"` // in seconds
}
