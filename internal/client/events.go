package client

import "github.com/forkful/liveclass/internal/domain"

// Event is delivered on the controller's Events channel so callers can
// observe session progress without polling.
type Event any

type RoomJoinedEvent struct {
	Room      domain.RoomID
	Self      domain.ParticipantID
	Occupants []domain.ParticipantID
}

type PeerConnectedEvent struct {
	Participant domain.ParticipantID
}

type PeerClosedEvent struct {
	Participant domain.ParticipantID
}

// NegotiationStalledEvent fires when a link failed to reach connected within
// the stall timeout. The link is torn down; rejoining is up to the caller.
type NegotiationStalledEvent struct {
	Participant domain.ParticipantID
}

type ServerErrorEvent struct {
	Reason string
}
