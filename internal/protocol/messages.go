// Package protocol defines the wire messages exchanged between the signaling
// relay and its participants. The relay never interprets SDP or candidate
// contents; they ride through as opaque strings.
package protocol

import (
	"encoding/json"

	"github.com/forkful/liveclass/internal/domain"
)

// Event names, client to server.
const (
	EventJoinRoom      = "join-room"
	EventSendOffer     = "send-offer"
	EventSendAnswer    = "send-answer"
	EventSendCandidate = "send-candidate"
	EventPing          = "ping"
)

// Event names, server to client.
const (
	EventRoomOccupants     = "room-occupants"
	EventIncomingOffer     = "incoming-offer"
	EventIncomingAnswer    = "incoming-answer"
	EventIncomingCandidate = "incoming-candidate"
	EventParticipantLeft   = "participant-left"
	EventPong              = "pong"
	EventError             = "error"
)

// Head is the minimal envelope every message carries; handlers sniff the
// type first and then unmarshal the full payload.
type Head struct {
	Type string `json:"type"`
}

// Sniff extracts the event type from a raw frame.
func Sniff(data []byte) (string, error) {
	var h Head
	if err := json.Unmarshal(data, &h); err != nil {
		return "", err
	}
	return h.Type, nil
}

type JoinRoom struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type RoomOccupants struct {
	Type         string                 `json:"type"`
	Room         domain.RoomID          `json:"room"`
	Participants []domain.ParticipantID `json:"participants"`
	Self         domain.ParticipantID   `json:"self"`
}

// SDPEnvelope carries an offer or an answer. Target is set on the
// client-to-server leg, Source on the server-to-client leg.
type SDPEnvelope struct {
	Type   string               `json:"type"`
	Target domain.ParticipantID `json:"target,omitempty"`
	Source domain.ParticipantID `json:"source,omitempty"`
	SDP    string               `json:"sdp"`
}

// CandidateEnvelope carries one trickled ICE candidate.
type CandidateEnvelope struct {
	Type          string               `json:"type"`
	Target        domain.ParticipantID `json:"target,omitempty"`
	Source        domain.ParticipantID `json:"source,omitempty"`
	Candidate     string               `json:"candidate"`
	SDPMid        string               `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16               `json:"sdpMLineIndex,omitempty"`
}

type ParticipantLeft struct {
	Type        string               `json:"type"`
	Participant domain.ParticipantID `json:"participant"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Error reason codes.
const (
	ReasonBadPayload  = "bad_payload"
	ReasonBadRoom     = "bad_room"
	ReasonRoomFull    = "room_full"
	ReasonRateLimited = "rate_limited"
)
