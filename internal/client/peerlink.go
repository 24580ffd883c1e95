package client

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/forkful/liveclass/internal/domain"
)

var (
	// ErrLinkClosed means the link was already torn down; late envelopes
	// for it are ignored by the controller.
	ErrLinkClosed = errors.New("peer link closed")
	// ErrUnexpectedState means an envelope arrived in a state that cannot
	// accept it (e.g. an answer before any offer was sent).
	ErrUnexpectedState = errors.New("unexpected link state")
)

// PeerConnection is the slice of a WebRTC peer connection the link drives.
// rtc.Connection implements it; tests substitute a fake.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	AcceptOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AcceptAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnected(func())
	OnClosed(func())
	Close()
}

type LinkState int

const (
	LinkCreated LinkState = iota
	LinkOfferSent
	LinkOfferReceived
	LinkAnswerSent
	LinkAnswerReceived
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkCreated:
		return "created"
	case LinkOfferSent:
		return "offer_sent"
	case LinkOfferReceived:
		return "offer_received"
	case LinkAnswerSent:
		return "answer_sent"
	case LinkAnswerReceived:
		return "answer_received"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerLink owns exactly one peer connection to one remote participant.
// Candidates that arrive before the remote description are buffered and
// flushed once it is applied, so none are lost to ordering races.
type PeerLink struct {
	remote domain.ParticipantID
	pc     PeerConnection

	mu            sync.Mutex
	state         LinkState
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
}

func newPeerLink(remote domain.ParticipantID, pc PeerConnection) *PeerLink {
	return &PeerLink{remote: remote, pc: pc, state: LinkCreated}
}

func (l *PeerLink) Remote() domain.ParticipantID { return l.remote }

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// StartOffer begins negotiation in the initiator role.
func (l *PeerLink) StartOffer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return webrtc.SessionDescription{}, ErrLinkClosed
	}
	if l.state != LinkCreated {
		return webrtc.SessionDescription{}, ErrUnexpectedState
	}
	offer, err := l.pc.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.state = LinkOfferSent
	return offer, nil
}

// AcceptOffer handles the responder role: apply the remote offer, produce
// the answer, and flush any candidates that raced ahead of the offer.
func (l *PeerLink) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return webrtc.SessionDescription{}, ErrLinkClosed
	}
	if l.state != LinkCreated {
		return webrtc.SessionDescription{}, ErrUnexpectedState
	}
	l.state = LinkOfferReceived
	answer, err := l.pc.AcceptOffer(offer)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.remoteDescSet = true
	if err := l.flushPendingLocked(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.state = LinkAnswerSent
	return answer, nil
}

// AcceptAnswer completes negotiation in the initiator role.
func (l *PeerLink) AcceptAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return ErrLinkClosed
	}
	if l.state != LinkOfferSent {
		return ErrUnexpectedState
	}
	if err := l.pc.AcceptAnswer(answer); err != nil {
		return err
	}
	l.remoteDescSet = true
	if err := l.flushPendingLocked(); err != nil {
		return err
	}
	l.state = LinkAnswerReceived
	return nil
}

// AddCandidate applies a trickled candidate, buffering it while the remote
// description is still pending.
func (l *PeerLink) AddCandidate(ci webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return ErrLinkClosed
	}
	if !l.remoteDescSet {
		l.pending = append(l.pending, ci)
		return nil
	}
	return l.pc.AddICECandidate(ci)
}

func (l *PeerLink) flushPendingLocked() error {
	for _, ci := range l.pending {
		if err := l.pc.AddICECandidate(ci); err != nil {
			return err
		}
	}
	l.pending = nil
	return nil
}

func (l *PeerLink) markConnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return
	}
	l.state = LinkConnected
}

// Close tears the link down. Destroyed at most once; never reused.
func (l *PeerLink) Close() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	l.pending = nil
	l.mu.Unlock()
	l.pc.Close()
}
