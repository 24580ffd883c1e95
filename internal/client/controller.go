package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/forkful/liveclass/internal/domain"
	"github.com/forkful/liveclass/internal/protocol"
)

// ErrJoinRefused means the relay answered the join with an error event
// (full room, bad room id, rate limit). The reason is appended.
var ErrJoinRefused = errors.New("join refused")

// ControllerConfig wires the controller's collaborators. NewPeerConnection
// is a factory so tests can substitute fakes and production can inject ICE
// configuration.
type ControllerConfig struct {
	Transport         Transport
	Media             MediaSource
	NewPeerConnection func(remote domain.ParticipantID) (PeerConnection, error)
	// StallTimeout tears down links that never reach connected. Zero
	// disables the timer.
	StallTimeout time.Duration
}

// Controller is the per-session state machine: one room, one media source,
// one PeerLink per remote participant.
type Controller struct {
	transport Transport
	media     MediaSource
	newPC     func(remote domain.ParticipantID) (PeerConnection, error)
	stall     time.Duration

	mu     sync.Mutex
	links  map[domain.ParticipantID]*PeerLink
	timers map[domain.ParticipantID]*time.Timer
	tracks []webrtc.TrackLocal
	room   domain.RoomID
	self   domain.ParticipantID

	occupants chan protocol.RoomOccupants
	joinErrs  chan string
	events    chan Event

	runOnce   sync.Once
	leaveOnce sync.Once
}

func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		transport: cfg.Transport,
		media:     cfg.Media,
		newPC:     cfg.NewPeerConnection,
		stall:     cfg.StallTimeout,
		links:     make(map[domain.ParticipantID]*PeerLink),
		timers:    make(map[domain.ParticipantID]*time.Timer),
		occupants: make(chan protocol.RoomOccupants, 1),
		joinErrs:  make(chan string, 1),
		events:    make(chan Event, 32),
	}
}

// Events exposes session progress notifications.
func (c *Controller) Events() <-chan Event { return c.events }

// JoinRoom acquires local media, announces the join, and calls every
// occupant already in the room. Media denial is fatal to the attempt.
func (c *Controller) JoinRoom(ctx context.Context, room domain.RoomID) ([]domain.ParticipantID, error) {
	tracks, err := c.media.Tracks(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire local media: %w", err)
	}
	c.mu.Lock()
	c.tracks = tracks
	c.mu.Unlock()

	// Drop any refusal left over from an earlier attempt.
	select {
	case <-c.joinErrs:
	default:
	}

	c.runOnce.Do(func() { go c.run() })

	if err := c.transport.Send(protocol.JoinRoom{Type: protocol.EventJoinRoom, Room: string(room)}); err != nil {
		return nil, fmt.Errorf("send join: %w", err)
	}

	select {
	case occ := <-c.occupants:
		c.mu.Lock()
		c.room = occ.Room
		c.self = occ.Self
		c.mu.Unlock()

		for _, p := range occ.Participants {
			if err := c.callParticipant(p); err != nil {
				log.Error().Err(err).Str("module", "client").Str("participant", string(p)).Msg("call failed")
			}
		}
		c.emit(RoomJoinedEvent{Room: occ.Room, Self: occ.Self, Occupants: occ.Participants})
		return occ.Participants, nil
	case reason := <-c.joinErrs:
		return nil, fmt.Errorf("%w: %s", ErrJoinRefused, reason)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Leave destroys every link and releases media. Safe to call repeatedly.
func (c *Controller) Leave() {
	c.leaveOnce.Do(func() {
		c.mu.Lock()
		room := c.room
		links := make([]*PeerLink, 0, len(c.links))
		for p, l := range c.links {
			links = append(links, l)
			if t := c.timers[p]; t != nil {
				t.Stop()
			}
			delete(c.links, p)
			delete(c.timers, p)
		}
		c.mu.Unlock()

		for _, l := range links {
			l.Close()
		}
		if err := c.media.Close(); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("media close")
		}
		c.transport.Close()
		log.Info().Str("module", "client").Str("room", string(room)).Msg("left room")
	})
}

// Link reports the link for a remote participant, if any.
func (c *Controller) Link(p domain.ParticipantID) (*PeerLink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[p]
	return l, ok
}

// ConnectedPeers counts links that completed negotiation.
func (c *Controller) ConnectedPeers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.links {
		if l.State() == LinkConnected {
			n++
		}
	}
	return n
}

func (c *Controller) run() {
	for data := range c.transport.Incoming() {
		c.handle(data)
	}
	// Transport died; tear everything down.
	c.Leave()
}

func (c *Controller) handle(data []byte) {
	kind, err := protocol.Sniff(data)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Msg("bad json from relay")
		return
	}

	switch kind {
	case protocol.EventRoomOccupants:
		var occ protocol.RoomOccupants
		if err := json.Unmarshal(data, &occ); err != nil {
			return
		}
		select {
		case c.occupants <- occ:
		default:
		}
	case protocol.EventIncomingOffer:
		c.handleOffer(data)
	case protocol.EventIncomingAnswer:
		c.handleAnswer(data)
	case protocol.EventIncomingCandidate:
		c.handleCandidate(data)
	case protocol.EventParticipantLeft:
		var msg protocol.ParticipantLeft
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.destroyLink(msg.Participant)
		c.emit(PeerClosedEvent{Participant: msg.Participant})
	case protocol.EventError:
		var msg protocol.Error
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		log.Warn().Str("module", "client").Str("reason", msg.Error).Msg("relay error")
		select {
		case c.joinErrs <- msg.Error:
		default:
		}
		c.emit(ServerErrorEvent{Reason: msg.Error})
	case protocol.EventPong:
	default:
		log.Warn().Str("module", "client").Str("type", kind).Msg("unknown event")
	}
}

// callParticipant starts negotiation in the initiator role.
func (c *Controller) callParticipant(p domain.ParticipantID) error {
	link, err := c.createLink(p)
	if err != nil {
		return err
	}
	offer, err := link.StartOffer()
	if err != nil {
		return err
	}
	return c.transport.Send(protocol.SDPEnvelope{
		Type:   protocol.EventSendOffer,
		Target: p,
		SDP:    offer.SDP,
	})
}

// handleOffer is also how a later arrival announces itself: an offer from an
// unknown source creates the link in the responder role.
func (c *Controller) handleOffer(data []byte) {
	var env protocol.SDPEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Source == "" {
		return
	}

	c.mu.Lock()
	link, exists := c.links[env.Source]
	c.mu.Unlock()
	if exists && link.State() != LinkCreated {
		log.Warn().Str("module", "client").Str("source", string(env.Source)).Msg("unexpected renegotiation offer ignored")
		return
	}
	if !exists {
		var err error
		link, err = c.createLink(env.Source)
		if err != nil {
			log.Error().Err(err).Str("module", "client").Str("source", string(env.Source)).Msg("create responder link")
			return
		}
	}

	answer, err := link.AcceptOffer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  env.SDP,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("source", string(env.Source)).Msg("accept offer")
		c.destroyLink(env.Source)
		return
	}

	if err := c.transport.Send(protocol.SDPEnvelope{
		Type:   protocol.EventSendAnswer,
		Target: env.Source,
		SDP:    answer.SDP,
	}); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("send answer")
	}
}

func (c *Controller) handleAnswer(data []byte) {
	var env protocol.SDPEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Source == "" {
		return
	}
	link, ok := c.Link(env.Source)
	if !ok {
		// Stale answer for a link already gone.
		return
	}
	if err := link.AcceptAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  env.SDP,
	}); err != nil {
		log.Debug().Err(err).Str("module", "client").Str("source", string(env.Source)).Msg("answer ignored")
	}
}

func (c *Controller) handleCandidate(data []byte) {
	var env protocol.CandidateEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Source == "" {
		return
	}
	link, ok := c.Link(env.Source)
	if !ok {
		return
	}
	ci := webrtc.ICECandidateInit{Candidate: env.Candidate}
	if env.SDPMid != "" {
		mid := env.SDPMid
		ci.SDPMid = &mid
	}
	idx := env.SDPMLineIndex
	ci.SDPMLineIndex = &idx
	if err := link.AddCandidate(ci); err != nil {
		log.Debug().Err(err).Str("module", "client").Str("source", string(env.Source)).Msg("candidate ignored")
	}
}

func (c *Controller) createLink(p domain.ParticipantID) (*PeerLink, error) {
	pc, err := c.newPC(p)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	c.mu.Lock()
	tracks := c.tracks
	c.mu.Unlock()
	for _, track := range tracks {
		if err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
	}

	link := newPeerLink(p, pc)

	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		env := protocol.CandidateEnvelope{
			Type:      protocol.EventSendCandidate,
			Target:    p,
			Candidate: ci.Candidate,
		}
		if ci.SDPMid != nil {
			env.SDPMid = *ci.SDPMid
		}
		if ci.SDPMLineIndex != nil {
			env.SDPMLineIndex = *ci.SDPMLineIndex
		}
		if err := c.transport.Send(env); err != nil {
			log.Debug().Err(err).Str("module", "client").Msg("trickle send failed")
		}
	})
	pc.OnConnected(func() {
		link.markConnected()
		c.stopTimer(p)
		c.emit(PeerConnectedEvent{Participant: p})
	})
	pc.OnClosed(func() {
		c.destroyLink(p)
		c.emit(PeerClosedEvent{Participant: p})
	})

	c.mu.Lock()
	c.links[p] = link
	if c.stall > 0 {
		c.timers[p] = time.AfterFunc(c.stall, func() {
			if s := link.State(); s != LinkConnected && s != LinkClosed {
				log.Warn().Str("module", "client").Str("participant", string(p)).Str("state", s.String()).Msg("negotiation stalled")
				c.destroyLink(p)
				c.emit(NegotiationStalledEvent{Participant: p})
			}
		})
	}
	c.mu.Unlock()
	return link, nil
}

func (c *Controller) destroyLink(p domain.ParticipantID) {
	c.mu.Lock()
	link, ok := c.links[p]
	delete(c.links, p)
	if t := c.timers[p]; t != nil {
		t.Stop()
		delete(c.timers, p)
	}
	c.mu.Unlock()
	if ok {
		link.Close()
	}
}

func (c *Controller) stopTimer(p domain.ParticipantID) {
	c.mu.Lock()
	if t := c.timers[p]; t != nil {
		t.Stop()
		delete(c.timers, p)
	}
	c.mu.Unlock()
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}
