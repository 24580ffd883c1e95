package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/forkful/liveclass/internal/core"
	"github.com/forkful/liveclass/internal/domain"
	"github.com/forkful/liveclass/internal/protocol"
	"github.com/forkful/liveclass/internal/relay"
)

func (ctl *WSController) handleJoinRoom(pid domain.ParticipantID, c *WsSignalConn, data []byte) {
	var p protocol.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendJSON(c, protocol.Error{Type: protocol.EventError, Error: protocol.ReasonBadPayload})
		return
	}

	room, err := domain.ParseRoomID(p.Room)
	if err != nil {
		ctl.sendJSON(c, protocol.Error{Type: protocol.EventError, Error: protocol.ReasonBadRoom})
		return
	}

	if !ctl.limiter.Allow(pid) {
		log.Warn().Str("module", "signal").Str("participant", string(pid)).Msg("join rate limited")
		ctl.sendJSON(c, protocol.Error{Type: protocol.EventError, Error: protocol.ReasonRateLimited})
		return
	}

	others, vacated, err := ctl.Relay.Join(pid, room)
	if err != nil {
		if errors.Is(err, relay.ErrRoomFull) {
			ctl.sendJSON(c, protocol.Error{Type: protocol.EventError, Error: protocol.ReasonRoomFull})
			return
		}
		log.Error().Err(err).Str("module", "signal").Msg("join failed")
		return
	}
	if vacated != "" {
		ctl.notifyLeft(vacated, pid)
	}

	log.Info().Str("module", "signal").Str("participant", string(pid)).Str("room", string(room)).Int("occupants", len(others)).Msg("joined room")
	ctl.sendJSON(c, protocol.RoomOccupants{
		Type:         protocol.EventRoomOccupants,
		Room:         room,
		Participants: others,
		Self:         pid,
	})
}

// handleSDP relays an offer or answer. The relay stamps the source id and
// strips the target before forwarding; the SDP itself is untouched.
func (ctl *WSController) handleSDP(pid domain.ParticipantID, data []byte, inKind, outKind string) {
	var env protocol.SDPEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("kind", inKind).Msg("bad sdp payload")
		return
	}
	if env.Target == "" {
		return
	}

	target := env.Target
	env.Type = outKind
	env.Source = pid
	env.Target = ""

	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := ctl.Relay.Forward(inKind, pid, target, core.Frame(b)); err != nil {
		// The sender is never told.
		log.Debug().Err(err).Str("module", "signal").Str("kind", inKind).Str("target", string(target)).Msg("envelope dropped")
	}
}

func (ctl *WSController) handleCandidate(pid domain.ParticipantID, data []byte) {
	var env protocol.CandidateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}
	if env.Target == "" {
		return
	}

	target := env.Target
	env.Type = protocol.EventIncomingCandidate
	env.Source = pid
	env.Target = ""

	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := ctl.Relay.Forward(protocol.EventSendCandidate, pid, target, core.Frame(b)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("target", string(target)).Msg("candidate dropped")
	}
}
