package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/forkful/liveclass/internal/core"
	"github.com/forkful/liveclass/internal/domain"
	"github.com/forkful/liveclass/internal/protocol"
)

func (ctl *WSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *WSController) readPump(ctx context.Context, cancel context.CancelFunc, pid domain.ParticipantID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("participant", string(pid)).Msg("readPump closing")
		ctl.onDisconnect(pid)
		cancel()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("participant", string(pid)).Msg("readPump read error")
				return
			}
			ctl.dispatch(pid, c, data)
		}
	}
}

func (ctl *WSController) dispatch(pid domain.ParticipantID, c *WsSignalConn, data []byte) {
	kind, err := protocol.Sniff(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch kind {
	case protocol.EventJoinRoom:
		ctl.handleJoinRoom(pid, c, data)
	case protocol.EventSendOffer:
		ctl.handleSDP(pid, data, protocol.EventSendOffer, protocol.EventIncomingOffer)
	case protocol.EventSendAnswer:
		ctl.handleSDP(pid, data, protocol.EventSendAnswer, protocol.EventIncomingAnswer)
	case protocol.EventSendCandidate:
		ctl.handleCandidate(pid, data)
	case protocol.EventPing:
		ctl.sendJSON(c, protocol.Head{Type: protocol.EventPong})
	default:
		log.Warn().Str("module", "signal").Str("type", kind).Msg("unknown signal")
	}
}

func (ctl *WSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

// onDisconnect runs once per connection, after the read loop exits. The
// remaining occupants learn about the departure so they can drop their
// peer links without waiting for ICE to fail.
func (ctl *WSController) onDisconnect(pid domain.ParticipantID) {
	ctl.limiter.Forget(pid)
	room, ok := ctl.Relay.Disconnect(pid)
	if !ok {
		return
	}
	ctl.notifyLeft(room, pid)
}

// notifyLeft tells a room's occupants that pid is gone, whether it
// disconnected or moved to another room.
func (ctl *WSController) notifyLeft(room domain.RoomID, pid domain.ParticipantID) {
	b, err := json.Marshal(protocol.ParticipantLeft{
		Type:        protocol.EventParticipantLeft,
		Participant: pid,
	})
	if err != nil {
		return
	}
	ctl.Relay.BroadcastRoom(room, core.Frame(b), pid)
}
