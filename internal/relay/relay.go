package relay

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/forkful/liveclass/internal/core"
	"github.com/forkful/liveclass/internal/domain"
	"github.com/forkful/liveclass/internal/metrics"
)

var (
	// ErrUnknownTarget means the envelope's target has no live connection.
	// Delivery is best-effort, so callers log it and move on.
	ErrUnknownTarget = errors.New("unknown target participant")
	// ErrCrossRoom means source and target are not in the same room.
	ErrCrossRoom = errors.New("source and target not in the same room")
)

// Relay pairs the registry with the live connection index and forwards
// envelopes. Forwarding is fire-and-forget: a missing or slow target drops
// the envelope without surfacing an error to the sender.
type Relay struct {
	Registry *Registry

	mu      sync.RWMutex
	conns   map[domain.ParticipantID]core.SignalConnection
	metrics *metrics.Collector
}

// NewRelay wires a relay over reg. The collector may be nil.
func NewRelay(reg *Registry, mc *metrics.Collector) *Relay {
	return &Relay{
		Registry: reg,
		conns:    make(map[domain.ParticipantID]core.SignalConnection),
		metrics:  mc,
	}
}

// Bind registers p's transport connection. Must be called before Join.
func (r *Relay) Bind(p domain.ParticipantID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[p] = conn
	log.Info().Str("module", "relay").Str("participant", string(p)).Msg("connection bound")
}

// Join adds p to room and returns the other occupants p should call, plus
// the room p vacated when the join was a move.
func (r *Relay) Join(p domain.ParticipantID, room domain.RoomID) ([]domain.ParticipantID, domain.RoomID, error) {
	return r.Registry.Join(room, p)
}

// Forward delivers frame to target on behalf of source. kind is only used
// for logging and metrics; the frame itself is opaque.
func (r *Relay) Forward(kind string, source, target domain.ParticipantID, frame core.Frame) error {
	if !r.Registry.SameRoom(source, target) {
		r.dropped(kind)
		return ErrCrossRoom
	}

	r.mu.RLock()
	conn, ok := r.conns[target]
	r.mu.RUnlock()
	if !ok {
		r.dropped(kind)
		return ErrUnknownTarget
	}

	if err := conn.TrySend(frame); err != nil {
		r.dropped(kind)
		log.Warn().Err(err).Str("module", "relay").Str("kind", kind).Str("target", string(target)).Msg("envelope dropped")
		return nil
	}
	if r.metrics != nil {
		r.metrics.EnvelopeRelayed(kind)
	}
	return nil
}

func (r *Relay) dropped(kind string) {
	if r.metrics != nil {
		r.metrics.EnvelopeDropped(kind)
	}
}

// BroadcastRoom sends frame to every current occupant of room except one.
func (r *Relay) BroadcastRoom(room domain.RoomID, frame core.Frame, except domain.ParticipantID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for p, conn := range r.conns {
		if p == except {
			continue
		}
		if got, ok := r.Registry.RoomOf(p); !ok || got != room {
			continue
		}
		_ = conn.TrySend(frame)
	}
}

// Disconnect tears down p's membership and connection binding. It reports
// the abandoned room so the caller can notify the remaining occupants.
func (r *Relay) Disconnect(p domain.ParticipantID) (domain.RoomID, bool) {
	r.mu.Lock()
	delete(r.conns, p)
	r.mu.Unlock()

	room, _, ok := r.Registry.Leave(p)
	if !ok {
		return "", false
	}
	return room, true
}
