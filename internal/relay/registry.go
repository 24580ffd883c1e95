// Package relay tracks room membership and forwards signaling envelopes
// between participants. It never looks inside an envelope's payload.
package relay

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/forkful/liveclass/internal/domain"
	"github.com/forkful/liveclass/internal/metrics"
)

var ErrRoomFull = errors.New("room full")

// Registry owns the room to participant-set mapping. Rooms are created
// implicitly on first join and deleted once their last participant leaves.
// A participant belongs to at most one room at a time.
type Registry struct {
	mu            sync.RWMutex
	rooms         map[domain.RoomID]map[domain.ParticipantID]struct{}
	byParticipant map[domain.ParticipantID]domain.RoomID

	maxRoomSize int
	metrics     *metrics.Collector
}

// NewRegistry builds an empty registry. maxRoomSize of 0 means no cap.
// The collector may be nil.
func NewRegistry(maxRoomSize int, mc *metrics.Collector) *Registry {
	return &Registry{
		rooms:         make(map[domain.RoomID]map[domain.ParticipantID]struct{}),
		byParticipant: make(map[domain.ParticipantID]domain.RoomID),
		maxRoomSize:   maxRoomSize,
		metrics:       mc,
	}
}

// Join inserts p into room and returns the other occupants, sorted for
// deterministic fan-out. Joining the same room twice is a no-op; joining a
// different room moves the participant out of its old room, and the vacated
// room is reported so callers can notify its remaining occupants. A refused
// join leaves p's current membership untouched.
func (r *Registry) Join(room domain.RoomID, p domain.ParticipantID) ([]domain.ParticipantID, domain.RoomID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, moving := r.byParticipant[p]
	if moving && cur == room {
		return r.othersLocked(room, p), "", nil
	}

	// Cap check precedes the eviction from the old room.
	set, ok := r.rooms[room]
	if ok && r.maxRoomSize > 0 && len(set) >= r.maxRoomSize {
		return nil, "", ErrRoomFull
	}
	if !ok {
		set = make(map[domain.ParticipantID]struct{})
		r.rooms[room] = set
		if r.metrics != nil {
			r.metrics.RoomCreated()
		}
		log.Info().Str("module", "relay.registry").Str("room", string(room)).Msg("room created")
	}

	var vacated domain.RoomID
	if moving {
		r.removeLocked(p, cur)
		vacated = cur
	}

	others := r.othersLocked(room, p)
	set[p] = struct{}{}
	r.byParticipant[p] = room
	if r.metrics != nil {
		r.metrics.ParticipantJoined()
	}
	log.Info().Str("module", "relay.registry").Str("room", string(room)).Str("participant", string(p)).Msg("participant joined")
	return others, vacated, nil
}

// Leave removes p from whichever room it belongs to and reports the room and
// its remaining occupants. The room entry is deleted when it empties.
func (r *Registry) Leave(p domain.ParticipantID) (domain.RoomID, []domain.ParticipantID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.byParticipant[p]
	if !ok {
		return "", nil, false
	}
	r.removeLocked(p, room)
	return room, r.othersLocked(room, p), true
}

func (r *Registry) removeLocked(p domain.ParticipantID, room domain.RoomID) {
	set := r.rooms[room]
	delete(set, p)
	delete(r.byParticipant, p)
	if r.metrics != nil {
		r.metrics.ParticipantLeft()
	}
	if len(set) == 0 {
		delete(r.rooms, room)
		if r.metrics != nil {
			r.metrics.RoomDestroyed()
		}
		log.Info().Str("module", "relay.registry").Str("room", string(room)).Msg("room destroyed")
	}
	log.Info().Str("module", "relay.registry").Str("room", string(room)).Str("participant", string(p)).Msg("participant left")
}

func (r *Registry) othersLocked(room domain.RoomID, p domain.ParticipantID) []domain.ParticipantID {
	set := r.rooms[room]
	out := make([]domain.ParticipantID, 0, len(set))
	for id := range set {
		if id == p {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RoomOf reports the room p currently belongs to.
func (r *Registry) RoomOf(p domain.ParticipantID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.byParticipant[p]
	return room, ok
}

// SameRoom reports whether two participants currently share a room.
func (r *Registry) SameRoom(a, b domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ra, ok := r.byParticipant[a]
	if !ok {
		return false
	}
	rb, ok := r.byParticipant[b]
	return ok && ra == rb
}

// RoomInfo is a read-only view for the admin API.
type RoomInfo struct {
	ID               domain.RoomID `json:"id"`
	ParticipantCount int           `json:"participant_count"`
}

// List snapshots all active rooms.
func (r *Registry) List() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, set := range r.rooms {
		out = append(out, RoomInfo{ID: id, ParticipantCount: len(set)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
