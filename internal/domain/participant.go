package domain

import "github.com/google/uuid"

// ParticipantID identifies one live transport connection. It is assigned at
// connect time and never reused after disconnect.
type ParticipantID string

// NewParticipantID mints a fresh connection-scoped id.
func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}
