package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// provisionalPrefix marks message ids generated locally before the
// server has confirmed the message.
const provisionalPrefix = "temp-"

// Message is one chat entry within a session. A message is either
// provisional (locally generated id, shown before any network round
// trip) or confirmed (server-assigned id, received via push or history).
// Confirmed messages are never mutated except for the IsRead flip.
type Message struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"session_id"`
	SenderParticipantID string    `json:"sender_participant_id"`
	SenderRole          Role      `json:"sender_role"`
	Body                string    `json:"body,omitempty"`
	ImageURL            string    `json:"image_url,omitempty"`
	AudioURL            string    `json:"audio_url,omitempty"`
	IsRead              bool      `json:"is_read"`
	CreatedAt           time.Time `json:"created_at"`
}

// IsProvisional reports whether the message still awaits server
// confirmation.
func (m Message) IsProvisional() bool {
	return IsProvisionalID(m.ID)
}

// NewProvisionalID returns a fresh temporary message id.
func NewProvisionalID() string {
	return provisionalPrefix + uuid.New().String()
}

// IsProvisionalID reports whether id was generated by NewProvisionalID.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}
