package domain

import "time"

// SessionStatus is server-owned session state. The client treats it as
// opaque metadata and never drives transitions itself.
type SessionStatus string

const (
	SessionOpen    SessionStatus = "open"
	SessionWaiting SessionStatus = "waiting"
	SessionClosed  SessionStatus = "closed"
)

// Role identifies the kind of participant a message originates from.
type Role string

const (
	RoleEndUser Role = "user"
	RoleAgent   Role = "agent"
	RoleSystem  Role = "system"
)

// Session is one conversation thread between an end-user and the
// support pool. Sessions are created server-side on first contact and
// never deleted by the client.
type Session struct {
	ID            string        `json:"id"`
	ParticipantID string        `json:"participant_id"`
	CounterpartID string        `json:"counterpart_id,omitempty"`
	Status        SessionStatus `json:"status"`
	LastMessageAt *time.Time    `json:"last_message_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}
