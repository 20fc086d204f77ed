package log

const (
	// Chat
	FieldSessionID     = "session_id"
	FieldMessageID     = "message_id"
	FieldParticipantID = "participant_id"
	FieldRole          = "role"
	FieldEvent         = "event"

	// Transport
	FieldAttempt = "attempt"
	FieldURL     = "url"

	// Component
	FieldComponent = "component"
)
