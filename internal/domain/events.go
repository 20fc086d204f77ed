package domain

import (
	"encoding/json"
	"fmt"
)

// Wire event names, client -> server.
const (
	EventJoinSessions = "join-sessions"
	EventJoinSession  = "join-session"
	EventSendMessage  = "send-message"
	EventMarkRead     = "mark-read"
	EventTyping       = "typing"
)

// Wire event names, server -> client.
const (
	EventNewMessage     = "new-message"
	EventUserTyping     = "user-typing"
	EventMessagesRead   = "messages-read"
	EventBalanceUpdated = "balance-updated"
	EventSessionsJoined = "sessions-joined"
	EventError          = "error"
)

// BaseEvent carries only the discriminator and is used to sniff the
// concrete shape of an inbound frame.
type BaseEvent struct {
	Type string `json:"type"`
}

// Client -> server events.

type JoinSessionsEvent struct {
	Type string `json:"type"`
}

type JoinSessionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type SendMessageEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Body      string `json:"body,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
}

type MarkReadEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type TypingEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	IsTyping  bool   `json:"is_typing"`
}

// Server -> client events.

type NewMessageEvent struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	Message   Message `json:"message"`
}

type UserTypingEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	IsTyping  bool   `json:"is_typing"`
}

type MessagesReadEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type BalanceUpdatedEvent struct {
	Type           string  `json:"type"`
	UserID         string  `json:"user_id"`
	AccountBalance float64 `json:"account_balance"`
}

type SessionsJoinedEvent struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DecodeInbound parses a server frame into its concrete event type.
// Frames with an unknown discriminator are rejected rather than
// trusted; callers log and drop them.
func DecodeInbound(data []byte) (interface{}, error) {
	var base BaseEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch base.Type {
	case EventNewMessage:
		var ev NewMessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", base.Type, err)
		}
		return &ev, nil
	case EventUserTyping:
		var ev UserTypingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", base.Type, err)
		}
		return &ev, nil
	case EventMessagesRead:
		var ev MessagesReadEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", base.Type, err)
		}
		return &ev, nil
	case EventBalanceUpdated:
		var ev BalanceUpdatedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", base.Type, err)
		}
		return &ev, nil
	case EventSessionsJoined:
		var ev SessionsJoinedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", base.Type, err)
		}
		return &ev, nil
	case EventError:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", base.Type, err)
		}
		return &ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", base.Type)
	}
}
