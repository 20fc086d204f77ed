package service

import (
	"context"
	"io"

	"github.com/tradewire/chatkit/internal/domain"
	"github.com/tradewire/chatkit/internal/rest"
)

// ChatService is the surface a chat view consumes: it owns the wiring
// between transport, reconciler, and presence tracker so a consumer
// only ever opens a session, sends, and subscribes.
type ChatService interface {
	// Open fetches the caller's current-or-created session, connects
	// the transport, joins the room, and loads the first history page.
	Open(ctx context.Context) (*domain.Session, error)

	// Sessions lists every session. Agent-only.
	Sessions(ctx context.Context) ([]domain.Session, error)

	// Select switches the current view to another session (agent
	// picking a conversation from the list).
	Select(ctx context.Context, sessionID string) error

	// Send delivers a text message: optimistic insert first, socket
	// send when connected, REST fallback otherwise. A failed send
	// removes the provisional entry and returns the error.
	Send(ctx context.Context, body string) error

	// SendAttachment uploads the payload, then sends a message
	// carrying the hosted URL. Upload failures surface before any
	// optimistic insert so nothing is lost.
	SendAttachment(ctx context.Context, r io.Reader, size int64, contentType, body string) error

	// MarkRead marks the current session read, locally and upstream.
	MarkRead(ctx context.Context)

	// InputActivity records a keystroke in the current session's input.
	InputActivity()

	// Messages returns the current merged sequence.
	Messages() []domain.Message

	// OnChange subscribes to sequence updates for the current session.
	OnChange(fn func(messages []domain.Message)) func()

	// OnTyping subscribes to counterpart typing signals.
	OnTyping(fn func(domain.UserTypingEvent)) func()

	// OnMessagesRead subscribes to read receipts.
	OnMessagesRead(fn func(domain.MessagesReadEvent)) func()

	// Connected reports transport state, e.g. for a UI banner.
	Connected() bool

	// Close tears down subscriptions, typing state, and the transport.
	Close()
}

// API is the REST collaborator surface the service needs. Satisfied by
// *rest.Client.
type API interface {
	CurrentSession(ctx context.Context) (*domain.Session, error)
	AllSessions(ctx context.Context) ([]domain.Session, error)
	Messages(ctx context.Context, sessionID string, page, limit int) ([]domain.Message, error)
	SendMessage(ctx context.Context, req rest.SendMessageRequest) (*domain.Message, error)
	MarkRead(ctx context.Context, sessionID string) error
}

// Socket is the transport surface the service needs. Satisfied by
// *transport.Transport.
type Socket interface {
	Connect(token string)
	Disconnect()
	JoinSession(sessionID string)
	Connected() bool
	SendMessage(sessionID, body, imageURL, audioURL string)
	MarkRead(sessionID string)
	Typing(sessionID string, isTyping bool)
	OnEvent(fn func(event interface{})) func()
	OnConnected(fn func()) func()
	OnDisconnected(fn func()) func()
	OnError(fn func(message string)) func()
}
