// Package presence tracks short-lived typing and read signals scoped
// to a session. Typing state is a per-input debounce: one start signal
// per burst of keystrokes, one stop signal after a quiet window.
package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradewire/chatkit/internal/domain"
	"github.com/tradewire/chatkit/pkg/log"
)

// DefaultWindow is the quiet period after the last keystroke before
// the stop signal is emitted.
const DefaultWindow = time.Second

// Socket is the transport surface the tracker needs: fire-and-forget
// typing emission plus the inbound event feed.
type Socket interface {
	Typing(sessionID string, isTyping bool)
	OnEvent(fn func(event interface{})) func()
}

// Tracker debounces local typing per session and relays inbound
// typing/read events to subscribers.
type Tracker struct {
	socket Socket
	window time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer // session id -> expiry; presence means state TYPING
	closed bool
}

// New creates a Tracker. window <= 0 selects DefaultWindow.
func New(socket Socket, window time.Duration, logger zerolog.Logger) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		socket: socket,
		window: window,
		logger: logger.With().Str(log.FieldComponent, "presence").Logger(),
		timers: make(map[string]*time.Timer),
	}
}

// InputActivity records one keystroke. The first keystroke after idle
// emits isTyping=true immediately; each further keystroke only resets
// the quiet timer. Timer expiry emits isTyping=false. Network chatter
// is therefore bounded to one start per burst plus one terminal stop.
func (t *Tracker) InputActivity(sessionID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if timer, typing := t.timers[sessionID]; typing {
		timer.Reset(t.window)
		t.mu.Unlock()
		return
	}
	t.timers[sessionID] = time.AfterFunc(t.window, func() {
		t.expire(sessionID)
	})
	t.mu.Unlock()

	t.socket.Typing(sessionID, true)
}

// Stop ends the typing state immediately, e.g. when the input is
// cleared by a send. No-op when not typing.
func (t *Tracker) Stop(sessionID string) {
	t.mu.Lock()
	timer, typing := t.timers[sessionID]
	if typing {
		timer.Stop()
		delete(t.timers, sessionID)
	}
	t.mu.Unlock()

	if typing {
		t.socket.Typing(sessionID, false)
	}
}

// Close stops all timers and emits the terminal signal for any session
// still in the typing state.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	active := make([]string, 0, len(t.timers))
	for sessionID, timer := range t.timers {
		timer.Stop()
		active = append(active, sessionID)
	}
	t.timers = make(map[string]*time.Timer)
	t.mu.Unlock()

	for _, sessionID := range active {
		t.socket.Typing(sessionID, false)
	}
}

// OnTyping relays inbound user-typing events. Returns the unsubscribe
// closure.
func (t *Tracker) OnTyping(fn func(domain.UserTypingEvent)) func() {
	return t.socket.OnEvent(func(event interface{}) {
		if ev, ok := event.(*domain.UserTypingEvent); ok {
			fn(*ev)
		}
	})
}

// OnMessagesRead relays inbound read receipts. Pure forwarding, no
// client-side state. Returns the unsubscribe closure.
func (t *Tracker) OnMessagesRead(fn func(domain.MessagesReadEvent)) func() {
	return t.socket.OnEvent(func(event interface{}) {
		if ev, ok := event.(*domain.MessagesReadEvent); ok {
			fn(*ev)
		}
	})
}

func (t *Tracker) expire(sessionID string) {
	t.mu.Lock()
	_, typing := t.timers[sessionID]
	if typing {
		delete(t.timers, sessionID)
	}
	closed := t.closed
	t.mu.Unlock()

	if typing && !closed {
		t.socket.Typing(sessionID, false)
	}
}
