package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradewire/chatkit/internal/domain"
)

type typingSignal struct {
	sessionID string
	isTyping  bool
}

// fakeSocket records typing emissions and lets tests inject inbound
// events.
type fakeSocket struct {
	signals chan typingSignal

	mu       sync.Mutex
	handlers map[int]func(interface{})
	next     int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		signals:  make(chan typingSignal, 32),
		handlers: make(map[int]func(interface{})),
	}
}

func (f *fakeSocket) Typing(sessionID string, isTyping bool) {
	f.signals <- typingSignal{sessionID: sessionID, isTyping: isTyping}
}

func (f *fakeSocket) OnEvent(fn func(event interface{})) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.handlers[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *fakeSocket) inject(event interface{}) {
	f.mu.Lock()
	fns := make([]func(interface{}), 0, len(f.handlers))
	for _, fn := range f.handlers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

func (f *fakeSocket) waitSignal(t *testing.T) typingSignal {
	t.Helper()
	select {
	case s := <-f.signals:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a typing signal")
		return typingSignal{}
	}
}

func (f *fakeSocket) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case s := <-f.signals:
		t.Fatalf("unexpected signal %+v", s)
	case <-time.After(d):
	}
}

func TestInputActivity_DebouncesBurst(t *testing.T) {
	socket := newFakeSocket()
	tracker := New(socket, 80*time.Millisecond, zerolog.Nop())
	defer tracker.Close()

	// A burst of keystrokes well inside the window.
	for i := 0; i < 10; i++ {
		tracker.InputActivity("sess-1")
		time.Sleep(2 * time.Millisecond)
	}

	start := socket.waitSignal(t)
	if !start.isTyping || start.sessionID != "sess-1" {
		t.Fatalf("first signal = %+v, want isTyping=true for sess-1", start)
	}

	stop := socket.waitSignal(t)
	if stop.isTyping {
		t.Fatalf("second signal = %+v, want isTyping=false", stop)
	}

	// Exactly one start/stop pair, not ten.
	socket.expectNone(t, 200*time.Millisecond)
}

func TestInputActivity_KeystrokeResetsWindow(t *testing.T) {
	socket := newFakeSocket()
	tracker := New(socket, 100*time.Millisecond, zerolog.Nop())
	defer tracker.Close()

	tracker.InputActivity("sess-1")
	socket.waitSignal(t)

	// Keep typing across several windows; the stop must not fire
	// while keystrokes keep landing.
	for i := 0; i < 5; i++ {
		time.Sleep(50 * time.Millisecond)
		tracker.InputActivity("sess-1")
	}
	socket.expectNone(t, 50*time.Millisecond)

	stop := socket.waitSignal(t)
	if stop.isTyping {
		t.Errorf("signal = %+v, want terminal isTyping=false", stop)
	}
}

func TestStop_EmitsImmediately(t *testing.T) {
	socket := newFakeSocket()
	tracker := New(socket, time.Minute, zerolog.Nop())
	defer tracker.Close()

	tracker.InputActivity("sess-1")
	socket.waitSignal(t)

	tracker.Stop("sess-1")
	stop := socket.waitSignal(t)
	if stop.isTyping {
		t.Errorf("signal = %+v, want isTyping=false", stop)
	}

	// Stop when already idle is a no-op.
	tracker.Stop("sess-1")
	socket.expectNone(t, 100*time.Millisecond)
}

func TestNewBurst_AfterIdleStartsAgain(t *testing.T) {
	socket := newFakeSocket()
	tracker := New(socket, 40*time.Millisecond, zerolog.Nop())
	defer tracker.Close()

	tracker.InputActivity("sess-1")
	socket.waitSignal(t) // start
	socket.waitSignal(t) // stop after window

	tracker.InputActivity("sess-1")
	start := socket.waitSignal(t)
	if !start.isTyping {
		t.Errorf("signal = %+v, want a fresh isTyping=true", start)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	socket := newFakeSocket()
	tracker := New(socket, time.Minute, zerolog.Nop())
	defer tracker.Close()

	tracker.InputActivity("sess-1")
	tracker.InputActivity("sess-2")

	first := socket.waitSignal(t)
	second := socket.waitSignal(t)
	if first.sessionID == second.sessionID {
		t.Errorf("signals = %+v, %+v, want one per session", first, second)
	}
}

func TestClose_StopsActiveSessions(t *testing.T) {
	socket := newFakeSocket()
	tracker := New(socket, time.Minute, zerolog.Nop())

	tracker.InputActivity("sess-1")
	socket.waitSignal(t)

	tracker.Close()
	stop := socket.waitSignal(t)
	if stop.isTyping {
		t.Errorf("signal = %+v, want terminal isTyping=false", stop)
	}

	// Activity after Close is ignored.
	tracker.InputActivity("sess-1")
	socket.expectNone(t, 100*time.Millisecond)
}

func TestOnTyping_RelaysInboundEvents(t *testing.T) {
	socket := newFakeSocket()
	tracker := New(socket, time.Minute, zerolog.Nop())
	defer tracker.Close()

	got := make(chan domain.UserTypingEvent, 4)
	unsub := tracker.OnTyping(func(ev domain.UserTypingEvent) { got <- ev })

	socket.inject(&domain.UserTypingEvent{Type: domain.EventUserTyping, SessionID: "sess-1", UserID: "u-2", IsTyping: true})
	// Other event kinds must not leak through the relay.
	socket.inject(&domain.MessagesReadEvent{Type: domain.EventMessagesRead, SessionID: "sess-1", UserID: "u-2"})

	select {
	case ev := <-got:
		if ev.UserID != "u-2" || !ev.IsTyping {
			t.Errorf("event = %+v, want typing from u-2", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("typing event never relayed")
	}
	select {
	case ev := <-got:
		t.Errorf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	unsub()
	socket.inject(&domain.UserTypingEvent{Type: domain.EventUserTyping, SessionID: "sess-1", UserID: "u-2", IsTyping: false})
	select {
	case ev := <-got:
		t.Errorf("event after unsubscribe: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOnMessagesRead_RelaysInboundEvents(t *testing.T) {
	socket := newFakeSocket()
	tracker := New(socket, time.Minute, zerolog.Nop())
	defer tracker.Close()

	got := make(chan domain.MessagesReadEvent, 4)
	tracker.OnMessagesRead(func(ev domain.MessagesReadEvent) { got <- ev })

	socket.inject(&domain.MessagesReadEvent{Type: domain.EventMessagesRead, SessionID: "sess-1", UserID: "u-2"})

	select {
	case ev := <-got:
		if ev.SessionID != "sess-1" || ev.UserID != "u-2" {
			t.Errorf("event = %+v, want read receipt for sess-1 from u-2", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("read receipt never relayed")
	}
}
