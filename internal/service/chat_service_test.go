package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradewire/chatkit/internal/domain"
	"github.com/tradewire/chatkit/internal/identity"
	"github.com/tradewire/chatkit/internal/rest"
)

type fakeAPI struct {
	mu       sync.Mutex
	session  *domain.Session
	sessions []domain.Session
	history  map[string][]domain.Message
	sendErr  error
	onSend   func(req rest.SendMessageRequest)
	sent     []rest.SendMessageRequest
	readSig  chan string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		session: &domain.Session{ID: "s1", Status: domain.SessionOpen},
		history: map[string][]domain.Message{},
		readSig: make(chan string, 4),
	}
}

func (a *fakeAPI) CurrentSession(ctx context.Context) (*domain.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, errors.New("no session")
	}
	return a.session, nil
}

func (a *fakeAPI) AllSessions(ctx context.Context) ([]domain.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions, nil
}

func (a *fakeAPI) Messages(ctx context.Context, sessionID string, page, limit int) ([]domain.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history[sessionID], nil
}

func (a *fakeAPI) SendMessage(ctx context.Context, req rest.SendMessageRequest) (*domain.Message, error) {
	a.mu.Lock()
	onSend := a.onSend
	sendErr := a.sendErr
	a.sent = append(a.sent, req)
	a.mu.Unlock()

	if onSend != nil {
		onSend(req)
	}
	if sendErr != nil {
		return nil, sendErr
	}
	return &domain.Message{
		ID:                  "srv-rest",
		SessionID:           req.SessionID,
		SenderParticipantID: "u1",
		Body:                req.Body,
		CreatedAt:           time.Now(),
	}, nil
}

func (a *fakeAPI) MarkRead(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.readSig <- sessionID
	return nil
}

type fakeSocket struct {
	mu        sync.Mutex
	connected bool
	tokens    []string
	joined    []string
	sent      []domain.SendMessageEvent
	typing    []domain.TypingEvent
	read      []string
	closed    bool
	handlers  map[int]func(event interface{})
	nextID    int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{handlers: map[int]func(event interface{}){}}
}

func (s *fakeSocket) Connect(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	s.connected = true
}

func (s *fakeSocket) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.closed = true
}

func (s *fakeSocket) JoinSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = append(s.joined, sessionID)
}

func (s *fakeSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSocket) SendMessage(sessionID, body, imageURL, audioURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, domain.SendMessageEvent{
		SessionID: sessionID, Body: body, ImageURL: imageURL, AudioURL: audioURL,
	})
}

func (s *fakeSocket) MarkRead(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = append(s.read, sessionID)
}

func (s *fakeSocket) Typing(sessionID string, isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, domain.TypingEvent{SessionID: sessionID, IsTyping: isTyping})
}

func (s *fakeSocket) OnEvent(fn func(event interface{})) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *fakeSocket) OnConnected(fn func()) func()            { return func() {} }
func (s *fakeSocket) OnDisconnected(fn func()) func()         { return func() {} }
func (s *fakeSocket) OnError(fn func(message string)) func()  { return func() {} }

func (s *fakeSocket) push(event interface{}) {
	s.mu.Lock()
	fns := make([]func(event interface{}), 0, len(s.handlers))
	for _, fn := range s.handlers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

func (s *fakeSocket) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

func newTestService(api *fakeAPI, socket *fakeSocket) ChatService {
	who := identity.Identity{ParticipantID: "u1", Role: domain.RoleEndUser}
	return New(who, "tok-1", api, socket, nil, 50*time.Millisecond, zerolog.Nop())
}

func TestOpen_ConnectsJoinsAndLoadsHistory(t *testing.T) {
	api := newFakeAPI()
	api.history["s1"] = []domain.Message{
		{ID: "m1", SessionID: "s1", Body: "welcome"},
		{ID: "m2", SessionID: "s1", Body: "hello"},
	}
	socket := newFakeSocket()
	svc := newTestService(api, socket)
	defer svc.Close()

	sess, err := svc.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.ID != "s1" {
		t.Errorf("session = %q, want s1", sess.ID)
	}
	socket.mu.Lock()
	tokens, joined := socket.tokens, socket.joined
	socket.mu.Unlock()
	if len(tokens) != 1 || tokens[0] != "tok-1" {
		t.Errorf("tokens = %v", tokens)
	}
	if len(joined) != 1 || joined[0] != "s1" {
		t.Errorf("joined = %v", joined)
	}

	msgs := svc.Messages()
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestSend_SocketPathReplacesProvisionalOnPush(t *testing.T) {
	api := newFakeAPI()
	socket := newFakeSocket()
	svc := newTestService(api, socket)
	defer svc.Close()

	if _, err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := svc.Send(context.Background(), "hi there"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	socket.mu.Lock()
	sent := socket.sent
	socket.mu.Unlock()
	if len(sent) != 1 || sent[0].Body != "hi there" {
		t.Fatalf("socket sent = %+v", sent)
	}

	msgs := svc.Messages()
	if len(msgs) != 1 || !msgs[0].IsProvisional() {
		t.Fatalf("before push: messages = %+v", msgs)
	}

	socket.push(&domain.NewMessageEvent{
		SessionID: "s1",
		Message: domain.Message{
			ID:                  "srv-1",
			SessionID:           "s1",
			SenderParticipantID: "u1",
			Body:                "hi there",
		},
	})

	msgs = svc.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv-1" {
		t.Errorf("after push: messages = %+v", msgs)
	}
}

func TestSend_RESTFallbackWhenDisconnected(t *testing.T) {
	api := newFakeAPI()
	socket := newFakeSocket()
	svc := newTestService(api, socket)
	defer svc.Close()

	if _, err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	socket.setConnected(false)

	if err := svc.Send(context.Background(), "offline hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	api.mu.Lock()
	sent := api.sent
	api.mu.Unlock()
	if len(sent) != 1 || sent[0].Body != "offline hi" {
		t.Fatalf("rest sent = %+v", sent)
	}

	msgs := svc.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv-rest" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestSend_RESTFailureRemovesProvisional(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = errors.New("boom")
	socket := newFakeSocket()
	svc := newTestService(api, socket)
	defer svc.Close()

	if _, err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	socket.setConnected(false)

	if err := svc.Send(context.Background(), "doomed"); err == nil {
		t.Fatal("Send err = nil, want failure")
	}
	if msgs := svc.Messages(); len(msgs) != 0 {
		t.Errorf("messages = %+v, want provisional removed", msgs)
	}
}

func TestSend_NoSession(t *testing.T) {
	svc := newTestService(newFakeAPI(), newFakeSocket())
	defer svc.Close()

	if err := svc.Send(context.Background(), "hi"); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestSend_StaleResultDiscardedAfterSelect(t *testing.T) {
	api := newFakeAPI()
	socket := newFakeSocket()
	svc := newTestService(api, socket)
	defer svc.Close()

	if _, err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	socket.setConnected(false)

	// The view switches sessions while the fallback request is in
	// flight; its confirmation must not land in the new sequence.
	api.mu.Lock()
	api.onSend = func(rest.SendMessageRequest) {
		if err := svc.Select(context.Background(), "s2"); err != nil {
			t.Errorf("Select: %v", err)
		}
	}
	api.mu.Unlock()

	if err := svc.Send(context.Background(), "late"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	for _, m := range svc.Messages() {
		if m.ID == "srv-rest" {
			t.Errorf("stale confirmation applied to new session: %+v", m)
		}
	}
}

func TestSelect_SwitchesSequenceAndJoins(t *testing.T) {
	api := newFakeAPI()
	api.history["s1"] = []domain.Message{{ID: "m1", SessionID: "s1"}}
	api.history["s2"] = []domain.Message{{ID: "n1", SessionID: "s2"}, {ID: "n2", SessionID: "s2"}}
	socket := newFakeSocket()
	svc := newTestService(api, socket)
	defer svc.Close()

	if _, err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := svc.Select(context.Background(), "s2"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	socket.mu.Lock()
	joined := socket.joined
	socket.mu.Unlock()
	if len(joined) != 2 || joined[1] != "s2" {
		t.Errorf("joined = %v", joined)
	}

	msgs := svc.Messages()
	if len(msgs) != 2 || msgs[0].ID != "n1" {
		t.Errorf("messages = %+v", msgs)
	}

	// Pushes for the abandoned session are ignored.
	socket.push(&domain.NewMessageEvent{
		SessionID: "s1",
		Message:   domain.Message{ID: "m9", SessionID: "s1"},
	})
	if msgs := svc.Messages(); len(msgs) != 2 {
		t.Errorf("after stale push: messages = %+v", msgs)
	}
}

func TestMarkRead_PropagatesUpstream(t *testing.T) {
	api := newFakeAPI()
	socket := newFakeSocket()
	svc := newTestService(api, socket)
	defer svc.Close()

	if _, err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	svc.MarkRead(context.Background())

	select {
	case id := <-api.readSig:
		if id != "s1" {
			t.Errorf("rest mark-read session = %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rest mark-read")
	}
	socket.mu.Lock()
	read := socket.read
	socket.mu.Unlock()
	if len(read) != 1 || read[0] != "s1" {
		t.Errorf("socket read = %v", read)
	}
}

func TestMarkRead_SurvivesCancelledCaller(t *testing.T) {
	api := newFakeAPI()
	socket := newFakeSocket()
	svc := newTestService(api, socket)
	defer svc.Close()

	if _, err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// A caller using a short per-call deadline may be done before the
	// fire-and-forget REST notification runs; it must still go out.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.MarkRead(ctx)

	select {
	case id := <-api.readSig:
		if id != "s1" {
			t.Errorf("rest mark-read session = %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("rest mark-read never fired")
	}
}

func TestInputActivity_EmitsTyping(t *testing.T) {
	api := newFakeAPI()
	socket := newFakeSocket()
	svc := newTestService(api, socket)
	defer svc.Close()

	if _, err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	svc.InputActivity()

	socket.mu.Lock()
	typing := append([]domain.TypingEvent(nil), socket.typing...)
	socket.mu.Unlock()
	if len(typing) != 1 || !typing[0].IsTyping || typing[0].SessionID != "s1" {
		t.Errorf("typing = %+v", typing)
	}
}

func TestClose_TearsDown(t *testing.T) {
	api := newFakeAPI()
	socket := newFakeSocket()
	svc := newTestService(api, socket)

	if _, err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	svc.Close()
	svc.Close()

	socket.mu.Lock()
	closed := socket.closed
	socket.mu.Unlock()
	if !closed {
		t.Error("socket not disconnected")
	}
	if _, err := svc.Open(context.Background()); err == nil {
		t.Error("Open after Close succeeded")
	}
	if err := svc.Send(context.Background(), "hi"); err == nil {
		t.Error("Send after Close succeeded")
	}
}
