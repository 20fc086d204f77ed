package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradewire/chatkit/internal/domain"
	"github.com/tradewire/chatkit/internal/identity"
	"github.com/tradewire/chatkit/internal/media"
	"github.com/tradewire/chatkit/internal/presence"
	"github.com/tradewire/chatkit/internal/reconcile"
	"github.com/tradewire/chatkit/internal/rest"
	"github.com/tradewire/chatkit/pkg/log"
)

var ErrNoSession = errors.New("no session open")

type chatService struct {
	who      identity.Identity
	token    string
	api      API
	socket   Socket
	uploader media.Uploader
	tracker  *presence.Tracker
	logger   zerolog.Logger

	mu      sync.Mutex
	session *domain.Session
	rec     *reconcile.Reconciler
	gen     int // bumped on every session switch and on Close; stale async results check it
	unsub   func()
	closed  bool
}

// New wires a ChatService. uploader may be nil when attachments are
// not configured; SendAttachment then fails fast.
func New(
	who identity.Identity,
	token string,
	api API,
	socket Socket,
	uploader media.Uploader,
	typingWindow time.Duration,
	logger zerolog.Logger,
) ChatService {
	return &chatService{
		who:      who,
		token:    token,
		api:      api,
		socket:   socket,
		uploader: uploader,
		tracker:  presence.New(socket, typingWindow, logger),
		logger:   logger.With().Str(log.FieldComponent, "service").Logger(),
	}
}

func (s *chatService) Open(ctx context.Context) (*domain.Session, error) {
	sess, err := s.api.CurrentSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}

	rec, err := s.attach(sess)
	if err != nil {
		return nil, err
	}

	s.socket.Connect(s.token)
	s.socket.JoinSession(sess.ID)

	// History load failures degrade to an empty sequence inside the
	// reconciler; push events remain the correctness backstop.
	rec.LoadHistory(ctx)

	return sess, nil
}

func (s *chatService) Sessions(ctx context.Context) ([]domain.Session, error) {
	sessions, err := s.api.AllSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *chatService) Select(ctx context.Context, sessionID string) error {
	rec, err := s.attach(&domain.Session{ID: sessionID})
	if err != nil {
		return err
	}

	s.socket.Connect(s.token)
	s.socket.JoinSession(sessionID)
	rec.LoadHistory(ctx)
	return nil
}

func (s *chatService) Send(ctx context.Context, body string) error {
	return s.send(ctx, body, "", "")
}

func (s *chatService) SendAttachment(ctx context.Context, r io.Reader, size int64, contentType, body string) error {
	if s.uploader == nil {
		return errors.New("attachment upload not configured")
	}

	// Upload before any optimistic insert: an upload failure surfaces
	// immediately and the composer keeps its content.
	url, err := s.uploader.Upload(ctx, r, size, contentType)
	if err != nil {
		return fmt.Errorf("failed to upload attachment: %w", err)
	}

	if strings.HasPrefix(contentType, "audio/") {
		return s.send(ctx, body, "", url)
	}
	return s.send(ctx, body, url, "")
}

func (s *chatService) send(ctx context.Context, body, imageURL, audioURL string) error {
	s.mu.Lock()
	rec := s.rec
	session := s.session
	gen := s.gen
	s.mu.Unlock()
	if rec == nil || session == nil {
		return ErrNoSession
	}

	prov := domain.Message{
		ID:                  domain.NewProvisionalID(),
		SessionID:           session.ID,
		SenderParticipantID: s.who.ParticipantID,
		SenderRole:          s.who.Role,
		Body:                body,
		ImageURL:            imageURL,
		AudioURL:            audioURL,
		CreatedAt:           time.Now(),
	}
	rec.AppendOptimistic(prov)
	s.tracker.Stop(session.ID)

	if s.socket.Connected() {
		// Confirmation arrives as a new-message push and replaces the
		// provisional entry through the reconciler.
		s.socket.SendMessage(session.ID, body, imageURL, audioURL)
		return nil
	}

	// REST fallback while the socket is down.
	confirmed, err := s.api.SendMessage(ctx, rest.SendMessageRequest{
		SessionID: session.ID,
		Body:      body,
		ImageURL:  imageURL,
		AudioURL:  audioURL,
	})
	if err != nil {
		rec.RemoveProvisional(prov.ID)
		return fmt.Errorf("failed to send message: %w", err)
	}

	// The await crossed an async boundary; apply the result only if
	// this session is still the one on screen.
	if s.currentGen() == gen {
		rec.ReconcileIncoming(*confirmed)
	}
	return nil
}

func (s *chatService) MarkRead(ctx context.Context) {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec != nil {
		rec.MarkRead()
	}
}

func (s *chatService) InputActivity() {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session != nil {
		s.tracker.InputActivity(session.ID)
	}
}

func (s *chatService) Messages() []domain.Message {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec == nil {
		return nil
	}
	return rec.Messages()
}

func (s *chatService) OnChange(fn func(messages []domain.Message)) func() {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec == nil {
		return func() {}
	}
	return rec.OnChange(fn)
}

func (s *chatService) OnTyping(fn func(domain.UserTypingEvent)) func() {
	return s.tracker.OnTyping(fn)
}

func (s *chatService) OnMessagesRead(fn func(domain.MessagesReadEvent)) func() {
	return s.tracker.OnMessagesRead(fn)
}

func (s *chatService) Connected() bool {
	return s.socket.Connected()
}

func (s *chatService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	unsub := s.unsub
	s.unsub = nil
	s.rec = nil
	s.session = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.tracker.Close()
	s.socket.Disconnect()
}

// attach makes sess the current session: a fresh reconciler, a fresh
// event subscription, and a new generation so results still in flight
// for the previous session are discarded on arrival.
func (s *chatService) attach(sess *domain.Session) (*reconcile.Reconciler, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("service closed")
	}

	s.gen++
	gen := s.gen
	oldUnsub := s.unsub

	rec := reconcile.New(sess.ID, s.who.ParticipantID, s.api, s.socket, s.logger)
	s.session = sess
	s.rec = rec
	s.unsub = s.socket.OnEvent(func(event interface{}) {
		ev, ok := event.(*domain.NewMessageEvent)
		if !ok {
			return
		}
		if s.currentGen() != gen {
			return
		}
		rec.ReconcileIncoming(ev.Message)
	})
	s.mu.Unlock()

	if oldUnsub != nil {
		oldUnsub()
	}
	return rec, nil
}

func (s *chatService) currentGen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}
