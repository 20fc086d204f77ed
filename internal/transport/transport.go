// Package transport owns the single bidirectional connection to the
// messaging backend. It authenticates the socket, tracks the
// connect/disconnect lifecycle, and repairs room membership after a
// reconnect so recovery from a network blip is transparent to callers.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tradewire/chatkit/internal/config"
	"github.com/tradewire/chatkit/internal/domain"
	"github.com/tradewire/chatkit/internal/retry"
	"github.com/tradewire/chatkit/pkg/log"
)

const sendBufferSize = 256

// Transport is the process-wide socket connection. One instance is
// shared by every chat view; construct it once and inject it.
//
// No method returns an error for "not connected": outbound events on a
// dead socket are dropped with a warning, and the REST fallback covers
// correctness.
type Transport struct {
	cfg    config.SocketConfig
	logger zerolog.Logger
	agent  bool

	mu         sync.Mutex
	conn       *websocket.Conn
	send       chan []byte
	token      string
	sessionID  string // room the caller intends to be in; replayed on reconnect
	connected  bool
	connecting bool
	closed     bool
	gen        int // connection generation; stale pump callbacks are ignored
	ctx        context.Context
	cancel     context.CancelFunc

	listeners listenerRegistry
}

// New creates a Transport. agent marks the support-pool role, which
// broadcasts join-sessions after every successful connect.
func New(cfg config.SocketConfig, agent bool, logger zerolog.Logger) *Transport {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = (cfg.PongWait * 9) / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	return &Transport{
		cfg:    cfg,
		agent:  agent,
		logger: logger.With().Str(log.FieldComponent, "transport").Logger(),
	}
}

// Connect opens the authenticated connection. Idempotent: a connected
// or currently-connecting transport ignores the call. Connect does not
// block; the outcome is delivered through OnConnected/OnError.
func (t *Transport) Connect(token string) {
	t.mu.Lock()
	if t.connected || t.connecting {
		t.mu.Unlock()
		return
	}
	t.token = token
	t.closed = false
	t.connecting = true
	if t.cancel != nil {
		// Release the context of an earlier, exhausted connect cycle.
		t.cancel()
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	ctx := t.ctx
	t.mu.Unlock()

	go t.connectLoop(ctx)
}

// Disconnect tears the connection down and clears the recorded room.
// Safe to call repeatedly, and before any Connect.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.closed = true
	t.connecting = false
	t.sessionID = ""
	wasConnected := t.connected
	t.connected = false
	conn := t.conn
	t.conn = nil
	t.send = nil
	cancel := t.cancel
	t.cancel = nil
	t.gen++
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(t.cfg.WriteWait))
		conn.Close()
	}
	if wasConnected {
		t.listeners.notifyDisconnected()
	}
}

// Connected reports whether the socket is currently up.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// JoinSession records sessionID as the current room and, if the socket
// is up, emits the join immediately. If not, the join is deferred and
// replayed by the next successful connect, so callers may join right
// after Connect without awaiting the handshake.
func (t *Transport) JoinSession(sessionID string) {
	t.mu.Lock()
	t.sessionID = sessionID
	connected := t.connected
	t.mu.Unlock()

	if connected {
		t.Emit(&domain.JoinSessionEvent{Type: domain.EventJoinSession, SessionID: sessionID})
	}
}

// CurrentSessionID returns the room the transport is joined to (or
// intends to join), empty if none.
func (t *Transport) CurrentSessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// SendMessage emits a send-message event for the session.
func (t *Transport) SendMessage(sessionID, body, imageURL, audioURL string) {
	t.Emit(&domain.SendMessageEvent{
		Type:      domain.EventSendMessage,
		SessionID: sessionID,
		Body:      body,
		ImageURL:  imageURL,
		AudioURL:  audioURL,
	})
}

// Typing emits a typing signal. Fire-and-forget, no acknowledgment.
func (t *Transport) Typing(sessionID string, isTyping bool) {
	t.Emit(&domain.TypingEvent{Type: domain.EventTyping, SessionID: sessionID, IsTyping: isTyping})
}

// MarkRead emits a mark-read event for the session.
func (t *Transport) MarkRead(sessionID string) {
	t.Emit(&domain.MarkReadEvent{Type: domain.EventMarkRead, SessionID: sessionID})
}

// Emit marshals and queues an outbound event. Events emitted while
// disconnected are dropped with a warning, never an error.
func (t *Transport) Emit(event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to encode outbound event")
		return
	}

	t.mu.Lock()
	send := t.send
	connected := t.connected
	t.mu.Unlock()

	if !connected || send == nil {
		t.logger.Warn().Msg("not connected, dropping outbound event")
		return
	}

	select {
	case send <- data:
	default:
		t.logger.Warn().Msg("send buffer full, dropping outbound event")
	}
}

// connectLoop dials with capped backoff. After exhausting attempts the
// transport stays disconnected until Connect is called again.
func (t *Transport) connectLoop(ctx context.Context) {
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  t.cfg.ReconnectAttempts,
		InitialDelay: t.cfg.ReconnectDelay,
		MaxDelay:     t.cfg.ReconnectMaxDelay,
		Factor:       2.0,
		Jitter:       true,
	}, func(attempt int) error {
		dialErr := t.dial(ctx)
		if dialErr != nil {
			t.logger.Warn().Err(dialErr).Int(log.FieldAttempt, attempt).Str(log.FieldURL, t.cfg.URL).
				Msg("connection attempt failed")
		}
		return dialErr
	})
	if err == nil {
		return
	}

	t.mu.Lock()
	t.connecting = false
	t.mu.Unlock()

	if ctx.Err() == nil {
		t.logger.Error().Err(err).Msg("connection attempts exhausted")
		t.listeners.notifyError("connection attempts exhausted: " + err.Error())
	}
}

func (t *Transport) dial(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.token)

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.WriteWait}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return nil
	}
	t.conn = conn
	t.send = make(chan []byte, sendBufferSize)
	t.connected = true
	t.connecting = false
	t.gen++
	gen := t.gen
	send := t.send
	sessionID := t.sessionID
	t.mu.Unlock()

	go t.writePump(conn, send)
	go t.readPump(conn, gen)

	t.logger.Info().Str(log.FieldURL, t.cfg.URL).Msg("connected")
	t.listeners.notifyConnected()

	// Reconnection repair: restore room membership recorded before the
	// connection (or its predecessor) was established.
	if t.agent {
		t.Emit(&domain.JoinSessionsEvent{Type: domain.EventJoinSessions})
	}
	if sessionID != "" {
		t.Emit(&domain.JoinSessionEvent{Type: domain.EventJoinSession, SessionID: sessionID})
	}
	return nil
}

// readPump reads frames until the connection dies, decoding each into
// a tagged event. Unrecognized frames are logged and dropped.
func (t *Transport) readPump(conn *websocket.Conn, gen int) {
	defer conn.Close()

	conn.SetReadLimit(t.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn().Err(err).Msg("read failed")
			}
			break
		}

		ev, err := domain.DecodeInbound(data)
		if err != nil {
			t.logger.Debug().Err(err).Msg("dropping unrecognized frame")
			continue
		}

		if errEv, ok := ev.(*domain.ErrorEvent); ok {
			t.listeners.notifyError(errEv.Message)
			continue
		}
		t.listeners.notifyEvent(ev)
	}

	t.handleConnectionLoss(gen)
}

// writePump owns all writes to one connection, including heartbeats.
func (t *Transport) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleConnectionLoss transitions to disconnected and starts a fresh
// reconnect cycle, unless the loss belongs to a superseded connection
// or Disconnect was called.
func (t *Transport) handleConnectionLoss(gen int) {
	t.mu.Lock()
	if t.closed || gen != t.gen || !t.connected {
		t.mu.Unlock()
		return
	}
	t.connected = false
	t.connecting = true
	t.conn = nil
	t.send = nil
	ctx := t.ctx
	t.mu.Unlock()

	t.logger.Warn().Msg("connection lost, reconnecting")
	t.listeners.notifyDisconnected()

	go t.connectLoop(ctx)
}
