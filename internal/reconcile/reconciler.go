// Package reconcile merges the three message sources of a chat session
// (REST history, live push events, local optimistic inserts) into one
// ordered, de-duplicated sequence.
package reconcile

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tradewire/chatkit/internal/domain"
	"github.com/tradewire/chatkit/internal/rest"
	"github.com/tradewire/chatkit/pkg/log"
)

// HistoryAPI is the REST collaborator surface the reconciler needs.
type HistoryAPI interface {
	Messages(ctx context.Context, sessionID string, page, limit int) ([]domain.Message, error)
	MarkRead(ctx context.Context, sessionID string) error
}

// ReadSignaler emits the socket-side read notification.
type ReadSignaler interface {
	MarkRead(sessionID string)
}

// Reconciler maintains the merged message sequence for one session.
//
// The sequence is append-only: the transport delivers push events in
// order per room, and the id-based de-duplication is what makes the
// merge with the (unordered relative to push) REST history safe.
type Reconciler struct {
	sessionID     string
	participantID string
	api           HistoryAPI
	signaler      ReadSignaler
	logger        zerolog.Logger

	mu        sync.Mutex
	messages  []domain.Message
	seen      map[string]struct{} // confirmed ids present in the sequence
	listeners map[int]func([]domain.Message)
	nextID    int
}

// New creates a reconciler for one session. participantID identifies
// the local sender, used to match confirmations against outstanding
// optimistic entries.
func New(sessionID, participantID string, api HistoryAPI, signaler ReadSignaler, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		sessionID:     sessionID,
		participantID: participantID,
		api:           api,
		signaler:      signaler,
		logger: logger.With().
			Str(log.FieldComponent, "reconcile").
			Str(log.FieldSessionID, sessionID).
			Logger(),
		seen:      make(map[string]struct{}),
		listeners: make(map[int]func([]domain.Message)),
	}
}

// LoadHistory fetches one page of persisted messages and merges it
// below whatever the sequence already holds. Any failure, a missing
// endpoint included, degrades to "no history yet": the live push
// channel is the correctness backstop, so history must never block the
// chat. The merged sequence is returned either way.
func (r *Reconciler) LoadHistory(ctx context.Context) []domain.Message {
	page, err := r.api.Messages(ctx, r.sessionID, 1, rest.DefaultLimit)
	if err != nil {
		if errors.Is(err, rest.ErrNotFound) {
			r.logger.Debug().Msg("history endpoint missing, starting empty")
		} else {
			r.logger.Warn().Err(err).Msg("history load failed, keeping current sequence")
		}
		return r.Messages()
	}

	r.mu.Lock()
	fresh := make([]domain.Message, 0, len(page))
	for _, m := range page {
		if m.IsProvisional() {
			continue
		}
		if _, dup := r.seen[m.ID]; dup {
			continue
		}
		r.seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	// History precedes anything already delivered by push. Each
	// source's internal order is preserved.
	if len(fresh) > 0 {
		r.messages = append(fresh, r.messages...)
	}
	snapshot := r.snapshotLocked()
	changed := len(fresh) > 0
	r.mu.Unlock()

	if changed {
		r.notify(snapshot)
	}
	return snapshot
}

// AppendOptimistic inserts a provisional message at the tail of the
// sequence, synchronously, before any network round-trip.
func (r *Reconciler) AppendOptimistic(m domain.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snapshot)
}

// ReconcileIncoming merges one server-confirmed message:
//
//  1. If the confirmation was sent by the local participant, the
//     oldest outstanding provisional entry is presumed superseded and
//     removed. Confirmations arrive in send order per session, so the
//     positional match holds; there is no client-supplied nonce to
//     correlate on.
//  2. A message whose id is already present is discarded, guarding
//     against double delivery (push plus a later history re-fetch).
//  3. Otherwise the message is appended; ordering is by arrival.
func (r *Reconciler) ReconcileIncoming(m domain.Message) {
	if m.SessionID != "" && m.SessionID != r.sessionID {
		return
	}
	if m.IsProvisional() {
		r.logger.Warn().Str(log.FieldMessageID, m.ID).Msg("server delivered a provisional id, dropping")
		return
	}

	r.mu.Lock()
	if m.SenderParticipantID == r.participantID {
		r.removeOldestProvisionalLocked()
	}

	if _, dup := r.seen[m.ID]; dup {
		r.mu.Unlock()
		return
	}
	r.seen[m.ID] = struct{}{}
	r.messages = append(r.messages, m)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snapshot)
}

// RemoveProvisional drops one provisional entry, used when its send
// ultimately failed and the caller restores the input instead. Reports
// whether the entry was present.
func (r *Reconciler) RemoveProvisional(id string) bool {
	if !domain.IsProvisionalID(id) {
		return false
	}

	r.mu.Lock()
	removed := false
	for i, m := range r.messages {
		if m.ID == id {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			removed = true
			break
		}
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if removed {
		r.notify(snapshot)
	}
	return removed
}

// MarkRead flips every unread entry locally and notifies the REST
// collaborator and the transport. Both notifications are best-effort
// fire-and-forget; local state is the source of truth for the UI. The
// REST call runs on a detached context so it outlives whatever
// per-call deadline triggered the mark.
func (r *Reconciler) MarkRead() {
	r.mu.Lock()
	changed := false
	for i := range r.messages {
		if !r.messages[i].IsRead {
			r.messages[i].IsRead = true
			changed = true
		}
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if changed {
		r.notify(snapshot)
	}

	go func() {
		if err := r.api.MarkRead(context.Background(), r.sessionID); err != nil {
			r.logger.Debug().Err(err).Msg("mark-read over REST failed")
		}
	}()
	r.signaler.MarkRead(r.sessionID)
}

// Messages returns a snapshot copy of the merged sequence.
func (r *Reconciler) Messages() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// OnChange registers fn to receive a snapshot after every mutation of
// the sequence. Returns the unsubscribe closure.
func (r *Reconciler) OnChange(fn func(messages []domain.Message)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *Reconciler) removeOldestProvisionalLocked() {
	for i, m := range r.messages {
		if m.IsProvisional() {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			return
		}
	}
}

func (r *Reconciler) snapshotLocked() []domain.Message {
	out := make([]domain.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reconciler) notify(snapshot []domain.Message) {
	r.mu.Lock()
	fns := make([]func([]domain.Message), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}
