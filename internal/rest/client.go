// Package rest implements the HTTP API collaborator: session lookup,
// paginated history, the non-socket send fallback, and read marks.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tradewire/chatkit/internal/domain"
)

var (
	// ErrNotFound maps a 404 so callers can degrade gracefully, e.g.
	// treating a missing history endpoint as an empty history.
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// apiResponse is the backend's uniform response envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SendMessageRequest is the body of the send fallback endpoint.
type SendMessageRequest struct {
	SessionID string `json:"session_id"`
	Body      string `json:"body,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// CurrentSession returns the caller's session, created server-side on
// first contact if none exists yet.
func (c *Client) CurrentSession(ctx context.Context) (*domain.Session, error) {
	var session domain.Session
	if err := c.do(ctx, http.MethodGet, "/chat/session", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// AllSessions returns every session. Agent-only: the backend rejects
// end-user tokens on this endpoint.
func (c *Client) AllSessions(ctx context.Context) ([]domain.Session, error) {
	var sessions []domain.Session
	if err := c.do(ctx, http.MethodGet, "/chat/sessions/all", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Messages returns one page of persisted history for a session,
// newest-last. A missing endpoint surfaces as ErrNotFound.
func (c *Client) Messages(ctx context.Context, sessionID string, page, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if page < 1 {
		page = 1
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	path := fmt.Sprintf("/chat/sessions/%s/messages?%s", url.PathEscape(sessionID), q.Encode())

	var messages []domain.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage persists a message over HTTP. Used when the socket is
// down; the returned message carries the server-assigned id.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*domain.Message, error) {
	var msg domain.Message
	if err := c.do(ctx, http.MethodPost, "/chat/message", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead marks every message in the session as read.
func (c *Client) MarkRead(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/chat/sessions/%s/read", url.PathEscape(sessionID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !envelope.Success {
		return fmt.Errorf("%s %s: %s", method, path, envelope.Error)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
