// Package client talks to the advisor HTTP API: it sends chat turns, decodes
// the event stream they answer with, and reads or clears stored history.
package client

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
	"strings"
	"time"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

// ErrIncompleteStream is returned when the server closes a stream before a terminal event.
var ErrIncompleteStream = errors.New("stream ended before a terminal event")

// APIError is a non-2xx answer carrying the server's {"error": "..."} message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL, userID string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Chat submits text and calls onEvent for every frame until the terminal one,
// which is also returned. The stream has no overall timeout; bound it with ctx.
func (c *Client) Chat(ctx context.Context, text string, onEvent func(domain.Event)) (domain.Event, error) {
	body, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return domain.Event{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat", bytes.NewReader(body))
	if err != nil {
		return domain.Event{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Event{}, fmt.Errorf("POST /api/chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Event{}, readAPIError(resp)
	}

	dec := NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return domain.Event{}, ErrIncompleteStream
		}
		if err != nil {
			return domain.Event{}, err
		}
		if onEvent != nil {
			onEvent(ev)
		}
		if ev.Terminal() {
			return ev, nil
		}
	}
}

type messageJSON struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Messages returns up to limit recent messages, oldest first. limit <= 0 uses the server default.
func (c *Client) Messages(ctx context.Context, limit int) ([]domain.Message, error) {
	path := "/api/messages"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	var out struct {
		Messages []messageJSON `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}

	msgs := make([]domain.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, domain.Message{Role: domain.Role(m.Role), Content: m.Content, Timestamp: m.Timestamp})
	}
	return msgs, nil
}

func (c *Client) ClearHistory(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/messages/history", nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	req, err := c.newRequest(ctx, method, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("user-id", c.userID)
	return req, nil
}

func readAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}
