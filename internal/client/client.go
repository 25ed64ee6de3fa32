// Package client is the typed Go client for the hub HTTP API. Sessions embed
// it to register themselves, raise input requests, and long-poll their inbox;
// operator tooling uses it to list sessions and respond.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentflow-dev/sessionbus/internal/hub"
	"github.com/agentflow-dev/sessionbus/internal/notify"
	"github.com/agentflow-dev/sessionbus/internal/runtime"
	"github.com/agentflow-dev/sessionbus/internal/server"
)

// Client talks to one hub instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the hub at baseURL (e.g. "http://127.0.0.1:8737").
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No global timeout: inbox polls and event streams are long-lived.
		// Per-call deadlines come from the caller's context.
		http: &http.Client{},
	}
}

// Discover creates a client for the hub recorded in the runtime directory,
// starting one when autostart is set and none is reachable.
func Discover(dir string, autostart bool) (*Client, error) {
	info, err := runtime.EnsureRunning(dir, autostart)
	if err != nil {
		return nil, err
	}
	return New(info.BaseURL), nil
}

// BaseURL returns the hub address this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health reports whether the hub answers its health route.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.call(ctx, http.MethodGet, "/health", "", nil, &out)
}

// --- Sessions ---

// RegisterInput carries the fields of a session registration.
type RegisterInput struct {
	DisplayName string            `json:"display_name"`
	TenantID    string            `json:"tenant_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (c *Client) Register(ctx context.Context, in RegisterInput) (*hub.Session, error) {
	var sess hub.Session
	if err := c.call(ctx, http.MethodPost, "/api/sessions/register", "", in, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// HeartbeatInput optionally updates state and merges metadata.
type HeartbeatInput struct {
	State    string            `json:"state,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (c *Client) Heartbeat(ctx context.Context, sessionID string, in HeartbeatInput) (*hub.Session, error) {
	var sess hub.Session
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/heartbeat"
	if err := c.call(ctx, http.MethodPost, path, "", in, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) SetState(ctx context.Context, sessionID string, state hub.SessionState) (*hub.Session, error) {
	var sess hub.Session
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/state"
	body := map[string]string{"state": string(state)}
	if err := c.call(ctx, http.MethodPost, path, "", body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*hub.Session, error) {
	var sess hub.Session
	path := "/api/sessions/" + url.PathEscape(sessionID)
	if err := c.call(ctx, http.MethodGet, path, "", nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]hub.SessionSummary, error) {
	var sessions []hub.SessionSummary
	if err := c.call(ctx, http.MethodGet, "/api/sessions", "", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// --- Requests ---

// CreateRequestInput carries the fields of an input request. IdempotencyKey,
// when set, makes the call safe to retry.
type CreateRequestInput struct {
	Title          string   `json:"title"`
	Question       string   `json:"question"`
	Priority       string   `json:"priority,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	IdempotencyKey string   `json:"-"`
}

func (c *Client) CreateRequest(ctx context.Context, sessionID string, in CreateRequestInput) (*hub.InputRequest, error) {
	var req hub.InputRequest
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/requests"
	if err := c.call(ctx, http.MethodPost, path, in.IdempotencyKey, in, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListRequests returns requests, optionally filtered by status ("PENDING" or
// "ANSWERED"; empty means all).
func (c *Client) ListRequests(ctx context.Context, status string) ([]hub.InputRequest, error) {
	path := "/api/requests"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var requests []hub.InputRequest
	if err := c.call(ctx, http.MethodGet, path, "", nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

func (c *Client) GetRequest(ctx context.Context, requestID string) (*hub.InputRequest, error) {
	var req hub.InputRequest
	path := "/api/requests/" + url.PathEscape(requestID)
	if err := c.call(ctx, http.MethodGet, path, "", nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// RespondInput carries a human answer to a pending request.
type RespondInput struct {
	ResponseText   string `json:"response_text"`
	Responder      string `json:"responder,omitempty"`
	IdempotencyKey string `json:"-"`
}

func (c *Client) Respond(ctx context.Context, requestID string, in RespondInput) (*hub.InputRequest, error) {
	var req hub.InputRequest
	path := "/api/requests/" + url.PathEscape(requestID) + "/respond"
	if err := c.call(ctx, http.MethodPost, path, in.IdempotencyKey, in, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// --- Inbox ---

// Poll long-polls the session inbox for up to timeout, returning immediately
// when unacknowledged messages exist. An empty slice means the wait elapsed.
func (c *Client) Poll(ctx context.Context, sessionID string, timeout time.Duration) ([]hub.InboxMessage, error) {
	seconds := strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64)
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/inbox?timeout=" + seconds
	var messages []hub.InboxMessage
	if err := c.call(ctx, http.MethodGet, path, "", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) Ack(ctx context.Context, sessionID, messageID string) (*hub.InboxMessage, error) {
	var msg hub.InboxMessage
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/inbox/" + url.PathEscape(messageID) + "/ack"
	if err := c.call(ctx, http.MethodPost, path, "", nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns the session's full message history, acknowledged
// messages included.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]hub.InboxMessage, error) {
	var messages []hub.InboxMessage
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.call(ctx, http.MethodGet, path, "", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// --- Events ---

// Events opens the server-sent-events stream and delivers change
// notifications on the returned channel until ctx is cancelled or the
// connection drops. Ping comments are filtered out.
func (c *Client) Events(ctx context.Context) (<-chan notify.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return nil, fmt.Errorf("client: building event request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: opening event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("client: event stream returned %d", resp.StatusCode)
	}

	events := make(chan notify.Event, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev notify.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// --- Transport ---

func (c *Client) call(ctx context.Context, method, path, idemKey string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("client: encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("client: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(server.IdempotencyHeader, idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("client: decoding response: %w", err)
		}
	}
	return nil
}

// apiError carries the server's message while unwrapping to the hub error
// kind matching the status code, so errors.Is works on client results the
// same way it does on direct hub calls.
type apiError struct {
	kind error
	msg  string
}

func (e *apiError) Error() string { return e.msg }
func (e *apiError) Unwrap() error { return e.kind }

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &apiError{kind: hub.ErrNotFound, msg: body.Error}
	case http.StatusConflict:
		return &apiError{kind: hub.ErrConflict, msg: body.Error}
	case http.StatusBadRequest:
		return &apiError{kind: hub.ErrInvalidInput, msg: body.Error}
	}
	return fmt.Errorf("client: server returned %d: %s", resp.StatusCode, body.Error)
}
