// Package hub implements the session coordination core: the session
// registry, the input-request/response workflow, and the per-session inbox
// with long-poll delivery. Records persist through the store; change
// notifications fan out through the bus; mutating calls carrying an
// idempotency key are routed through the guard.
package hub

import (
	"fmt"
	"time"
)

// SessionState is the stored lifecycle state of a session. Registration
// starts a session in StateWorking; any session may move to any state at any
// time via explicit calls. State is never inferred from elapsed time.
type SessionState string

const (
	StateWorking         SessionState = "WORKING"
	StateWaitingForInput SessionState = "WAITING_FOR_INPUT"
	StateDone            SessionState = "DONE"
	StateError           SessionState = "ERROR"
)

// ParseSessionState validates a state value supplied by a caller.
func ParseSessionState(s string) (SessionState, error) {
	switch SessionState(s) {
	case StateWorking, StateWaitingForInput, StateDone, StateError:
		return SessionState(s), nil
	}
	return "", fmt.Errorf("unknown session state %q: %w", s, ErrInvalidInput)
}

// Priority orders pending input requests for human attention.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority validates a priority value. Empty defaults to NORMAL.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	switch Priority(s) {
	case PriorityLow, PriorityNormal, PriorityUrgent:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown priority %q: %w", s, ErrInvalidInput)
}

// rank orders priorities for the pending view: URGENT first.
func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// RequestStatus is the input-request state machine: PENDING transitions to
// ANSWERED exactly once.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestAnswered RequestStatus = "ANSWERED"
)

// ParseRequestStatus validates a status filter value.
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch RequestStatus(s) {
	case RequestPending, RequestAnswered:
		return RequestStatus(s), nil
	}
	return "", fmt.Errorf("unknown request status %q: %w", s, ErrInvalidInput)
}

// MessageStatus tracks inbox delivery for audit. Only MessageAcked removes a
// message from future polls; MessageDelivered is informational.
type MessageStatus string

const (
	MessagePending   MessageStatus = "PENDING"
	MessageDelivered MessageStatus = "DELIVERED"
	MessageAcked     MessageStatus = "ACKED"
)

// MessageTypeInputResponse is the inbox message carrying a request's answer.
const MessageTypeInputResponse = "INPUT_RESPONSE"

// Session is a registered agent execution context.
type Session struct {
	ID              string            `json:"session_id"`
	DisplayName     string            `json:"display_name"`
	TenantID        string            `json:"tenant_id,omitempty"`
	State           SessionState      `json:"state"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	LastHeartbeatAt time.Time         `json:"last_heartbeat_at"`
}

// SessionSummary is a session plus the read-time counters shown on the
// dashboard.
type SessionSummary struct {
	Session
	PendingRequests      int  `json:"pending_request_count"`
	ResponseAcknowledged bool `json:"response_acknowledged"`
}

// InputRequest is a blocking question raised by a session awaiting human
// text input.
type InputRequest struct {
	ID           string        `json:"request_id"`
	SessionID    string        `json:"session_id"`
	Title        string        `json:"title"`
	Question     string        `json:"question"`
	Priority     Priority      `json:"priority"`
	Tags         []string      `json:"tags,omitempty"`
	Status       RequestStatus `json:"status"`
	ResponseText string        `json:"response_text,omitempty"`
	Responder    string        `json:"responder,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	AnsweredAt   *time.Time    `json:"answered_at,omitempty"`
}

// ResponsePayload is the structured payload of an INPUT_RESPONSE message.
type ResponsePayload struct {
	RequestID    string    `json:"request_id"`
	ResponseText string    `json:"response_text"`
	Responder    string    `json:"responder"`
	AnsweredAt   time.Time `json:"answered_at"`
}

// InboxMessage is a unit of asynchronous notification delivered to exactly
// one session. Messages are never deleted; acknowledgment is a status
// transition that excludes them from future polls while keeping them
// queryable for audit.
type InboxMessage struct {
	ID          string          `json:"message_id"`
	SessionID   string          `json:"session_id"`
	Type        string          `json:"type"`
	Payload     ResponsePayload `json:"payload"`
	Status      MessageStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
	AckedAt     *time.Time      `json:"acked_at,omitempty"`
}

// CreateRequestInput carries the caller-supplied fields of createRequest.
type CreateRequestInput struct {
	Title    string
	Question string
	Priority Priority
	Tags     []string
}

// RespondInput carries the caller-supplied fields of respond.
type RespondInput struct {
	ResponseText string
	Responder    string
}
