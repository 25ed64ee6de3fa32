package hub

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow-dev/sessionbus/internal/buslog"
	"github.com/agentflow-dev/sessionbus/internal/idempotency"
	"github.com/agentflow-dev/sessionbus/internal/notify"
	"github.com/agentflow-dev/sessionbus/internal/store"
)

// CreateRequest posts a blocking input request for a session and moves the
// session to WAITING_FOR_INPUT. When idemKey is non-empty the call is routed
// through the idempotency guard: a retry with identical arguments returns
// the original request; a retry with different arguments fails with
// Conflict.
func (h *Hub) CreateRequest(sessionID string, in CreateRequestInput, idemKey string) (*InputRequest, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("title must not be empty: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Question) == "" {
		return nil, fmt.Errorf("question must not be empty: %w", ErrInvalidInput)
	}
	priority, err := ParsePriority(string(in.Priority))
	if err != nil {
		return nil, err
	}

	if _, err := h.GetSession(sessionID); err != nil {
		return nil, err
	}

	scope := "request.create:" + sessionID
	fingerprint := idempotency.Fingerprint(append([]string{
		sessionID, in.Title, in.Question, string(priority),
	}, in.Tags...)...)

	res, err := h.guard.Run(scope, idemKey, fingerprint, func() (string, error) {
		req := &InputRequest{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			Title:     in.Title,
			Question:  in.Question,
			Priority:  priority,
			Tags:      in.Tags,
			Status:    RequestPending,
			CreatedAt: time.Now().UTC(),
		}
		if err := h.store.Put(store.KindRequest, req.ID, req); err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}

		// The session moving to WAITING_FOR_INPUT is best-effort; the
		// request record is the source of truth.
		_, _ = h.updateSession(sessionID, func(s *Session) error {
			s.State = StateWaitingForInput
			s.LastHeartbeatAt = time.Now().UTC()
			return nil
		})

		h.bus.Publish(notify.ScopeGlobal, notify.Event{
			Name: notify.EventRequestCreated,
			Payload: map[string]string{
				"request_id": req.ID,
				"session_id": sessionID,
				"priority":   string(priority),
			},
		})
		h.logEvent(buslog.LogEvent{
			Event:     buslog.EventRequestCreated,
			SessionID: sessionID,
			RequestID: req.ID,
			Priority:  string(priority),
		})
		if h.onRequest != nil {
			go h.onRequest(req)
		}

		return req.ID, nil
	})
	if err != nil {
		return nil, err
	}

	return h.GetRequest(res.ResourceID)
}

// GetRequest loads a request by id.
func (h *Hub) GetRequest(requestID string) (*InputRequest, error) {
	rec, err := h.store.Get(store.KindRequest, requestID)
	if err != nil {
		return nil, err
	}
	var req InputRequest
	if err := rec.Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListRequests returns requests filtered by status; an empty status returns
// all. The PENDING view orders URGENT before NORMAL before LOW with creation
// order as the tiebreak; other views keep plain creation order.
func (h *Hub) ListRequests(status RequestStatus) ([]*InputRequest, error) {
	if status != "" {
		if _, err := ParseRequestStatus(string(status)); err != nil {
			return nil, err
		}
	}

	records, err := h.store.List(store.KindRequest)
	if err != nil {
		return nil, err
	}

	requests := make([]*InputRequest, 0, len(records))
	for _, rec := range records {
		var req InputRequest
		if err := rec.Decode(&req); err != nil {
			return nil, err
		}
		if status != "" && req.Status != status {
			continue
		}
		requests = append(requests, &req)
	}

	if status == RequestPending {
		sort.SliceStable(requests, func(i, j int) bool {
			return requests[i].Priority.rank() < requests[j].Priority.rank()
		})
	}
	return requests, nil
}

// Respond answers a pending request. If the request is already ANSWERED the
// original record is returned unchanged. Otherwise the PENDING to ANSWERED
// transition is compare-and-update guarded, exactly one INPUT_RESPONSE
// message is enqueued on the owning session, and both the session's
// long-poll waiters and the global dashboard scope are notified.
func (h *Hub) Respond(requestID string, in RespondInput, idemKey string) (*InputRequest, error) {
	if strings.TrimSpace(in.ResponseText) == "" {
		return nil, fmt.Errorf("response_text must not be empty: %w", ErrInvalidInput)
	}
	responder := in.Responder
	if responder == "" {
		responder = "human"
	}

	if _, err := h.GetRequest(requestID); err != nil {
		return nil, err
	}

	scope := "request.respond:" + requestID
	fingerprint := idempotency.Fingerprint(requestID, in.ResponseText, responder)

	res, err := h.guard.Run(scope, idemKey, fingerprint, func() (string, error) {
		if err := h.answer(requestID, in.ResponseText, responder); err != nil {
			return "", err
		}
		return requestID, nil
	})
	if err != nil {
		return nil, err
	}

	return h.GetRequest(res.ResourceID)
}

// answer performs the PENDING→ANSWERED transition and its derived writes.
// Safe to re-run: an already-ANSWERED request short-circuits, and the enqueue
// step checks for an existing message before appending.
func (h *Hub) answer(requestID, responseText, responder string) error {
	rec, err := h.store.Get(store.KindRequest, requestID)
	if err != nil {
		return err
	}
	var req InputRequest
	if err := rec.Decode(&req); err != nil {
		return err
	}

	if req.Status == RequestAnswered {
		// A concurrent responder won; fall through to the derivation sweep
		// so a previously failed enqueue still repairs itself.
		return h.deliverAnswer(&req)
	}

	now := time.Now().UTC()
	req.Status = RequestAnswered
	req.ResponseText = responseText
	req.Responder = responder
	req.AnsweredAt = &now

	err = h.store.CompareAndUpdate(store.KindRequest, requestID, rec.Version, &req)
	if errors.Is(err, ErrConflict) {
		// Lost the race. Re-read; the winner's answer stands.
		winner, getErr := h.GetRequest(requestID)
		if getErr != nil {
			return getErr
		}
		if winner.Status != RequestAnswered {
			return err
		}
		return h.deliverAnswer(winner)
	}
	if err != nil {
		return err
	}

	_, _ = h.updateSession(req.SessionID, func(s *Session) error {
		s.State = StateWorking
		s.LastHeartbeatAt = time.Now().UTC()
		return nil
	})

	h.logEvent(buslog.LogEvent{
		Event:     buslog.EventRequestAnswered,
		SessionID: req.SessionID,
		RequestID: req.ID,
		Responder: responder,
	})

	return h.deliverAnswer(&req)
}

// deliverAnswer enqueues the INPUT_RESPONSE message for an answered request
// unless one already exists, then wakes the session's pollers and the
// dashboard. Re-running after a partial failure never duplicates the
// message.
func (h *Hub) deliverAnswer(req *InputRequest) error {
	existing, err := h.messageForRequest(req.SessionID, req.ID)
	if err != nil {
		return err
	}

	if existing == nil {
		answeredAt := time.Now().UTC()
		if req.AnsweredAt != nil {
			answeredAt = *req.AnsweredAt
		}
		// The message id is derived from the request id, so two racing
		// derivations land on the same record instead of duplicating it.
		msg := &InboxMessage{
			ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte("input-response:"+req.ID)).String(),
			SessionID: req.SessionID,
			Type:      MessageTypeInputResponse,
			Payload: ResponsePayload{
				RequestID:    req.ID,
				ResponseText: req.ResponseText,
				Responder:    req.Responder,
				AnsweredAt:   answeredAt,
			},
			Status:    MessagePending,
			CreatedAt: time.Now().UTC(),
		}
		if err := h.store.Put(store.KindMessage, msg.ID, msg); err != nil {
			return fmt.Errorf("enqueue inbox message: %w", err)
		}
		h.logEvent(buslog.LogEvent{
			Event:     buslog.EventMessageEnqueued,
			SessionID: req.SessionID,
			RequestID: req.ID,
			MessageID: msg.ID,
		})
	}

	h.bus.Publish(req.SessionID, notify.Event{
		Name:    notify.EventMessageEnqueued,
		Payload: map[string]string{"session_id": req.SessionID, "request_id": req.ID},
	})
	h.bus.Publish(notify.ScopeGlobal, notify.Event{
		Name:    notify.EventRequestAnswered,
		Payload: map[string]string{"session_id": req.SessionID, "request_id": req.ID},
	})
	return nil
}

// messageForRequest finds the INPUT_RESPONSE message derived from a request,
// or nil if none exists yet.
func (h *Hub) messageForRequest(sessionID, requestID string) (*InboxMessage, error) {
	records, err := h.store.List(store.KindMessage)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		var msg InboxMessage
		if err := rec.Decode(&msg); err != nil {
			return nil, err
		}
		if msg.SessionID == sessionID && msg.Type == MessageTypeInputResponse && msg.Payload.RequestID == requestID {
			return &msg, nil
		}
	}
	return nil, nil
}
