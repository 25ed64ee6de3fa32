package hub

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow-dev/sessionbus/internal/buslog"
	"github.com/agentflow-dev/sessionbus/internal/notify"
	"github.com/agentflow-dev/sessionbus/internal/store"
)

// Register creates a session with a fresh id in state WORKING.
func (h *Hub) Register(displayName, tenantID string, metadata map[string]string) (*Session, error) {
	if strings.TrimSpace(displayName) == "" {
		return nil, fmt.Errorf("display_name must not be empty: %w", ErrInvalidInput)
	}

	now := time.Now().UTC()
	session := &Session{
		ID:              uuid.New().String(),
		DisplayName:     displayName,
		TenantID:        tenantID,
		State:           StateWorking,
		Metadata:        metadata,
		CreatedAt:       now,
		LastHeartbeatAt: now,
	}

	if err := h.store.Put(store.KindSession, session.ID, session); err != nil {
		return nil, fmt.Errorf("register session: %w", err)
	}

	h.bus.Publish(notify.ScopeGlobal, notify.Event{
		Name:    notify.EventSessionRegistered,
		Payload: map[string]string{"session_id": session.ID},
	})
	h.logEvent(buslog.LogEvent{Event: buslog.EventSessionRegistered, SessionID: session.ID})

	return session, nil
}

// GetSession loads a session by id.
func (h *Hub) GetSession(sessionID string) (*Session, error) {
	rec, err := h.store.Get(store.KindSession, sessionID)
	if err != nil {
		return nil, err
	}
	var session Session
	if err := rec.Decode(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Heartbeat records liveness for a session, optionally broadcasting a state
// and merging metadata key-by-key. Any of the four states is accepted; the
// heartbeat is a liveness primitive, not a guarded state-machine edge.
func (h *Hub) Heartbeat(sessionID string, state SessionState, metadata map[string]string) (*Session, error) {
	if state != "" {
		if _, err := ParseSessionState(string(state)); err != nil {
			return nil, err
		}
	}
	return h.updateSession(sessionID, func(s *Session) error {
		s.LastHeartbeatAt = time.Now().UTC()
		if state != "" {
			s.State = state
		}
		if len(metadata) > 0 {
			if s.Metadata == nil {
				s.Metadata = make(map[string]string, len(metadata))
			}
			for k, v := range metadata {
				s.Metadata[k] = v
			}
		}
		h.logEvent(buslog.LogEvent{Event: buslog.EventSessionHeartbeat, SessionID: sessionID, State: string(s.State)})
		return nil
	})
}

// SetState writes the session's state and refreshes its heartbeat.
func (h *Hub) SetState(sessionID string, state SessionState) (*Session, error) {
	if _, err := ParseSessionState(string(state)); err != nil {
		return nil, err
	}
	return h.updateSession(sessionID, func(s *Session) error {
		s.State = state
		s.LastHeartbeatAt = time.Now().UTC()
		h.logEvent(buslog.LogEvent{Event: buslog.EventSessionState, SessionID: sessionID, State: string(state)})
		return nil
	})
}

// ListSessions returns every session in creation order, each with its live
// state, its count of PENDING requests, and whether its latest INPUT_RESPONSE
// has been acknowledged.
func (h *Hub) ListSessions() ([]SessionSummary, error) {
	records, err := h.store.List(store.KindSession)
	if err != nil {
		return nil, err
	}

	pending, err := h.pendingCounts()
	if err != nil {
		return nil, err
	}
	acked, err := h.latestResponseAcked()
	if err != nil {
		return nil, err
	}

	summaries := make([]SessionSummary, 0, len(records))
	for _, rec := range records {
		var session Session
		if err := rec.Decode(&session); err != nil {
			return nil, err
		}
		summaries = append(summaries, SessionSummary{
			Session:              session,
			PendingRequests:      pending[session.ID],
			ResponseAcknowledged: pending[session.ID] == 0 && acked[session.ID],
		})
	}
	return summaries, nil
}

// updateSession applies mutate to the session record under optimistic
// concurrency, re-reading on version conflicts. After the write it publishes
// a session-updated event on the global scope.
func (h *Hub) updateSession(sessionID string, mutate func(*Session) error) (*Session, error) {
	var session Session
	for attempt := 0; attempt < casRetries; attempt++ {
		rec, err := h.store.Get(store.KindSession, sessionID)
		if err != nil {
			return nil, err
		}
		session = Session{}
		if err := rec.Decode(&session); err != nil {
			return nil, err
		}
		if err := mutate(&session); err != nil {
			return nil, err
		}

		err = h.store.CompareAndUpdate(store.KindSession, sessionID, rec.Version, &session)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		h.bus.Publish(notify.ScopeGlobal, notify.Event{
			Name:    notify.EventSessionUpdated,
			Payload: map[string]string{"session_id": sessionID, "state": string(session.State)},
		})
		return &session, nil
	}
	return nil, fmt.Errorf("session %s: update contention: %w", sessionID, ErrConflict)
}

// pendingCounts maps session id to its number of PENDING requests.
func (h *Hub) pendingCounts() (map[string]int, error) {
	records, err := h.store.List(store.KindRequest)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, rec := range records {
		var req InputRequest
		if err := rec.Decode(&req); err != nil {
			return nil, err
		}
		if req.Status == RequestPending {
			counts[req.SessionID]++
		}
	}
	return counts, nil
}

// latestResponseAcked maps session id to whether its most recent
// INPUT_RESPONSE message has been acknowledged.
func (h *Hub) latestResponseAcked() (map[string]bool, error) {
	records, err := h.store.List(store.KindMessage)
	if err != nil {
		return nil, err
	}

	// Records arrive in creation order; the last one per session wins.
	acked := make(map[string]bool)
	for _, rec := range records {
		var msg InboxMessage
		if err := rec.Decode(&msg); err != nil {
			return nil, err
		}
		if msg.Type != MessageTypeInputResponse {
			continue
		}
		acked[msg.SessionID] = msg.Status == MessageAcked
	}
	return acked, nil
}
