package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/agentflow-dev/sessionbus/internal/buslog"
	"github.com/agentflow-dev/sessionbus/internal/store"
)

// Poll returns the session's unacknowledged messages, blocking until at
// least one exists or timeout elapses. A timeout is a normal empty result,
// not an error. Multiple concurrent pollers are all woken by a new message
// and each observes the same outstanding set; only Ack removes a message
// from future polls. The waiter holds no lock while suspended and is
// unsubscribed on every exit path, including cancellation.
func (h *Hub) Poll(ctx context.Context, sessionID string, timeout time.Duration) ([]*InboxMessage, error) {
	if _, err := h.GetSession(sessionID); err != nil {
		return nil, err
	}

	// Subscribe before the first read so an enqueue between the read and
	// the wait cannot be missed.
	wake, cancel := h.bus.Subscribe(sessionID)
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		messages, err := h.unackedMessages(sessionID)
		if err != nil {
			return nil, err
		}
		if len(messages) > 0 {
			h.markDelivered(messages)
			return messages, nil
		}

		select {
		case <-wake:
		case <-timer.C:
			return []*InboxMessage{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ack marks a message acknowledged. Fails NotFound if the message does not
// exist or belongs to a different session. Acknowledging an already-acked
// message succeeds without effect.
func (h *Hub) Ack(sessionID, messageID string) (*InboxMessage, error) {
	if _, err := h.GetSession(sessionID); err != nil {
		return nil, err
	}

	rec, err := h.store.Get(store.KindMessage, messageID)
	if err != nil {
		return nil, err
	}
	var msg InboxMessage
	if err := rec.Decode(&msg); err != nil {
		return nil, err
	}
	if msg.SessionID != sessionID {
		return nil, fmt.Errorf("message %s does not belong to session %s: %w", messageID, sessionID, ErrNotFound)
	}

	if msg.Status == MessageAcked {
		return &msg, nil
	}

	now := time.Now().UTC()
	msg.Status = MessageAcked
	msg.AckedAt = &now
	if err := h.store.CompareAndUpdate(store.KindMessage, messageID, rec.Version, &msg); err != nil {
		return nil, err
	}

	h.logEvent(buslog.LogEvent{Event: buslog.EventMessageAcked, SessionID: sessionID, MessageID: messageID})
	return &msg, nil
}

// ListMessages returns every message for a session in creation order,
// including acknowledged ones. Used for audit; long-poll consumers should
// use Poll.
func (h *Hub) ListMessages(sessionID string) ([]*InboxMessage, error) {
	if _, err := h.GetSession(sessionID); err != nil {
		return nil, err
	}
	return h.sessionMessages(sessionID, false)
}

func (h *Hub) unackedMessages(sessionID string) ([]*InboxMessage, error) {
	return h.sessionMessages(sessionID, true)
}

func (h *Hub) sessionMessages(sessionID string, unackedOnly bool) ([]*InboxMessage, error) {
	records, err := h.store.List(store.KindMessage)
	if err != nil {
		return nil, err
	}

	var messages []*InboxMessage
	for _, rec := range records {
		var msg InboxMessage
		if err := rec.Decode(&msg); err != nil {
			return nil, err
		}
		if msg.SessionID != sessionID {
			continue
		}
		if unackedOnly && msg.Status == MessageAcked {
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// markDelivered stamps first delivery on returned messages. Delivery status
// is audit-only and never gates redelivery; a race with a concurrent Ack
// leaves the winner's status in place.
func (h *Hub) markDelivered(messages []*InboxMessage) {
	now := time.Now().UTC()
	for _, msg := range messages {
		if msg.Status != MessagePending {
			continue
		}
		rec, err := h.store.Get(store.KindMessage, msg.ID)
		if err != nil {
			continue
		}
		// An ack may have landed since the poll snapshot; stamp only
		// records that are still pending in the store.
		var live InboxMessage
		if err := rec.Decode(&live); err != nil || live.Status != MessagePending {
			continue
		}
		live.Status = MessageDelivered
		live.DeliveredAt = &now
		if h.store.CompareAndUpdate(store.KindMessage, msg.ID, rec.Version, &live) == nil {
			msg.Status = MessageDelivered
			msg.DeliveredAt = &now
		}
	}
}
