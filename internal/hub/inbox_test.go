package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func answeredRequest(t *testing.T, h *Hub, sessionID string) *InputRequest {
	t.Helper()
	req, err := h.CreateRequest(sessionID, CreateRequestInput{Title: "T", Question: "q?"}, "")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	answered, err := h.Respond(req.ID, RespondInput{ResponseText: "yes", Responder: "alice"}, "")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	return answered
}

func TestPollUnknownSession(t *testing.T) {
	h := newTestHub(t)

	_, err := h.Poll(context.Background(), "ghost", time.Second)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPollReturnsImmediatelyWhenMessagesExist(t *testing.T) {
	h := newTestHub(t)
	session := registerSession(t, h)
	answeredRequest(t, h, session.ID)

	start := time.Now()
	messages, err := h.Poll(context.Background(), session.ID, 30*time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("poll with pending messages must not block, took %v", elapsed)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].Status != MessageDelivered || messages[0].DeliveredAt == nil {
		t.Errorf("returned message must be stamped delivered: %+v", messages[0])
	}
}

func TestPollTimeoutIsEmptyNotError(t *testing.T) {
	h := newTestHub(t)
	session := registerSession(t, h)

	start := time.Now()
	messages, err := h.Poll(context.Background(), session.ID, time.Second)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if messages == nil || len(messages) != 0 {
		t.Errorf("expected empty sequence, got %v", messages)
	}
	if elapsed < time.Second {
		t.Errorf("returned before the timeout: %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("overshot the timeout: %v", elapsed)
	}
}

func TestPollWakesOnNewMessage(t *testing.T) {
	h := newTestHub(t)
	session := registerSession(t, h)

	req, err := h.CreateRequest(session.ID, CreateRequestInput{Title: "T", Question: "q?"}, "")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	type result struct {
		messages []*InboxMessage
		elapsed  time.Duration
		err      error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		messages, err := h.Poll(context.Background(), session.ID, 30*time.Second)
		done <- result{messages, time.Since(start), err}
	}()

	time.Sleep(200 * time.Millisecond)
	if _, err := h.Respond(req.ID, RespondInput{ResponseText: "go"}, ""); err != nil {
		t.Fatalf("respond: %v", err)
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("poll: %v", res.err)
		}
		if len(res.messages) != 1 {
			t.Fatalf("expected 1 message, got %d", len(res.messages))
		}
		// Wakeup must arrive shortly after the respond, not at the 30s
		// timeout.
		if res.elapsed > 2*time.Second {
			t.Errorf("poller woke too late: %v", res.elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poller never woke")
	}
}

func TestPollBroadcastsToAllWaiters(t *testing.T) {
	h := newTestHub(t)
	session := registerSession(t, h)

	req, err := h.CreateRequest(session.ID, CreateRequestInput{Title: "T", Question: "q?"}, "")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	var wg sync.WaitGroup
	counts := make([]int, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			messages, err := h.Poll(context.Background(), session.ID, 10*time.Second)
			counts[i], errs[i] = len(messages), err
		}(i)
	}

	time.Sleep(200 * time.Millisecond)
	if _, err := h.Respond(req.ID, RespondInput{ResponseText: "go"}, ""); err != nil {
		t.Fatalf("respond: %v", err)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("poller %d: %v", i, errs[i])
		}
		if counts[i] != 1 {
			t.Errorf("poller %d: expected to observe the message, got %d", i, counts[i])
		}
	}
}

func TestPollCancellationUnsubscribes(t *testing.T) {
	h := newTestHub(t)
	session := registerSession(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.Poll(ctx, session.ID, 30*time.Second)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled poller did not return")
	}

	// The waiter must be gone: no leaked subscription on the session scope.
	deadline := time.Now().Add(time.Second)
	for h.bus.Subscribers(session.ID) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("leaked %d subscribers after cancellation", h.bus.Subscribers(session.ID))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAckRemovesFromFuturePolls(t *testing.T) {
	h := newTestHub(t)
	session := registerSession(t, h)
	answeredRequest(t, h, session.ID)

	messages, err := h.Poll(context.Background(), session.ID, time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	acked, err := h.Ack(session.ID, messages[0].ID)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if acked.Status != MessageAcked || acked.AckedAt == nil {
		t.Errorf("unexpected acked message: %+v", acked)
	}

	// Idempotent: a second ack succeeds without effect.
	again, err := h.Ack(session.ID, messages[0].ID)
	if err != nil {
		t.Fatalf("second ack: %v", err)
	}
	if !again.AckedAt.Equal(*acked.AckedAt) {
		t.Errorf("second ack must not restamp: %v vs %v", again.AckedAt, acked.AckedAt)
	}

	empty, err := h.Poll(context.Background(), session.ID, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("poll after ack: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("acked message must not be redelivered, got %d", len(empty))
	}

	// Still queryable for audit.
	all, err := h.ListMessages(session.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("acked message must remain stored, got %d", len(all))
	}
}

func TestAckWrongSession(t *testing.T) {
	h := newTestHub(t)
	session := registerSession(t, h)
	other, err := h.Register("other", "", nil)
	if err != nil {
		t.Fatalf("register other: %v", err)
	}
	answeredRequest(t, h, session.ID)

	messages, err := h.ListMessages(session.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	_, err = h.Ack(other.ID, messages[0].ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-session ack must be NotFound, got %v", err)
	}
}

func TestAckUnknownMessage(t *testing.T) {
	h := newTestHub(t)
	session := registerSession(t, h)

	_, err := h.Ack(session.ID, "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAckDuringDeliveryStampIsNotOverwritten(t *testing.T) {
	h := newTestHub(t)
	session := registerSession(t, h)
	answeredRequest(t, h, session.ID)

	// Snapshot the unacked set the way a poller does, then land an ack
	// before the delivery stamp runs.
	snapshot, err := h.unackedMessages(session.ID)
	if err != nil {
		t.Fatalf("unacked messages: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 unacked message, got %d", len(snapshot))
	}
	if _, err := h.Ack(session.ID, snapshot[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	h.markDelivered(snapshot)

	messages, err := h.ListMessages(session.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if messages[0].Status != MessageAcked || messages[0].AckedAt == nil {
		t.Fatalf("ack lost to delivery stamp: %+v", messages[0])
	}

	// The acked message must not come back on the next poll.
	after, err := h.Poll(context.Background(), session.ID, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(after) != 0 {
		t.Errorf("acked message redelivered: %+v", after[0])
	}
}
