package client

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentflow-dev/sessionbus/internal/hub"
	"github.com/agentflow-dev/sessionbus/internal/notify"
	"github.com/agentflow-dev/sessionbus/internal/server"
	"github.com/agentflow-dev/sessionbus/internal/store"
)

func startHub(t *testing.T) *Client {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bus.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv, err := server.NewServer(hub.New(st), "127.0.0.1:0", server.Options{})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	go srv.Start()
	t.Cleanup(func() { srv.Stop() })

	return New("http://" + srv.Addr())
}

func TestRegisterAndFetch(t *testing.T) {
	c := startHub(t)
	ctx := context.Background()

	sess, err := c.Register(ctx, RegisterInput{
		DisplayName: "builder",
		Metadata:    map[string]string{"repo": "api"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if sess.State != hub.StateWorking {
		t.Fatalf("new session state = %s", sess.State)
	}

	got, err := c.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.DisplayName != "builder" || got.Metadata["repo"] != "api" {
		t.Fatalf("unexpected session %+v", got)
	}
}

func TestErrorKindsSurviveTransport(t *testing.T) {
	c := startHub(t)
	ctx := context.Background()

	_, err := c.GetSession(ctx, "no-such-id")
	if !errors.Is(err, hub.ErrNotFound) {
		t.Fatalf("missing session error = %v, want ErrNotFound", err)
	}

	_, err = c.Register(ctx, RegisterInput{DisplayName: "  "})
	if !errors.Is(err, hub.ErrInvalidInput) {
		t.Fatalf("blank name error = %v, want ErrInvalidInput", err)
	}

	sess, err := c.Register(ctx, RegisterInput{DisplayName: "builder"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = c.CreateRequest(ctx, sess.ID, CreateRequestInput{
		Title: "A", Question: "A?", IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = c.CreateRequest(ctx, sess.ID, CreateRequestInput{
		Title: "B", Question: "B?", IdempotencyKey: "key-1",
	})
	if !errors.Is(err, hub.ErrConflict) {
		t.Fatalf("key reuse error = %v, want ErrConflict", err)
	}
}

func TestCreateRequestRetrySameKey(t *testing.T) {
	c := startHub(t)
	ctx := context.Background()

	sess, err := c.Register(ctx, RegisterInput{DisplayName: "builder"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	in := CreateRequestInput{Title: "Deploy?", Question: "Ship?", IdempotencyKey: "deploy-1"}
	first, err := c.CreateRequest(ctx, sess.ID, in)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := c.CreateRequest(ctx, sess.ID, in)
	if err != nil {
		t.Fatalf("retried create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("retry produced new request %s != %s", second.ID, first.ID)
	}
}

func TestRespondPollAckRoundTrip(t *testing.T) {
	c := startHub(t)
	ctx := context.Background()

	sess, err := c.Register(ctx, RegisterInput{DisplayName: "builder"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	req, err := c.CreateRequest(ctx, sess.ID, CreateRequestInput{
		Title:    "Approve?",
		Question: "Run the migration?",
		Priority: "URGENT",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	answered, err := c.Respond(ctx, req.ID, RespondInput{ResponseText: "yes", Responder: "alice"})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if answered.Status != hub.RequestAnswered {
		t.Fatalf("respond status = %s", answered.Status)
	}

	messages, err := c.Poll(ctx, sess.ID, 5*time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(messages) != 1 || messages[0].Payload.ResponseText != "yes" {
		t.Fatalf("unexpected poll result %+v", messages)
	}

	acked, err := c.Ack(ctx, sess.ID, messages[0].ID)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if acked.Status != hub.MessageAcked {
		t.Fatalf("ack status = %s", acked.Status)
	}

	history, err := c.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(history) != 1 || history[0].Status != hub.MessageAcked {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestPollTimeoutReturnsEmpty(t *testing.T) {
	c := startHub(t)
	ctx := context.Background()

	sess, err := c.Register(ctx, RegisterInput{DisplayName: "builder"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	start := time.Now()
	messages, err := c.Poll(ctx, sess.ID, time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("empty poll returned %d messages", len(messages))
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("poll returned after %v, before the timeout", elapsed)
	}
}

func TestEventsDeliversNotifications(t *testing.T) {
	c := startHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Events(ctx)
	if err != nil {
		t.Fatalf("opening events: %v", err)
	}

	// Let the stream subscribe before triggering the event.
	time.Sleep(100 * time.Millisecond)
	if _, err := c.Register(ctx, RegisterInput{DisplayName: "builder"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Name != notify.EventSessionRegistered {
			t.Fatalf("first event = %q", ev.Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
}
