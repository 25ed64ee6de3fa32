package hub

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/agentflow-dev/sessionbus/internal/store"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

func TestRegisterStartsWorking(t *testing.T) {
	h := newTestHub(t)

	session, err := h.Register("build-agent", "acme", map[string]string{"repo": "api"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if session.ID == "" {
		t.Error("expected an id to be allocated")
	}
	if session.State != StateWorking {
		t.Errorf("expected initial state WORKING, got %s", session.State)
	}
	if session.TenantID != "acme" || session.Metadata["repo"] != "api" {
		t.Errorf("fields not stored: %+v", session)
	}
}

func TestRegisterRequiresDisplayName(t *testing.T) {
	h := newTestHub(t)

	_, err := h.Register("  ", "", nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestHeartbeatUnknownSession(t *testing.T) {
	h := newTestHub(t)

	_, err := h.Heartbeat("ghost", "", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHeartbeatUpdatesLiveness(t *testing.T) {
	h := newTestHub(t)

	session, err := h.Register("agent", "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	before := session.LastHeartbeatAt

	updated, err := h.Heartbeat(session.ID, "", nil)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if updated.LastHeartbeatAt.Before(before) {
		t.Error("heartbeat must advance last_heartbeat_at")
	}
	if updated.State != StateWorking {
		t.Errorf("state must be untouched without an explicit value, got %s", updated.State)
	}
}

func TestHeartbeatMergesMetadata(t *testing.T) {
	h := newTestHub(t)

	session, err := h.Register("agent", "", map[string]string{"branch": "main", "step": "plan"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	updated, err := h.Heartbeat(session.ID, "", map[string]string{"step": "execute", "pr": "42"})
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	want := map[string]string{"branch": "main", "step": "execute", "pr": "42"}
	for k, v := range want {
		if updated.Metadata[k] != v {
			t.Errorf("metadata[%s]: expected %s, got %s", k, v, updated.Metadata[k])
		}
	}
}

func TestHeartbeatRejectsUnknownState(t *testing.T) {
	h := newTestHub(t)

	session, err := h.Register("agent", "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err = h.Heartbeat(session.ID, "NAPPING", nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSetStateAcceptsAllFourStates(t *testing.T) {
	h := newTestHub(t)

	session, err := h.Register("agent", "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// No transition graph: any session may move to any state at any time.
	for _, state := range []SessionState{StateWaitingForInput, StateDone, StateError, StateWorking} {
		updated, err := h.SetState(session.ID, state)
		if err != nil {
			t.Fatalf("set state %s: %v", state, err)
		}
		if updated.State != state {
			t.Errorf("expected state %s, got %s", state, updated.State)
		}

		sessions, err := h.ListSessions()
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(sessions) != 1 || sessions[0].State != state {
			t.Errorf("list must reflect state %s, got %+v", state, sessions)
		}
	}
}

func TestListSessionsCreationOrder(t *testing.T) {
	h := newTestHub(t)

	var ids []string
	for _, name := range []string{"one", "two", "three"} {
		s, err := h.Register(name, "", nil)
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
		ids = append(ids, s.ID)
	}

	sessions, err := h.ListSessions()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for i, s := range sessions {
		if s.ID != ids[i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[i], s.ID)
		}
	}
}

func TestListSessionsCountsPendingRequests(t *testing.T) {
	h := newTestHub(t)

	session, err := h.Register("agent", "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	req, err := h.CreateRequest(session.ID, CreateRequestInput{Title: "A", Question: "a?"}, "")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := h.CreateRequest(session.ID, CreateRequestInput{Title: "B", Question: "b?"}, ""); err != nil {
		t.Fatalf("create request: %v", err)
	}

	sessions, err := h.ListSessions()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if sessions[0].PendingRequests != 2 {
		t.Errorf("expected 2 pending requests, got %d", sessions[0].PendingRequests)
	}

	if _, err := h.Respond(req.ID, RespondInput{ResponseText: "ok"}, ""); err != nil {
		t.Fatalf("respond: %v", err)
	}

	sessions, err = h.ListSessions()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if sessions[0].PendingRequests != 1 {
		t.Errorf("expected 1 pending request after respond, got %d", sessions[0].PendingRequests)
	}
}
