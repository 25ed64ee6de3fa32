package hub

import (
	"errors"

	"github.com/agentflow-dev/sessionbus/internal/buslog"
	"github.com/agentflow-dev/sessionbus/internal/idempotency"
	"github.com/agentflow-dev/sessionbus/internal/notify"
	"github.com/agentflow-dev/sessionbus/internal/store"
)

// Error kinds surfaced by hub operations. NotFound and Conflict originate in
// the store; InvalidInput covers malformed enum values and empty required
// fields. The hub never retries internally; retry policy belongs to callers.
var (
	ErrNotFound     = store.ErrNotFound
	ErrConflict     = store.ErrConflict
	ErrInvalidInput = errors.New("invalid input")
)

// casRetries bounds the re-read loop for unguarded writes (heartbeat,
// setState) racing on the same session record.
const casRetries = 5

// Hub is the session coordination core.
type Hub struct {
	store *store.Store
	guard *idempotency.Guard
	bus   *notify.Bus

	audit     *buslog.Logger
	onRequest func(*InputRequest)
}

// New creates a Hub persisting through st, with its own idempotency guard
// and notification bus.
func New(st *store.Store) *Hub {
	return &Hub{
		store: st,
		guard: idempotency.New(st),
		bus:   notify.NewBus(),
	}
}

// Bus exposes the change-notification bus so transports (SSE, dashboards)
// can subscribe to the global scope.
func (h *Hub) Bus() *notify.Bus {
	return h.bus
}

// SetAuditLog attaches an append-only event log. Audit failures are
// swallowed; they must never fail the operation that triggered them.
func (h *Hub) SetAuditLog(l *buslog.Logger) {
	h.audit = l
}

// SetRequestNotifier attaches a fire-and-forget hook invoked after a request
// is created (desktop notifications). It runs outside any store lock and its
// failures never reach the caller.
func (h *Hub) SetRequestNotifier(fn func(*InputRequest)) {
	h.onRequest = fn
}

func (h *Hub) logEvent(ev buslog.LogEvent) {
	if h.audit == nil {
		return
	}
	_ = h.audit.Append(ev)
}
