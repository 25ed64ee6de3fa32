// Package server exposes the hub over HTTP: session registry routes,
// the input-request workflow, the long-poll inbox, and a server-sent-events
// stream of change notifications.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/agentflow-dev/sessionbus/internal/hub"
	"github.com/agentflow-dev/sessionbus/internal/notify"
)

// IdempotencyHeader carries the caller-chosen key that makes createRequest
// and respond safe to retry.
const IdempotencyHeader = "X-Idempotency-Key"

const ssePingInterval = 15 * time.Second

// Options bounds long-poll waits. Zero values fall back to the defaults.
type Options struct {
	DefaultPoll time.Duration
	MaxPoll     time.Duration
}

// Server is the hub HTTP server that sessions and human operators talk to.
type Server struct {
	hub      *hub.Hub
	listener net.Listener
	server   *http.Server

	defaultPoll time.Duration
	maxPoll     time.Duration
}

// NewServer creates a server bound to addr (e.g. "127.0.0.1:0"; port 0 picks
// a free port, readable afterwards from Addr).
func NewServer(h *hub.Hub, addr string, opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: binding listener: %w", err)
	}

	s := &Server{
		hub:         h,
		listener:    ln,
		defaultPoll: opts.DefaultPoll,
		maxPoll:     opts.MaxPoll,
	}
	if s.defaultPoll <= 0 {
		s.defaultPoll = 30 * time.Second
	}
	if s.maxPoll <= 0 {
		s.maxPoll = 120 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/sessions/register", s.handleRegister)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /api/sessions/{id}/state", s.handleSetState)
	mux.HandleFunc("POST /api/sessions/{id}/requests", s.handleCreateRequest)
	mux.HandleFunc("GET /api/requests", s.handleListRequests)
	mux.HandleFunc("GET /api/requests/{id}", s.handleGetRequest)
	mux.HandleFunc("POST /api/requests/{id}/respond", s.handleRespond)
	mux.HandleFunc("GET /api/sessions/{id}/inbox", s.handleInboxPoll)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/sessions/{id}/inbox/{mid}/ack", s.handleAck)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	s.server = &http.Server{Handler: mux}
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Start begins serving HTTP requests. Call in a goroutine; it returns
// http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	return s.server.Serve(s.listener)
}

// Stop shuts the server down, severing open long-polls and event streams.
func (s *Server) Stop() error {
	return s.server.Close()
}

// --- Session handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, healthResponse{Status: "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !readJSON(w, r, &req) {
		return
	}
	sess, err := s.hub.Register(req.DisplayName, req.TenantID, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions, err := s.hub.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.hub.GetSession(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !readJSON(w, r, &req) {
		return
	}
	sess, err := s.hub.Heartbeat(r.PathValue("id"), hub.SessionState(req.State), req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	var req setStateRequest
	if !readJSON(w, r, &req) {
		return
	}
	state, err := hub.ParseSessionState(req.State)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.hub.SetState(r.PathValue("id"), state)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sess)
}

// --- Request handlers ---

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequestBody
	if !readJSON(w, r, &req) {
		return
	}
	priority, err := hub.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := s.hub.CreateRequest(r.PathValue("id"), hub.CreateRequestInput{
		Title:    req.Title,
		Question: req.Question,
		Priority: priority,
		Tags:     req.Tags,
	}, r.Header.Get(IdempotencyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, created)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	var status hub.RequestStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := hub.ParseRequestStatus(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		status = parsed
	}
	requests, err := s.hub.ListRequests(status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, requests)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.hub.GetRequest(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, req)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !readJSON(w, r, &req) {
		return
	}
	answered, err := s.hub.Respond(r.PathValue("id"), hub.RespondInput{
		ResponseText: req.ResponseText,
		Responder:    req.Responder,
	}, r.Header.Get(IdempotencyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, answered)
}

// --- Inbox handlers ---

func (s *Server) handleInboxPoll(w http.ResponseWriter, r *http.Request) {
	timeout := s.defaultPoll
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, fmt.Errorf("invalid timeout %q: %w", raw, hub.ErrInvalidInput))
			return
		}
		timeout = time.Duration(seconds * float64(time.Second))
	}
	if timeout < 0 {
		timeout = 0
	}
	if timeout > s.maxPoll {
		timeout = s.maxPoll
	}

	messages, err := s.hub.Poll(r.Context(), r.PathValue("id"), timeout)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away mid-poll; nothing left to write.
			return
		}
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []*hub.InboxMessage{}
	}
	writeJSON(w, messages)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.hub.ListMessages(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []*hub.InboxMessage{}
	}
	writeJSON(w, messages)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	msg, err := s.hub.Ack(r.PathValue("id"), r.PathValue("mid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, msg)
}

// --- Event stream ---

// handleEvents streams global change notifications as server-sent events.
// A comment ping goes out periodically so proxies keep the connection open.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := s.hub.Bus().Subscribe(notify.ScopeGlobal)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(ssePingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// --- Helpers ---

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		// Allow empty body for requests with no fields.
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(errorResponse{Error: fmt.Sprintf("invalid JSON: %v", err)})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encoding response: %v", err), http.StatusInternalServerError)
	}
}

// writeError maps hub error kinds onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, hub.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, hub.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, hub.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}
