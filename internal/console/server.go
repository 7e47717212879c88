// ABOUTME: HTTP command API the agent consoles drive: presence, replies, close, transfer.
// ABOUTME: JSON over gorilla/mux, plus the WebSocket upgrade endpoint feeding the hub.

package console

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/donafarma/dispatch/internal/dispatch"
	"github.com/donafarma/dispatch/internal/identity"
	"github.com/donafarma/dispatch/internal/pool"
	"github.com/donafarma/dispatch/internal/store"
)

// conversationView is the JSON shape of a conversation on the console API.
type conversationView struct {
	ID           identity.ID `json:"id"`
	CustomerName string      `json:"customer_name,omitempty"`
	Address      string      `json:"address,omitempty"`
	DistanceKm   float64     `json:"distance_km,omitempty"`
	WithinRadius bool        `json:"within_radius"`
	Stage        string      `json:"stage"`
	AgentID      string      `json:"agent_id,omitempty"`
	Transferred  bool        `json:"transferred,omitempty"`
	FromAgent    string      `json:"from_agent,omitempty"`
}

// Server exposes the agent console API.
type Server struct {
	scheduler *dispatch.Scheduler
	pool      *pool.Pool
	store     store.Store
	hub       *Hub
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewServer wires the console API. The hub's disconnect handler is bound here
// so a dropped socket takes the agent offline.
func NewServer(scheduler *dispatch.Scheduler, agentPool *pool.Pool, st store.Store, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		scheduler: scheduler,
		pool:      agentPool,
		store:     st,
		hub:       hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Consoles run on the same host or behind the same reverse proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "console"),
	}
	hub.SetDisconnectHandler(s.agentDisconnected)
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}/status", s.handleSetStatus).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}/conversations", s.handleAgentConversations).Methods(http.MethodGet)
	api.HandleFunc("/queue", s.handleQueue).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", s.handleConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/send", s.handleSend).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/close", s.handleClose).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/transfer", s.handleTransfer).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/messages", s.handleMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/notes", s.handleAddNote).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/notes", s.handleListNotes).Methods(http.MethodGet)

	r.HandleFunc("/ws/agents/{id}", s.handleSocket).Methods(http.MethodGet)

	r.Use(s.loggingMiddleware)
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type agentView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Capacity     int    `json:"capacity"`
	Availability string `json:"availability"`
	ActiveCount  int    `json:"active_count"`
	ServedToday  int    `json:"served_today"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	snaps := s.pool.List()
	out := make([]agentView, 0, len(snaps))
	for _, a := range snaps {
		out = append(out, agentView{
			ID:           a.ID,
			Name:         a.Name,
			Capacity:     a.Capacity,
			Availability: string(a.Availability),
			ActiveCount:  len(a.Active),
			ServedToday:  a.ServedToday,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	if err := s.scheduler.AgentLogin(r.Context(), agentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "online"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	if err := s.scheduler.AgentLogout(r.Context(), agentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "offline"})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var online bool
	switch req.Status {
	case "online":
		online = true
	case "offline":
	default:
		http.Error(w, `status must be "online" or "offline"`, http.StatusBadRequest)
		return
	}

	if err := s.scheduler.SetAgentStatus(r.Context(), agentID, online); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (s *Server) handleAgentConversations(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	if _, ok := s.pool.Get(agentID); !ok {
		writeError(w, pool.ErrAgentNotFound)
		return
	}
	sums := s.scheduler.ActiveFor(agentID)
	out := make([]conversationView, 0, len(sums))
	for _, sum := range sums {
		out = append(out, conversationView(sum))
	}
	writeJSON(w, http.StatusOK, out)
}

type queueEntryView struct {
	ConversationID string    `json:"conversation_id"`
	Reason         string    `json:"reason"`
	Note           string    `json:"note,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	entries := s.scheduler.PendingEntries()
	out := make([]queueEntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, queueEntryView{
			ConversationID: string(e.ConversationID),
			Reason:         string(e.Reason),
			Note:           e.Note,
			EnqueuedAt:     e.EnqueuedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := identity.ID(mux.Vars(r)["id"])
	sum, err := s.scheduler.Summary(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationView(sum))
}

type sendRequest struct {
	AgentID string `json:"agent_id"`
	Text    string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := identity.ID(mux.Vars(r)["id"])
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || req.Text == "" {
		http.Error(w, "agent_id and text are required", http.StatusBadRequest)
		return
	}
	if err := s.scheduler.SendAsAgent(r.Context(), req.AgentID, id, req.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

type closeRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := identity.ID(mux.Vars(r)["id"])
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	if req.AgentID == "" {
		err = s.scheduler.CloseBySystem(r.Context(), id)
	} else {
		err = s.scheduler.CloseByAgent(r.Context(), req.AgentID, id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type transferRequest struct {
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id := identity.ID(mux.Vars(r)["id"])
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FromAgent == "" || req.ToAgent == "" {
		http.Error(w, "from_agent and to_agent are required", http.StatusBadRequest)
		return
	}
	if err := s.scheduler.Transfer(r.Context(), id, req.FromAgent, req.ToAgent); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

type messageView struct {
	Sender    string    `json:"sender"`
	AgentID   string    `json:"agent_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := identity.ID(mux.Vars(r)["id"])

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	msgs, err := s.store.ListMessages(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{
			Sender:    m.Sender,
			AgentID:   m.AgentID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type noteRequest struct {
	AgentID string `json:"agent_id"`
	Content string `json:"content"`
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	id := identity.ID(mux.Vars(r)["id"])
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || req.Content == "" {
		http.Error(w, "agent_id and content are required", http.StatusBadRequest)
		return
	}

	note := &store.Note{
		ID:             uuid.New().String(),
		ConversationID: id,
		AgentID:        req.AgentID,
		Content:        req.Content,
		CreatedAt:      time.Now(),
	}
	if err := s.store.AddNote(r.Context(), note); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": note.ID})
}

type noteView struct {
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	id := identity.ID(mux.Vars(r)["id"])
	notes, err := s.store.ListNotes(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]noteView, 0, len(notes))
	for _, n := range notes {
		out = append(out, noteView{AgentID: n.AgentID, Content: n.Content, CreatedAt: n.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSocket upgrades the agent's notification stream. Connecting logs the
// agent in; the hub's disconnect handler logs them back out when it drops.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	if _, ok := s.pool.Get(agentID); !ok {
		writeError(w, pool.ErrAgentNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "agent", agentID, "error", err)
		return
	}

	if err := s.scheduler.AgentLogin(r.Context(), agentID); err != nil {
		s.logger.Warn("login on socket attach failed", "agent", agentID, "error", err)
		conn.Close()
		return
	}
	s.hub.Attach(agentID, conn)
}

func (s *Server) agentDisconnected(agentID string) {
	if err := s.scheduler.AgentLogout(context.Background(), agentID); err != nil {
		s.logger.Warn("logout on disconnect failed", "agent", agentID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispatch.ErrConversationNotFound),
		errors.Is(err, pool.ErrAgentNotFound),
		errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pool.ErrNotAssigned),
		errors.Is(err, pool.ErrAgentOffline),
		errors.Is(err, pool.ErrAtCapacity):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}
