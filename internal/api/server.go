package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/parley/internal/batcher"
	"github.com/MikeSquared-Agency/parley/internal/conversation"
	"github.com/MikeSquared-Agency/parley/internal/manager"
	"github.com/MikeSquared-Agency/parley/internal/notify"
	"github.com/MikeSquared-Agency/parley/internal/store"
	"github.com/MikeSquared-Agency/parley/internal/transport"
)

type Server struct {
	store     store.DataStore
	manager   *manager.Manager
	notifs    *notify.Registry
	transport *transport.Client
	batcher   *batcher.Batcher
	router    chi.Router
	port      int
}

func NewServer(s store.DataStore, m *manager.Manager, n *notify.Registry, t *transport.Client, b *batcher.Batcher, port int) *Server {
	srv := &Server{
		store:     s,
		manager:   m,
		notifs:    n,
		transport: t,
		batcher:   b,
		port:      port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Get("/conversations/{sessionID}", srv.handleGetConversation)
		r.Get("/notifications", srv.handleListNotifications)
		r.Post("/notifications/{notificationID}/displayed", srv.handleMarkDisplayed)
		r.Delete("/notifications/{notificationID}", srv.handleRemoveNotification)
		r.Delete("/notifications", srv.handleClearNotifications)
		r.Post("/questions/{questionID}/answered", srv.handleMarkAnswered)
		r.Get("/questions/{questionID}/notification", srv.handleGetByQuestion)
		r.Get("/usage/{agentName}", srv.handleGetAgentUsage)
		r.Post("/agents/{agentName}/sessions/{sessionID}/messages", srv.handleSendMessage)
		r.Put("/view", srv.handleSetView)
		r.Delete("/view", srv.handleClearView)
		r.Post("/questions/answer", srv.handleSubmitAnswer)
	})

	srv.router = r
	return srv
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connState := transport.StateDisconnected.String()
	if s.transport != nil {
		connState = s.transport.State().String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "parley",
		"buffer_size": s.batcher.BufferLen(),
		"mcp_socket":  connState,
	})
}

// handleGetConversation reconstructs a session's conversation: from the live
// log when the manager holds one, otherwise from the stored event log.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if conv, ok := s.manager.Conversation(sessionID); ok {
		writeJSON(w, http.StatusOK, conv)
		return
	}

	evts, err := s.store.EventsForSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("query session events failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if len(evts) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	writeJSON(w, http.StatusOK, conversation.Reconstruct(evts, sessionID))
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	items := s.notifs.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": items,
		"unread_count":  s.notifs.UnreadCount(),
	})
}

func (s *Server) handleMarkDisplayed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationID")
	if !s.notifs.MarkDisplayed(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "notification not found or not pending"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "displayed"})
}

func (s *Server) handleMarkAnswered(w http.ResponseWriter, r *http.Request) {
	questionID := chi.URLParam(r, "questionID")
	if !s.notifs.MarkAnswered(questionID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "question not found or already answered"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "answered"})
}

func (s *Server) handleGetByQuestion(w http.ResponseWriter, r *http.Request) {
	questionID := chi.URLParam(r, "questionID")
	n := s.notifs.GetByQuestionID(questionID)
	if n == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "question not found"})
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleRemoveNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationID")
	if !s.notifs.Remove(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "notification not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	s.notifs.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleGetAgentUsage(w http.ResponseWriter, r *http.Request) {
	agentName := chi.URLParam(r, "agentName")

	usage, err := s.store.GetAgentUsage(r.Context(), agentName)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "usage not found"})
		return
	}

	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	agentName := chi.URLParam(r, "agentName")
	sessionID := chi.URLParam(r, "sessionID")

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	if err := s.manager.Send(r.Context(), agentName, sessionID, body.Message); err != nil {
		if errors.Is(err, manager.ErrSendInFlight) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		// The failure is already folded into the conversation as a visible
		// error message.
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	conv, _ := s.manager.Conversation(sessionID)
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentName string `json:"agent_name"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AgentName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_name is required"})
		return
	}
	s.manager.SetActiveView(body.AgentName, body.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "viewing"})
}

func (s *Server) handleClearView(w http.ResponseWriter, r *http.Request) {
	s.manager.ClearActiveView()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	if s.transport == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "question socket not configured"})
		return
	}

	var body struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Answer == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "answer is required"})
		return
	}

	if err := s.transport.SubmitAnswer(body.Answer); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "answered"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
