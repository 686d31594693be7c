// internal/server/server.go
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/user/warroom/internal/buildinfo"
	"github.com/user/warroom/internal/control"
	"github.com/user/warroom/internal/types"
)

// operatorHeader carries the shared operator token. Requests bearing the
// right token run privileged; everyone else is a plain user.
const operatorHeader = "X-Operator-Token"

// Server exposes the turn and control-plane API over HTTP.
type Server struct {
	plane         *control.Plane
	sessions      types.SessionStore
	messages      types.MessageStore
	thoughts      types.ThoughtStore
	checkpoints   types.CheckpointStore
	operatorToken string
	logger        *slog.Logger
	mux           *http.ServeMux
}

// NewServer creates the API server. An empty operatorToken disables all
// privileged access, including the control endpoints.
func NewServer(plane *control.Plane, sessions types.SessionStore, messages types.MessageStore,
	thoughts types.ThoughtStore, checkpoints types.CheckpointStore,
	operatorToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		plane:         plane,
		sessions:      sessions,
		messages:      messages,
		thoughts:      thoughts,
		checkpoints:   checkpoints,
		operatorToken: operatorToken,
		logger:        logger,
		mux:           http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/turn", s.handleTurn)
	s.mux.HandleFunc("POST /api/control/stop/{id}", s.operatorOnly(s.handleStop))
	s.mux.HandleFunc("GET /api/control/conversations", s.operatorOnly(s.handleConversations))
	s.mux.HandleFunc("GET /api/control/conversations/{id}", s.operatorOnly(s.handleConversation))
	s.mux.HandleFunc("GET /api/control/thoughts/{id}", s.operatorOnly(s.handleThoughts))
	s.mux.HandleFunc("GET /api/control/checkpoints/{id}", s.operatorOnly(s.handleCheckpoints))
	s.mux.HandleFunc("POST /api/control/revert", s.operatorOnly(s.handleRevert))
	s.mux.HandleFunc("GET /api/control/watch/{id}", s.operatorOnly(s.handleWatch))
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOperator(r *http.Request) bool {
	return s.operatorToken != "" && r.Header.Get(operatorHeader) == s.operatorToken
}

// operatorOnly gates control endpoints behind the operator token.
func (s *Server) operatorOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.isOperator(r) {
			http.Error(w, `{"error":"operator token required"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      buildinfo.Version,
		"uptime":       buildinfo.Uptime().String(),
		"active_turns": s.plane.Active(),
	})
}

// turnRequest is the JSON body for POST /api/turn.
type turnRequest struct {
	SessionID     string   `json:"session_id"`
	UserID        string   `json:"user_id"`
	Content       string   `json:"content"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
	Model         string   `json:"model,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Content == "" {
		http.Error(w, `{"error":"session_id and content are required"}`, http.StatusBadRequest)
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}

	attachments := make([]types.AttachmentID, len(req.AttachmentIDs))
	for i, id := range req.AttachmentIDs {
		attachments[i] = types.AttachmentID(id)
	}

	resp, err := s.plane.Submit(r.Context(), &types.TurnRequest{
		SessionID:     types.SessionID(req.SessionID),
		Content:       req.Content,
		AttachmentIDs: attachments,
		Model:         req.Model,
	}, userID, s.isOperator(r))
	if err != nil {
		s.logger.Error("turn failed", "session", req.SessionID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sessionID := types.SessionID(r.PathValue("id"))
	stopped := s.plane.RequestStop(r.Context(), sessionID)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// handleConversations lists active conversations: every session that has
// left the idle state. Freshly ensured sessions that never ran a turn are
// not conversations yet.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	active := make([]*types.Session, 0, len(sessions))
	for _, session := range sessions {
		if session.Status != types.StatusIdle {
			active = append(active, session)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": active})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := types.SessionID(r.PathValue("id"))
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	messages, err := s.messages.List(ctx, sessionID)
	if err != nil {
		s.logger.Error("list messages failed", "session", sessionID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  session,
		"messages": messages,
		"watchers": s.plane.Hub().WatcherCount(sessionID),
	})
}

func (s *Server) handleThoughts(w http.ResponseWriter, r *http.Request) {
	sessionID := types.SessionID(r.PathValue("id"))
	kind := types.ThoughtKind(r.URL.Query().Get("kind"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}
	thoughts, err := s.thoughts.List(r.Context(), sessionID, kind, limit)
	if err != nil {
		s.logger.Error("list thoughts failed", "session", sessionID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thoughts": thoughts})
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	sessionID := types.SessionID(r.PathValue("id"))
	cps, err := s.checkpoints.List(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("list checkpoints failed", "session", sessionID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": cps})
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	var req control.RevertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.CheckpointID == "" {
		http.Error(w, `{"error":"checkpoint_id is required"}`, http.StatusBadRequest)
		return
	}
	report, err := s.plane.Revert(r.Context(), &req)
	if err != nil {
		s.logger.Warn("revert failed", "checkpoint", req.CheckpointID, "error", err)
		http.Error(w, `{"error":"revert failed"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleWatch streams session events as newline-delimited JSON until the
// client disconnects. The first frame is always the connected
// acknowledgment, so watchers can distinguish an open stream from a stuck
// request.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	sessionID := types.SessionID(r.PathValue("id"))
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")

	hub := s.plane.Hub()
	ch := hub.Subscribe(sessionID, 64)
	defer hub.Unsubscribe(ch)

	enc := json.NewEncoder(w)
	enc.Encode(control.Event{Type: control.EventConnected, SessionID: sessionID, At: time.Now()})
	flusher.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
