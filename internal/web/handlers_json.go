package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// userParam reads the user query parameter; it answers 400 when it is missing.
func userParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return "", false
	}
	return user, true
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.hub.Users()),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	positions, err := s.service.ListPositions(r.Context(), user)
	if err != nil {
		s.logger.Error("Failed to list positions", zap.String("user_id", user), zap.Error(err))
		http.Error(w, "Failed to list positions", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	trades, err := s.service.ListTrades(r.Context(), user, limitParam(r))
	if err != nil {
		s.logger.Error("Failed to list trades", zap.String("user_id", user), zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	logs, err := s.service.ListLogs(r.Context(), user, limitParam(r))
	if err != nil {
		s.logger.Error("Failed to list logs", zap.String("user_id", user), zap.Error(err))
		http.Error(w, "Failed to list logs", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}
