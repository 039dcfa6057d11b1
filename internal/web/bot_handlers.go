package web

import (
	"net/http"

	"go.uber.org/zap"
)

// Bot control API handlers. They mirror the startBot/stopBot socket commands
// for scripts and health probes.

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	status, err := s.service.Status(r.Context(), user)
	if err != nil {
		s.logger.Error("Failed to get bot status", zap.String("user_id", user), zap.Error(err))
		http.Error(w, "Failed to get bot status", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	status, err := s.service.StartBot(r.Context(), user)
	if err != nil {
		s.logger.Error("Failed to start bot", zap.String("user_id", user), zap.Error(err))
		http.Error(w, "Failed to start bot", http.StatusInternalServerError)
		return
	}
	code := http.StatusOK
	if !status.Running {
		code = http.StatusConflict
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	status, err := s.service.StopBot(r.Context(), user)
	if err != nil {
		s.logger.Error("Failed to stop bot", zap.String("user_id", user), zap.Error(err))
		http.Error(w, "Failed to stop bot", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}
