package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_bot/internal/hub"
	"github.com/vitos/crypto_trade_bot/internal/usecase"
)

type Server struct {
	router       *http.ServeMux
	server       *http.Server
	service      *usecase.BotService
	hub          *hub.Hub
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *zap.Logger
}

func NewServer(
	port int,
	service *usecase.BotService,
	sessions *hub.Hub,
	writeTimeout time.Duration,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:       http.NewServeMux(),
		service:      service,
		hub:          sessions,
		writeTimeout: writeTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from its own origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Dashboard channel
	s.router.HandleFunc("GET /ws", s.handleWS)

	s.router.HandleFunc("GET /healthz", s.handleHealth)

	// Read-only views
	s.router.HandleFunc("GET /api/positions", s.handlePositions)
	s.router.HandleFunc("GET /api/trades", s.handleTrades)
	s.router.HandleFunc("GET /api/logs", s.handleLogs)

	// Bot control
	s.router.HandleFunc("GET /api/bot/status", s.handleBotStatus)
	s.router.HandleFunc("POST /api/bot/start", s.handleStartBot)
	s.router.HandleFunc("POST /api/bot/stop", s.handleStopBot)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
