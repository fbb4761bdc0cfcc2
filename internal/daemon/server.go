package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/daehyunko/roomchat/internal/config"
	"github.com/daehyunko/roomchat/internal/httpapi"
	"github.com/daehyunko/roomchat/internal/service"
	"github.com/daehyunko/roomchat/internal/store"
	"go.uber.org/zap"
)

// Server manages the HTTP server lifecycle for roomchatd.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	addr       string
	logger     *zap.Logger
}

// NewServer creates the HTTP server with all routes wired but not yet
// listening.
func NewServer(
	p Params,
	cfg *config.Config,
	db *store.DB,
	msgs *service.MessageService,
	presence *service.PresenceService,
	rooms *service.RoomService,
	logger *zap.Logger,
) *Server {
	addr := p.ListenAddr
	if addr == "" {
		addr = cfg.Server.ListenAddr
	}
	router := httpapi.NewRouter(routerDeps(db, cfg, msgs, presence, rooms, logger))
	return &Server{
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr:   addr,
		logger: logger,
	}
}

// Listen binds the configured address. Separate from Serve so start-up
// failures surface synchronously.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = listener
	s.logger.Info("http server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Serve blocks serving requests until the server is stopped.
func (s *Server) Serve() error {
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown error", zap.Error(err))
	}
}
