package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/brickfoundry/gateway/pkg/auth"
	"github.com/brickfoundry/gateway/pkg/privacy"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// BurstRPS and Burst configure the pre-pipeline per-client guard.
	BurstRPS int
	Burst    int
}

// Server wraps the gateway pipeline in an http.Server.
type Server struct {
	httpServer *http.Server
	cfg        ServerConfig
	logger     *slog.Logger
}

// NewServer wires the routes and middleware chain. Request ID
// assignment runs first so every later stage can log it; the burst
// limiter runs before the handler so floods never reach the verifier.
func NewServer(cfg ServerConfig, gw *Gateway, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/dispatch", gw.HandleDispatch)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	var handler http.Handler = mux
	if cfg.BurstRPS > 0 {
		handler = NewBurstLimiter(cfg.BurstRPS, cfg.Burst).Middleware(handler)
	}
	handler = AccessLogMiddleware(logger, privacy.NewRedactor())(handler)
	handler = auth.RequestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Handler exposes the composed handler chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", "addr", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
