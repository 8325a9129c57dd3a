// Package server exposes pending approval requests over HTTP so a client
// other than the terminal can answer them.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/minmaxflow/mini-kode/internal/event"
	"github.com/minmaxflow/mini-kode/internal/logging"
	"github.com/minmaxflow/mini-kode/internal/permission"
)

// Config holds server configuration.
type Config struct {
	Addr         string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:7878",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Server is the HTTP server.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server
	broker  *permission.Broker
	bus     *event.Bus
	log     zerolog.Logger
}

// New creates a new Server instance. bus may be nil, in which case the
// event stream is unavailable.
func New(cfg *Config, broker *permission.Broker, bus *event.Bus) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		broker: broker,
		bus:    bus,
		log:    logging.Component("server"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
}

// requestLogger logs each request through zerolog. chi's Logger writes to
// stdout, which carries batch output.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("reqId", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Start listens on the configured address and serves until Shutdown. It
// returns once the listener is bound; serve errors are logged.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return nil, err
	}
	s.httpSrv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("approval server stopped")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("approval server listening")
	return ln.Addr(), nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
