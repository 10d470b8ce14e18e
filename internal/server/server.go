// Package server exposes the document session over HTTP: the /ws websocket
// endpoint plus health, document and metrics side channels.
package server

import (
	"context"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/dispatch"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/document"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/logging"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/registry"
)

// Config holds server configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string
	// WriteTimeout bounds a single websocket frame write.
	WriteTimeout time.Duration
	// PongWait is how long a connection may stay silent before it is dropped.
	PongWait       time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":3000",
		AllowedOrigins: []string{"*"},
		WriteTimeout:   10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// Deps are the components the server wires connections to.
type Deps struct {
	Registry   *registry.Registry
	Store      *document.Store
	Dispatcher *dispatch.Dispatcher
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP server.
type Server struct {
	config   Config
	deps     Deps
	ctx      context.Context
	router   *mux.Router
	handler  http.Handler
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	log      zerolog.Logger
}

// New returns a Server. Work started on behalf of a connection, such as an
// AI stream, runs under ctx rather than the connection's lifetime.
func New(ctx context.Context, cfg Config, deps Deps) *Server {
	defaults := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaults.AllowedOrigins
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		ctx:    ctx,
		router: mux.NewRouter(),
		log:    logging.Component("http"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()
	s.handler = chi.Chain(
		middleware.RequestID,
		middleware.RealIP,
		s.accessLog,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}),
	).Handler(s.router)

	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return s.httpSrv.Serve(ln)
}

// Shutdown stops accepting requests. Upgraded websocket connections are not
// tracked by net/http; they end when the registry stops.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.config.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, origin)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
