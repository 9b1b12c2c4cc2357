// Package http exposes the engine over the wire: the WebSocket
// submission stream, order read endpoints, health and metrics.
package http

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DefaultServerConfig returns the standard listener parameters.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the HTTP front of the engine.
type Server struct {
	router  *mux.Router
	server  *http.Server
	orders  *OrdersHandler
	health  *HealthHandler
	metrics *MetricsRegistry
	config  ServerConfig
}

// NewServer assembles routes and middleware. The port is probed up front
// so a busy port fails at startup, not on first request.
func NewServer(config ServerConfig, orders *OrdersHandler, health *HealthHandler, metrics *MetricsRegistry) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", config.Port, err)
	}
	listener.Close()

	s := &Server{
		router:  mux.NewRouter(),
		orders:  orders,
		health:  health,
		metrics: metrics,
		config:  config,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	// The stream endpoint holds its connection open, so it stays outside
	// the timeout middleware.
	s.router.HandleFunc("/v1/orders/stream", s.orders.Stream).Methods("GET")

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.timeoutMiddleware)
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.health.ServeHTTP).Methods("GET")
	api.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	api.HandleFunc("/v1/orders", s.orders.List).Methods("GET")
	api.HandleFunc("/v1/orders/{id}", s.orders.Get).Methods("GET")
	api.HandleFunc("/v1/orders/{id}/history", s.orders.History).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
	})
}

// requestIDMiddleware tags each request with a short unique id.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs every request and feeds the HTTP metrics.
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID, _ := r.Context().Value(requestIDKey).(string)

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		elapsed := time.Since(start)
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, route, wrapper.statusCode, elapsed)
		}

		log.Debug().
			Str("requestId", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("elapsed", elapsed).
			Str("remote", r.RemoteAddr).
			Msg("request served")
	})
}

// timeoutMiddleware bounds REST requests.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware allows browser clients on any origin; the API carries
// no cookies or ambient credentials.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jsonContentTypeMiddleware sets the JSON content type for API responses.
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start runs the listener until Shutdown.
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.Address()).
		Msg("http server listening")
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down http server")
	return s.server.Shutdown(ctx)
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Router exposes the route tree for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// responseWrapper captures status codes for logging and metrics. Hijack
// passes through so the stream endpoint can upgrade behind the logging
// middleware.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
