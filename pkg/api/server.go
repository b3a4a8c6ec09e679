// Package api exposes the HTTP and websocket surface of zonemapd: the
// single-measurement record path, best-zone queries, the streaming session
// endpoint and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zonemap/zonemap/pkg/auth"
	"github.com/zonemap/zonemap/pkg/bestzone"
	"github.com/zonemap/zonemap/pkg/logx"
	"github.com/zonemap/zonemap/pkg/metrics"
	"github.com/zonemap/zonemap/pkg/session"
	"github.com/zonemap/zonemap/pkg/store"
)

// Config holds API server configuration.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DefaultConfig returns default API server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host: "0.0.0.0",
		Port: 8080,
	}
}

// Server is the HTTP front of the service.
type Server struct {
	config    *Config
	store     store.Store
	verifier  auth.Verifier
	resolver  *bestzone.Resolver
	engine    *session.Engine
	metrics   *metrics.Metrics
	publisher session.Publisher
	logger    *logx.Logger

	httpServer *http.Server
	startTime  time.Time
}

// NewServer wires the API server. publisher may be nil.
func NewServer(
	config *Config,
	recordStore store.Store,
	verifier auth.Verifier,
	resolver *bestzone.Resolver,
	engine *session.Engine,
	m *metrics.Metrics,
	publisher session.Publisher,
	logger *logx.Logger,
) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	return &Server{
		config:    config,
		store:     recordStore,
		verifier:  verifier,
		resolver:  resolver,
		engine:    engine,
		metrics:   m,
		publisher: publisher,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/measurements", s.authMiddleware(s.handleRecordMeasurement)).Methods(http.MethodPost)
	r.HandleFunc("/api/bestzone", s.authMiddleware(s.handleBestZone)).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	r.HandleFunc("/ws", s.handleWebsocket)

	return r
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.logger.Info("api_server_starting", "address", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api_server_failed", "error", err.Error())
		}
	}()

	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// authMiddleware authenticates HTTP requests with a bearer token resolved
// through the same verifier the session protocol uses. The user identity is
// attached to the request context.
func (s *Server) authMiddleware(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			s.sendErrorResponse(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		userID, err := s.verifier.Verify(ctx, token)
		if err != nil {
			// A verifier outage is not a rejected token.
			if !errors.Is(err, auth.ErrInvalidToken) {
				s.logger.Error("http_auth_unavailable", "remote_addr", r.RemoteAddr, "error", err.Error())
				s.metrics.ErrorsTotal.WithLabelValues("auth_unavailable").Inc()
				s.sendErrorResponse(w, http.StatusServiceUnavailable, "authentication service unavailable")
				return
			}
			s.logger.Warn("http_auth_failed", "remote_addr", r.RemoteAddr)
			s.metrics.ErrorsTotal.WithLabelValues("auth_failed").Inc()
			s.sendErrorResponse(w, http.StatusUnauthorized, "authentication failed")
			return
		}

		next(w, r, userID)
	}
}

// handleHealth reports liveness information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"uptime_s":   int64(time.Since(s.startTime).Seconds()),
		"goroutines": runtime.NumGoroutine(),
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

func (s *Server) sendJSONResponse(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response_encode_failed", "error", err.Error())
	}
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, status int, message string) {
	s.sendJSONResponse(w, status, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
