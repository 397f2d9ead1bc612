// Package statusapi exposes the indicator state on localhost so external
// bars and scripts can consume the current reading as JSON.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/breezebar/breezebar/internal/history"
	"github.com/breezebar/breezebar/internal/poll"
)

// DefaultAddr is where the status API listens. Loopback only; this is a
// local integration surface, not a public endpoint.
const DefaultAddr = "127.0.0.1:48300"

// ServerConfig holds configuration for the status API server.
type ServerConfig struct {
	// Addr is the listen address (defaults to DefaultAddr).
	Addr string

	// Controller supplies state snapshots and accepts refresh requests
	// (required).
	Controller *poll.Controller

	// History backs the /v1/history endpoint (optional).
	History *history.Store

	// Logger for request logging.
	Logger zerolog.Logger
}

// Server serves the status API.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer builds the server and its routes.
func NewServer(cfg ServerConfig) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	r := chi.NewRouter()
	r.Use(requestLogger(cfg.Logger))
	r.Use(httprate.LimitByIP(60, time.Minute))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", handleStatus(cfg.Controller))
		r.Post("/refresh", handleRefresh(cfg.Controller))
		if cfg.History != nil {
			r.Get("/history", handleHistory(cfg.History))
		}
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		logger: cfg.Logger,
	}
}

// Handler returns the route tree, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("status API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("status API server error")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func handleStatus(ctrl *poll.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Snapshot())
	}
}

func handleRefresh(ctrl *poll.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl.Refresh()
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleHistory(store *history.Store) http.HandlerFunc {
	type entry struct {
		Value      float64   `json:"value"`
		ObservedAt time.Time `json:"observed_at"`
		FetchedAt  time.Time `json:"fetched_at"`
		Source     string    `json:"source"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := store.Recent(24)
		if err != nil {
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}

		out := make([]entry, 0, len(entries))
		for _, e := range entries {
			out = append(out, entry(e))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}

// requestLogger returns a middleware that logs requests.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
