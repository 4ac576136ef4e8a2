// Package api serves health, run status and the collected configs over HTTP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/tgcollector/internal/extractor"
	"github.com/MikeSquared-Agency/tgcollector/internal/schedule"
	"github.com/MikeSquared-Agency/tgcollector/internal/store"
)

// StatusSource reports scheduler state. *schedule.Scheduler satisfies it.
type StatusSource interface {
	Status() schedule.Status
}

// ConfigSource yields the stored configs. *store.UniqueStore satisfies it.
type ConfigSource interface {
	Load() (*store.Set, error)
}

// Server is the HTTP API for serve mode.
type Server struct {
	router  *chi.Mux
	port    int
	status  StatusSource
	configs ConfigSource
	logger  *slog.Logger
}

// NewServer builds the router. status may be nil.
func NewServer(port int, status StatusSource, configs ConfigSource, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		port:    port,
		status:  status,
		configs: configs,
		logger:  logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/status", s.runStatus)
	router.Get("/sub", s.subscription)
	router.Get("/sub/base64", s.subscriptionBase64)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) runStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, schedule.Status{})
		return
	}
	writeJSON(w, http.StatusOK, s.status.Status())
}

// subscription serves the stored configs, one per line. ?scheme= narrows the
// list to vless, trojan or ss.
func (s *Server) subscription(w http.ResponseWriter, r *http.Request) {
	body, ok := s.subscriptionBody(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (s *Server) subscriptionBase64(w http.ResponseWriter, r *http.Request) {
	body, ok := s.subscriptionBody(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(base64.StdEncoding.EncodeToString([]byte(body))))
}

func (s *Server) subscriptionBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	scheme := strings.ToLower(r.URL.Query().Get("scheme"))
	if scheme != "" && !knownScheme(scheme) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown scheme %q", scheme),
		})
		return "", false
	}

	set, err := s.configs.Load()
	if err != nil {
		s.logger.Error("failed to load config store", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "config store unavailable"})
		return "", false
	}

	var sb strings.Builder
	for _, uri := range set.Items() {
		if scheme != "" && extractor.Scheme(uri) != scheme {
			continue
		}
		sb.WriteString(uri)
		sb.WriteString("\n")
	}
	return sb.String(), true
}

func knownScheme(scheme string) bool {
	for _, s := range extractor.Schemes {
		if s == scheme {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
