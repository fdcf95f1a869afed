// Package server provides the local HTTP control surface for mudra.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Pipeline  *app.Pipeline
	Store     *store.Store
	Logger    *zap.SugaredLogger
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	logger *zap.SugaredLogger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if p := s.config.Pipeline; p != nil {
		gestures := api.NewGestureHandler(p)
		s.mux.Handle("/api/gestures", gestures)
		s.mux.Handle("/api/gestures/", gestures)

		recording := api.NewRecordingHandler(p, s.config.Store)
		s.mux.Handle("/api/recording", recording)
		s.mux.HandleFunc("/api/sessions", recording.Sessions)

		training := api.NewTrainingHandler(p, s.config.Store)
		s.mux.HandleFunc("/api/train", training.Train)
		s.mux.HandleFunc("/api/model", training.Model)
		s.mux.HandleFunc("/api/runs", training.Runs)

		settings := api.NewSettingsHandler(p)
		s.mux.HandleFunc("/api/settings", settings.Settings)
		s.mux.HandleFunc("/api/state", settings.State)

		s.mux.Handle("/api/results", NewResultsHandler(p, s.logger))
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type healthResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	ModelReady bool   `json:"model_ready"`
	Gestures   int    `json:"gestures"`
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.start).Round(time.Second).String(),
	}
	if p := s.config.Pipeline; p != nil {
		response.ModelReady = p.Recognizer().Ready()
		response.Gestures = len(p.Gestures())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Infow("http server listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Infow("http server stopped")
	return nil
}
