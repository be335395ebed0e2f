// Package httpapi exposes the agent, the model tracker and the tool catalog
// over HTTP. Streaming routes use server-sent events, one JSON object per
// data line.
package httpapi

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"labagent/internal/appstate"
)

// Server serves one appstate.State.
type Server struct {
	state   *appstate.State
	limiter *clientLimiter
	// Logger is optional; when nil the state's logger is used.
	Logger *log.Logger
}

func New(state *appstate.State) *Server {
	rl := state.Config.RateLimit
	return &Server{state: state, limiter: newClientLimiter(rl.RPS, rl.Burst)}
}

// Handler returns the routed handler wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /chat", s.limit(s.handleChat))
	mux.HandleFunc("POST /chat/stream", s.limit(s.handleChatStream))
	mux.HandleFunc("POST /chat/agent", s.limit(s.handleChatAgent))

	mux.HandleFunc("GET /models", s.handleListModels)
	mux.HandleFunc("POST /models/download", s.handleDownload)
	// Model ids contain slashes ("Qwen/Qwen2.5-0.5B-Instruct").
	mux.HandleFunc("GET /models/status/{id...}", s.handleStatus)
	mux.HandleFunc("POST /models/load", s.handleLoad)
	mux.HandleFunc("GET /models/loaded", s.handleLoaded)
	mux.HandleFunc("DELETE /models/{id...}", s.handleDelete)

	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("POST /tools/refresh", s.handleRefreshTools)

	return withCORS(s.state.Config.CORSOrigins, s.withLogging(mux))
}

// Serve blocks while handling HTTP. Cancel ctx to shut down gracefully;
// in-flight requests get a few seconds to finish.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streams last as long as generation does; no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.limiter.sweepEvery(sweepCtx, time.Minute)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": s.state.Config.App.Name,
		"version": s.state.Config.App.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var loaded any
	if id := s.state.Engine.ModelID(); id != "" {
		loaded = id
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      s.state.Config.App.Version,
		"loaded_model": loaded,
		"uptime_s":     int(time.Since(s.state.StartedAt).Seconds()),
	})
}

func (s *Server) logf(format string, args ...any) {
	switch {
	case s.Logger != nil:
		s.Logger.Printf(format, args...)
	case s.state.Logger != nil:
		s.state.Logger.Printf(format, args...)
	default:
		log.Printf(format, args...)
	}
}
