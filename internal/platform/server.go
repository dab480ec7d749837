package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StatusFunc reports the agent's current status line for /status.
type StatusFunc func() map[string]any

// Server is the inbound HTTP ingest endpoint. It accepts platform
// events on POST /event as an alternative to the websocket stream, and
// exposes GET /status for liveness checks.
type Server struct {
	addr   string
	events chan<- Event
	status StatusFunc
	logger *slog.Logger
}

// NewServer creates the ingest server. Accepted events are delivered
// to the same channel the websocket listener feeds.
func NewServer(addr string, events chan<- Event, status StatusFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		events: events,
		status: status,
		logger: logger.With("component", "ingest"),
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /event", s.handleEvent)
	mux.HandleFunc("GET /status", s.handleStatus)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ingest server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("ingest server: %w", err)
	}
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}
	switch ev.Kind {
	case EventMention, EventChannelMessage, EventDirectMessage, EventCardMessage, EventReaction:
	default:
		http.Error(w, fmt.Sprintf("unknown event kind %q", ev.Kind), http.StatusBadRequest)
		return
	}
	select {
	case s.events <- ev:
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "event queue full", http.StatusServiceUnavailable)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{"ok": true}
	if s.status != nil {
		for k, v := range s.status() {
			body[k] = v
		}
	}
	_ = json.NewEncoder(w).Encode(body)
}
