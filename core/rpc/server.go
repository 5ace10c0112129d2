// Package rpc is the daemon's front door. Agent hooks report completed
// turns with a single JSON POST; the handler's only job is to durably
// append the fact and acknowledge. Everything downstream happens
// asynchronously in the projector.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/courier/core/store"
)

// DefaultAddr is the loopback listen address. The daemon is a personal
// single-host service and must not be reachable off-box.
const DefaultAddr = "127.0.0.1:50051"

const shutdownGrace = 5 * time.Second

// Appender is the slice of the fact log the front door needs.
type Appender interface {
	AppendTurnCompleted(ctx context.Context, turn store.TurnCompleted) error
}

// TurnCompleteRequest is the wire shape of a turn-completion report.
type TurnCompleteRequest struct {
	SessionID        string `json:"session_id"`
	SessionLabel     string `json:"session_label"`
	LastUserPrompt   string `json:"last_user_prompt"`
	AssistantMessage string `json:"assistant_message"`
	MainContext      string `json:"main_context"`
}

// Server accepts turn-completion reports over HTTP.
type Server struct {
	appender Appender
	logger   *slog.Logger
	httpSrv  *http.Server
}

// NewServer creates a Server listening on addr. A nil logger falls back to
// slog.Default().
func NewServer(addr string, appender Appender, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{appender: appender, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turn-complete", s.handleTurnComplete)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc server listening", "addr", s.httpSrv.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("rpc server stopped")
	return nil
}

func (s *Server) handleTurnComplete(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()
	logger := s.logger.With("trace_id", traceID)

	var req TurnCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("rejecting malformed turn report", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request body"})
		return
	}
	if req.SessionID == "" {
		logger.Warn("rejecting turn report without session id")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "session_id is required"})
		return
	}

	turn := store.TurnCompleted{
		SessionID:        req.SessionID,
		SessionLabel:     req.SessionLabel,
		LastUserPrompt:   req.LastUserPrompt,
		AssistantMessage: req.AssistantMessage,
		MainContext:      req.MainContext,
	}
	if err := s.appender.AppendTurnCompleted(r.Context(), turn); err != nil {
		logger.Error("appending turn fact failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "append failed"})
		return
	}

	logger.Info("turn report accepted", "session", req.SessionLabel)
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
