// Package api exposes the HTTP JSON surface: task lifecycle, the control
// room, the explorer, and the lab.
package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/minder/internal/explorer"
	"github.com/example/minder/internal/lab"
	apperrors "github.com/example/minder/internal/platform/errors"
	"github.com/example/minder/internal/storage"
	"github.com/example/minder/internal/tasks"
)

// Server carries the service handles the HTTP handlers dispatch to.
type Server struct {
	Tasks       *tasks.Service
	Lab         *lab.Service
	Explorer    *explorer.Service
	Events      storage.EventStore
	Projections storage.ProjectionStore
	Logger      *slog.Logger
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /tasks/ingest", s.handleIngestTask)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PATCH /tasks/{id}", s.handlePatchTask)
	mux.HandleFunc("POST /tasks/{id}/complete", s.handleCompleteTask)
	mux.HandleFunc("POST /tasks/{id}/snooze", s.handleSnoozeTask)

	mux.HandleFunc("GET /control-room/overview", s.handleControlRoomOverview)

	mux.HandleFunc("GET /explorer/lookup", s.handleExplorerLookup)
	mux.HandleFunc("GET /explorer/timeline", s.handleExplorerTimeline)
	mux.HandleFunc("GET /explorer/state", s.handleExplorerState)
	mux.HandleFunc("GET /explorer/decision", s.handleExplorerDecision)
	mux.HandleFunc("GET /explorer/insights", s.handleExplorerInsights)

	mux.HandleFunc("GET /lab/overview", s.handleLabOverview)
	mux.HandleFunc("POST /lab/controls", s.handleLabControls)
	mux.HandleFunc("POST /lab/rollback", s.handleLabRollback)
	mux.HandleFunc("POST /lab/experiments/run", s.handleLabExperimentRun)
	mux.HandleFunc("GET /lab/experiments/history", s.handleLabExperimentHistory)
	mux.HandleFunc("POST /lab/experiments/{run_id}/apply", s.handleLabExperimentApply)

	return s.logRequests(mux)
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger().Debug("http request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *apperrors.Error
	if stderrors.As(err, &domainErr) {
		status := domainErr.Code.HTTPStatus()
		if status >= http.StatusInternalServerError {
			s.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		}
		writeJSON(w, status, errorResponse{Error: errorBody{
			Code:     string(domainErr.Code),
			Message:  domainErr.Message,
			Metadata: domainErr.Metadata,
		}})
		return
	}
	s.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
		Code:    string(apperrors.CodeUnknown),
		Message: "internal error",
	}})
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, fmt.Sprintf("invalid request body: %v", err), err)
	}
	return nil
}
