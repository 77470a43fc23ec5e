package api

import (
	"net/http"
	"strconv"
	"time"

	taskdomain "github.com/example/minder/internal/domain/task"
	"github.com/example/minder/internal/storage"
	"github.com/example/minder/internal/tasks"
)

type taskResponse struct {
	ID               string                `json:"id"`
	Title            string                `json:"title"`
	Body             string                `json:"body,omitempty"`
	Status           string                `json:"status"`
	Priority         string                `json:"priority"`
	DueAt            *time.Time            `json:"due_at,omitempty"`
	DoNotStartBefore *time.Time            `json:"do_not_start_before,omitempty"`
	Source           string                `json:"source"`
	SourceRef        string                `json:"source_ref"`
	DedupGroupID     string                `json:"dedup_group_id,omitempty"`
	Labels           []string              `json:"labels,omitempty"`
	Project          string                `json:"project,omitempty"`
	BlockedBy        []string              `json:"blocked_by,omitempty"`
	Explanations     []storage.Explanation `json:"explanations"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
}

func toTaskResponse(rec storage.TaskRecord) taskResponse {
	return taskResponse{
		ID:               rec.ID,
		Title:            rec.Title,
		Body:             rec.Body,
		Status:           string(rec.Status),
		Priority:         string(rec.Priority),
		DueAt:            rec.DueAt,
		DoNotStartBefore: rec.DoNotStartBefore,
		Source:           rec.Source,
		SourceRef:        rec.SourceRef,
		DedupGroupID:     rec.DedupGroupID,
		Labels:           rec.Labels,
		Project:          rec.Project,
		BlockedBy:        rec.BlockedBy,
		Explanations:     rec.Explanations,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
		CompletedAt:      rec.CompletedAt,
	}
}

type ingestTaskRequest struct {
	Title            string     `json:"title"`
	Body             string     `json:"body"`
	Source           string     `json:"source"`
	SourceRef        string     `json:"source_ref"`
	Priority         string     `json:"priority"`
	DueAt            *time.Time `json:"due_at"`
	DoNotStartBefore *time.Time `json:"do_not_start_before"`
	Labels           []string   `json:"labels"`
	Project          string     `json:"project"`
	Actor            string     `json:"actor"`
}

type ingestTaskResponse struct {
	TaskID            string       `json:"task_id"`
	Created           bool         `json:"created"`
	DecisionRationale string       `json:"decision_rationale"`
	Task              taskResponse `json:"task"`
}

func (s *Server) handleIngestTask(w http.ResponseWriter, r *http.Request) {
	var req ingestTaskRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Tasks.Ingest(r.Context(), tasks.IngestInput{
		Title:            req.Title,
		Body:             req.Body,
		Source:           req.Source,
		SourceRef:        req.SourceRef,
		Priority:         req.Priority,
		DueAt:            req.DueAt,
		DoNotStartBefore: req.DoNotStartBefore,
		Labels:           req.Labels,
		Project:          req.Project,
		Actor:            req.Actor,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ingestTaskResponse{
		TaskID:            res.Task.ID,
		Created:           res.Created,
		DecisionRationale: res.DecisionRationale,
		Task:              toTaskResponse(res.Task),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.TaskFilter{
		Status:  taskdomain.Status(query.Get("status")),
		Project: query.Get("project"),
		Search:  query.Get("search"),
		SortBy:  query.Get("sort_by"),
		SortDir: query.Get("sort_dir"),
		Limit:   intQuery(query.Get("limit")),
		Offset:  intQuery(query.Get("offset")),
	}
	records, err := s.Tasks.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]taskResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toTaskResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(rec))
}

type patchTaskRequest struct {
	Fields    map[string]any `json:"fields"`
	Actor     string         `json:"actor"`
	Rationale string         `json:"rationale"`
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	var req patchTaskRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.Tasks.Patch(r.Context(), r.PathValue("id"), req.Fields, req.Actor, req.Rationale)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(rec))
}

type actorRequest struct {
	Actor     string `json:"actor"`
	Rationale string `json:"rationale"`
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.Tasks.Complete(r.Context(), r.PathValue("id"), req.Actor, req.Rationale)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(rec))
}

type snoozeTaskRequest struct {
	Until     time.Time `json:"until"`
	Actor     string    `json:"actor"`
	Rationale string    `json:"rationale"`
}

func (s *Server) handleSnoozeTask(w http.ResponseWriter, r *http.Request) {
	var req snoozeTaskRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.Tasks.Snooze(r.Context(), r.PathValue("id"), req.Until, req.Actor, req.Rationale)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(rec))
}

func intQuery(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
