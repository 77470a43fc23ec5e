package api

import (
	"net/http"
	"time"

	"github.com/example/minder/internal/domain/control"
	"github.com/example/minder/internal/lab"
)

type controlStateResponse struct {
	Version         uint64    `json:"version"`
	Mode            string    `json:"mode"`
	Threshold       float64   `json:"shadow_confidence_threshold"`
	Actor           string    `json:"actor"`
	Rationale       string    `json:"rationale,omitempty"`
	ActivatedAt     time.Time `json:"activated_at"`
	PreviousVersion uint64    `json:"previous_version,omitempty"`
	RunID           string    `json:"run_id,omitempty"`
}

func toControlStateResponse(st control.State) controlStateResponse {
	return controlStateResponse{
		Version:         st.Version,
		Mode:            string(st.Mode),
		Threshold:       st.Threshold,
		Actor:           st.Actor,
		Rationale:       st.Rationale,
		ActivatedAt:     st.ActivatedAt,
		PreviousVersion: st.PreviousVersion,
		RunID:           st.RunID,
	}
}

type experimentRunResponse struct {
	RunID              string             `json:"run_id"`
	ProposedAt         time.Time          `json:"proposed_at"`
	Actor              string             `json:"actor"`
	Rationale          string             `json:"rationale,omitempty"`
	CandidateMode      string             `json:"candidate_mode"`
	CandidateThreshold float64            `json:"candidate_threshold"`
	Status             string             `json:"status"`
	Metrics            map[string]float64 `json:"metrics,omitempty"`
	DecidedAt          *time.Time         `json:"decided_at,omitempty"`
}

func toExperimentRunResponse(run control.Run) experimentRunResponse {
	out := experimentRunResponse{
		RunID:              run.RunID,
		ProposedAt:         run.ProposedAt,
		Actor:              run.Actor,
		Rationale:          run.Rationale,
		CandidateMode:      string(run.CandidateMode),
		CandidateThreshold: run.CandidateThreshold,
		Status:             string(run.Status),
		Metrics:            run.Metrics,
	}
	if !run.DecidedAt.IsZero() {
		decidedAt := run.DecidedAt
		out.DecidedAt = &decidedAt
	}
	return out
}

func (s *Server) handleLabOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.Lab.GetOverview(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	history := make([]controlStateResponse, 0, len(overview.History))
	for _, st := range overview.History {
		history = append(history, toControlStateResponse(st))
	}
	runs := make([]experimentRunResponse, 0, len(overview.RecentRuns))
	for _, run := range overview.RecentRuns {
		runs = append(runs, toExperimentRunResponse(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":      toControlStateResponse(overview.Active),
		"history":     history,
		"recent_runs": runs,
	})
}

type updateControlsRequest struct {
	Mode            string  `json:"mode"`
	Threshold       float64 `json:"shadow_confidence_threshold"`
	Actor           string  `json:"actor"`
	Rationale       string  `json:"rationale"`
	ExpectedVersion uint64  `json:"expected_version"`
}

func (s *Server) handleLabControls(w http.ResponseWriter, r *http.Request) {
	var req updateControlsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	state, err := s.Lab.Update(r.Context(), lab.UpdateInput{
		Mode:            control.Mode(req.Mode),
		Threshold:       req.Threshold,
		Actor:           req.Actor,
		Rationale:       req.Rationale,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toControlStateResponse(state))
}

type rollbackRequest struct {
	Actor           string `json:"actor"`
	Rationale       string `json:"rationale"`
	ExpectedVersion uint64 `json:"expected_version"`
}

func (s *Server) handleLabRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	state, err := s.Lab.Rollback(r.Context(), req.Actor, req.Rationale, req.ExpectedVersion)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toControlStateResponse(state))
}

type runExperimentRequest struct {
	Mode      string  `json:"mode"`
	Threshold float64 `json:"candidate_threshold"`
	Actor     string  `json:"actor"`
	Rationale string  `json:"rationale"`
}

func (s *Server) handleLabExperimentRun(w http.ResponseWriter, r *http.Request) {
	var req runExperimentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	run, err := s.Lab.RunExperiment(r.Context(), lab.RunInput{
		Mode:      control.Mode(req.Mode),
		Threshold: req.Threshold,
		Actor:     req.Actor,
		Rationale: req.Rationale,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExperimentRunResponse(run))
}

func (s *Server) handleLabExperimentHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Lab.History(r.Context(), intQuery(r.URL.Query().Get("limit")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]experimentRunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toExperimentRunResponse(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

type applyExperimentRequest struct {
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	Rationale string `json:"rationale"`
}

func (s *Server) handleLabExperimentApply(w http.ResponseWriter, r *http.Request) {
	var req applyExperimentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	run, err := s.Lab.ApplyExperiment(r.Context(), r.PathValue("run_id"), control.DecisionAction(req.Action), req.Actor, req.Rationale)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExperimentRunResponse(run))
}
