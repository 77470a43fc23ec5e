package lab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/minder/internal/domain/control"
	"github.com/example/minder/internal/domain/event"
	apperrors "github.com/example/minder/internal/platform/errors"
)

// safetyGateThreshold is the minimum candidate confidence threshold an
// experiment must carry for apply to be allowed.
const safetyGateThreshold = 0.4

// RunInput proposes an alternate control configuration to evaluate.
type RunInput struct {
	Mode      control.Mode
	Threshold float64
	Actor     string
	Rationale string
}

// RunExperiment evaluates a candidate configuration against the active one.
// The run is journaled as proposed, evaluated under the configured timeout,
// and journaled again as completed. Evaluation failure or timeout completes
// the run with an evaluation_error metric instead of leaving it hanging.
func (s *Service) RunExperiment(ctx context.Context, in RunInput) (control.Run, error) {
	if err := control.ValidateConfig(in.Mode, in.Threshold); err != nil {
		return control.Run{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	baseline, err := s.activeLocked(ctx)
	if err != nil {
		return control.Run{}, err
	}
	runID, err := newRunID()
	if err != nil {
		return control.Run{}, err
	}
	actor := orUser(in.Actor)
	rationale := in.Rationale
	if rationale == "" {
		rationale = fmt.Sprintf("evaluate %s at threshold %.2f", in.Mode, in.Threshold)
	}

	if err := s.appendRunEvent(ctx, event.ExperimentRunPayload{
		RunID:              runID,
		CandidateMode:      string(in.Mode),
		CandidateThreshold: in.Threshold,
		Actor:              actor,
		Rationale:          rationale,
		Status:             string(control.RunStatusProposed),
	}, actor); err != nil {
		return control.Run{}, err
	}

	candidate := control.State{Mode: in.Mode, Threshold: in.Threshold}
	metrics := s.evaluate(ctx, candidate, baseline)
	if in.Threshold >= safetyGateThreshold && metrics["evaluation_error"] == 0 {
		metrics["apply_allowed"] = 1
	} else {
		metrics["apply_allowed"] = 0
		metrics["safety_gate_threshold"] = safetyGateThreshold
	}

	if err := s.appendRunEvent(ctx, event.ExperimentRunPayload{
		RunID:              runID,
		CandidateMode:      string(in.Mode),
		CandidateThreshold: in.Threshold,
		Actor:              actor,
		Rationale:          rationale,
		Status:             string(control.RunStatusCompleted),
		Metrics:            metrics,
	}, actor); err != nil {
		return control.Run{}, err
	}
	return s.projections.GetExperimentRun(ctx, runID)
}

func (s *Service) evaluate(ctx context.Context, candidate, baseline control.State) map[string]float64 {
	evalCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	metrics, err := s.evaluator.Evaluate(evalCtx, candidate, baseline)
	if err != nil {
		s.logger.Warn("experiment evaluation failed", "error", err)
		return map[string]float64{"evaluation_error": 1}
	}
	if metrics == nil {
		metrics = map[string]float64{}
	}
	metrics["evaluation_error"] = 0
	return metrics
}

// ApplyExperiment decides a completed run. Apply promotes the candidate as a
// new control state version; rollback reverts to the previous version's
// values as a new version; no_op only marks the run.
func (s *Service) ApplyExperiment(ctx context.Context, runID string, action control.DecisionAction, actor, rationale string) (control.Run, error) {
	actor = orUser(actor)
	if !action.IsValid() {
		return control.Run{}, apperrors.WithMetadata(apperrors.CodeValidation, "unrecognized decision action", map[string]string{
			"action": string(action),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.projections.GetExperimentRun(ctx, runID)
	if err != nil {
		return control.Run{}, err
	}
	if run.Status != control.RunStatusCompleted {
		return control.Run{}, apperrors.WithMetadata(apperrors.CodeInvalidState, "experiment run is not awaiting a decision", map[string]string{
			"run_id": runID,
			"status": string(run.Status),
		})
	}

	if action == control.ActionApply && run.Metrics["apply_allowed"] < 1 {
		// The gate decision is itself recorded before the request fails.
		blocked := fmt.Sprintf("apply blocked by safety gate (threshold %.2f below %.2f)", run.CandidateThreshold, safetyGateThreshold)
		if err := s.appendDecidedEvent(ctx, runID, control.ActionNoOp, actor, blocked); err != nil {
			return control.Run{}, err
		}
		return control.Run{}, apperrors.WithMetadata(apperrors.CodeInvalidState, "experiment apply blocked by safety gate", map[string]string{
			"run_id": runID,
		})
	}

	if rationale == "" {
		rationale = fmt.Sprintf("experiment %s decided: %s", runID, action)
	}

	switch action {
	case control.ActionApply:
		current, err := s.activeLocked(ctx)
		if err != nil {
			return control.Run{}, err
		}
		if err := s.appendControlChange(ctx, event.ControlChangedPayload{
			Version:         current.Version + 1,
			Mode:            string(run.CandidateMode),
			Threshold:       run.CandidateThreshold,
			Actor:           actor,
			Rationale:       rationale,
			PreviousVersion: current.Version,
			RunID:           runID,
		}, event.ActorTypeUser, actor); err != nil {
			return control.Run{}, err
		}
	case control.ActionRollback:
		current, err := s.activeLocked(ctx)
		if err != nil {
			return control.Run{}, err
		}
		if _, err := s.rollbackLocked(ctx, current, actor, rationale); err != nil {
			return control.Run{}, err
		}
	}

	if err := s.appendDecidedEvent(ctx, runID, action, actor, rationale); err != nil {
		return control.Run{}, err
	}
	return s.projections.GetExperimentRun(ctx, runID)
}

func (s *Service) appendRunEvent(ctx context.Context, payload event.ExperimentRunPayload, actor string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal run payload: %w", err)
	}
	return s.appendAndProject(ctx, event.Event{
		Timestamp:   s.now(),
		Type:        event.TypeExperimentRun,
		ActorType:   event.ActorTypeUser,
		ActorID:     actor,
		EntityType:  "experiment",
		EntityID:    payload.RunID,
		PayloadJSON: data,
	})
}

func (s *Service) appendDecidedEvent(ctx context.Context, runID string, action control.DecisionAction, actor, rationale string) error {
	data, err := json.Marshal(event.ExperimentDecidedPayload{
		RunID:     runID,
		Action:    string(action),
		Actor:     actor,
		Rationale: rationale,
	})
	if err != nil {
		return fmt.Errorf("marshal decision payload: %w", err)
	}
	return s.appendAndProject(ctx, event.Event{
		Timestamp:   s.now(),
		Type:        event.TypeExperimentDecided,
		ActorType:   event.ActorTypeUser,
		ActorID:     actor,
		EntityType:  "experiment",
		EntityID:    runID,
		PayloadJSON: data,
	})
}
