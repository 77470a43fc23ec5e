package projection

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/example/minder/internal/domain/control"
	"github.com/example/minder/internal/domain/event"
	"github.com/example/minder/internal/storage"
)

func applyControlChanged(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.ControlChangedPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}
	if payload.Version == 0 {
		return fmt.Errorf("control change event %s has no version", evt.ID)
	}

	return a.Control.PutControlState(ctx, control.State{
		Version:         payload.Version,
		Mode:            control.Mode(payload.Mode),
		Threshold:       payload.Threshold,
		Actor:           payload.Actor,
		Rationale:       payload.Rationale,
		ActivatedAt:     ensureTimestamp(evt.Timestamp),
		PreviousVersion: payload.PreviousVersion,
		RunID:           payload.RunID,
	})
}

func applyExperimentRun(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.ExperimentRunPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}
	ts := ensureTimestamp(evt.Timestamp)

	run, err := a.Control.GetExperimentRun(ctx, payload.RunID)
	switch {
	case err == nil:
		// A later run event for the same id carries the evaluation result.
	case stderrors.Is(err, storage.ErrNotFound):
		run = control.Run{RunID: payload.RunID, ProposedAt: ts}
	default:
		return fmt.Errorf("load experiment run %s: %w", payload.RunID, err)
	}

	run.Actor = payload.Actor
	run.Rationale = payload.Rationale
	run.CandidateMode = control.Mode(payload.CandidateMode)
	run.CandidateThreshold = payload.CandidateThreshold
	run.Status = control.RunStatus(payload.Status)
	if len(payload.Metrics) > 0 {
		metrics := make(map[string]float64, len(payload.Metrics))
		for name, value := range payload.Metrics {
			metrics[name] = value
		}
		run.Metrics = metrics
	}
	return a.Control.PutExperimentRun(ctx, run)
}

func applyExperimentDecided(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.ExperimentDecidedPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}

	run, err := a.Control.GetExperimentRun(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("load experiment run %s: %w", payload.RunID, err)
	}

	switch control.DecisionAction(payload.Action) {
	case control.ActionApply:
		run.Status = control.RunStatusApplied
	case control.ActionRollback:
		run.Status = control.RunStatusRolledBack
	case control.ActionNoOp:
		run.Status = control.RunStatusNoOp
	default:
		return fmt.Errorf("unrecognized experiment decision %q", payload.Action)
	}
	run.DecidedAt = ensureTimestamp(evt.Timestamp)
	return a.Control.PutExperimentRun(ctx, run)
}
