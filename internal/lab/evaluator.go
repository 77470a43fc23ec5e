package lab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/minder/internal/domain/control"
	"github.com/example/minder/internal/domain/event"
	"github.com/example/minder/internal/storage"
)

// Evaluator scores an experiment candidate against the active baseline.
// Implementations must respect context cancellation; the service bounds
// every evaluation with a timeout.
type Evaluator interface {
	Evaluate(ctx context.Context, candidate, baseline control.State) (map[string]float64, error)
}

// ReplayEvaluator is the default evaluator. It replays the recent journal
// and derives a deterministic quality estimate from observed task outcomes:
// reopened work and rejected mutations count against the higher-autonomy
// candidate, completions count for it.
type ReplayEvaluator struct {
	Events storage.EventStore
	// Window is the number of trailing events considered. Defaults to 500.
	Window int
}

const replayPageSize = 200

func (e *ReplayEvaluator) Evaluate(ctx context.Context, candidate, baseline control.State) (map[string]float64, error) {
	window := e.Window
	if window <= 0 {
		window = 500
	}

	latest, err := e.Events.LatestEventSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest event seq: %w", err)
	}
	afterSeq := uint64(0)
	if latest > uint64(window) {
		afterSeq = latest - uint64(window)
	}

	var considered, completed, reopened, rejected float64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		events, err := e.Events.ListEvents(ctx, afterSeq, replayPageSize)
		if err != nil {
			return nil, fmt.Errorf("list events after seq %d: %w", afterSeq, err)
		}
		if len(events) == 0 {
			break
		}
		for _, evt := range events {
			considered++
			switch evt.Type {
			case event.TypeTaskCompleted:
				completed++
			case event.TypeTaskStatusChanged:
				if isReopen(evt) {
					reopened++
				}
			case event.TypeTaskUpdated:
				if isRejection(evt) {
					rejected++
				}
			}
			afterSeq = evt.Seq
		}
	}

	// Reopens and rejections indicate decisions the user had to unwind, so
	// they discount the benefit of raising autonomy.
	reworkRate := 0.0
	if completed > 0 {
		reworkRate = reopened / completed
	}
	qualityDelta := (candidate.Threshold - baseline.Threshold) * (1 - reworkRate)
	if candidate.Mode == control.ModeBounded {
		qualityDelta -= 0.05 * rejected
	}

	return map[string]float64{
		"events_considered": considered,
		"completed":         completed,
		"reopened":          reopened,
		"rejected":          rejected,
		"rework_rate":       reworkRate,
		"quality_delta":     qualityDelta,
	}, nil
}

func isReopen(evt event.Event) bool {
	var payload event.TaskStatusChangedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return false
	}
	return payload.FromStatus == "done" && payload.ToStatus == "open"
}

func isRejection(evt event.Event) bool {
	var payload event.TaskUpdatedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return false
	}
	return payload.NoOp
}
