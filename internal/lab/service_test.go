package lab

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/example/minder/internal/domain/control"
	"github.com/example/minder/internal/domain/event"
	apperrors "github.com/example/minder/internal/platform/errors"
	"github.com/example/minder/internal/storage/memory"
)

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(context.Context, control.State, control.State) (map[string]float64, error) {
	return nil, stderrors.New("evaluation backend unavailable")
}

func newTestService(t *testing.T, evaluator Evaluator) *Service {
	t.Helper()
	registry, err := event.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return New(Config{
		Events:            memory.NewEventStore(registry),
		Projections:       memory.New(),
		Evaluator:         evaluator,
		ExperimentTimeout: time.Second,
		Now:               func() time.Time { return clock },
	})
}

func TestBaselineActivatedLazily(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	state, err := svc.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if state.Version != 1 || state.Mode != control.ModeDeterministic || state.Threshold != 0.6 {
		t.Fatalf("unexpected baseline: %+v", state)
	}

	// A second read must not activate a second baseline.
	again, err := svc.Active(ctx)
	if err != nil {
		t.Fatalf("active again: %v", err)
	}
	if again.Version != 1 {
		t.Fatalf("baseline must activate once, got version %d", again.Version)
	}
}

func TestUpdateActivatesNewVersion(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	state, err := svc.Update(ctx, UpdateInput{
		Mode:      control.ModeShadow,
		Threshold: 0.8,
		Actor:     "u1",
		Rationale: "trial shadow mode",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if state.Version != 2 || state.Mode != control.ModeShadow || state.Threshold != 0.8 {
		t.Fatalf("unexpected state: %+v", state)
	}
	if state.PreviousVersion != 1 {
		t.Fatalf("expected previous version 1, got %d", state.PreviousVersion)
	}
}

func TestUpdateValidatesConfig(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Update(ctx, UpdateInput{Mode: "chaotic", Threshold: 0.5}); !stderrors.Is(err, apperrors.New(apperrors.CodeValidation, "")) {
		t.Fatalf("expected validation error for mode, got %v", err)
	}
	if _, err := svc.Update(ctx, UpdateInput{Mode: control.ModeShadow, Threshold: 1.5}); !stderrors.Is(err, apperrors.New(apperrors.CodeValidation, "")) {
		t.Fatalf("expected validation error for threshold, got %v", err)
	}
}

func TestUpdateVersionConflict(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Active(ctx); err != nil {
		t.Fatalf("active: %v", err)
	}
	_, err := svc.Update(ctx, UpdateInput{
		Mode:            control.ModeShadow,
		Threshold:       0.8,
		ExpectedVersion: 7,
	})
	if !stderrors.Is(err, apperrors.New(apperrors.CodeConflict, "")) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRollbackReactivatesPriorValues(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Update(ctx, UpdateInput{Mode: control.ModeShadow, Threshold: 0.8, Actor: "u1"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	state, err := svc.Rollback(ctx, "u1", "", 0)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if state.Version != 3 {
		t.Fatalf("rollback must mint a new version, got %d", state.Version)
	}
	if state.Mode != control.ModeDeterministic || state.Threshold != 0.6 {
		t.Fatalf("expected version 1 values, got %+v", state)
	}
}

func TestRollbackWithoutPriorVersion(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Rollback(ctx, "u1", "", 0)
	if !stderrors.Is(err, apperrors.New(apperrors.CodeNoPriorVersion, "")) {
		t.Fatalf("expected no-prior-version error, got %v", err)
	}
}

func TestRunExperimentCompletesWithMetrics(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	run, err := svc.RunExperiment(ctx, RunInput{
		Mode:      control.ModeShadow,
		Threshold: 0.8,
		Actor:     "u1",
		Rationale: "try shadow",
	})
	if err != nil {
		t.Fatalf("run experiment: %v", err)
	}
	if run.Status != control.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.Metrics["apply_allowed"] != 1 {
		t.Fatalf("expected apply to be allowed: %v", run.Metrics)
	}
	if run.Metrics["evaluation_error"] != 0 {
		t.Fatalf("unexpected evaluation error: %v", run.Metrics)
	}
	if _, ok := run.Metrics["quality_delta"]; !ok {
		t.Fatalf("expected quality_delta metric: %v", run.Metrics)
	}
}

func TestRunExperimentSafetyGate(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	run, err := svc.RunExperiment(ctx, RunInput{
		Mode:      control.ModeBounded,
		Threshold: 0.2,
		Actor:     "u1",
	})
	if err != nil {
		t.Fatalf("run experiment: %v", err)
	}
	if run.Metrics["apply_allowed"] != 0 {
		t.Fatalf("expected apply to be blocked: %v", run.Metrics)
	}

	_, err = svc.ApplyExperiment(ctx, run.RunID, control.ActionApply, "u1", "")
	if !stderrors.Is(err, apperrors.New(apperrors.CodeInvalidState, "")) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	// The blocked apply is recorded as a no_op decision.
	decided, err := svc.projections.GetExperimentRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if decided.Status != control.RunStatusNoOp {
		t.Fatalf("expected no_op after blocked apply, got %s", decided.Status)
	}
}

func TestApplyExperimentPromotesCandidate(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	run, err := svc.RunExperiment(ctx, RunInput{
		Mode:      control.ModeShadow,
		Threshold: 0.8,
		Actor:     "u1",
	})
	if err != nil {
		t.Fatalf("run experiment: %v", err)
	}

	decided, err := svc.ApplyExperiment(ctx, run.RunID, control.ActionApply, "u1", "metrics look good")
	if err != nil {
		t.Fatalf("apply experiment: %v", err)
	}
	if decided.Status != control.RunStatusApplied {
		t.Fatalf("expected applied, got %s", decided.Status)
	}

	state, err := svc.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if state.Mode != control.ModeShadow || state.Threshold != 0.8 {
		t.Fatalf("candidate was not promoted: %+v", state)
	}
	if state.RunID != run.RunID {
		t.Fatalf("promoted state should reference the run, got %q", state.RunID)
	}

	// A decided run cannot be decided again.
	if _, err := svc.ApplyExperiment(ctx, run.RunID, control.ActionNoOp, "u1", ""); !stderrors.Is(err, apperrors.New(apperrors.CodeInvalidState, "")) {
		t.Fatalf("expected invalid state on double decision, got %v", err)
	}
}

func TestApplyExperimentRollbackRevertsControlState(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Update(ctx, UpdateInput{Mode: control.ModeShadow, Threshold: 0.8, Actor: "u1"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	run, err := svc.RunExperiment(ctx, RunInput{
		Mode:      control.ModeBounded,
		Threshold: 0.7,
		Actor:     "u1",
	})
	if err != nil {
		t.Fatalf("run experiment: %v", err)
	}

	decided, err := svc.ApplyExperiment(ctx, run.RunID, control.ActionRollback, "u1", "shadow regressed")
	if err != nil {
		t.Fatalf("apply experiment: %v", err)
	}
	if decided.Status != control.RunStatusRolledBack {
		t.Fatalf("expected rolled_back, got %s", decided.Status)
	}

	state, err := svc.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if state.Version != 3 {
		t.Fatalf("rollback decision must mint a new version, got %d", state.Version)
	}
	if state.Mode != control.ModeDeterministic || state.Threshold != 0.6 {
		t.Fatalf("control state was not reverted: %+v", state)
	}
	if state.PreviousVersion != 2 {
		t.Fatalf("expected previous version 2, got %d", state.PreviousVersion)
	}
}

func TestApplyExperimentRollbackWithoutPriorVersion(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	run, err := svc.RunExperiment(ctx, RunInput{
		Mode:      control.ModeShadow,
		Threshold: 0.8,
		Actor:     "u1",
	})
	if err != nil {
		t.Fatalf("run experiment: %v", err)
	}

	_, err = svc.ApplyExperiment(ctx, run.RunID, control.ActionRollback, "u1", "")
	if !stderrors.Is(err, apperrors.New(apperrors.CodeNoPriorVersion, "")) {
		t.Fatalf("expected no-prior-version error, got %v", err)
	}

	// The run stays undecided when the revert cannot happen.
	kept, err := svc.projections.GetExperimentRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if kept.Status != control.RunStatusCompleted {
		t.Fatalf("expected run to stay completed, got %s", kept.Status)
	}
}

func TestApplyExperimentUnknownRun(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.ApplyExperiment(ctx, "missing", control.ActionApply, "u1", "")
	if !stderrors.Is(err, apperrors.New(apperrors.CodeNotFound, "")) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEvaluatorFailureCompletesRun(t *testing.T) {
	svc := newTestService(t, failingEvaluator{})
	ctx := context.Background()

	run, err := svc.RunExperiment(ctx, RunInput{
		Mode:      control.ModeShadow,
		Threshold: 0.8,
		Actor:     "u1",
	})
	if err != nil {
		t.Fatalf("run experiment: %v", err)
	}
	if run.Status != control.RunStatusCompleted {
		t.Fatalf("failed evaluation must still complete the run, got %s", run.Status)
	}
	if run.Metrics["evaluation_error"] != 1 || run.Metrics["apply_allowed"] != 0 {
		t.Fatalf("unexpected metrics: %v", run.Metrics)
	}
}

func TestGetOverview(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Update(ctx, UpdateInput{Mode: control.ModeShadow, Threshold: 0.8, Actor: "u1"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := svc.RunExperiment(ctx, RunInput{Mode: control.ModeBounded, Threshold: 0.7, Actor: "u1"}); err != nil {
		t.Fatalf("run experiment: %v", err)
	}

	overview, err := svc.GetOverview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if overview.Active.Version != 2 {
		t.Fatalf("unexpected active version: %d", overview.Active.Version)
	}
	if len(overview.History) != 2 || len(overview.RecentRuns) != 1 {
		t.Fatalf("unexpected overview sizes: %d states, %d runs", len(overview.History), len(overview.RecentRuns))
	}
}
