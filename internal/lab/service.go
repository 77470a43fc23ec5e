// Package lab is the governed control plane: versioned control state,
// experiment runs, and the decisions taken on them. Every change is an
// appended journal event; the projected control_states and experiment_runs
// tables are derived, never written directly.
package lab

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/minder/internal/domain/control"
	"github.com/example/minder/internal/domain/event"
	apperrors "github.com/example/minder/internal/platform/errors"
	"github.com/example/minder/internal/platform/id"
	"github.com/example/minder/internal/projection"
	"github.com/example/minder/internal/storage"
)

// Baseline configuration activated as version 1 when the journal carries no
// control events yet.
const (
	baselineMode      = control.ModeDeterministic
	baselineThreshold = 0.6
)

// Config carries the service dependencies.
type Config struct {
	Events      storage.EventStore
	Projections storage.ProjectionStore
	Logger      *slog.Logger
	// Evaluator scores experiment candidates. Defaults to the replay
	// evaluator over the journal.
	Evaluator Evaluator
	// ExperimentTimeout bounds a single evaluation.
	ExperimentTimeout time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service serializes control plane mutations.
type Service struct {
	mu          sync.Mutex
	events      storage.EventStore
	projections storage.ProjectionStore
	projector   *projection.Projector
	evaluator   Evaluator
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// New builds the control plane service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	evaluator := cfg.Evaluator
	if evaluator == nil {
		evaluator = &ReplayEvaluator{Events: cfg.Events}
	}
	timeout := cfg.ExperimentTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		events:      cfg.Events,
		projections: cfg.Projections,
		projector: &projection.Projector{
			Events:      cfg.Events,
			Projections: cfg.Projections,
			Logger:      logger,
		},
		evaluator: evaluator,
		timeout:   timeout,
		logger:    logger,
		now:       now,
	}
}

// Active returns the current control state, activating the baseline first if
// no control event has ever been appended.
func (s *Service) Active(ctx context.Context) (control.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(ctx)
}

func (s *Service) activeLocked(ctx context.Context) (control.State, error) {
	state, err := s.projections.GetActiveControlState(ctx)
	if err == nil {
		return state, nil
	}
	if !stderrors.Is(err, storage.ErrNotFound) {
		return control.State{}, fmt.Errorf("load active control state: %w", err)
	}

	if err := s.appendControlChange(ctx, event.ControlChangedPayload{
		Version:   1,
		Mode:      string(baselineMode),
		Threshold: baselineThreshold,
		Actor:     "system",
		Rationale: "baseline configuration",
	}, event.ActorTypeSystem, "system"); err != nil {
		return control.State{}, fmt.Errorf("activate baseline: %w", err)
	}
	return s.projections.GetActiveControlState(ctx)
}

// UpdateInput is a control state change request.
type UpdateInput struct {
	Mode      control.Mode
	Threshold float64
	Actor     string
	Rationale string
	// ExpectedVersion enables optimistic concurrency; zero skips the check.
	ExpectedVersion uint64
}

// Update activates a new control state version.
func (s *Service) Update(ctx context.Context, in UpdateInput) (control.State, error) {
	if err := control.ValidateConfig(in.Mode, in.Threshold); err != nil {
		return control.State{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.activeLocked(ctx)
	if err != nil {
		return control.State{}, err
	}
	if err := checkExpectedVersion(current, in.ExpectedVersion); err != nil {
		return control.State{}, err
	}

	actor := orUser(in.Actor)
	rationale := in.Rationale
	if rationale == "" {
		rationale = fmt.Sprintf("control changed to %s at threshold %.2f", in.Mode, in.Threshold)
	}
	if err := s.appendControlChange(ctx, event.ControlChangedPayload{
		Version:         current.Version + 1,
		Mode:            string(in.Mode),
		Threshold:       in.Threshold,
		Actor:           actor,
		Rationale:       rationale,
		PreviousVersion: current.Version,
	}, event.ActorTypeUser, actor); err != nil {
		return control.State{}, err
	}
	return s.projections.GetControlState(ctx, current.Version+1)
}

// Rollback reactivates the values of the immediately preceding version as a
// new version. Version numbers are never reused.
func (s *Service) Rollback(ctx context.Context, actor, rationale string, expectedVersion uint64) (control.State, error) {
	actor = orUser(actor)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.activeLocked(ctx)
	if err != nil {
		return control.State{}, err
	}
	if err := checkExpectedVersion(current, expectedVersion); err != nil {
		return control.State{}, err
	}
	return s.rollbackLocked(ctx, current, actor, rationale)
}

// rollbackLocked reverts to the previous version's values. Shared by the
// rollback operation and the rollback decision on an experiment run.
func (s *Service) rollbackLocked(ctx context.Context, current control.State, actor, rationale string) (control.State, error) {
	if current.Version <= 1 {
		return control.State{}, apperrors.New(apperrors.CodeNoPriorVersion, "no prior control version to roll back to")
	}

	prior, err := s.projections.GetControlState(ctx, current.Version-1)
	if err != nil {
		return control.State{}, fmt.Errorf("load prior control version %d: %w", current.Version-1, err)
	}

	if rationale == "" {
		rationale = fmt.Sprintf("rollback to version %d values", prior.Version)
	}
	if err := s.appendControlChange(ctx, event.ControlChangedPayload{
		Version:         current.Version + 1,
		Mode:            string(prior.Mode),
		Threshold:       prior.Threshold,
		Actor:           actor,
		Rationale:       rationale,
		PreviousVersion: current.Version,
	}, event.ActorTypeUser, actor); err != nil {
		return control.State{}, err
	}
	return s.projections.GetControlState(ctx, current.Version+1)
}

// Overview summarizes the control plane for the lab surface.
type Overview struct {
	Active     control.State
	History    []control.State
	RecentRuns []control.Run
}

// GetOverview returns the active state, recent versions, and recent runs.
func (s *Service) GetOverview(ctx context.Context) (Overview, error) {
	active, err := s.Active(ctx)
	if err != nil {
		return Overview{}, err
	}
	history, err := s.projections.ListControlStates(ctx, 10)
	if err != nil {
		return Overview{}, fmt.Errorf("list control states: %w", err)
	}
	runs, err := s.projections.ListExperimentRuns(ctx, 10)
	if err != nil {
		return Overview{}, fmt.Errorf("list experiment runs: %w", err)
	}
	return Overview{Active: active, History: history, RecentRuns: runs}, nil
}

// History returns recent experiment runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]control.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.projections.ListExperimentRuns(ctx, limit)
}

func (s *Service) appendControlChange(ctx context.Context, payload event.ControlChangedPayload, actorType event.ActorType, actorID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal control payload: %w", err)
	}
	return s.appendAndProject(ctx, event.Event{
		Timestamp:   s.now(),
		Type:        event.TypeControlChanged,
		ActorType:   actorType,
		ActorID:     actorID,
		EntityType:  "control",
		EntityID:    "config",
		PayloadJSON: data,
	})
}

func (s *Service) appendAndProject(ctx context.Context, evt event.Event) error {
	if _, err := s.events.AppendEvent(ctx, evt); err != nil {
		return err
	}
	if err := s.projector.CatchUp(ctx); err != nil {
		return fmt.Errorf("project appended event: %w", err)
	}
	return nil
}

func checkExpectedVersion(current control.State, expected uint64) error {
	if expected != 0 && expected != current.Version {
		return apperrors.WithMetadata(apperrors.CodeConflict, "control state version mismatch", map[string]string{
			"expected_version": fmt.Sprintf("%d", expected),
			"active_version":   fmt.Sprintf("%d", current.Version),
		})
	}
	return nil
}

func orUser(actor string) string {
	if actor == "" {
		return "user"
	}
	return actor
}

func newRunID() (string, error) {
	runID, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return runID, nil
}
