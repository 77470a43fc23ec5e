package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/minder/internal/domain/control"
	"github.com/example/minder/internal/storage"
)

const controlStateColumns = "version, mode, threshold, actor, rationale, activated_at, previous_version, run_id"

const experimentRunColumns = "run_id, proposed_at, actor, rationale, candidate_mode, candidate_threshold, status, metrics, decided_at"

// PutControlState upserts a control state version.
func (s *Store) PutControlState(ctx context.Context, st control.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if st.Version == 0 {
		return fmt.Errorf("control state version is required")
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO control_states (`+controlStateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (version) DO UPDATE SET
		     mode = excluded.mode,
		     threshold = excluded.threshold,
		     actor = excluded.actor,
		     rationale = excluded.rationale,
		     activated_at = excluded.activated_at,
		     previous_version = excluded.previous_version,
		     run_id = excluded.run_id`,
		int64(st.Version),
		string(st.Mode),
		st.Threshold,
		st.Actor,
		st.Rationale,
		toMillis(st.ActivatedAt),
		int64(st.PreviousVersion),
		st.RunID,
	)
	if err != nil {
		return fmt.Errorf("put control state: %w", err)
	}
	return nil
}

// GetControlState returns a specific control state version.
func (s *Store) GetControlState(ctx context.Context, version uint64) (control.State, error) {
	if err := ctx.Err(); err != nil {
		return control.State{}, err
	}
	if s == nil || s.sqlDB == nil {
		return control.State{}, fmt.Errorf("storage is not configured")
	}

	row := s.q.QueryRowContext(ctx,
		"SELECT "+controlStateColumns+" FROM control_states WHERE version = ?", int64(version),
	)
	return scanControlState(row)
}

// GetActiveControlState returns the highest control state version.
func (s *Store) GetActiveControlState(ctx context.Context) (control.State, error) {
	if err := ctx.Err(); err != nil {
		return control.State{}, err
	}
	if s == nil || s.sqlDB == nil {
		return control.State{}, fmt.Errorf("storage is not configured")
	}

	row := s.q.QueryRowContext(ctx,
		"SELECT "+controlStateColumns+" FROM control_states ORDER BY version DESC LIMIT 1",
	)
	return scanControlState(row)
}

// GetControlStateAt returns the version active at the given time.
func (s *Store) GetControlStateAt(ctx context.Context, at time.Time) (control.State, error) {
	if err := ctx.Err(); err != nil {
		return control.State{}, err
	}
	if s == nil || s.sqlDB == nil {
		return control.State{}, fmt.Errorf("storage is not configured")
	}

	row := s.q.QueryRowContext(ctx,
		"SELECT "+controlStateColumns+" FROM control_states WHERE activated_at <= ? ORDER BY version DESC LIMIT 1",
		toMillis(at),
	)
	return scanControlState(row)
}

// ListControlStates returns versions newest first.
func (s *Store) ListControlStates(ctx context.Context, limit int) ([]control.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.q.QueryContext(ctx,
		"SELECT "+controlStateColumns+" FROM control_states ORDER BY version DESC LIMIT ?", int64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list control states: %w", err)
	}
	defer rows.Close()

	var states []control.State
	for rows.Next() {
		st, err := scanControlStateFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan control state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate control states: %w", err)
	}
	return states, nil
}

// PutExperimentRun upserts an experiment run keyed by run id.
func (s *Store) PutExperimentRun(ctx context.Context, run control.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(run.RunID) == "" {
		return fmt.Errorf("run id is required")
	}

	metrics := run.Metrics
	if metrics == nil {
		metrics = map[string]float64{}
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	var decidedAt sql.NullInt64
	if !run.DecidedAt.IsZero() {
		decidedAt = sql.NullInt64{Int64: toMillis(run.DecidedAt), Valid: true}
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO experiment_runs (`+experimentRunColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET
		     proposed_at = excluded.proposed_at,
		     actor = excluded.actor,
		     rationale = excluded.rationale,
		     candidate_mode = excluded.candidate_mode,
		     candidate_threshold = excluded.candidate_threshold,
		     status = excluded.status,
		     metrics = excluded.metrics,
		     decided_at = excluded.decided_at`,
		run.RunID,
		toMillis(run.ProposedAt),
		run.Actor,
		run.Rationale,
		string(run.CandidateMode),
		run.CandidateThreshold,
		string(run.Status),
		string(metricsJSON),
		decidedAt,
	)
	if err != nil {
		return fmt.Errorf("put experiment run: %w", err)
	}
	return nil
}

// GetExperimentRun returns a run by id. Returns storage.ErrNotFound when missing.
func (s *Store) GetExperimentRun(ctx context.Context, runID string) (control.Run, error) {
	if err := ctx.Err(); err != nil {
		return control.Run{}, err
	}
	if s == nil || s.sqlDB == nil {
		return control.Run{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(runID) == "" {
		return control.Run{}, fmt.Errorf("run id is required")
	}

	row := s.q.QueryRowContext(ctx,
		"SELECT "+experimentRunColumns+" FROM experiment_runs WHERE run_id = ?", runID,
	)
	run, err := scanExperimentRunFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return control.Run{}, storage.ErrNotFound
	}
	if err != nil {
		return control.Run{}, fmt.Errorf("get experiment run: %w", err)
	}
	return run, nil
}

// ListExperimentRuns returns runs newest first.
func (s *Store) ListExperimentRuns(ctx context.Context, limit int) ([]control.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.q.QueryContext(ctx,
		"SELECT "+experimentRunColumns+" FROM experiment_runs ORDER BY proposed_at DESC LIMIT ?", int64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list experiment runs: %w", err)
	}
	defer rows.Close()

	var runs []control.Run
	for rows.Next() {
		run, err := scanExperimentRunFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan experiment run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experiment runs: %w", err)
	}
	return runs, nil
}

func scanControlState(row *sql.Row) (control.State, error) {
	st, err := scanControlStateFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return control.State{}, storage.ErrNotFound
	}
	if err != nil {
		return control.State{}, fmt.Errorf("get control state: %w", err)
	}
	return st, nil
}

func scanControlStateFrom(scanner rowScanner) (control.State, error) {
	var st control.State
	var version, previousVersion, activatedAt int64
	var mode string
	if err := scanner.Scan(
		&version,
		&mode,
		&st.Threshold,
		&st.Actor,
		&st.Rationale,
		&activatedAt,
		&previousVersion,
		&st.RunID,
	); err != nil {
		return control.State{}, err
	}
	st.Version = uint64(version)
	st.PreviousVersion = uint64(previousVersion)
	st.Mode = control.Mode(mode)
	st.ActivatedAt = fromMillis(activatedAt)
	return st, nil
}

func scanExperimentRunFrom(scanner rowScanner) (control.Run, error) {
	var run control.Run
	var proposedAt int64
	var decidedAt sql.NullInt64
	var candidateMode, status, metrics string
	if err := scanner.Scan(
		&run.RunID,
		&proposedAt,
		&run.Actor,
		&run.Rationale,
		&candidateMode,
		&run.CandidateThreshold,
		&status,
		&metrics,
		&decidedAt,
	); err != nil {
		return control.Run{}, err
	}
	run.ProposedAt = fromMillis(proposedAt)
	run.CandidateMode = control.Mode(candidateMode)
	run.Status = control.RunStatus(status)
	if decidedAt.Valid {
		run.DecidedAt = fromMillis(decidedAt.Int64)
	}
	if err := json.Unmarshal([]byte(metrics), &run.Metrics); err != nil {
		return control.Run{}, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return run, nil
}
