// Package memory provides an in-memory projection store used by tests and
// by point-in-time state reconstruction.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/minder/internal/domain/control"
	"github.com/example/minder/internal/domain/task"
	"github.com/example/minder/internal/storage"
)

// Store is an in-memory implementation of storage.ProjectionStore.
//
// InTx runs the callback against the same store without isolation; callers
// that need rollback semantics should use the SQLite store.
type Store struct {
	mu       sync.RWMutex
	tasks    map[string]storage.TaskRecord
	notes    map[string]storage.NoteRecord
	tracks   map[string]storage.TrackRecord
	states   map[uint64]control.State
	runs     map[string]control.Run
	metadata storage.ProjectionMetadata
}

// New returns an empty in-memory projection store.
func New() *Store {
	return &Store{
		tasks:    make(map[string]storage.TaskRecord),
		notes:    make(map[string]storage.NoteRecord),
		tracks:   make(map[string]storage.TrackRecord),
		states:   make(map[uint64]control.State),
		runs:     make(map[string]control.Run),
		metadata: storage.ProjectionMetadata{SchemaVersion: 1},
	}
}

// InTx runs fn against the store itself.
func (s *Store) InTx(ctx context.Context, fn func(storage.ProjectionStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s)
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func (s *Store) PutTask(ctx context.Context, t storage.TaskRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (storage.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TaskRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return storage.TaskRecord{}, storage.ErrNotFound
	}
	return cloneTask(t), nil
}

func (s *Store) GetTaskBySourceRef(ctx context.Context, source, sourceRef string) (storage.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TaskRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.Source == source && t.SourceRef == sourceRef {
			return cloneTask(t), nil
		}
	}
	return storage.TaskRecord{}, storage.ErrNotFound
}

func (s *Store) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]storage.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []storage.TaskRecord
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Project != "" && t.Project != filter.Project {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Title), search) &&
			!strings.Contains(strings.ToLower(t.Body), search) {
			continue
		}
		tasks = append(tasks, cloneTask(t))
	}

	asc := strings.EqualFold(filter.SortDir, "asc")
	sort.Slice(tasks, func(i, j int) bool {
		var less bool
		switch filter.SortBy {
		case "created_at":
			less = tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		case "due_at":
			less = beforeNullable(tasks[i].DueAt, tasks[j].DueAt)
		case "priority":
			less = tasks[i].Priority < tasks[j].Priority
		case "title":
			less = tasks[i].Title < tasks[j].Title
		default:
			less = tasks[i].UpdatedAt.Before(tasks[j].UpdatedAt)
		}
		if asc {
			return less
		}
		return !less
	})

	offset := filter.Offset
	if offset > len(tasks) {
		offset = len(tasks)
	}
	tasks = tasks[offset:]
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *Store) ListTasksByDedupGroup(ctx context.Context, groupID string) ([]storage.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []storage.TaskRecord
	for _, t := range s.tasks {
		if t.DedupGroupID == groupID && groupID != "" {
			tasks = append(tasks, cloneTask(t))
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

func (s *Store) ListSnoozedDue(ctx context.Context, now time.Time) ([]storage.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []storage.TaskRecord
	for _, t := range s.tasks {
		if t.Status != task.StatusSnoozed || t.DoNotStartBefore == nil {
			continue
		}
		if !t.DoNotStartBefore.After(now) {
			tasks = append(tasks, cloneTask(t))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].DoNotStartBefore.Before(*tasks[j].DoNotStartBefore)
	})
	return tasks, nil
}

func (s *Store) PutNote(ctx context.Context, n storage.NoteRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[n.ID] = n
	return nil
}

func (s *Store) GetNote(ctx context.Context, id string) (storage.NoteRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.NoteRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return storage.NoteRecord{}, storage.ErrNotFound
	}
	return n, nil
}

func (s *Store) PutTrack(ctx context.Context, tr storage.TrackRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[tr.ID] = tr
	return nil
}

func (s *Store) GetTrack(ctx context.Context, id string) (storage.TrackRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TrackRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr, ok := s.tracks[id]
	if !ok {
		return storage.TrackRecord{}, storage.ErrNotFound
	}
	return tr, nil
}

func (s *Store) PutControlState(ctx context.Context, st control.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.Version] = st
	return nil
}

func (s *Store) GetControlState(ctx context.Context, version uint64) (control.State, error) {
	if err := ctx.Err(); err != nil {
		return control.State{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[version]
	if !ok {
		return control.State{}, storage.ErrNotFound
	}
	return st, nil
}

func (s *Store) GetActiveControlState(ctx context.Context) (control.State, error) {
	if err := ctx.Err(); err != nil {
		return control.State{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active control.State
	for _, st := range s.states {
		if st.Version > active.Version {
			active = st
		}
	}
	if active.Version == 0 {
		return control.State{}, storage.ErrNotFound
	}
	return active, nil
}

func (s *Store) GetControlStateAt(ctx context.Context, at time.Time) (control.State, error) {
	if err := ctx.Err(); err != nil {
		return control.State{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var match control.State
	for _, st := range s.states {
		if st.ActivatedAt.After(at) {
			continue
		}
		if st.Version > match.Version {
			match = st
		}
	}
	if match.Version == 0 {
		return control.State{}, storage.ErrNotFound
	}
	return match, nil
}

func (s *Store) ListControlStates(ctx context.Context, limit int) ([]control.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make([]control.State, 0, len(s.states))
	for _, st := range s.states {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Version > states[j].Version })
	if limit > 0 && limit < len(states) {
		states = states[:limit]
	}
	return states, nil
}

func (s *Store) PutExperimentRun(ctx context.Context, run control.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
	return nil
}

func (s *Store) GetExperimentRun(ctx context.Context, runID string) (control.Run, error) {
	if err := ctx.Err(); err != nil {
		return control.Run{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return control.Run{}, storage.ErrNotFound
	}
	return run, nil
}

func (s *Store) ListExperimentRuns(ctx context.Context, limit int) ([]control.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]control.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ProposedAt.After(runs[j].ProposedAt) })
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) GetProjectionMetadata(ctx context.Context) (storage.ProjectionMetadata, error) {
	if err := ctx.Err(); err != nil {
		return storage.ProjectionMetadata{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata, nil
}

func (s *Store) SaveProjectionMetadata(ctx context.Context, meta storage.ProjectionMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = meta
	return nil
}

func cloneTask(t storage.TaskRecord) storage.TaskRecord {
	cloned := t
	cloned.Labels = append([]string(nil), t.Labels...)
	cloned.BlockedBy = append([]string(nil), t.BlockedBy...)
	cloned.Explanations = append([]storage.Explanation(nil), t.Explanations...)
	return cloned
}

func beforeNullable(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}
