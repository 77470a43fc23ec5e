// Package storage defines the persistence interfaces and records for the
// event journal and the derived read models.
package storage

import (
	"context"
	"time"

	"github.com/example/minder/internal/domain/control"
	"github.com/example/minder/internal/domain/event"
	"github.com/example/minder/internal/domain/task"
	apperrors "github.com/example/minder/internal/platform/errors"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity" states
// and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// Explanation is one append-only audit entry on a task mutation.
type Explanation struct {
	Timestamp time.Time `json:"ts"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Rationale string    `json:"rationale"`
}

// TaskRecord captures the projected task state that APIs read.
type TaskRecord struct {
	ID               string
	Title            string
	Body             string
	Status           task.Status
	Priority         task.Priority
	DueAt            *time.Time
	DoNotStartBefore *time.Time
	Source           string
	SourceRef        string
	DedupGroupID     string
	Labels           []string
	Project          string
	BlockedBy        []string
	Explanations     []Explanation
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// NoteRecord captures a projected note.
type NoteRecord struct {
	ID        string
	Title     string
	Content   string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TrackRecord captures a projected tracked item.
type TrackRecord struct {
	ID        string
	Title     string
	Status    string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProjectionMetadata is the single-row watermark for the projections database.
// It is written in the same transaction as every projection write.
type ProjectionMetadata struct {
	SchemaVersion int
	LastEventSeq  uint64
	LastRebuildAt *time.Time
	UpdatedAt     time.Time
}

// TaskFilter narrows and orders task listings.
type TaskFilter struct {
	Status  task.Status
	Project string
	// Search matches a substring of title or body, case-insensitive.
	Search  string
	SortBy  string
	SortDir string
	Limit   int
	Offset  int
}

// EventStore owns the append-only event journal. Events are immutable and
// permanent; no update or delete operation exists.
type EventStore interface {
	// AppendEvent atomically appends an event and returns it with sequence,
	// hashes, and timestamp set.
	AppendEvent(ctx context.Context, evt event.Event) (event.Event, error)
	GetEventByID(ctx context.Context, id string) (event.Event, error)
	GetEventBySeq(ctx context.Context, seq uint64) (event.Event, error)
	// ListEvents returns events with seq > afterSeq ordered ascending.
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error)
	LatestEventSeq(ctx context.Context) (uint64, error)
	// VerifyEventIntegrity walks the full hash chain.
	VerifyEventIntegrity(ctx context.Context) error
	Close() error
}

// TaskStore owns the task read model.
type TaskStore interface {
	PutTask(ctx context.Context, t TaskRecord) error
	GetTask(ctx context.Context, id string) (TaskRecord, error)
	// GetTaskBySourceRef resolves the (source, source_ref) uniqueness invariant.
	GetTaskBySourceRef(ctx context.Context, source, sourceRef string) (TaskRecord, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]TaskRecord, error)
	ListTasksByDedupGroup(ctx context.Context, groupID string) ([]TaskRecord, error)
	// ListSnoozedDue returns snoozed tasks whose wake gate has passed.
	ListSnoozedDue(ctx context.Context, now time.Time) ([]TaskRecord, error)
}

// NoteStore owns the note read model.
type NoteStore interface {
	PutNote(ctx context.Context, n NoteRecord) error
	GetNote(ctx context.Context, id string) (NoteRecord, error)
}

// TrackStore owns the track read model.
type TrackStore interface {
	PutTrack(ctx context.Context, tr TrackRecord) error
	GetTrack(ctx context.Context, id string) (TrackRecord, error)
}

// ControlStore owns the control-plane read models. Both tables are
// projections of control events and rebuild with everything else.
type ControlStore interface {
	PutControlState(ctx context.Context, st control.State) error
	GetControlState(ctx context.Context, version uint64) (control.State, error)
	// GetActiveControlState returns the highest version.
	GetActiveControlState(ctx context.Context) (control.State, error)
	// GetControlStateAt returns the version active at the given time.
	GetControlStateAt(ctx context.Context, at time.Time) (control.State, error)
	ListControlStates(ctx context.Context, limit int) ([]control.State, error)
	PutExperimentRun(ctx context.Context, run control.Run) error
	GetExperimentRun(ctx context.Context, runID string) (control.Run, error)
	ListExperimentRuns(ctx context.Context, limit int) ([]control.Run, error)
}

// MetadataStore owns the projection watermark row.
type MetadataStore interface {
	GetProjectionMetadata(ctx context.Context) (ProjectionMetadata, error)
	SaveProjectionMetadata(ctx context.Context, meta ProjectionMetadata) error
}

// ProjectionStore combines all read-model stores with transactional scoping.
type ProjectionStore interface {
	TaskStore
	NoteStore
	TrackStore
	ControlStore
	MetadataStore
	// InTx runs fn against a transaction-scoped view of the store. Handler
	// writes and the watermark update commit atomically through this.
	InTx(ctx context.Context, fn func(ProjectionStore) error) error
	Close() error
}
