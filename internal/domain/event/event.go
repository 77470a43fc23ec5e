package event

import (
	"strings"
	"time"
)

// Type identifies the type of a journal event.
type Type string

// Task lifecycle events.
const (
	// TypeTaskIngested records a task entering the system from an external source.
	TypeTaskIngested Type = "task.ingested"
	// TypeTaskUpdated records a field patch or a recorded no-op decision.
	TypeTaskUpdated Type = "task.updated"
	// TypeTaskStatusChanged records a task status transition.
	TypeTaskStatusChanged Type = "task.status_changed"
	// TypeTaskCompleted records a task reaching done.
	TypeTaskCompleted Type = "task.completed"
	// TypeTaskCancelled records a task reaching cancelled.
	TypeTaskCancelled Type = "task.cancelled"
	// TypeTaskSnoozed records a task being deferred until a wake time.
	TypeTaskSnoozed Type = "task.snoozed"
	// TypeTaskLinked records blocked_by relations being added.
	TypeTaskLinked Type = "task.linked"
	// TypeTaskDedupLinked records tasks being grouped as duplicates.
	TypeTaskDedupLinked Type = "task.dedup_linked"
)

// Note and track events.
const (
	// TypeNoteRecorded records a free-form note.
	TypeNoteRecorded Type = "note.recorded"
	// TypeTrackRecorded records a tracked item (media, reading, etc.).
	TypeTrackRecorded Type = "track.recorded"
)

// Control plane events.
// Events represent facts that have occurred, not commands/requests.
const (
	// TypeControlChanged records activation of a new control state version.
	TypeControlChanged Type = "control.changed"
	// TypeExperimentRun records an experiment run and its evaluation outcome.
	TypeExperimentRun Type = "experiment.run"
	// TypeExperimentDecided records the decision taken on a completed run.
	TypeExperimentDecided Type = "experiment.decided"
)

// ActorType identifies who or what triggered an event.
type ActorType string

const (
	// ActorTypeSystem indicates the event was triggered by the system.
	ActorTypeSystem ActorType = "system"
	// ActorTypeUser indicates the event was triggered by the user.
	ActorTypeUser ActorType = "user"
	// ActorTypeAssistant indicates the event was triggered by upstream decision logic.
	ActorTypeAssistant ActorType = "assistant"
)

// Event represents an immutable event in the unified journal.
type Event struct {
	// Seq is the global sequence number (starts at 1).
	// Assigned by storage on append.
	Seq uint64
	// ID is the unique event identifier.
	ID string
	// Hash is the content-addressed identity (SHA-256 truncated to 128-bit).
	// Assigned by storage on append.
	Hash string
	// PrevHash is the chain hash of the preceding event (empty at seq 1).
	PrevHash string
	// ChainHash links this event to the full log prefix before it.
	ChainHash string
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Type identifies the kind of event.
	Type Type
	// ActorType identifies who triggered the event.
	ActorType ActorType
	// ActorID names the specific actor, when known.
	ActorID string
	// EntityType is the type of entity affected (task, note, track, control).
	EntityType string
	// EntityID is the ID of the entity affected.
	EntityID string
	// CausalRefs lists event or entity ids this event was caused by.
	CausalRefs []string
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type (e.g., "task", "control").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}
