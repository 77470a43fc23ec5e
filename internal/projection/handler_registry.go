package projection

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/example/minder/internal/domain/event"
)

// ErrUnhandledEventType marks journal entries this applier has no handler
// for. Callers decide whether that is fatal; the projector logs and skips.
var ErrUnhandledEventType = stderrors.New("unhandled event type")

// storeRequirement describes which projection stores a handler writes.
type storeRequirement uint8

const (
	needTasks storeRequirement = 1 << iota
	needNotes
	needTracks
	needControl
)

// handlerEntry pairs a handler with its store requirements so dispatch can
// fail fast on a partially wired applier instead of panicking mid-apply.
type handlerEntry struct {
	stores storeRequirement
	apply  func(Applier, context.Context, event.Event) error
}

var handlers = map[event.Type]handlerEntry{
	event.TypeTaskIngested: {
		stores: needTasks,
		apply:  applyTaskIngested,
	},
	event.TypeTaskUpdated: {
		stores: needTasks,
		apply:  applyTaskUpdated,
	},
	event.TypeTaskStatusChanged: {
		stores: needTasks,
		apply:  applyTaskStatusChanged,
	},
	event.TypeTaskCompleted: {
		stores: needTasks,
		apply:  applyTaskCompleted,
	},
	event.TypeTaskCancelled: {
		stores: needTasks,
		apply:  applyTaskCancelled,
	},
	event.TypeTaskSnoozed: {
		stores: needTasks,
		apply:  applyTaskSnoozed,
	},
	event.TypeTaskLinked: {
		stores: needTasks,
		apply:  applyTaskLinked,
	},
	event.TypeTaskDedupLinked: {
		stores: needTasks,
		apply:  applyTaskDedupLinked,
	},
	event.TypeNoteRecorded: {
		stores: needNotes,
		apply:  applyNoteRecorded,
	},
	event.TypeTrackRecorded: {
		stores: needTracks,
		apply:  applyTrackRecorded,
	},
	event.TypeControlChanged: {
		stores: needControl,
		apply:  applyControlChanged,
	},
	event.TypeExperimentRun: {
		stores: needControl,
		apply:  applyExperimentRun,
	},
	event.TypeExperimentDecided: {
		stores: needControl,
		apply:  applyExperimentDecided,
	},
}

// HandledTypes returns the event types this applier can project, sorted for
// stable diagnostics.
func HandledTypes() []event.Type {
	types := make([]event.Type, 0, len(handlers))
	for t := range handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Apply projects a single journal event into the read models.
func (a Applier) Apply(ctx context.Context, evt event.Event) error {
	entry, ok := handlers[evt.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnhandledEventType, evt.Type)
	}
	if err := a.validatePreconditions(entry, evt); err != nil {
		return err
	}
	return entry.apply(a, ctx, evt)
}

func (a Applier) validatePreconditions(entry handlerEntry, evt event.Event) error {
	if evt.EntityID == "" {
		return fmt.Errorf("event %s (%s) is missing an entity id", evt.ID, evt.Type)
	}
	if entry.stores&needTasks != 0 && a.Tasks == nil {
		return fmt.Errorf("event %s requires a task store", evt.Type)
	}
	if entry.stores&needNotes != 0 && a.Notes == nil {
		return fmt.Errorf("event %s requires a note store", evt.Type)
	}
	if entry.stores&needTracks != 0 && a.Tracks == nil {
		return fmt.Errorf("event %s requires a track store", evt.Type)
	}
	if entry.stores&needControl != 0 && a.Control == nil {
		return fmt.Errorf("event %s requires a control store", evt.Type)
	}
	return nil
}
