// Package projection folds journal events into the read-model stores.
package projection

import (
	"time"

	"github.com/example/minder/internal/storage"
)

// Applier applies event journal entries to projection stores.
type Applier struct {
	// Tasks writes the task read model.
	Tasks storage.TaskStore
	// Notes writes the note read model.
	Notes storage.NoteStore
	// Tracks writes the track read model.
	Tracks storage.TrackStore
	// Control writes control state and experiment run read models.
	Control storage.ControlStore
	// DedupFanout propagates blocked_by links across dedup group members.
	DedupFanout bool
}

// ApplierFor builds an applier writing to every read model of the store.
func ApplierFor(store storage.ProjectionStore, dedupFanout bool) Applier {
	return Applier{
		Tasks:       store,
		Notes:       store,
		Tracks:      store,
		Control:     store,
		DedupFanout: dedupFanout,
	}
}

// ensureTimestamp normalizes timestamps so projections always persist UTC,
// defaulting to now for defensive event payloads that do not set time.
func ensureTimestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}

// appendExplanation appends an audit entry unless an identical entry is
// already recorded. Replayed and redelivered events therefore do not double
// up the audit trail.
func appendExplanation(entries []storage.Explanation, entry storage.Explanation) []storage.Explanation {
	for _, existing := range entries {
		if existing == entry {
			return entries
		}
	}
	return append(entries, entry)
}
