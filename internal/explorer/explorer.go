// Package explorer is the read-only query surface over the journal and the
// projections: record lookup, entity timelines, point-in-time state, and
// decision provenance. It never appends events.
package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/minder/internal/domain/event"
	apperrors "github.com/example/minder/internal/platform/errors"
	"github.com/example/minder/internal/projection"
	"github.com/example/minder/internal/storage"
	"github.com/example/minder/internal/storage/memory"
)

const scanPageSize = 200

// Service answers explorer queries.
type Service struct {
	Events      storage.EventStore
	Projections storage.ProjectionStore
	Logger      *slog.Logger
	// DedupFanout must match the projector's setting so point-in-time folds
	// replay through the same handler behavior as the live projection.
	DedupFanout bool
}

// Relation names how another entity relates to the looked-up one.
type Relation struct {
	Relation   string `json:"relation"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// LookupResult is a projected record plus its related entities.
type LookupResult struct {
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Record     any        `json:"record"`
	Related    []Relation `json:"related,omitempty"`
}

// Lookup returns the current projected record for an entity and the refs it
// relates to (blockers, dedup group members).
func (s *Service) Lookup(ctx context.Context, entityType, entityID string) (LookupResult, error) {
	result := LookupResult{EntityType: entityType, EntityID: entityID}
	switch entityType {
	case "task":
		rec, err := s.Projections.GetTask(ctx, entityID)
		if err != nil {
			return LookupResult{}, err
		}
		result.Record = rec
		for _, blockerID := range rec.BlockedBy {
			result.Related = append(result.Related, Relation{Relation: "blocked_by", EntityType: "task", EntityID: blockerID})
		}
		if rec.DedupGroupID != "" {
			members, err := s.Projections.ListTasksByDedupGroup(ctx, rec.DedupGroupID)
			if err != nil {
				return LookupResult{}, fmt.Errorf("list dedup group: %w", err)
			}
			for _, member := range members {
				if member.ID == rec.ID {
					continue
				}
				result.Related = append(result.Related, Relation{Relation: "dedup_group", EntityType: "task", EntityID: member.ID})
			}
		}
	case "note":
		rec, err := s.Projections.GetNote(ctx, entityID)
		if err != nil {
			return LookupResult{}, err
		}
		result.Record = rec
	case "track":
		rec, err := s.Projections.GetTrack(ctx, entityID)
		if err != nil {
			return LookupResult{}, err
		}
		result.Record = rec
	case "control":
		rec, err := s.Projections.GetActiveControlState(ctx)
		if err != nil {
			return LookupResult{}, err
		}
		result.Record = rec
	case "experiment":
		rec, err := s.Projections.GetExperimentRun(ctx, entityID)
		if err != nil {
			return LookupResult{}, err
		}
		result.Record = rec
	default:
		return LookupResult{}, apperrors.WithMetadata(apperrors.CodeValidation, "unrecognized entity type", map[string]string{
			"entity_type": entityType,
		})
	}
	return result, nil
}

// Timeline returns journal events touching the entity in ascending sequence
// order. Paging restarts from afterSeq.
func (s *Service) Timeline(ctx context.Context, entityType, entityID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if entityID == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "entity_id is required")
	}
	if limit <= 0 {
		limit = 100
	}

	var matched []event.Event
	err := s.scan(ctx, afterSeq, func(evt event.Event) (bool, error) {
		if eventTouches(evt, entityType, entityID) {
			matched = append(matched, evt)
		}
		return len(matched) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

// StateAt folds the journal up to the cutoff into a fresh in-memory store
// and returns the entity's reconstructed record. A zero cutoffSeq with a
// zero cutoffTime reconstructs the present.
func (s *Service) StateAt(ctx context.Context, entityType, entityID string, cutoffSeq uint64, cutoffTime time.Time) (LookupResult, error) {
	if entityID == "" {
		return LookupResult{}, apperrors.New(apperrors.CodeValidation, "entity_id is required")
	}

	snapshot := memory.New()
	applier := projection.ApplierFor(snapshot, s.DedupFanout)
	err := s.scan(ctx, 0, func(evt event.Event) (bool, error) {
		if cutoffSeq != 0 && evt.Seq > cutoffSeq {
			return false, nil
		}
		if !cutoffTime.IsZero() && evt.Timestamp.After(cutoffTime) {
			return false, nil
		}
		if err := applier.Apply(ctx, evt); err != nil {
			if stderrors.Is(err, projection.ErrUnhandledEventType) {
				return true, nil
			}
			return false, fmt.Errorf("fold event seq=%d: %w", evt.Seq, err)
		}
		return true, nil
	})
	if err != nil {
		return LookupResult{}, err
	}

	folded := &Service{Events: s.Events, Projections: snapshot, Logger: s.Logger, DedupFanout: s.DedupFanout}
	return folded.Lookup(ctx, entityType, entityID)
}

// Decision explains the most recent event that determined an entity's
// current state: who acted, why, and which control version was active.
type Decision struct {
	EventSeq       uint64    `json:"event_seq"`
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	Timestamp      time.Time `json:"timestamp"`
	ActorType      string    `json:"actor_type"`
	ActorID        string    `json:"actor_id,omitempty"`
	Rationale      string    `json:"rationale,omitempty"`
	ControlVersion uint64    `json:"control_version,omitempty"`
	ControlMode    string    `json:"control_mode,omitempty"`
}

// ExplainDecision walks the entity timeline backward to the latest decision
// event and surfaces its rationale plus the control state active at that
// time.
func (s *Service) ExplainDecision(ctx context.Context, entityType, entityID string) (Decision, error) {
	if entityID == "" {
		return Decision{}, apperrors.New(apperrors.CodeValidation, "entity_id is required")
	}

	var evt event.Event
	var found bool
	err := s.scan(ctx, 0, func(candidate event.Event) (bool, error) {
		if eventTouches(candidate, entityType, entityID) {
			evt = candidate
			found = true
		}
		return true, nil
	})
	if err != nil {
		return Decision{}, err
	}
	if !found {
		return Decision{}, apperrors.WithMetadata(apperrors.CodeNotFound, "no events reference the entity", map[string]string{
			"entity_type": entityType,
			"entity_id":   entityID,
		})
	}
	decision := Decision{
		EventSeq:  evt.Seq,
		EventID:   evt.ID,
		EventType: string(evt.Type),
		Timestamp: evt.Timestamp,
		ActorType: string(evt.ActorType),
		ActorID:   evt.ActorID,
		Rationale: payloadRationale(evt),
	}
	state, err := s.Projections.GetControlStateAt(ctx, evt.Timestamp)
	if err == nil {
		decision.ControlVersion = state.Version
		decision.ControlMode = string(state.Mode)
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return Decision{}, fmt.Errorf("resolve control state: %w", err)
	}
	return decision, nil
}

// scan pages forward through the journal, calling fn per event until fn
// returns false or the journal is exhausted.
func (s *Service) scan(ctx context.Context, afterSeq uint64, fn func(evt event.Event) (bool, error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		events, err := s.Events.ListEvents(ctx, afterSeq, scanPageSize)
		if err != nil {
			return fmt.Errorf("list events after seq %d: %w", afterSeq, err)
		}
		if len(events) == 0 {
			return nil
		}
		for _, evt := range events {
			keep, err := fn(evt)
			if err != nil {
				return err
			}
			if !keep {
				return nil
			}
			afterSeq = evt.Seq
		}
	}
}

// eventTouches reports whether an event references the entity by envelope
// address, causal ref, or payload mention.
func eventTouches(evt event.Event, entityType, entityID string) bool {
	if evt.EntityID == entityID && (entityType == "" || evt.EntityType == entityType) {
		return true
	}
	for _, ref := range evt.CausalRefs {
		if ref == entityID {
			return true
		}
	}
	return bytes.Contains(evt.PayloadJSON, []byte(`"`+entityID+`"`))
}

func payloadRationale(evt event.Event) string {
	var payload struct {
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return ""
	}
	return payload.Rationale
}
