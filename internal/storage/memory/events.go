package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/minder/internal/domain/event"
	"github.com/example/minder/internal/platform/id"
	"github.com/example/minder/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu       sync.RWMutex
	events   []event.Event
	registry *event.Registry
}

// NewEventStore returns an empty in-memory event journal.
func NewEventStore(registry *event.Registry) *EventStore {
	return &EventStore{registry: registry}
}

func (s *EventStore) AppendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s.registry == nil {
		return event.Event{}, fmt.Errorf("event registry is required")
	}

	validated, err := s.registry.ValidateForAppend(evt)
	if err != nil {
		return event.Event{}, err
	}
	evt = validated

	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.ID == "" {
		eventID, err := id.NewID()
		if err != nil {
			return event.Event{}, fmt.Errorf("generate event id: %w", err)
		}
		evt.ID = eventID
	} else {
		for _, stored := range s.events {
			if stored.ID == evt.ID {
				return stored, nil
			}
		}
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)

	evt.Seq = uint64(len(s.events)) + 1
	hash, err := event.EventHash(evt)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute event hash: %w", err)
	}
	evt.Hash = hash

	prevChainHash := ""
	if len(s.events) > 0 {
		prevChainHash = s.events[len(s.events)-1].ChainHash
	}
	chainHash, err := event.ChainHash(evt, prevChainHash)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute chain hash: %w", err)
	}
	evt.PrevHash = prevChainHash
	evt.ChainHash = chainHash

	s.events = append(s.events, evt)
	return evt, nil
}

func (s *EventStore) GetEventByID(ctx context.Context, eventID string) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, evt := range s.events {
		if evt.ID == eventID {
			return evt, nil
		}
	}
	return event.Event{}, storage.ErrNotFound
}

func (s *EventStore) GetEventBySeq(ctx context.Context, seq uint64) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq == 0 || seq > uint64(len(s.events)) {
		return event.Event{}, storage.ErrNotFound
	}
	return s.events[seq-1], nil
}

func (s *EventStore) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if afterSeq >= uint64(len(s.events)) {
		return nil, nil
	}
	end := afterSeq + uint64(limit)
	if end > uint64(len(s.events)) {
		end = uint64(len(s.events))
	}
	return append([]event.Event(nil), s.events[afterSeq:end]...), nil
}

func (s *EventStore) LatestEventSeq(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events)), nil
}

func (s *EventStore) VerifyEventIntegrity(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	prevChainHash := ""
	for i, evt := range s.events {
		if evt.Seq != uint64(i)+1 {
			return fmt.Errorf("event sequence gap expected=%d got=%d", i+1, evt.Seq)
		}
		if evt.PrevHash != prevChainHash {
			return fmt.Errorf("prev hash mismatch seq=%d", evt.Seq)
		}
		hash, err := event.EventHash(evt)
		if err != nil {
			return fmt.Errorf("compute event hash seq=%d: %w", evt.Seq, err)
		}
		if hash != evt.Hash {
			return fmt.Errorf("event hash mismatch seq=%d", evt.Seq)
		}
		chainHash, err := event.ChainHash(evt, prevChainHash)
		if err != nil {
			return fmt.Errorf("compute chain hash seq=%d: %w", evt.Seq, err)
		}
		if chainHash != evt.ChainHash {
			return fmt.Errorf("chain hash mismatch seq=%d", evt.Seq)
		}
		prevChainHash = evt.ChainHash
	}
	return nil
}

func (s *EventStore) Close() error { return nil }
