package explorer

import (
	"context"
	"sort"
	"time"

	"github.com/example/minder/internal/domain/event"
)

// TypeCount is an event count for one type within the insights window.
type TypeCount struct {
	EventType string `json:"event_type"`
	Count     int    `json:"count"`
}

// DecisionSummary is a recent rationale surfaced by insights.
type DecisionSummary struct {
	EventSeq   uint64    `json:"event_seq"`
	EventType  string    `json:"event_type"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Timestamp  time.Time `json:"timestamp"`
	ActorType  string    `json:"actor_type"`
	ActorID    string    `json:"actor_id,omitempty"`
	Rationale  string    `json:"rationale"`
}

// Insights summarizes journal activity over a trailing window.
type Insights struct {
	WindowDays      int               `json:"window_days"`
	TotalEvents     int               `json:"total_events"`
	EventCounts     []TypeCount       `json:"event_counts"`
	RecentDecisions []DecisionSummary `json:"recent_decisions"`
}

// GetInsights counts events per type over the last `days` days and returns
// the most recent `limit` recorded rationales.
func (s *Service) GetInsights(ctx context.Context, days, limit int) (Insights, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = 10
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	counts := make(map[string]int)
	total := 0
	var decisions []DecisionSummary
	err := s.scan(ctx, 0, func(evt event.Event) (bool, error) {
		if evt.Timestamp.Before(cutoff) {
			return true, nil
		}
		total++
		counts[string(evt.Type)]++
		if rationale := payloadRationale(evt); rationale != "" {
			decisions = append(decisions, DecisionSummary{
				EventSeq:   evt.Seq,
				EventType:  string(evt.Type),
				EntityType: evt.EntityType,
				EntityID:   evt.EntityID,
				Timestamp:  evt.Timestamp,
				ActorType:  string(evt.ActorType),
				ActorID:    evt.ActorID,
				Rationale:  rationale,
			})
			if len(decisions) > limit {
				decisions = decisions[1:]
			}
		}
		return true, nil
	})
	if err != nil {
		return Insights{}, err
	}

	typeCounts := make([]TypeCount, 0, len(counts))
	for eventType, count := range counts {
		typeCounts = append(typeCounts, TypeCount{EventType: eventType, Count: count})
	}
	sort.Slice(typeCounts, func(i, j int) bool {
		if typeCounts[i].Count != typeCounts[j].Count {
			return typeCounts[i].Count > typeCounts[j].Count
		}
		return typeCounts[i].EventType < typeCounts[j].EventType
	})

	// Newest first.
	for i, j := 0, len(decisions)-1; i < j; i, j = i+1, j-1 {
		decisions[i], decisions[j] = decisions[j], decisions[i]
	}
	return Insights{
		WindowDays:      days,
		TotalEvents:     total,
		EventCounts:     typeCounts,
		RecentDecisions: decisions,
	}, nil
}
