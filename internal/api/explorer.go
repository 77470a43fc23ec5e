package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/example/minder/internal/domain/event"
	apperrors "github.com/example/minder/internal/platform/errors"
)

type eventResponse struct {
	Seq        uint64    `json:"seq"`
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
	ActorType  string    `json:"actor_type"`
	ActorID    string    `json:"actor_id,omitempty"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	CausalRefs []string  `json:"causal_refs,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	Hash       string    `json:"hash"`
	ChainHash  string    `json:"chain_hash"`
}

func toEventResponse(evt event.Event) eventResponse {
	out := eventResponse{
		Seq:        evt.Seq,
		ID:         evt.ID,
		Timestamp:  evt.Timestamp,
		Type:       string(evt.Type),
		ActorType:  string(evt.ActorType),
		ActorID:    evt.ActorID,
		EntityType: evt.EntityType,
		EntityID:   evt.EntityID,
		CausalRefs: evt.CausalRefs,
		Hash:       evt.Hash,
		ChainHash:  evt.ChainHash,
	}
	if len(evt.PayloadJSON) > 0 {
		out.Payload = json.RawMessage(evt.PayloadJSON)
	}
	return out
}

func entityQuery(r *http.Request) (entityType, entityID string, err error) {
	query := r.URL.Query()
	entityType = query.Get("entity_type")
	entityID = query.Get("entity_id")
	if entityType == "" || entityID == "" {
		return "", "", apperrors.New(apperrors.CodeValidation, "entity_type and entity_id are required")
	}
	return entityType, entityID, nil
}

func (s *Server) handleExplorerLookup(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, err := entityQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.Explorer.Lookup(r.Context(), entityType, entityID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExplorerTimeline(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, err := entityQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	afterSeq, _ := strconv.ParseUint(query.Get("after_seq"), 10, 64)
	events, err := s.Explorer.Timeline(r.Context(), entityType, entityID, afterSeq, intQuery(query.Get("limit")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, evt := range events {
		out = append(out, toEventResponse(evt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleExplorerState(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, err := entityQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	atSeq, _ := strconv.ParseUint(query.Get("at_seq"), 10, 64)
	var atTime time.Time
	if raw := query.Get("at"); raw != "" {
		atTime, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, apperrors.New(apperrors.CodeValidation, "at must be an RFC 3339 timestamp"))
			return
		}
	}
	result, err := s.Explorer.StateAt(r.Context(), entityType, entityID, atSeq, atTime)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExplorerDecision(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, err := entityQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	decision, err := s.Explorer.ExplainDecision(r.Context(), entityType, entityID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleExplorerInsights(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	insights, err := s.Explorer.GetInsights(r.Context(), intQuery(query.Get("days")), intQuery(query.Get("limit")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, insights)
}
