package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// hashEnvelope is the canonical field set folded into content hashes.
// Field ordering is defined here once so storage and verification cannot drift.
type hashEnvelope struct {
	ID          string   `json:"id"`
	Timestamp   int64    `json:"timestamp"`
	Type        string   `json:"type"`
	ActorType   string   `json:"actor_type"`
	ActorID     string   `json:"actor_id,omitempty"`
	EntityType  string   `json:"entity_type,omitempty"`
	EntityID    string   `json:"entity_id,omitempty"`
	CausalRefs  []string `json:"causal_refs,omitempty"`
	PayloadJSON string   `json:"payload_json,omitempty"`
}

// EventHash computes the content hash for a single event.
//
// The hash is the SHA-256 of the canonical envelope truncated to 128 bits,
// hex encoded. Seq and chain fields are excluded so the hash is stable
// before storage assigns them.
func EventHash(evt Event) (string, error) {
	env := hashEnvelope{
		ID:          evt.ID,
		Timestamp:   evt.Timestamp.UTC().UnixMilli(),
		Type:        string(evt.Type),
		ActorType:   string(evt.ActorType),
		ActorID:     evt.ActorID,
		EntityType:  evt.EntityType,
		EntityID:    evt.EntityID,
		CausalRefs:  evt.CausalRefs,
		PayloadJSON: string(evt.PayloadJSON),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal hash envelope: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}

// ChainHash computes the hash linking an event to its predecessor.
//
// Requires the event hash to be set. The first event in the log links to an
// empty previous hash.
func ChainHash(evt Event, prevHash string) (string, error) {
	if strings.TrimSpace(evt.Hash) == "" {
		return "", fmt.Errorf("event hash is required")
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", prevHash, evt.Seq, evt.Hash)))
	return hex.EncodeToString(sum[:16]), nil
}
