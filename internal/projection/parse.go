package projection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/minder/internal/domain/event"
)

func decodePayload(evt event.Event, dst any) error {
	if len(evt.PayloadJSON) == 0 {
		return fmt.Errorf("event %s (%s) has an empty payload", evt.ID, evt.Type)
	}
	if err := json.Unmarshal(evt.PayloadJSON, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", evt.Type, err)
	}
	return nil
}

// millisPtr converts a payload millisecond timestamp to a time pointer,
// treating zero as unset.
func millisPtr(millis int64) *time.Time {
	if millis == 0 {
		return nil
	}
	ts := time.UnixMilli(millis).UTC()
	return &ts
}

// actorFor resolves the audit actor label for an event.
func actorFor(evt event.Event) string {
	if evt.ActorID != "" {
		return evt.ActorID
	}
	return string(evt.ActorType)
}
