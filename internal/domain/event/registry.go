package event

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/example/minder/internal/platform/errors"
)

// Registry validates events against the declared payload schema for their type.
type Registry struct {
	schemas map[Type]*jsonschema.Schema
}

// NewRegistry compiles the payload schemas for all known event types.
func NewRegistry() (*Registry, error) {
	schemas := make(map[Type]*jsonschema.Schema, len(payloadSchemas))
	for typ, raw := range payloadSchemas {
		// Use jsonschema.UnmarshalJSON for correct number handling (json.Number).
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", typ, err)
		}
		c := jsonschema.NewCompiler()
		resource := string(typ) + ".json"
		if err := c.AddResource(resource, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", typ, err)
		}
		compiled, err := c.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", typ, err)
		}
		schemas[typ] = compiled
	}
	return &Registry{schemas: schemas}, nil
}

// KnownType reports whether the registry has a schema for the type.
func (r *Registry) KnownType(t Type) bool {
	if r == nil {
		return false
	}
	_, ok := r.schemas[t]
	return ok
}

// ValidateForAppend checks the event envelope and payload before storage
// assigns a sequence number. Returns the event unchanged on success.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	if r == nil {
		return Event{}, fmt.Errorf("event registry is required")
	}
	if !evt.Type.IsValid() {
		return Event{}, errors.New(errors.CodeValidation, "event type is required")
	}
	if strings.TrimSpace(string(evt.ActorType)) == "" {
		return Event{}, errors.New(errors.CodeValidation, "actor type is required")
	}
	if strings.TrimSpace(evt.EntityType) == "" {
		return Event{}, errors.New(errors.CodeValidation, "entity type is required")
	}
	if strings.TrimSpace(evt.EntityID) == "" {
		return Event{}, errors.New(errors.CodeValidation, "entity id is required")
	}

	schema, ok := r.schemas[evt.Type]
	if !ok {
		return Event{}, errors.WithMetadata(errors.CodeValidation, "unknown event type", map[string]string{
			"event_type": string(evt.Type),
		})
	}

	payload := evt.PayloadJSON
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(payload)))
	if err != nil {
		return Event{}, errors.Wrap(errors.CodeValidation, "payload is not valid JSON", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return Event{}, errors.WrapWithMetadata(errors.CodeValidation, "payload does not match schema", map[string]string{
			"event_type": string(evt.Type),
		}, err)
	}

	return evt, nil
}
