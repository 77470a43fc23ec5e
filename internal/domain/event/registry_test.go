package event

import (
	stderrors "errors"
	"testing"

	"github.com/example/minder/internal/platform/errors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func TestRegistryValidateForAppend_AcceptsValidIngest(t *testing.T) {
	registry := newTestRegistry(t)

	evt := Event{
		Type:        TypeTaskIngested,
		ActorType:   ActorTypeUser,
		EntityType:  "task",
		EntityID:    "t1",
		PayloadJSON: []byte(`{"title":"Review contract","source":"api","source_ref":"abc-1","rationale":"ingested"}`),
	}
	if _, err := registry.ValidateForAppend(evt); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRegistryValidateForAppend_RejectsUnknownType(t *testing.T) {
	registry := newTestRegistry(t)

	evt := Event{
		Type:        Type("task.exploded"),
		ActorType:   ActorTypeUser,
		EntityType:  "task",
		EntityID:    "t1",
		PayloadJSON: []byte(`{}`),
	}
	_, err := registry.ValidateForAppend(evt)
	if err == nil {
		t.Fatal("expected error")
	}
	if !stderrors.Is(err, errors.New(errors.CodeValidation, "")) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegistryValidateForAppend_RejectsSchemaViolation(t *testing.T) {
	registry := newTestRegistry(t)

	tests := []struct {
		name    string
		typ     Type
		payload string
	}{
		{"missing title", TypeTaskIngested, `{"source":"api","source_ref":"r1","rationale":"x"}`},
		{"bad priority", TypeTaskIngested, `{"title":"t","source":"api","source_ref":"r1","priority":"p9","rationale":"x"}`},
		{"bad status", TypeTaskStatusChanged, `{"from_status":"open","to_status":"exploded","rationale":"x"}`},
		{"threshold above one", TypeControlChanged, `{"version":1,"mode":"shadow","shadow_confidence_threshold":1.5,"actor":"u","rationale":"x"}`},
		{"bad mode", TypeControlChanged, `{"version":1,"mode":"chaotic","shadow_confidence_threshold":0.5,"actor":"u","rationale":"x"}`},
		{"not json", TypeTaskCompleted, `{"rationale":`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			evt := Event{
				Type:        tc.typ,
				ActorType:   ActorTypeUser,
				EntityType:  "task",
				EntityID:    "t1",
				PayloadJSON: []byte(tc.payload),
			}
			_, err := registry.ValidateForAppend(evt)
			if err == nil {
				t.Fatal("expected error")
			}
			if !stderrors.Is(err, errors.New(errors.CodeValidation, "")) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegistryValidateForAppend_RequiresEntityAddressing(t *testing.T) {
	registry := newTestRegistry(t)

	evt := Event{
		Type:        TypeTaskCompleted,
		ActorType:   ActorTypeUser,
		PayloadJSON: []byte(`{"rationale":"done"}`),
	}
	if _, err := registry.ValidateForAppend(evt); err == nil {
		t.Fatal("expected error without entity addressing")
	}

	evt.EntityType = "task"
	if _, err := registry.ValidateForAppend(evt); err == nil {
		t.Fatal("expected error without entity id")
	}

	evt.EntityID = "t1"
	if _, err := registry.ValidateForAppend(evt); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRegistryKnownType(t *testing.T) {
	registry := newTestRegistry(t)

	if !registry.KnownType(TypeNoteRecorded) {
		t.Fatal("expected note.recorded to be known")
	}
	if registry.KnownType(Type("reminder.sent")) {
		t.Fatal("expected reminder.sent to be unknown")
	}
}

func TestTypeDomain(t *testing.T) {
	if got := TypeTaskIngested.Domain(); got != "task" {
		t.Fatalf("expected task domain, got %q", got)
	}
	if got := TypeControlChanged.Domain(); got != "control" {
		t.Fatalf("expected control domain, got %q", got)
	}
}
