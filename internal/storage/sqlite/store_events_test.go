package sqlite

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/example/minder/internal/domain/event"
	apperrors "github.com/example/minder/internal/platform/errors"
	"github.com/example/minder/internal/storage"
)

func TestAppendEventAssignsSequenceAndChain(t *testing.T) {
	store := openTestEventStore(t)

	first := appendTestIngest(t, store, "t1", "ref-1")
	if first.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", first.Seq)
	}
	if first.PrevHash != "" {
		t.Fatalf("expected empty prev hash, got %q", first.PrevHash)
	}
	if first.Hash == "" || first.ChainHash == "" {
		t.Fatal("expected hashes to be set")
	}
	if first.ID == "" {
		t.Fatal("expected event id to be assigned")
	}

	second := appendTestIngest(t, store, "t2", "ref-2")
	if second.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", second.Seq)
	}
	if second.PrevHash != first.ChainHash {
		t.Fatal("expected second event to link to first chain hash")
	}
}

func TestAppendEventRejectsInvalidPayload(t *testing.T) {
	store := openTestEventStore(t)

	_, err := store.AppendEvent(context.Background(), event.Event{
		Type:        event.TypeTaskIngested,
		ActorType:   event.ActorTypeUser,
		EntityType:  "task",
		EntityID:    "t1",
		PayloadJSON: []byte(`{"source":"api"}`),
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !stderrors.Is(err, apperrors.New(apperrors.CodeValidation, "")) {
		t.Fatalf("expected validation error, got %v", err)
	}

	seq, err := store.LatestEventSeq(context.Background())
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected no events after rejected append, got seq %d", seq)
	}
}

func TestAppendEventConcurrentWriters(t *testing.T) {
	store := openTestEventStore(t)

	const writers = 8
	const perWriter = 5

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				payload, err := json.Marshal(event.TaskIngestedPayload{
					Title:     "Review contract",
					Source:    "api",
					SourceRef: fmt.Sprintf("ref-%d-%d", w, i),
					Rationale: "ingested from api",
				})
				if err != nil {
					errs <- err
					return
				}
				if _, err := store.AppendEvent(context.Background(), event.Event{
					Type:        event.TypeTaskIngested,
					ActorType:   event.ActorTypeUser,
					EntityType:  "task",
					EntityID:    fmt.Sprintf("t-%d-%d", w, i),
					PayloadJSON: payload,
				}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent append: %v", err)
	}

	seq, err := store.LatestEventSeq(context.Background())
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq != writers*perWriter {
		t.Fatalf("expected %d events, got %d", writers*perWriter, seq)
	}
	if err := store.VerifyEventIntegrity(context.Background()); err != nil {
		t.Fatalf("verify integrity: %v", err)
	}
}

func TestAppendEventDuplicateIDReturnsStored(t *testing.T) {
	store := openTestEventStore(t)

	first := appendTestIngest(t, store, "t1", "ref-1")

	again, err := store.AppendEvent(context.Background(), event.Event{
		ID:         first.ID,
		Type:       event.TypeTaskIngested,
		ActorType:  event.ActorTypeUser,
		EntityType: "task",
		EntityID:   "t1",
		PayloadJSON: mustMarshal(t, event.TaskIngestedPayload{
			Title:     "Review contract",
			Source:    "api",
			SourceRef: "ref-1",
			Rationale: "retry",
		}),
	})
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if again.Seq != first.Seq {
		t.Fatalf("expected stored event back, got seq %d", again.Seq)
	}

	seq, err := store.LatestEventSeq(context.Background())
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected single event, got seq %d", seq)
	}
}

func TestListEventsPagesInOrder(t *testing.T) {
	store := openTestEventStore(t)

	for i := 0; i < 5; i++ {
		appendTestIngest(t, store, "t1", "ref-"+string(rune('a'+i)))
	}

	page, err := store.ListEvents(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 events, got %d", len(page))
	}
	if page[0].Seq != 3 || page[1].Seq != 4 {
		t.Fatalf("expected seqs 3,4 got %d,%d", page[0].Seq, page[1].Seq)
	}
}

func TestGetEventByIDAndSeq(t *testing.T) {
	store := openTestEventStore(t)
	stored := appendTestIngest(t, store, "t1", "ref-1")

	byID, err := store.GetEventByID(context.Background(), stored.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.Seq != stored.Seq {
		t.Fatalf("expected seq %d, got %d", stored.Seq, byID.Seq)
	}

	bySeq, err := store.GetEventBySeq(context.Background(), stored.Seq)
	if err != nil {
		t.Fatalf("get by seq: %v", err)
	}
	if bySeq.ID != stored.ID {
		t.Fatalf("expected id %s, got %s", stored.ID, bySeq.ID)
	}

	if _, err := store.GetEventByID(context.Background(), "missing"); !stderrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestVerifyEventIntegrity(t *testing.T) {
	store := openTestEventStore(t)
	for i := 0; i < 3; i++ {
		appendTestIngest(t, store, "t1", "ref-"+string(rune('a'+i)))
	}

	if err := store.VerifyEventIntegrity(context.Background()); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyEventIntegrityDetectsTampering(t *testing.T) {
	store := openTestEventStore(t)
	for i := 0; i < 3; i++ {
		appendTestIngest(t, store, "t1", "ref-"+string(rune('a'+i)))
	}

	if _, err := store.sqlDB.Exec("UPDATE events SET payload_json = ? WHERE seq = 2", []byte(`{"title":"tampered"}`)); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if err := store.VerifyEventIntegrity(context.Background()); err == nil {
		t.Fatal("expected integrity failure after tampering")
	}
}
