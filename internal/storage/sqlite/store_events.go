package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitelib "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/example/minder/internal/domain/event"
	"github.com/example/minder/internal/platform/id"
	"github.com/example/minder/internal/storage"
)

const eventColumns = "seq, event_id, event_type, timestamp, actor_type, actor_id, entity_type, entity_id, causal_refs, payload_json, event_hash, prev_event_hash, chain_hash"

// AppendEvent atomically appends an event and returns it with sequence and hashes set.
//
// Appending the same event id twice returns the stored event unchanged, so
// retried appends are idempotent.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}
	if s.eventRegistry == nil {
		return event.Event{}, fmt.Errorf("event registry is required")
	}

	validated, err := s.eventRegistry.ValidateForAppend(evt)
	if err != nil {
		return event.Event{}, err
	}
	evt = validated

	if strings.TrimSpace(evt.ID) == "" {
		eventID, err := id.NewID()
		if err != nil {
			return event.Event{}, fmt.Errorf("generate event id: %w", err)
		}
		evt.ID = eventID
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var lastSeq int64
	var prevChainHash string
	row := tx.QueryRowContext(ctx, "SELECT seq, chain_hash FROM events ORDER BY seq DESC LIMIT 1")
	if err := row.Scan(&lastSeq, &prevChainHash); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, fmt.Errorf("load last event: %w", err)
	}
	evt.Seq = uint64(lastSeq) + 1

	hash, err := event.EventHash(evt)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute event hash: %w", err)
	}
	evt.Hash = hash

	chainHash, err := event.ChainHash(evt, prevChainHash)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute chain hash: %w", err)
	}
	evt.PrevHash = prevChainHash
	evt.ChainHash = chainHash

	causalRefs, err := json.Marshal(refsOrEmpty(evt.CausalRefs))
	if err != nil {
		return event.Event{}, fmt.Errorf("marshal causal refs: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (seq, event_id, event_type, timestamp, actor_type, actor_id, entity_type, entity_id, causal_refs, payload_json, event_hash, prev_event_hash, chain_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(evt.Seq),
		evt.ID,
		string(evt.Type),
		toMillis(evt.Timestamp),
		string(evt.ActorType),
		evt.ActorID,
		evt.EntityType,
		evt.EntityID,
		string(causalRefs),
		evt.PayloadJSON,
		evt.Hash,
		evt.PrevHash,
		evt.ChainHash,
	); err != nil {
		if isConstraintError(err) {
			stored, lookupErr := s.GetEventByID(ctx, evt.ID)
			if lookupErr == nil {
				return stored, nil
			}
		}
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("commit: %w", err)
	}

	return evt, nil
}

// GetEventByID retrieves an event by its unique identifier.
func (s *Store) GetEventByID(ctx context.Context, eventID string) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(eventID) == "" {
		return event.Event{}, fmt.Errorf("event id is required")
	}

	row := s.q.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM events WHERE event_id = ?", eventID)
	return scanEvent(row)
}

// GetEventBySeq retrieves a specific event by sequence number.
func (s *Store) GetEventBySeq(ctx context.Context, seq uint64) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}

	row := s.q.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM events WHERE seq = ?", int64(seq))
	return scanEvent(row)
}

// ListEvents returns events with seq > afterSeq ordered by sequence ascending.
func (s *Store) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.q.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE seq > ? ORDER BY seq ASC LIMIT ?",
		int64(afterSeq), int64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		evt, err := scanEventRows(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LatestEventSeq returns the highest sequence number in the journal.
func (s *Store) LatestEventSeq(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var seq int64
	row := s.q.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM events")
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("get latest event seq: %w", err)
	}
	return uint64(seq), nil
}

// VerifyEventIntegrity walks the full log and checks sequence continuity and
// the hash chain.
func (s *Store) VerifyEventIntegrity(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	var lastSeq uint64
	prevChainHash := ""
	for {
		events, err := s.ListEvents(ctx, lastSeq, 200)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		for _, evt := range events {
			if evt.Seq != lastSeq+1 {
				return fmt.Errorf("event sequence gap expected=%d got=%d", lastSeq+1, evt.Seq)
			}
			if evt.Seq == 1 && evt.PrevHash != "" {
				return fmt.Errorf("first event prev hash must be empty")
			}
			if evt.Seq > 1 && evt.PrevHash != prevChainHash {
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
			lastSeq = evt.Seq
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row *sql.Row) (event.Event, error) {
	evt, err := scanEventFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, storage.ErrNotFound
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("get event: %w", err)
	}
	return evt, nil
}

func scanEventRows(rows *sql.Rows) (event.Event, error) {
	evt, err := scanEventFrom(rows)
	if err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}
	return evt, nil
}

func scanEventFrom(scanner rowScanner) (event.Event, error) {
	var evt event.Event
	var seq int64
	var timestampMillis int64
	var eventType, actorType, causalRefs string
	if err := scanner.Scan(
		&seq,
		&evt.ID,
		&eventType,
		&timestampMillis,
		&actorType,
		&evt.ActorID,
		&evt.EntityType,
		&evt.EntityID,
		&causalRefs,
		&evt.PayloadJSON,
		&evt.Hash,
		&evt.PrevHash,
		&evt.ChainHash,
	); err != nil {
		return event.Event{}, err
	}
	evt.Seq = uint64(seq)
	evt.Type = event.Type(eventType)
	evt.ActorType = event.ActorType(actorType)
	evt.Timestamp = fromMillis(timestampMillis)
	if err := json.Unmarshal([]byte(causalRefs), &evt.CausalRefs); err != nil {
		return event.Event{}, fmt.Errorf("unmarshal causal refs: %w", err)
	}
	return evt, nil
}

func refsOrEmpty(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlitelib.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
