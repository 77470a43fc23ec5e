package projection

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/minder/internal/domain/event"
	"github.com/example/minder/internal/storage"
)

const catchUpPageSize = 200

// Projector advances the projections database to the tip of the event
// journal. Each event applies in its own transaction together with the
// watermark update, so a crash never leaves a half-applied event behind.
type Projector struct {
	Events      storage.EventStore
	Projections storage.ProjectionStore
	Logger      *slog.Logger
	DedupFanout bool
}

// CatchUp applies every journal event past the current watermark.
//
// Events without a registered handler are logged and skipped, and the
// watermark still advances past them. A handler failure on a known type
// stops the catch-up without advancing, so the next run retries the same
// event.
func (p *Projector) CatchUp(ctx context.Context) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		meta, err := p.Projections.GetProjectionMetadata(ctx)
		if err != nil {
			return fmt.Errorf("read projection watermark: %w", err)
		}
		events, err := p.Events.ListEvents(ctx, meta.LastEventSeq, catchUpPageSize)
		if err != nil {
			return fmt.Errorf("list events after seq %d: %w", meta.LastEventSeq, err)
		}
		if len(events) == 0 {
			return nil
		}
		for _, evt := range events {
			err := p.applyOne(ctx, evt)
			if stderrors.Is(err, ErrUnhandledEventType) {
				logger.Warn("skipping event with no projection handler",
					"seq", evt.Seq, "event_id", evt.ID, "type", evt.Type)
				if err := p.advanceWatermark(ctx, evt.Seq); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return fmt.Errorf("project event seq=%d type=%s: %w", evt.Seq, evt.Type, err)
			}
		}
	}
}

func (p *Projector) applyOne(ctx context.Context, evt event.Event) error {
	return p.Projections.InTx(ctx, func(tx storage.ProjectionStore) error {
		applier := ApplierFor(tx, p.DedupFanout)
		if err := applier.Apply(ctx, evt); err != nil {
			return err
		}
		return saveWatermark(ctx, tx, evt.Seq)
	})
}

func (p *Projector) advanceWatermark(ctx context.Context, seq uint64) error {
	return p.Projections.InTx(ctx, func(tx storage.ProjectionStore) error {
		return saveWatermark(ctx, tx, seq)
	})
}

func saveWatermark(ctx context.Context, tx storage.ProjectionStore, seq uint64) error {
	meta, err := tx.GetProjectionMetadata(ctx)
	if err != nil {
		return fmt.Errorf("read projection watermark: %w", err)
	}
	meta.LastEventSeq = seq
	meta.UpdatedAt = time.Now().UTC()
	if err := tx.SaveProjectionMetadata(ctx, meta); err != nil {
		return fmt.Errorf("save projection watermark: %w", err)
	}
	return nil
}
