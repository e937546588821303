package db

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	writerBatchSize = 50
	writerFlush     = 500 * time.Millisecond
)

// RaceStore is the write side of DB.
type RaceStore interface {
	BatchRecordRaces(ctx context.Context, recs []RaceRecord) error
}

// Writer batches race records onto a RaceStore from a background loop.
type Writer struct {
	store  RaceStore
	buffer chan RaceRecord
	logger *zap.Logger
}

func NewWriter(store RaceStore, size int, l *zap.Logger) *Writer {
	if l == nil {
		l = zap.NewNop()
	}
	return &Writer{
		store:  store,
		buffer: make(chan RaceRecord, size),
		logger: l,
	}
}

// Enqueue queues rec without blocking. It reports false when the buffer is
// full and rec was dropped.
func (w *Writer) Enqueue(rec RaceRecord) bool {
	select {
	case w.buffer <- rec:
		return true
	default:
		w.logger.Warn("race record dropped, writer buffer full", zap.String("room", rec.RoomID))
		return false
	}
}

// Run writes queued records until ctx is done, then flushes what is left.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(writerFlush)
	defer ticker.Stop()

	batch := make([]RaceRecord, 0, writerBatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.store.BatchRecordRaces(ctx, batch); err != nil {
			w.logger.Error("batch record races", zap.Int("races", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-w.buffer:
			batch = append(batch, rec)
			if len(batch) >= writerBatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			for {
				select {
				case rec := <-w.buffer:
					batch = append(batch, rec)
				default:
					drain, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					flush(drain)
					cancel()
					return
				}
			}
		}
	}
}
