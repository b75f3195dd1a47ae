package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// JournalStore is where the journal writer flushes to.
type JournalStore interface {
	InsertHandoffs(ctx context.Context, recs []HandoffRecord) error
	InsertUndeliverable(ctx context.Context, recs []UndeliverableRecord) error
}

// Journal buffers records from the tick goroutine and writes them in the
// background. Recording never blocks; a full queue drops the record.
type Journal struct {
	store    JournalStore
	log      *zap.Logger
	interval time.Duration

	handoffs      chan HandoffRecord
	undeliverable chan UndeliverableRecord

	dropped atomic.Uint64
	written atomic.Uint64
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

func NewJournal(store JournalStore, queue int, interval time.Duration, log *zap.Logger) *Journal {
	if queue <= 0 {
		queue = 1024
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Journal{
		store:         store,
		log:           log,
		interval:      interval,
		handoffs:      make(chan HandoffRecord, queue),
		undeliverable: make(chan UndeliverableRecord, queue),
	}
}

func (j *Journal) RecordHandoff(h HandoffRecord) {
	select {
	case j.handoffs <- h:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) RecordUndeliverable(u UndeliverableRecord) {
	select {
	case j.undeliverable <- u:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) Dropped() uint64 { return j.dropped.Load() }
func (j *Journal) Written() uint64 { return j.written.Load() }

// Start launches the flush goroutine.
func (j *Journal) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.done.Add(1)
	go j.run(ctx)
}

// Stop flushes what is queued and waits for the writer.
func (j *Journal) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	j.done.Wait()
}

func (j *Journal) run(ctx context.Context) {
	defer j.done.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.Flush(ctx)
		case <-ctx.Done():
			// final flush on a fresh context: the run context is gone
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			j.Flush(flushCtx)
			cancel()
			return
		}
	}
}

// Flush drains both queues into the store.
func (j *Journal) Flush(ctx context.Context) {
	var hs []HandoffRecord
	for len(j.handoffs) > 0 {
		hs = append(hs, <-j.handoffs)
	}
	var us []UndeliverableRecord
	for len(j.undeliverable) > 0 {
		us = append(us, <-j.undeliverable)
	}
	if len(hs) > 0 {
		if err := j.store.InsertHandoffs(ctx, hs); err != nil {
			j.dropped.Add(uint64(len(hs)))
			j.log.Error("交接日誌寫入失敗", zap.Int("count", len(hs)), zap.Error(err))
		} else {
			j.written.Add(uint64(len(hs)))
		}
	}
	if len(us) > 0 {
		if err := j.store.InsertUndeliverable(ctx, us); err != nil {
			j.dropped.Add(uint64(len(us)))
			j.log.Error("無法投遞日誌寫入失敗", zap.Int("count", len(us)), zap.Error(err))
		} else {
			j.written.Add(uint64(len(us)))
		}
	}
}
