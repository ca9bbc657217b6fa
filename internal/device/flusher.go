package device

import (
	"context"
	"sync"
	"time"
)

// flushTimeout bounds one write-behind store call.
const flushTimeout = 10 * time.Second

// FlushStore is the bulk persistence surface the Flusher writes into.
// *Repository satisfies it.
type FlushStore interface {
	SaveCommands(ctx context.Context, recs []CommandRecord) error
	SaveStatuses(ctx context.Context, recs []StatusRecord) error
}

// Flusher is the write-behind persistence queue for command and status
// records.
//
// Records accumulate in memory and are written in batches, triggered by
// a ticker or by the queue reaching the batch size. Writes are
// best-effort: a failed batch is logged and retried on the next flush
// window, and persistence never blocks or fails the logical lifecycle.
//
// Thread Safety: all methods are safe for concurrent use.
type Flusher struct {
	store     FlushStore
	logger    Logger
	interval  time.Duration
	batchSize int

	// onCommandsFlushed, when set, receives the request ids of each
	// successfully written command batch (used to mark in-memory
	// requests as persisted).
	onCommandsFlushed func(requestIDs []string)

	mu          sync.Mutex
	cmdQueue    []CommandRecord
	cmdIndex    map[string]int
	statusQueue []StatusRecord

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewFlusher creates a write-behind queue.
//
// Parameters:
//   - store: Bulk persistence target
//   - interval: Flush ticker period
//   - batchSize: Queue size that triggers an early flush
//   - logger: Logger for flush failures (nil for none)
func NewFlusher(store FlushStore, interval time.Duration, batchSize int, logger Logger) *Flusher {
	if logger == nil {
		logger = noopLogger{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Flusher{
		store:     store,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		cmdIndex:  make(map[string]int),
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetOnCommandsFlushed installs the persisted-bookkeeping callback.
// Call before Start.
func (f *Flusher) SetOnCommandsFlushed(fn func(requestIDs []string)) {
	f.onCommandsFlushed = fn
}

// Start launches the background flush loop.
func (f *Flusher) Start() {
	go f.run()
}

// run is the flush loop; it exits after a final drain when Close is
// called.
func (f *Flusher) run() {
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.Flush()
		case <-f.kick:
			f.Flush()
		case <-f.stop:
			f.Flush()
			return
		}
	}
}

// EnqueueCommand queues a command record. A record for a request id
// already queued replaces the stale one, so only the latest lifecycle
// state is written.
func (f *Flusher) EnqueueCommand(rec CommandRecord) {
	f.mu.Lock()
	if i, ok := f.cmdIndex[rec.RequestID]; ok {
		f.cmdQueue[i] = rec
		f.mu.Unlock()
		return
	}
	f.cmdIndex[rec.RequestID] = len(f.cmdQueue)
	f.cmdQueue = append(f.cmdQueue, rec)
	full := len(f.cmdQueue) >= f.batchSize
	f.mu.Unlock()

	if full {
		f.kickFlush()
	}
}

// EnqueueStatus queues a status record.
func (f *Flusher) EnqueueStatus(rec StatusRecord) {
	f.mu.Lock()
	f.statusQueue = append(f.statusQueue, rec)
	full := len(f.statusQueue) >= f.batchSize
	f.mu.Unlock()

	if full {
		f.kickFlush()
	}
}

// kickFlush nudges the flush loop without blocking.
func (f *Flusher) kickFlush() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Flush writes both queues immediately.
//
// Failed batches are requeued ahead of newer records and retried on the
// next window.
func (f *Flusher) Flush() {
	f.mu.Lock()
	cmds := f.cmdQueue
	statuses := f.statusQueue
	f.cmdQueue = nil
	f.cmdIndex = make(map[string]int)
	f.statusQueue = nil
	f.mu.Unlock()

	if f.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if len(cmds) > 0 {
		if err := f.store.SaveCommands(ctx, cmds); err != nil {
			f.logger.Warn("command flush failed, will retry", "count", len(cmds), "error", err)
			f.requeueCommands(cmds)
		} else if f.onCommandsFlushed != nil {
			ids := make([]string, len(cmds))
			for i, rec := range cmds {
				ids[i] = rec.RequestID
			}
			f.onCommandsFlushed(ids)
		}
	}

	if len(statuses) > 0 {
		if err := f.store.SaveStatuses(ctx, statuses); err != nil {
			f.logger.Warn("status flush failed, will retry", "count", len(statuses), "error", err)
			f.mu.Lock()
			f.statusQueue = append(statuses, f.statusQueue...)
			f.mu.Unlock()
		}
	}
}

// requeueCommands puts a failed batch back, honoring newer records that
// arrived while the flush ran.
func (f *Flusher) requeueCommands(cmds []CommandRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()

	merged := make([]CommandRecord, 0, len(cmds)+len(f.cmdQueue))
	index := make(map[string]int, len(cmds)+len(f.cmdQueue))
	for _, rec := range cmds {
		if _, dup := f.cmdIndex[rec.RequestID]; dup {
			continue // a newer record for this request is already queued
		}
		index[rec.RequestID] = len(merged)
		merged = append(merged, rec)
	}
	for _, rec := range f.cmdQueue {
		index[rec.RequestID] = len(merged)
		merged = append(merged, rec)
	}
	f.cmdQueue = merged
	f.cmdIndex = index
}

// Pending returns the queued record counts, for tests and diagnostics.
func (f *Flusher) Pending() (commands, statuses int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cmdQueue), len(f.statusQueue)
}

// Close drains the queues and stops the flush loop.
func (f *Flusher) Close() {
	close(f.stop)
	<-f.done
}
