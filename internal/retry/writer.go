// Package retry wraps single-task execution with sequential fallback
// across ranked agents, and provides the hybrid sync persistence path
// used to record what it learns.
package retry

import (
	"context"
	"sync"
	"time"

	"github.com/harrison/helmsman/internal/config"
	"github.com/harrison/helmsman/internal/logger"
)

// RecordKind tags a persistence record for the sink.
type RecordKind string

const (
	RecordFailure       RecordKind = "failure"
	RecordFallbackChain RecordKind = "fallback_chain"
	RecordPattern       RecordKind = "pattern"
)

// Record is one durable write, opaque to the writer.
type Record struct {
	Kind    RecordKind
	Key     string
	Payload interface{}
	Created time.Time
}

// Sink is the durable destination for records. Implementations may
// block; the writer shields callers from that.
type Sink interface {
	Persist(ctx context.Context, rec Record) error
}

// Writer implements hybrid sync persistence: each write is first
// attempted synchronously under a short deadline, and on timeout or
// error is re-queued for asynchronous batched flushing with
// exponential-backoff retries. Callers never block beyond the
// real-time deadline.
type Writer struct {
	cfg  config.SyncConfig
	sink Sink
	log  logger.Logger

	mu      sync.Mutex
	queue   []Record
	dropped int

	stop chan struct{}
	done chan struct{}
}

// NewWriter creates a Writer and starts its flush worker. Close must be
// called to stop the worker and drain the queue. Zero or negative
// config values fall back to the packaged defaults so a partially
// filled SyncConfig still yields a working writer.
func NewWriter(cfg config.SyncConfig, sink Sink, log logger.Logger) *Writer {
	if log == nil {
		log = logger.Nop{}
	}
	if cfg.RealtimeTimeout <= 0 {
		cfg.RealtimeTimeout = 250 * time.Millisecond
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.QueueCapacity < 1 {
		cfg.QueueCapacity = 1024
	}
	w := &Writer{
		cfg:  cfg,
		sink: sink,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.flushLoop()
	return w
}

// Write attempts the record synchronously within the real-time
// deadline; on failure it is queued for the flush worker. Write never
// returns an error: persistence problems must not abort an in-flight
// execution.
func (w *Writer) Write(rec Record) {
	if w == nil || w.sink == nil {
		return
	}
	if rec.Created.IsZero() {
		rec.Created = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RealtimeTimeout)
	defer cancel()

	if err := w.persistOnce(ctx, rec); err != nil {
		w.log.Debugf("sync write %s missed deadline, queuing: %v", rec.Kind, err)
		w.enqueue(rec)
	}
}

// persistOnce races the sink call against the context deadline. A slow
// sink keeps running in its goroutine; the caller moves on.
func (w *Writer) persistOnce(ctx context.Context, rec Record) error {
	errc := make(chan error, 1)
	go func() { errc <- w.sink.Persist(ctx, rec) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue appends to the bounded queue, dropping the oldest entry when
// full.
func (w *Writer) enqueue(rec Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) >= w.cfg.QueueCapacity {
		w.queue = w.queue[1:]
		w.dropped++
		w.log.Warnf("persistence queue full (%d); dropped oldest record", w.cfg.QueueCapacity)
	}
	w.queue = append(w.queue, rec)
}

// QueueDepth returns the current backlog and total drops, for
// observability.
func (w *Writer) QueueDepth() (depth, dropped int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue), w.dropped
}

func (w *Writer) flushLoop() {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Flush()
		case <-w.stop:
			w.Flush()
			return
		}
	}
}

// Flush drains the queue and persists each record with backoff. The
// queue contents are copied and cleared first so the lock is never held
// across sink calls.
func (w *Writer) Flush() {
	w.mu.Lock()
	batch := w.queue
	w.queue = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	w.log.Debugf("flushing %d queued records", len(batch))

	for _, rec := range batch {
		if !w.persistWithBackoff(rec) {
			w.log.Errorf("record %s dropped after %d retries", rec.Kind, w.cfg.MaxRetries)
		}
	}
}

// persistWithBackoff retries a queued record with doubling backoff,
// capped at MaxRetries attempts.
func (w *Writer) persistWithBackoff(rec Record) bool {
	backoff := w.cfg.BackoffBase
	for attempt := 0; attempt < w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		if err := w.sink.Persist(context.Background(), rec); err == nil {
			return true
		} else {
			w.log.Debugf("flush attempt %d for %s failed: %v", attempt+1, rec.Kind, err)
		}
	}
	return false
}

// Close stops the flush worker after a final drain.
func (w *Writer) Close() {
	close(w.stop)
	<-w.done
}
