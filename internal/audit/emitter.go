package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-erp/accesscore/internal/shared"
)

// DefaultBuffer is the number of entries queued before Emit starts dropping.
const DefaultBuffer = 1024

// Outcomes reported to an Observer.
const (
	OutcomeRecorded = "recorded"
	OutcomeFailed   = "failed"
	OutcomeDropped  = "dropped"
)

// Recorder persists one audit entry. shared.AuditLogger satisfies it.
type Recorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer counts emitter outcomes.
type Observer interface {
	ObserveAudit(outcome string)
}

// Emitter decouples audit writes from the operations they describe. Emit
// never blocks and never fails; a single goroutine persists the queue.
type Emitter struct {
	recorder     Recorder
	now          shared.Clock
	logger       *slog.Logger
	observer     Observer
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan shared.AuditLog
	done   chan struct{}
}

// NewEmitter starts the drain goroutine. Call Close to flush and stop it.
func NewEmitter(recorder Recorder, buffer int, clock shared.Clock, logger *slog.Logger, observer Observer) *Emitter {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		recorder:     recorder,
		now:          clock.OrSystem(),
		logger:       logger,
		observer:     observer,
		writeTimeout: 5 * time.Second,
		queue:        make(chan shared.AuditLog, buffer),
		done:         make(chan struct{}),
	}
	go e.drain()
	return e
}

// Emit stamps the entry and queues it. A full queue or a closed emitter
// drops the entry with a warning.
func (e *Emitter) Emit(entry shared.AuditLog) {
	if entry.At.IsZero() {
		entry.At = e.now()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped(entry, "emitter closed")
		return
	}
	select {
	case e.queue <- entry:
	default:
		e.dropped(entry, "buffer full")
	}
}

// Close stops accepting entries and waits until the queue is flushed or ctx
// is done.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) drain() {
	defer close(e.done)
	for entry := range e.queue {
		e.write(entry)
	}
}

func (e *Emitter) write(entry shared.AuditLog) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("audit recorder panic", slog.Any("panic", r), slog.String("action", entry.Action))
			e.observe(OutcomeFailed)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
	defer cancel()
	if err := e.recorder.Record(ctx, entry); err != nil {
		level := slog.LevelError
		if errors.Is(err, context.DeadlineExceeded) {
			level = slog.LevelWarn
		}
		e.logger.Log(ctx, level, "audit record failed",
			slog.String("action", entry.Action),
			slog.String("table", entry.Table),
			slog.String("record_id", entry.RecordID),
			slog.Any("error", err))
		e.observe(OutcomeFailed)
		return
	}
	e.observe(OutcomeRecorded)
}

func (e *Emitter) dropped(entry shared.AuditLog, reason string) {
	e.logger.Warn("audit entry dropped",
		slog.String("reason", reason),
		slog.String("action", entry.Action),
		slog.String("table", entry.Table),
		slog.String("record_id", entry.RecordID))
	e.observe(OutcomeDropped)
}

func (e *Emitter) observe(outcome string) {
	if e.observer != nil {
		e.observer.ObserveAudit(outcome)
	}
}
