// Package audit records append-only audit entries without blocking callers.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/lily/pkg/context"
	"github.com/Ramsey-B/lily/pkg/metrics"
	"github.com/Ramsey-B/lily/pkg/models"
)

const (
	DefaultQueueSize = 1024
	sinkTimeout      = 5 * time.Second
)

// Sink is one destination for audit entries.
type Sink interface {
	Name() string
	Write(ctx context.Context, entry models.AuditEntry) error
}

// Recorder is the audit port used by the pipeline.
type Recorder interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

type queued struct {
	ctx   context.Context
	entry models.AuditEntry
}

// DeadLetters receives entries a sink failed to accept.
type DeadLetters interface {
	Add(ctx context.Context, letter *models.AuditDeadLetter) (string, error)
}

// AsyncRecorder queues entries on a bounded channel drained by one goroutine.
// A full queue drops the entry. Sink failures are logged, counted and parked
// on the dead letters when one is configured.
type AsyncRecorder struct {
	sinks       []Sink
	deadLetters DeadLetters
	logger      ectologger.Logger
	queue       chan queued
	done        chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsyncRecorder(queueSize int, logger ectologger.Logger, sinks ...Sink) *AsyncRecorder {
	return NewAsyncRecorderWithDeadLetters(queueSize, nil, logger, sinks...)
}

// NewAsyncRecorderWithDeadLetters is NewAsyncRecorder with failed deliveries
// parked on dl.
func NewAsyncRecorderWithDeadLetters(queueSize int, dl DeadLetters, logger ectologger.Logger, sinks ...Sink) *AsyncRecorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &AsyncRecorder{
		sinks:       sinks,
		deadLetters: dl,
		logger:      logger,
		queue:       make(chan queued, queueSize),
		done:        make(chan struct{}),
	}
	go r.run()
	return r
}

// Record stamps the entry with the actor, request metadata and time carried by
// ctx, then enqueues it.
func (r *AsyncRecorder) Record(ctx context.Context, entry models.AuditEntry) {
	if entry.ActorID == "" {
		entry.ActorID = appctx.GetActorID(ctx)
	}
	if entry.RequestMetadata == nil {
		entry.RequestMetadata = appctx.RequestMetadata(ctx)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.WithContext(ctx).Warnf("audit recorder closed, dropping %s entry for %s", entry.Action, entry.TableName)
		metrics.AuditEntriesDropped.Inc()
		return
	}

	select {
	case r.queue <- queued{ctx: context.WithoutCancel(ctx), entry: entry}:
	default:
		r.logger.WithContext(ctx).Warnf("audit queue full, dropping %s entry for %s", entry.Action, entry.TableName)
		metrics.AuditEntriesDropped.Inc()
	}
}

func (r *AsyncRecorder) run() {
	defer close(r.done)
	for item := range r.queue {
		for _, sink := range r.sinks {
			r.deliver(item, sink)
		}
	}
}

func (r *AsyncRecorder) deliver(item queued, sink Sink) {
	ctx, cancel := context.WithTimeout(item.ctx, sinkTimeout)
	defer cancel()

	if err := sink.Write(ctx, item.entry); err != nil {
		metrics.RecordAuditDelivery(sink.Name(), false)
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"sink":       sink.Name(),
			"action":     item.entry.Action,
			"table_name": item.entry.TableName,
			"record_id":  item.entry.RecordID,
		}).Error("failed to write audit entry")
		r.park(ctx, sink.Name(), item.entry, err)
		return
	}
	metrics.RecordAuditDelivery(sink.Name(), true)
}

func (r *AsyncRecorder) park(ctx context.Context, sink string, entry models.AuditEntry, cause error) {
	if r.deadLetters == nil {
		return
	}
	// the sink timeout may already be spent
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	letter := &models.AuditDeadLetter{Sink: sink, Entry: entry, Error: cause.Error(), Attempts: 1}
	if _, err := r.deadLetters.Add(ctx, letter); err != nil {
		metrics.AuditEntriesDropped.Inc()
		r.logger.WithContext(ctx).WithError(err).Errorf("failed to park audit entry for sink %s", sink)
		return
	}
	metrics.AuditDeadLettered.WithLabelValues(sink).Inc()
}

// Close stops accepting entries and waits for the queue to drain or ctx to end.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, models.AuditEntry) {}
