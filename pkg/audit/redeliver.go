package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/lily/pkg/metrics"
	"github.com/Ramsey-B/lily/pkg/models"
)

// DeadLetterStore is the parked entry store redelivery drains.
type DeadLetterStore interface {
	DeadLetters
	List(ctx context.Context, count int64) ([]models.AuditDeadLetter, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// RedeliveryReport summarises one redelivery pass.
type RedeliveryReport struct {
	Delivered int      `json:"delivered"`
	Failed    int      `json:"failed"`
	Remaining int64    `json:"remaining"`
	Errors    []string `json:"errors,omitempty"`
}

// Redeliverer writes parked entries back to the sink that rejected them.
type Redeliverer struct {
	store  DeadLetterStore
	sinks  map[string]Sink
	logger ectologger.Logger
}

func NewRedeliverer(store DeadLetterStore, logger ectologger.Logger, sinks ...Sink) *Redeliverer {
	byName := make(map[string]Sink, len(sinks))
	for _, sink := range sinks {
		byName[sink.Name()] = sink
	}
	return &Redeliverer{store: store, sinks: byName, logger: logger}
}

func (r *Redeliverer) List(ctx context.Context, count int64) ([]models.AuditDeadLetter, int64, error) {
	letters, err := r.store.List(ctx, count)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.store.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return letters, total, nil
}

// Redeliver retries up to count parked entries. A delivered entry is removed;
// a failed one stays parked with its attempt count bumped.
func (r *Redeliverer) Redeliver(ctx context.Context, count int64) (*RedeliveryReport, error) {
	letters, err := r.store.List(ctx, count)
	if err != nil {
		return nil, err
	}

	report := &RedeliveryReport{}
	for _, letter := range letters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.redeliver(ctx, letter); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", letter.ID, err))
			continue
		}
		report.Delivered++
	}

	report.Remaining, err = r.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.WithContext(ctx).Infof("redelivered %d audit entries, %d failed, %d parked", report.Delivered, report.Failed, report.Remaining)
	return report, nil
}

func (r *Redeliverer) redeliver(ctx context.Context, letter models.AuditDeadLetter) error {
	sink, ok := r.sinks[letter.Sink]
	if !ok {
		return fmt.Errorf("unknown sink %q", letter.Sink)
	}

	sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
	writeErr := sink.Write(sinkCtx, letter.Entry)
	cancel()
	metrics.RecordAuditDelivery(sink.Name(), writeErr == nil)

	if writeErr != nil {
		retry := letter
		retry.ID = ""
		retry.Attempts++
		retry.Error = writeErr.Error()
		retry.FailedAt = time.Now().UTC()
		if _, err := r.store.Add(ctx, &retry); err != nil {
			return fmt.Errorf("%w (re-park failed: %v)", writeErr, err)
		}
	}
	// the letter is either delivered or re-parked under a new id
	if err := r.store.Delete(ctx, letter.ID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Warnf("failed to remove dead letter %s", letter.ID)
	}
	return writeErr
}
