package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/tracing"
)

const (
	DefaultDeadLetterStream = "lily:audit:dead-letters"

	// DeadLetterMaxLen caps the stream, oldest entries are trimmed first.
	DeadLetterMaxLen = 10000
)

var ErrDeadLetterNotFound = errors.New("dead letter not found")

// DeadLetterQueue parks audit entries that a sink rejected on a redis stream.
type DeadLetterQueue struct {
	client *Client
	stream string
	logger ectologger.Logger
}

func NewDeadLetterQueue(client *Client, stream string, logger ectologger.Logger) *DeadLetterQueue {
	if stream == "" {
		stream = DefaultDeadLetterStream
	}
	return &DeadLetterQueue{client: client, stream: stream, logger: logger}
}

// Add appends letter and returns its stream id.
func (d *DeadLetterQueue) Add(ctx context.Context, letter *models.AuditDeadLetter) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "DeadLetterQueue.Add")
	defer span.End()

	if letter.FailedAt.IsZero() {
		letter.FailedAt = time.Now().UTC()
	}
	if letter.TraceID == "" {
		letter.TraceID = tracing.GetTraceID(ctx)
	}

	data, err := json.Marshal(letter)
	if err != nil {
		return "", fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	id, err := d.client.Redis().XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: DeadLetterMaxLen,
		Approx: true,
		Values: map[string]any{
			"data":       string(data),
			"sink":       letter.Sink,
			"table_name": letter.Entry.TableName,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add dead letter: %w", err)
	}

	d.logger.WithContext(ctx).Infof("parked audit entry for sink %s as %s", letter.Sink, id)
	return id, nil
}

// List returns up to count letters, newest first.
func (d *DeadLetterQueue) List(ctx context.Context, count int64) ([]models.AuditDeadLetter, error) {
	ctx, span := tracing.StartSpan(ctx, "DeadLetterQueue.List")
	defer span.End()

	if count <= 0 {
		count = 100
	}

	messages, err := d.client.Redis().XRevRangeN(ctx, d.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	letters := make([]models.AuditDeadLetter, 0, len(messages))
	for _, msg := range messages {
		letter, err := decodeDeadLetter(msg)
		if err != nil {
			d.logger.WithContext(ctx).WithError(err).Warnf("skipping unreadable dead letter %s", msg.ID)
			continue
		}
		letters = append(letters, *letter)
	}
	return letters, nil
}

func (d *DeadLetterQueue) Get(ctx context.Context, id string) (*models.AuditDeadLetter, error) {
	messages, err := d.client.Redis().XRange(ctx, d.stream, id, id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	if len(messages) == 0 {
		return nil, ErrDeadLetterNotFound
	}
	return decodeDeadLetter(messages[0])
}

func (d *DeadLetterQueue) Delete(ctx context.Context, id string) error {
	n, err := d.client.Redis().XDel(ctx, d.stream, id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	if n == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}

func (d *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	return d.client.Redis().XLen(ctx, d.stream).Result()
}

func decodeDeadLetter(msg redis.XMessage) (*models.AuditDeadLetter, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("dead letter %s has no data", msg.ID)
	}
	var letter models.AuditDeadLetter
	if err := json.Unmarshal([]byte(data), &letter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter %s: %w", msg.ID, err)
	}
	letter.ID = msg.ID
	return &letter, nil
}
