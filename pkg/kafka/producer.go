package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/lily/pkg/metrics"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/tracing"
)

// Config holds Kafka configuration
type Config struct {
	Brokers    []string
	AuditTopic string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, auditTopic string) Config {
	var brokerList []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokerList = append(brokerList, b)
		}
	}

	return Config{
		Brokers:    brokerList,
		AuditTopic: auditTopic,
	}
}

// Enabled reports whether any broker is configured
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// MessageWriter is the subset of *kafka.Writer the producer needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles producing audit messages to Kafka
type Producer struct {
	writer  MessageWriter
	logger  ectologger.Logger
	topic   string
	brokers []string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
		AllowAutoTopicCreation: true,
	}

	producer := NewProducerWithWriter(writer, cfg.AuditTopic, logger)
	producer.brokers = cfg.Brokers
	return producer
}

// NewProducerWithWriter creates a producer over an existing writer
func NewProducerWithWriter(writer MessageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Ping dials the first reachable broker. A producer without brokers is
// always healthy.
func (p *Producer) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return lastErr
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// AuditMessage is the wire form of an audit entry
type AuditMessage struct {
	models.AuditEntry

	// Tracing
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// PublishAudit publishes one audit entry keyed by table and record so entries
// for the same row stay ordered on one partition.
func (p *Producer) PublishAudit(ctx context.Context, entry models.AuditEntry) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishAudit")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("audit.action", string(entry.Action)),
		attribute.String("audit.table_name", entry.TableName),
	)

	msg := AuditMessage{
		AuditEntry: entry,
		TraceID:    tracing.GetTraceID(ctx),
		SpanID:     tracing.GetSpanID(ctx),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := entry.TableName
	if entry.RecordID != "" {
		key = fmt.Sprintf("%s:%s", entry.TableName, entry.RecordID)
	}

	headers := []kafka.Header{
		{Key: "action", Value: []byte(entry.Action)},
		{Key: "table_name", Value: []byte(entry.TableName)},
	}
	if entry.ActorID != "" {
		headers = append(headers, kafka.Header{Key: "actor_id", Value: []byte(entry.ActorID)})
	}

	// Add W3C trace context headers for distributed tracing
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	})
	if err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", p.topic)
		return err
	}
	metrics.RecordKafkaPublish(p.topic, "ok", time.Since(start))

	span.SetStatus(codes.Ok, "message published")
	p.logger.WithContext(ctx).Debugf("Published audit entry to Kafka: action=%s table=%s record=%s",
		entry.Action, entry.TableName, entry.RecordID)

	return nil
}
