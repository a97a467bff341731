package audit

import (
	"context"

	"github.com/Ramsey-B/lily/pkg/models"
)

type publisher interface {
	PublishAudit(ctx context.Context, entry models.AuditEntry) error
}

// KafkaSink publishes entries to the audit topic.
type KafkaSink struct {
	producer publisher
}

func NewKafkaSink(producer publisher) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, entry models.AuditEntry) error {
	return s.producer.PublishAudit(ctx, entry)
}

type inserter interface {
	Insert(ctx context.Context, entry models.AuditEntry) error
}

// DBSink appends entries to the audit_logs table.
type DBSink struct {
	repo inserter
}

func NewDBSink(repo inserter) *DBSink {
	return &DBSink{repo: repo}
}

func (s *DBSink) Name() string { return "postgres" }

func (s *DBSink) Write(ctx context.Context, entry models.AuditEntry) error {
	return s.repo.Insert(ctx, entry)
}
