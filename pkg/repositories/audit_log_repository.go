package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/lily/pkg/database"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/tracing"
)

const auditLogsTable = "audit_logs"

// AuditLogRepository appends audit entries
type AuditLogRepository struct {
	*Repository
}

func NewAuditLogRepository(db database.DB, logger ectologger.Logger) *AuditLogRepository {
	return &AuditLogRepository{
		Repository: NewRepository(db, logger),
	}
}

// Insert appends one entry. It always uses the pool so an entry is never tied
// to the caller's transaction.
func (r *AuditLogRepository) Insert(ctx context.Context, entry models.AuditEntry) error {
	ctx, span := tracing.StartSpan(ctx, "AuditLogRepository.Insert")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(auditLogsTable).
		Cols("id", "action", "table_name", "record_id", "actor_id", "old_data", "new_data", "request_metadata", "created_at").
		Values(
			uuid.New(),
			string(entry.Action),
			entry.TableName,
			nullable(entry.RecordID),
			nullable(entry.ActorID),
			database.NewJSONB(entry.OldData),
			database.NewJSONB(entry.NewData),
			database.NewJSONB(entry.RequestMetadata),
			entry.Timestamp,
		)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"action":     entry.Action,
			"table_name": entry.TableName,
			"record_id":  entry.RecordID,
		}).Error("failed to insert audit log")
		return classify(err, auditLogsTable, []string{"INSERT"}, "insert into")
	}

	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
