// Package applier writes reconciliation plans to the church table.
package applier

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/lily/pkg/audit"
	"github.com/Ramsey-B/lily/pkg/metrics"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/tracing"
)

const DefaultChunkSize = 200

// ChurchWriter is the store surface the applier mutates.
type ChurchWriter interface {
	UpdateName(ctx context.Context, id uuid.UUID, name string) error
	InsertBatch(ctx context.Context, churches []models.Church, withGeo bool) error
}

type Applier struct {
	churches  ChurchWriter
	recorder  audit.Recorder
	chunkSize int
	logger    ectologger.Logger
}

func NewApplier(churches ChurchWriter, recorder audit.Recorder, chunkSize int, logger ectologger.Logger) *Applier {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Applier{
		churches:  churches,
		recorder:  recorder,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// ApplyUpdates renames churches one row at a time. The first failure stops the
// call; rows already updated stay updated.
func (a *Applier) ApplyUpdates(ctx context.Context, updates []models.ChurchUpdate) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "applier.ApplyUpdates")
	defer span.End()

	for i, u := range updates {
		if err := a.churches.UpdateName(ctx, u.ID, u.NewName); err != nil {
			a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"church_id": u.ID,
				"applied":   i,
				"remaining": len(updates) - i,
			}).Error("church update failed, aborting remaining updates")
			return i, err
		}

		a.recorder.Record(ctx, models.AuditEntry{
			Action:    models.AuditActionUpdate,
			TableName: "churches",
			RecordID:  u.ID.String(),
			OldData:   map[string]any{"name": u.OldName, "diocese_id": u.DioceseID.String()},
			NewData:   map[string]any{"name": u.NewName, "diocese_id": u.DioceseID.String()},
		})
	}

	return len(updates), nil
}

// ApplyInserts writes churches in chunks, one multi-row INSERT per chunk. A
// failing chunk stops the call without undoing earlier chunks. It returns the
// number of rows committed.
func (a *Applier) ApplyInserts(ctx context.Context, churches []models.Church, withGeo bool) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "applier.ApplyInserts")
	defer span.End()

	inserted := 0
	for start := 0; start < len(churches); start += a.chunkSize {
		end := min(start+a.chunkSize, len(churches))
		chunk := churches[start:end]

		if err := a.churches.InsertBatch(ctx, chunk, withGeo); err != nil {
			metrics.RecordInsertChunk(false)
			a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"chunk_start": start,
				"chunk_size":  len(chunk),
				"inserted":    inserted,
			}).Error("church insert chunk failed, aborting remaining chunks")
			return inserted, err
		}
		metrics.RecordInsertChunk(true)
		inserted += len(chunk)

		for _, c := range chunk {
			a.recorder.Record(ctx, models.AuditEntry{
				Action:    models.AuditActionInsert,
				TableName: "churches",
				RecordID:  c.ID.String(),
				NewData:   churchData(c),
			})
		}
	}

	return inserted, nil
}

func churchData(c models.Church) map[string]any {
	data := map[string]any{
		"name":       c.Name,
		"diocese_id": c.DioceseID.String(),
	}
	if c.Address != nil {
		data["address"] = *c.Address
	}
	if c.ImageURL != nil {
		data["image_url"] = *c.ImageURL
	}
	if c.Latitude != nil && c.Longitude != nil {
		data["latitude"] = *c.Latitude
		data["longitude"] = *c.Longitude
	}
	return data
}
