package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/lily/pkg/database"
	syncerrors "github.com/Ramsey-B/lily/pkg/errors"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/tracing"
)

const churchesTable = "churches"

var (
	churchStruct = database.NewStruct(new(models.Church))

	churchBaseCols = []string{"id", "name", "diocese_id", "address", "image_url", "created_at", "updated_at"}
	churchGeoCols  = []string{"google_maps_url", "latitude", "longitude"}
)

// ChurchRepository handles database operations for churches
type ChurchRepository struct {
	*Repository
}

func NewChurchRepository(db database.DB, logger ectologger.Logger) *ChurchRepository {
	return &ChurchRepository{
		Repository: NewRepository(db, logger),
	}
}

// List returns one page of active churches ordered by id
func (r *ChurchRepository) List(ctx context.Context, limit, offset int) ([]models.Church, error) {
	ctx, span := tracing.StartSpan(ctx, "ChurchRepository.List")
	defer span.End()

	sb := churchStruct.SelectFrom(churchesTable)
	sb.Where(sb.IsNull("deleted_at"))
	sb.OrderBy("id")
	sb.Limit(limit).Offset(offset)

	query, args := sb.Build()
	churches := []models.Church{}
	if err := r.conn(ctx).SelectContext(ctx, &churches, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"limit":  limit,
			"offset": offset,
		}).Error("failed to list churches")
		return nil, classify(err, churchesTable, []string{"SELECT"}, "read")
	}

	return churches, nil
}

// UpdateName renames one church by primary key
func (r *ChurchRepository) UpdateName(ctx context.Context, id uuid.UUID, name string) error {
	ctx, span := tracing.StartSpan(ctx, "ChurchRepository.UpdateName")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(churchesTable).
		Set(ub.Assign("name", name), ub.Assign("updated_at", sqlbuilder.Raw("NOW()"))).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"church_id": id,
		}).Error("failed to update church name")
		return classify(err, churchesTable, []string{"SELECT", "UPDATE"}, "update")
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return syncerrors.DatabaseError(nil, "church %s no longer exists", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"church_id": id,
	}).Debugf("Updated %s name", churchesTable)
	return nil
}

// InsertBatch writes churches with one multi-row INSERT. Rows without an id get
// one assigned in place. Geo columns are written only when withGeo is set.
func (r *ChurchRepository) InsertBatch(ctx context.Context, churches []models.Church, withGeo bool) error {
	ctx, span := tracing.StartSpan(ctx, "ChurchRepository.InsertBatch")
	defer span.End()

	if len(churches) == 0 {
		return nil
	}

	cols := churchBaseCols
	if withGeo {
		cols = append(append([]string{}, churchBaseCols...), churchGeoCols...)
	}

	rows := make([][]any, 0, len(churches))
	for i := range churches {
		if churches[i].ID == uuid.Nil {
			churches[i].ID = uuid.New()
		}
		c := churches[i]
		row := []any{c.ID, c.Name, c.DioceseID, c.Address, c.ImageURL, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")}
		if withGeo {
			row = append(row, c.GoogleMapsURL, c.Latitude, c.Longitude)
		}
		rows = append(rows, row)
	}

	query, args := database.BulkInsert(churchesTable, cols, rows)
	if _, err := r.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"row_count": len(churches),
			"with_geo":  withGeo,
		}).Error("failed to insert churches")
		return classify(err, churchesTable, []string{"SELECT", "INSERT"}, "insert into")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"row_count": len(churches),
	}).Debugf("Inserted into %s", churchesTable)
	return nil
}

// HasGeoColumns reports whether the optional geo columns exist
func (r *ChurchRepository) HasGeoColumns(ctx context.Context) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ChurchRepository.HasGeoColumns")
	defer span.End()

	ok, err := database.ProbeColumns(ctx, r.conn(ctx), churchesTable, churchGeoCols...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to probe church geo columns")
		return false, classify(err, churchesTable, []string{"SELECT"}, "probe")
	}
	return ok, nil
}
