package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/lily/pkg/database"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/tracing"
)

const diocesesTable = "dioceses"

var dioceseStruct = database.NewStruct(new(models.Diocese))

// DioceseRepository reads dioceses. The sync pipeline never creates them.
type DioceseRepository struct {
	*Repository
}

func NewDioceseRepository(db database.DB, logger ectologger.Logger) *DioceseRepository {
	return &DioceseRepository{
		Repository: NewRepository(db, logger),
	}
}

// List returns one page of dioceses ordered by id
func (r *DioceseRepository) List(ctx context.Context, limit, offset int) ([]models.Diocese, error) {
	ctx, span := tracing.StartSpan(ctx, "DioceseRepository.List")
	defer span.End()

	sb := dioceseStruct.SelectFrom(diocesesTable)
	sb.OrderBy("id")
	sb.Limit(limit).Offset(offset)

	query, args := sb.Build()
	dioceses := []models.Diocese{}
	if err := r.conn(ctx).SelectContext(ctx, &dioceses, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"limit":  limit,
			"offset": offset,
		}).Error("failed to list dioceses")
		return nil, classify(err, diocesesTable, []string{"SELECT"}, "read")
	}

	return dioceses, nil
}
