package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/lily/pkg/database"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/tracing"
)

const countriesTable = "countries"

var countryStruct = database.NewStruct(new(models.Country))

// CountryRepository reads countries. The sync pipeline never writes them.
type CountryRepository struct {
	*Repository
}

func NewCountryRepository(db database.DB, logger ectologger.Logger) *CountryRepository {
	return &CountryRepository{
		Repository: NewRepository(db, logger),
	}
}

// List returns one page of countries ordered by id
func (r *CountryRepository) List(ctx context.Context, limit, offset int) ([]models.Country, error) {
	ctx, span := tracing.StartSpan(ctx, "CountryRepository.List")
	defer span.End()

	sb := countryStruct.SelectFrom(countriesTable)
	sb.OrderBy("id")
	sb.Limit(limit).Offset(offset)

	query, args := sb.Build()
	countries := []models.Country{}
	if err := r.conn(ctx).SelectContext(ctx, &countries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"limit":  limit,
			"offset": offset,
		}).Error("failed to list countries")
		return nil, classify(err, countriesTable, []string{"SELECT"}, "read")
	}

	return countries, nil
}
