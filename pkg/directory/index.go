// Package directory loads the local countries, dioceses and churches into
// lookup maps keyed by canonical identity.
package directory

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/lily/pkg/canonical"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/tracing"
)

// DefaultPageSize is used when a Loader is built with a non-positive page size.
const DefaultPageSize = 1000

type CountryLister interface {
	List(ctx context.Context, limit, offset int) ([]models.Country, error)
}

type DioceseLister interface {
	List(ctx context.Context, limit, offset int) ([]models.Diocese, error)
}

type ChurchLister interface {
	List(ctx context.Context, limit, offset int) ([]models.Church, error)
}

// Index holds every candidate per key so callers can see ambiguity.
type Index struct {
	CountriesByISO map[string][]models.Country
	DiocesesByKey  map[models.DioceseKey][]models.Diocese
	ChurchesByKey  map[models.ChurchKey][]models.Church

	// DiocesesByID resolves diocese ids back to their rows for diagnostics.
	DiocesesByID map[uuid.UUID]models.Diocese
}

// NewIndex builds an index from already loaded rows. Inactive churches, blank
// ISO codes and names that canonicalize to empty are left out.
func NewIndex(countries []models.Country, dioceses []models.Diocese, churches []models.Church) *Index {
	idx := &Index{
		CountriesByISO: make(map[string][]models.Country),
		DiocesesByKey:  make(map[models.DioceseKey][]models.Diocese),
		ChurchesByKey:  make(map[models.ChurchKey][]models.Church),
		DiocesesByID:   make(map[uuid.UUID]models.Diocese, len(dioceses)),
	}

	for _, c := range countries {
		iso := c.NormalizedISO()
		if iso == "" {
			continue
		}
		idx.CountriesByISO[iso] = append(idx.CountriesByISO[iso], c)
	}

	for _, d := range dioceses {
		idx.DiocesesByID[d.ID] = d
		name := canonical.DioceseName(d.Name)
		if name == "" {
			continue
		}
		key := models.DioceseKey{CountryID: d.CountryID, CanonicalName: name}
		idx.DiocesesByKey[key] = append(idx.DiocesesByKey[key], d)
	}

	for _, c := range churches {
		if !c.IsActive() {
			continue
		}
		name := canonical.ChurchName(c.Name)
		if name == "" {
			continue
		}
		key := models.ChurchKey{DioceseID: c.DioceseID, CanonicalName: name}
		idx.ChurchesByKey[key] = append(idx.ChurchesByKey[key], c)
	}

	return idx
}

// Country returns the only country with iso, and how many candidates there were.
func (idx *Index) Country(iso string) (models.Country, int) {
	candidates := idx.CountriesByISO[iso]
	if len(candidates) != 1 {
		return models.Country{}, len(candidates)
	}
	return candidates[0], 1
}

// Dioceses returns every diocese sharing the canonical name inside a country.
func (idx *Index) Dioceses(countryID uuid.UUID, canonicalName string) []models.Diocese {
	return idx.DiocesesByKey[models.DioceseKey{CountryID: countryID, CanonicalName: canonicalName}]
}

// Churches returns every active church sharing the key.
func (idx *Index) Churches(key models.ChurchKey) []models.Church {
	return idx.ChurchesByKey[key]
}

// Loader reads the three tables page by page.
type Loader struct {
	countries CountryLister
	dioceses  DioceseLister
	churches  ChurchLister
	pageSize  int
	logger    ectologger.Logger
}

func NewLoader(countries CountryLister, dioceses DioceseLister, churches ChurchLister, pageSize int, logger ectologger.Logger) *Loader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Loader{
		countries: countries,
		dioceses:  dioceses,
		churches:  churches,
		pageSize:  pageSize,
		logger:    logger,
	}
}

// Load rebuilds the full index. Repository errors are returned unchanged, they
// already carry PermissionDenied or DatabaseError.
func (l *Loader) Load(ctx context.Context) (*Index, error) {
	ctx, span := tracing.StartSpan(ctx, "directory.Loader.Load")
	defer span.End()

	countries, err := readAll(ctx, l.pageSize, l.countries.List)
	if err != nil {
		return nil, err
	}
	dioceses, err := readAll(ctx, l.pageSize, l.dioceses.List)
	if err != nil {
		return nil, err
	}
	churches, err := readAll(ctx, l.pageSize, l.churches.List)
	if err != nil {
		return nil, err
	}

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"country_count": len(countries),
		"diocese_count": len(dioceses),
		"church_count":  len(churches),
	}).Debug("loaded directory index")

	return NewIndex(countries, dioceses, churches), nil
}

// readAll pages until a page comes back shorter than pageSize.
func readAll[T any](ctx context.Context, pageSize int, list func(ctx context.Context, limit, offset int) ([]T, error)) ([]T, error) {
	var all []T
	for offset := 0; ; offset += pageSize {
		page, err := list(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}
