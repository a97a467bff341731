package directory

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/Ramsey-B/lily/pkg/errors"
	"github.com/Ramsey-B/lily/pkg/models"
)

type sliceLister[T any] struct {
	rows  []T
	calls []int
	err   error
}

func (s *sliceLister[T]) List(_ context.Context, limit, offset int) ([]T, error) {
	s.calls = append(s.calls, offset)
	if s.err != nil {
		return nil, s.err
	}
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

func strPtr(s string) *string { return &s }

func TestLoaderLoad(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	indonesia := models.Country{ID: uuid.New(), Name: "Indonesia", ISOCode: strPtr("id")}
	jakarta := models.Diocese{ID: uuid.New(), Name: "Keuskupan Agung Jakarta", CountryID: indonesia.ID}

	t.Run("should page until a short page", func(t *testing.T) {
		churches := &sliceLister[models.Church]{}
		for i := 0; i < 5; i++ {
			churches.rows = append(churches.rows, models.Church{ID: uuid.New(), Name: uuid.NewString(), DioceseID: jakarta.ID})
		}
		countries := &sliceLister[models.Country]{rows: []models.Country{indonesia}}
		dioceses := &sliceLister[models.Diocese]{rows: []models.Diocese{jakarta}}

		idx, err := NewLoader(countries, dioceses, churches, 2, logger).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int{0, 2, 4}, churches.calls)
		assert.Equal(t, []int{0}, countries.calls)
		assert.Len(t, idx.ChurchesByKey, 5)
	})

	t.Run("should issue one extra read when the last page is full", func(t *testing.T) {
		countries := &sliceLister[models.Country]{rows: []models.Country{indonesia, {ID: uuid.New(), ISOCode: strPtr("PH")}}}
		_, err := NewLoader(countries, &sliceLister[models.Diocese]{}, &sliceLister[models.Church]{}, 2, logger).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int{0, 2}, countries.calls)
	})

	t.Run("should return repository errors unchanged", func(t *testing.T) {
		denied := syncerrors.PermissionDenied("dioceses", []string{"SELECT"}, nil)
		_, err := NewLoader(
			&sliceLister[models.Country]{},
			&sliceLister[models.Diocese]{err: denied},
			&sliceLister[models.Church]{},
			10, logger,
		).Load(context.Background())
		assert.True(t, syncerrors.HasCode(err, syncerrors.CodePermissionDenied))
	})
}

func TestNewIndex(t *testing.T) {
	indonesia := models.Country{ID: uuid.New(), Name: "Indonesia", ISOCode: strPtr("ID")}
	usA := models.Country{ID: uuid.New(), Name: "United States", ISOCode: strPtr("US")}
	usB := models.Country{ID: uuid.New(), Name: "USA", ISOCode: strPtr(" us ")}
	noISO := models.Country{ID: uuid.New(), Name: "Nowhere"}
	jakarta := models.Diocese{ID: uuid.New(), Name: "Keuskupan Agung Jakarta", CountryID: indonesia.ID}
	deleted := time.Now()

	idx := NewIndex(
		[]models.Country{indonesia, usA, usB, noISO},
		[]models.Diocese{jakarta},
		[]models.Church{
			{ID: uuid.New(), Name: "Katedral Jakarta", DioceseID: jakarta.ID},
			{ID: uuid.New(), Name: "Gereja Katedral Jakarta", DioceseID: jakarta.ID},
			{ID: uuid.New(), Name: "Katedral Jakarta", DioceseID: jakarta.ID, DeletedAt: &deleted},
			{ID: uuid.New(), Name: "  ", DioceseID: jakarta.ID},
		},
	)

	t.Run("should resolve a unique iso code", func(t *testing.T) {
		country, n := idx.Country("ID")
		assert.Equal(t, 1, n)
		assert.Equal(t, indonesia.ID, country.ID)
	})

	t.Run("should expose duplicate iso codes", func(t *testing.T) {
		_, n := idx.Country("US")
		assert.Equal(t, 2, n)
		assert.Len(t, idx.CountriesByISO, 2)
	})

	t.Run("should key dioceses by canonical name", func(t *testing.T) {
		assert.Len(t, idx.Dioceses(indonesia.ID, "jakarta"), 1)
	})

	t.Run("should group active churches sharing a key", func(t *testing.T) {
		key := models.ChurchKey{DioceseID: jakarta.ID, CanonicalName: "katedral jakarta"}
		assert.Len(t, idx.Churches(key), 2)
		assert.Len(t, idx.ChurchesByKey, 1)
	})
}
