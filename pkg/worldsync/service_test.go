package worldsync

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/lily/pkg/applier"
	"github.com/Ramsey-B/lily/pkg/audit"
	"github.com/Ramsey-B/lily/pkg/directory"
	syncerrors "github.com/Ramsey-B/lily/pkg/errors"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/reconcile"
	"github.com/Ramsey-B/lily/pkg/wikidata"
)

type fakeSource struct {
	pages   map[int][]models.SourceRecord
	raw     map[int]int
	limits  wikidata.Limits
	calls   []int
	failure error
	// failures are returned one per call before failure is considered
	failures []error
}

func (f *fakeSource) FetchPage(_ context.Context, limit, offset int) (*wikidata.Page, error) {
	f.calls = append(f.calls, offset)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	if f.failure != nil {
		return nil, f.failure
	}
	records := f.pages[offset]
	raw, ok := f.raw[offset]
	if !ok {
		raw = len(records)
	}
	return &wikidata.Page{Records: records, RawCount: raw}, nil
}

func (f *fakeSource) Limits() wikidata.Limits {
	return f.limits
}

// memoryDirectory is both the index source and the church store.
type memoryDirectory struct {
	countries  []models.Country
	dioceses   []models.Diocese
	churches   []models.Church
	geo        bool
	probes     int
	failInsert bool
}

func (d *memoryDirectory) Load(context.Context) (*directory.Index, error) {
	return directory.NewIndex(d.countries, d.dioceses, d.churches), nil
}

func (d *memoryDirectory) UpdateName(_ context.Context, id uuid.UUID, name string) error {
	for i := range d.churches {
		if d.churches[i].ID == id {
			d.churches[i].Name = name
			return nil
		}
	}
	return syncerrors.DatabaseError(nil, "church %s not found", id)
}

func (d *memoryDirectory) InsertBatch(_ context.Context, churches []models.Church, _ bool) error {
	if d.failInsert {
		return syncerrors.PermissionDenied("churches", []string{"INSERT"}, errors.New("42501"))
	}
	for i := range churches {
		churches[i].ID = uuid.New()
		d.churches = append(d.churches, churches[i])
	}
	return nil
}

func (d *memoryDirectory) HasGeoColumns(context.Context) (bool, error) {
	d.probes++
	return d.geo, nil
}

type fakeLeases struct {
	holder   string
	released []string
}

func (f *fakeLeases) AcquireOrRenew(_ context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if f.holder != "" && f.holder != sessionID {
		return "", syncerrors.SyncInProgress(f.holder)
	}
	f.holder = sessionID
	return sessionID, nil
}

func (f *fakeLeases) Release(_ context.Context, sessionID string) error {
	if f.holder == sessionID {
		f.holder = ""
		f.released = append(f.released, sessionID)
	}
	return nil
}

type memoryRecorder struct {
	entries []models.AuditEntry
}

func (r *memoryRecorder) Record(_ context.Context, entry models.AuditEntry) {
	r.entries = append(r.entries, entry)
}

var _ audit.Recorder = (*memoryRecorder)(nil)

type fixture struct {
	service  *Service
	source   *fakeSource
	dir      *memoryDirectory
	leases   *fakeLeases
	recorder *memoryRecorder
	diocese  models.Diocese
}

func newFixture(t *testing.T, records []models.SourceRecord) *fixture {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	iso := "ID"
	country := models.Country{ID: uuid.New(), Name: "Indonesia", ISOCode: &iso}
	diocese := models.Diocese{ID: uuid.New(), Name: "Keuskupan Agung Jakarta", CountryID: country.ID}

	f := &fixture{
		source: &fakeSource{
			pages:  map[int][]models.SourceRecord{0: records},
			limits: wikidata.Limits{Default: 1000, Min: 1, Max: 5000},
		},
		dir: &memoryDirectory{
			countries: []models.Country{country},
			dioceses:  []models.Diocese{diocese},
		},
		leases:   &fakeLeases{},
		recorder: &memoryRecorder{},
		diocese:  diocese,
	}
	mutator := applier.NewApplier(f.dir, f.recorder, 200, logger)
	f.service = NewService(f.source, f.dir, mutator, f.leases, f.dir, f.recorder, reconcile.Options{}, logger)
	return f
}

func katedral() models.SourceRecord {
	return models.SourceRecord{
		SourceID:       "Q1",
		Name:           "Katedral Jakarta",
		DioceseName:    "Keuskupan Agung Jakarta",
		CountryISOCode: "ID",
	}
}

func TestSyncPage(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert into an empty directory", func(t *testing.T) {
		f := newFixture(t, []models.SourceRecord{katedral()})

		resp, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, 1, resp.InsertedCount)
		assert.Equal(t, 0, resp.UpdatedCount)
		assert.Equal(t, 0, resp.UnchangedCount)
		assert.Equal(t, 1, resp.MatchedTargetTotal)

		require.Len(t, f.dir.churches, 1)
		assert.Equal(t, "Katedral Jakarta", f.dir.churches[0].Name)
		assert.Equal(t, f.diocese.ID, f.dir.churches[0].DioceseID)
	})

	t.Run("should rename an existing church", func(t *testing.T) {
		f := newFixture(t, []models.SourceRecord{katedral()})
		existing := models.Church{ID: uuid.New(), Name: "Katedral Jakarta Lama", DioceseID: f.diocese.ID}
		f.dir.churches = []models.Church{existing}

		resp, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		require.NoError(t, err)
		assert.Equal(t, 1, resp.UpdatedCount)
		assert.Equal(t, 0, resp.InsertedCount)
		assert.Equal(t, "Katedral Jakarta", f.dir.churches[0].Name)
		assert.Equal(t, 0, f.dir.probes)
	})

	t.Run("should report an unresolved diocese", func(t *testing.T) {
		row := katedral()
		row.DioceseName = "Keuskupan Fiktif"
		f := newFixture(t, []models.SourceRecord{row})

		resp, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		require.NoError(t, err)
		assert.Equal(t, 1, resp.UnresolvedDioceseCount)
		assert.Equal(t, []string{"Keuskupan Fiktif (ID)"}, resp.UnresolvedDioceseSamples)
		assert.Equal(t, 0, resp.InsertedCount)
		assert.Equal(t, 0, resp.UpdatedCount)
	})

	t.Run("should change nothing on a second run", func(t *testing.T) {
		second := katedral()
		second.SourceID = "Q2"
		second.Name = "Gereja Santa Maria"
		f := newFixture(t, []models.SourceRecord{katedral(), second})

		first, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		require.NoError(t, err)
		assert.Equal(t, 2, first.InsertedCount)

		again, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		require.NoError(t, err)
		assert.Equal(t, 0, again.InsertedCount)
		assert.Equal(t, 0, again.UpdatedCount)
		assert.Equal(t, 2, again.UnchangedCount)
		assert.Len(t, f.dir.churches, 2)
	})

	t.Run("should paginate from the raw source count and keep the lease", func(t *testing.T) {
		f := newFixture(t, nil)
		f.source.pages[500] = []models.SourceRecord{katedral()}
		f.source.raw = map[int]int{500: 2}
		offset, limit := 500, 2

		resp, err := f.service.SyncPage(ctx, models.SyncPageRequest{Offset: &offset, Limit: &limit})
		require.NoError(t, err)
		assert.Equal(t, 2, resp.SourcePageCount)
		assert.Equal(t, 502, resp.NextOffset)
		assert.True(t, resp.HasMore)
		assert.Equal(t, resp.SessionID, f.leases.holder)
		assert.Empty(t, f.leases.released)
	})

	t.Run("should release the lease on the last page", func(t *testing.T) {
		f := newFixture(t, []models.SourceRecord{katedral()})

		resp, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		require.NoError(t, err)
		assert.False(t, resp.HasMore)
		assert.Equal(t, 1, resp.NextOffset)
		assert.Equal(t, []string{resp.SessionID}, f.leases.released)
	})

	t.Run("should refuse a second session without fetching", func(t *testing.T) {
		f := newFixture(t, []models.SourceRecord{katedral()})
		f.leases.holder = "other"

		_, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		assert.True(t, syncerrors.HasCode(err, syncerrors.CodeSyncInProgress))
		assert.Empty(t, f.source.calls)
	})

	t.Run("should surface source failures", func(t *testing.T) {
		f := newFixture(t, nil)
		f.source.failure = syncerrors.RemoteFetchFailed(504, nil, "timed out")

		_, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		syncErr, ok := syncerrors.As(err)
		require.True(t, ok)
		assert.Equal(t, 504, syncErr.StatusCode())
	})

	t.Run("should free the lease when the first page of a new session fails", func(t *testing.T) {
		f := newFixture(t, []models.SourceRecord{katedral()})
		f.source.failures = []error{syncerrors.RemoteFetchFailed(504, nil, "source fetch timed out")}

		_, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		require.Error(t, err)
		assert.Empty(t, f.leases.holder)
		require.Len(t, f.leases.released, 1)

		resp, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		require.NoError(t, err)
		assert.Equal(t, 1, resp.InsertedCount)
		assert.NotEqual(t, f.leases.released[0], resp.SessionID)
	})

	t.Run("should keep the lease when a page of a running session fails", func(t *testing.T) {
		f := newFixture(t, []models.SourceRecord{katedral()})
		f.leases.holder = "session-1"
		f.source.failures = []error{syncerrors.RemoteFetchFailed(504, nil, "source fetch timed out")}

		_, err := f.service.SyncPage(ctx, models.SyncPageRequest{SessionID: "session-1"})
		require.Error(t, err)
		assert.Equal(t, "session-1", f.leases.holder)
		assert.Empty(t, f.leases.released)
	})

	t.Run("should report dioceses matched by more than one candidate", func(t *testing.T) {
		f := newFixture(t, []models.SourceRecord{katedral()})
		twin := f.diocese
		twin.ID = uuid.New()
		f.dir.dioceses = append(f.dir.dioceses, twin)

		resp, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		require.NoError(t, err)
		assert.Equal(t, 1, resp.AmbiguousDioceseCount)
		assert.Equal(t, 1, resp.InsertedCount)
		assert.Equal(t, 1, f.recorder.entries[len(f.recorder.entries)-1].NewData["ambiguous_diocese_count"])
	})

	t.Run("should keep committed updates when inserts fail", func(t *testing.T) {
		rename := katedral()
		fresh := katedral()
		fresh.SourceID = "Q2"
		fresh.Name = "Gereja Santo Yosef"
		f := newFixture(t, []models.SourceRecord{rename, fresh})
		f.dir.churches = []models.Church{{ID: uuid.New(), Name: "Katedral Jakarta Lama", DioceseID: f.diocese.ID}}
		f.dir.failInsert = true

		_, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		syncErr, ok := syncerrors.As(err)
		require.True(t, ok)
		assert.Equal(t, syncerrors.CodePermissionDenied, syncErr.Code)
		assert.Contains(t, syncErr.Remediation, "GRANT INSERT ON TABLE public.churches")
		assert.Equal(t, "Katedral Jakarta", f.dir.churches[0].Name)
	})

	t.Run("should probe geo columns once per session", func(t *testing.T) {
		f := newFixture(t, nil)
		f.dir.geo = true
		for offset := 0; offset < 3; offset++ {
			row := katedral()
			row.SourceID = uuid.NewString()
			row.Name = "Gereja " + uuid.NewString()
			f.source.pages[offset] = []models.SourceRecord{row}
		}
		f.source.raw = map[int]int{0: 1, 1: 1, 2: 1}
		limit := 1

		session := ""
		for offset := 0; offset < 3; offset++ {
			o := offset
			resp, err := f.service.SyncPage(ctx, models.SyncPageRequest{Offset: &o, Limit: &limit, SessionID: session})
			require.NoError(t, err)
			session = resp.SessionID
		}
		assert.Equal(t, 1, f.dir.probes)
	})

	t.Run("should audit the page summary", func(t *testing.T) {
		f := newFixture(t, []models.SourceRecord{katedral()})

		resp, err := f.service.SyncPage(ctx, models.SyncPageRequest{})
		require.NoError(t, err)

		actions := make([]models.AuditAction, 0, len(f.recorder.entries))
		for _, e := range f.recorder.entries {
			actions = append(actions, e.Action)
		}
		assert.Equal(t, []models.AuditAction{models.AuditActionInsert, models.AuditActionSync}, actions)
		last := f.recorder.entries[len(f.recorder.entries)-1]
		assert.Equal(t, resp.SessionID, last.RecordID)
		assert.Equal(t, 1, last.NewData["inserted_count"])
	})
}
