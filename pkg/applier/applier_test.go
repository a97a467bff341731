package applier

import (
	"context"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/Ramsey-B/lily/pkg/errors"
	"github.com/Ramsey-B/lily/pkg/models"
)

type fakeChurches struct {
	updates    []uuid.UUID
	batchSizes []int
	failUpdate int
	failBatch  int
	err        error
}

func (f *fakeChurches) UpdateName(_ context.Context, id uuid.UUID, _ string) error {
	if f.failUpdate > 0 && len(f.updates)+1 == f.failUpdate {
		return f.err
	}
	f.updates = append(f.updates, id)
	return nil
}

func (f *fakeChurches) InsertBatch(_ context.Context, churches []models.Church, _ bool) error {
	if f.failBatch > 0 && len(f.batchSizes)+1 == f.failBatch {
		return f.err
	}
	for i := range churches {
		churches[i].ID = uuid.New()
	}
	f.batchSizes = append(f.batchSizes, len(churches))
	return nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (r *recordingAudit) Record(_ context.Context, entry models.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func churches(n int) []models.Church {
	dioceseID := uuid.New()
	out := make([]models.Church, n)
	for i := range out {
		out[i] = models.Church{Name: uuid.NewString(), DioceseID: dioceseID}
	}
	return out
}

func TestApplyInserts(t *testing.T) {
	t.Run("should chunk 450 rows into 200, 200 and 50", func(t *testing.T) {
		store := &fakeChurches{}
		auditLog := &recordingAudit{}
		a := NewApplier(store, auditLog, 200, testLogger())

		inserted, err := a.ApplyInserts(context.Background(), churches(450), false)
		require.NoError(t, err)
		assert.Equal(t, 450, inserted)
		assert.Equal(t, []int{200, 200, 50}, store.batchSizes)
		assert.Len(t, auditLog.entries, 450)
		assert.Equal(t, models.AuditActionInsert, auditLog.entries[0].Action)
		assert.NotEqual(t, uuid.Nil.String(), auditLog.entries[0].RecordID)
	})

	t.Run("should stop at the failing chunk and keep earlier ones", func(t *testing.T) {
		store := &fakeChurches{failBatch: 2, err: syncerrors.PermissionDenied("churches", []string{"INSERT"}, nil)}
		a := NewApplier(store, nil, 200, testLogger())

		inserted, err := a.ApplyInserts(context.Background(), churches(450), false)
		assert.True(t, syncerrors.HasCode(err, syncerrors.CodePermissionDenied))
		assert.Equal(t, 200, inserted)
		assert.Equal(t, []int{200}, store.batchSizes)
	})

	t.Run("should do nothing without rows", func(t *testing.T) {
		store := &fakeChurches{}
		inserted, err := NewApplier(store, nil, 0, testLogger()).ApplyInserts(context.Background(), nil, true)
		require.NoError(t, err)
		assert.Equal(t, 0, inserted)
		assert.Empty(t, store.batchSizes)
	})
}

func TestApplyUpdates(t *testing.T) {
	updates := []models.ChurchUpdate{
		{ID: uuid.New(), OldName: "a", NewName: "A"},
		{ID: uuid.New(), OldName: "b", NewName: "B"},
		{ID: uuid.New(), OldName: "c", NewName: "C"},
	}

	t.Run("should update every row and audit old and new names", func(t *testing.T) {
		store := &fakeChurches{}
		auditLog := &recordingAudit{}

		applied, err := NewApplier(store, auditLog, 200, testLogger()).ApplyUpdates(context.Background(), updates)
		require.NoError(t, err)
		assert.Equal(t, 3, applied)
		assert.Equal(t, []uuid.UUID{updates[0].ID, updates[1].ID, updates[2].ID}, store.updates)
		require.Len(t, auditLog.entries, 3)
		assert.Equal(t, "a", auditLog.entries[0].OldData["name"])
		assert.Equal(t, "A", auditLog.entries[0].NewData["name"])
	})

	t.Run("should abort the remaining updates on failure", func(t *testing.T) {
		store := &fakeChurches{failUpdate: 2, err: syncerrors.DatabaseError(nil, "boom")}
		auditLog := &recordingAudit{}

		applied, err := NewApplier(store, auditLog, 200, testLogger()).ApplyUpdates(context.Background(), updates)
		assert.True(t, syncerrors.HasCode(err, syncerrors.CodeDatabaseError))
		assert.Equal(t, 1, applied)
		assert.Len(t, store.updates, 1)
		assert.Len(t, auditLog.entries, 1)
	})
}
