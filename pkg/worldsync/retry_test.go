package worldsync

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/lily/pkg/applier"
	"github.com/Ramsey-B/lily/pkg/checkpoint"
	"github.com/Ramsey-B/lily/pkg/controller"
	syncerrors "github.com/Ramsey-B/lily/pkg/errors"
	"github.com/Ramsey-B/lily/pkg/lease"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/reconcile"
	"github.com/Ramsey-B/lily/pkg/redis"
)

func isGatewayTimeout(err error) bool {
	syncErr, ok := syncerrors.As(err)
	return ok && syncErr.StatusCode() == 504
}

func TestControllerRetriesFirstPage(t *testing.T) {
	ctx := context.Background()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	t.Run("should complete a fresh sync after the first page times out once", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := redis.Dial(mr.Addr(), "", 0, logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		f := newFixture(t, []models.SourceRecord{katedral()})
		f.source.failures = []error{syncerrors.RemoteFetchFailed(504, nil, "source fetch timed out")}
		leases := lease.NewManager(redis.NewLocker(client, "test:"), "", time.Minute, logger)
		service := NewService(f.source, f.dir, applier.NewApplier(f.dir, f.recorder, 200, logger), leases, f.dir, f.recorder, reconcile.Options{}, logger)

		var progress []controller.Progress
		run := controller.NewController(service, checkpoint.NewMemoryStore(), controller.AlwaysResume, controller.Options{
			Sleep:       func(context.Context, time.Duration) error { return nil },
			IsTransient: isGatewayTimeout,
			OnProgress:  func(p controller.Progress) { progress = append(progress, p) },
		}, logger)

		summary, err := run.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, controller.StateCompleted, summary.State)
		assert.Equal(t, []int{0, 0}, f.source.calls)
		require.Len(t, f.dir.churches, 1)
		assert.Equal(t, "Katedral Jakarta", f.dir.churches[0].Name)

		for _, p := range progress {
			if p.Err != nil {
				assert.True(t, isGatewayTimeout(p.Err), p.Err.Error())
			}
		}

		holder, err := leases.Holder(ctx)
		require.NoError(t, err)
		assert.Empty(t, holder)
	})
}
