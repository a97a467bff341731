// Package lease guards the directory so only one sync session mutates it at a time.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	syncerrors "github.com/Ramsey-B/lily/pkg/errors"
	"github.com/Ramsey-B/lily/pkg/metrics"
	"github.com/Ramsey-B/lily/pkg/redis"
)

const (
	DefaultKey = "sync:world-churches"
	DefaultTTL = 5 * time.Minute
)

// Manager holds the sync lease in redis. The lock value is the session id.
type Manager struct {
	locker *redis.Locker
	key    string
	ttl    time.Duration
	logger ectologger.Logger
}

func NewManager(locker *redis.Locker, key string, ttl time.Duration, logger ectologger.Logger) *Manager {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{locker: locker, key: key, ttl: ttl, logger: logger}
}

// AcquireOrRenew returns the session id holding the lease. An empty sessionID
// starts a new session. A session whose lease expired may take it back if
// nobody else did. A lease held by another session is SyncInProgress.
func (m *Manager) AcquireOrRenew(ctx context.Context, sessionID string) (string, error) {
	log := m.logger.WithContext(ctx)

	if sessionID == "" {
		sessionID = uuid.New().String()
	} else {
		err := m.locker.Lock(m.key, sessionID, m.ttl).Extend(ctx, m.ttl)
		if err == nil {
			return sessionID, nil
		}
		if !errors.Is(err, redis.ErrLockNotHeld) {
			log.WithError(err).Error("failed to renew sync lease")
			return "", syncerrors.DatabaseError(err, "failed to renew sync lease")
		}
	}

	_, err := m.locker.AcquireAs(ctx, m.key, sessionID, m.ttl)
	if err == nil {
		log.WithField("session_id", sessionID).Info("sync lease acquired")
		return sessionID, nil
	}
	if !errors.Is(err, redis.ErrLockNotAcquired) {
		log.WithError(err).Error("failed to acquire sync lease")
		return "", syncerrors.DatabaseError(err, "failed to acquire sync lease")
	}

	holder, err := m.locker.Holder(ctx, m.key)
	if err != nil {
		return "", syncerrors.DatabaseError(err, "failed to read sync lease holder")
	}
	metrics.LeaseConflictsTotal.Inc()
	log.WithFields(map[string]any{
		"session_id": sessionID,
		"holder":     holder,
	}).Warn("sync lease held by another session")
	return "", syncerrors.SyncInProgress(holder)
}

// Release drops the lease if sessionID holds it. Releasing a lease nobody
// holds is not an error; releasing another session's lease is SyncInProgress.
func (m *Manager) Release(ctx context.Context, sessionID string) error {
	err := m.locker.Lock(m.key, sessionID, m.ttl).Release(ctx)
	if err == nil {
		m.logger.WithContext(ctx).WithField("session_id", sessionID).Info("sync lease released")
		return nil
	}
	if !errors.Is(err, redis.ErrLockNotHeld) {
		return syncerrors.DatabaseError(err, "failed to release sync lease")
	}

	holder, err := m.locker.Holder(ctx, m.key)
	if err != nil {
		return syncerrors.DatabaseError(err, "failed to read sync lease holder")
	}
	if holder != "" {
		return syncerrors.SyncInProgress(holder)
	}
	return nil
}

// Holder returns the session currently holding the lease, or "".
func (m *Manager) Holder(ctx context.Context) (string, error) {
	return m.locker.Holder(ctx, m.key)
}
