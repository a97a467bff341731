// Package checkpoint persists the progress of a multi-page sync so an operator
// can resume after a pause or crash.
package checkpoint

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Ramsey-B/lily/pkg/models"
)

// Store holds at most one checkpoint. Load returns nil, nil when there is none.
type Store interface {
	Load(ctx context.Context) (*models.SyncCheckpoint, error)
	Save(ctx context.Context, cp *models.SyncCheckpoint) error
	Delete(ctx context.Context) error
}

// decode treats unreadable or foreign-version payloads as absent.
func decode(data []byte) *models.SyncCheckpoint {
	if len(data) == 0 {
		return nil
	}
	var cp models.SyncCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil
	}
	if cp.Version != models.SyncCheckpointVersion {
		return nil
	}
	return &cp
}

func encode(cp *models.SyncCheckpoint) ([]byte, error) {
	stamped := *cp
	stamped.Version = models.SyncCheckpointVersion
	return json.Marshal(stamped)
}

type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*models.SyncCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decode(s.data), nil
}

func (s *MemoryStore) Save(_ context.Context, cp *models.SyncCheckpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return nil
}

func (s *MemoryStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}
