package checkpoint

import (
	"context"

	pkgerrors "github.com/pkg/errors"

	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/redis"
)

const DefaultRedisKeyPrefix = "lily:sync:checkpoint:"

// RedisStore keeps one checkpoint per operator under prefix+operator. It never expires.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, operator string) *RedisStore {
	if operator == "" {
		operator = "default"
	}
	return &RedisStore{client: client, key: DefaultRedisKeyPrefix + operator}
}

func (s *RedisStore) Key() string {
	return s.key
}

func (s *RedisStore) Load(ctx context.Context) (*models.SyncCheckpoint, error) {
	data, err := s.client.Get(ctx, s.key)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read checkpoint")
	}
	return decode([]byte(data)), nil
}

func (s *RedisStore) Save(ctx context.Context, cp *models.SyncCheckpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	return pkgerrors.Wrap(s.client.Set(ctx, s.key, data, 0), "failed to write checkpoint")
}

func (s *RedisStore) Delete(ctx context.Context) error {
	return pkgerrors.Wrap(s.client.Del(ctx, s.key), "failed to delete checkpoint")
}
