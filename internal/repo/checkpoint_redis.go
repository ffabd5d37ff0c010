package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/redis/go-redis/v9"

	"github.com/drivana/sales-agent/internal/core/errx"
	logx "github.com/drivana/sales-agent/pkg/logger"
)

// RedisCheckPointStore implements eino's compose.CheckPointStore on Redis so
// interrupted graph runs can resume on another process. Keyed by checkpoint
// ID, which the orchestrator derives from the conversation ID.
type RedisCheckPointStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisCheckPointStore(rdb redis.Cmdable, ttl time.Duration) *RedisCheckPointStore {
	return &RedisCheckPointStore{rdb: rdb, ttl: ttl}
}

var _ compose.CheckPointStore = (*RedisCheckPointStore)(nil)

func (s *RedisCheckPointStore) checkpointKey(id string) string {
	return fmt.Sprintf("checkpoint:%s", id)
}

func (s *RedisCheckPointStore) Get(ctx context.Context, checkPointID string) ([]byte, bool, error) {
	raw, err := s.rdb.Get(ctx, s.checkpointKey(checkPointID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		logx.Error().Err(err).Str("checkpoint_id", checkPointID).Msg("failed to load checkpoint")
		return nil, false, errx.WrapRedis(err)
	}
	return raw, true, nil
}

func (s *RedisCheckPointStore) Set(ctx context.Context, checkPointID string, checkPoint []byte) error {
	if err := s.rdb.Set(ctx, s.checkpointKey(checkPointID), checkPoint, s.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("checkpoint_id", checkPointID).Msg("failed to save checkpoint")
		return errx.WrapRedis(err)
	}
	return nil
}
