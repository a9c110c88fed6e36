package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisPresence stores last-seen timestamps plus a TTL'd online marker.
// The marker key expiring on its own covers gateway crashes: a user whose
// session died with the process stops looking online once the TTL runs out.
type RedisPresence struct {
	rdb       *redis.Client
	onlineTTL time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	OnlineTTL time.Duration
}

func lastSeenKey(userID int64) string {
	return "chat:lastseen:" + strconv.FormatInt(userID, 10)
}

func onlineKey(userID int64) string {
	return "chat:online:" + strconv.FormatInt(userID, 10)
}

func NewRedisPresence(ctx context.Context, cfg RedisConfig) (*RedisPresence, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	ttl := cfg.OnlineTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisPresence{rdb: rdb, onlineTTL: ttl}, nil
}

func (p *RedisPresence) Close() error {
	return p.rdb.Close()
}

func (p *RedisPresence) SetLastSeen(ctx context.Context, userID int64, online bool, at time.Time) error {
	if err := p.rdb.Set(ctx, lastSeenKey(userID), at.UnixMilli(), 0).Err(); err != nil {
		return errors.Wrap(err, "set last seen")
	}
	if online {
		if err := p.rdb.Set(ctx, onlineKey(userID), "1", p.onlineTTL).Err(); err != nil {
			return errors.Wrap(err, "set online marker")
		}
		return nil
	}
	if err := p.rdb.Del(ctx, onlineKey(userID)).Err(); err != nil {
		return errors.Wrap(err, "clear online marker")
	}
	return nil
}

func (p *RedisPresence) LastSeen(ctx context.Context, userID int64) (time.Time, bool, error) {
	ms, err := p.rdb.Get(ctx, lastSeenKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "get last seen")
	}

	n, err := p.rdb.Exists(ctx, onlineKey(userID)).Result()
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "check online marker")
	}
	return time.UnixMilli(ms), n > 0, nil
}
