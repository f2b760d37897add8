package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/checkout"
)

// DefaultLockTTL bounds how long a crashed verify can hold a session.
const DefaultLockTTL = 2 * time.Minute

var _ checkout.OrderCache = (*RedisStore)(nil)

// unlockScript deletes the lock only when it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore is an OrderCache backed by Redis. Retention is enforced by key
// expiry.
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
	lockTTL   time.Duration
	now       func() time.Time
}

// NewRedisStore creates a RedisStore. Zero durations select the defaults.
func NewRedisStore(rdb redis.UniversalClient, prefix string, retention, lockTTL time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if prefix == "" {
		prefix = "checkout"
	}
	return &RedisStore{
		rdb:       rdb,
		prefix:    prefix,
		retention: retention,
		lockTTL:   lockTTL,
		now:       time.Now,
	}
}

func (s *RedisStore) orderKey(id string) string { return s.prefix + ":order:" + id }
func (s *RedisStore) lockKey(id string) string  { return s.prefix + ":lock:" + id }

// Insert implements checkout.OrderCache.
func (s *RedisStore) Insert(ctx context.Context, o *checkout.PendingOrder) error {
	o.CreatedAt = s.now()
	data, err := json.Marshal(o)
	if err != nil {
		return errors.Wrap(err, "encode order")
	}

	ok, err := s.rdb.SetNX(ctx, s.orderKey(o.SessionID), data, s.retention).Result()
	if err != nil {
		return errors.Wrap(err, "set order")
	}
	if !ok {
		return checkout.ErrSessionExists
	}
	return nil
}

// Get implements checkout.OrderCache.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*checkout.PendingOrder, error) {
	data, err := s.rdb.Get(ctx, s.orderKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, checkout.ErrOrderDataNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}

	var o checkout.PendingOrder
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &o, nil
}

// Save implements checkout.OrderCache. The key keeps its remaining TTL.
func (s *RedisStore) Save(ctx context.Context, o *checkout.PendingOrder) error {
	data, err := json.Marshal(o)
	if err != nil {
		return errors.Wrap(err, "encode order")
	}

	res, err := s.rdb.SetArgs(ctx, s.orderKey(o.SessionID), data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return checkout.ErrOrderDataNotFound
	}
	if err != nil {
		return errors.Wrap(err, "save order")
	}
	if res != "OK" {
		return checkout.ErrOrderDataNotFound
	}
	return nil
}

// Delete implements checkout.OrderCache.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, s.orderKey(sessionID)).Err(); err != nil {
		return errors.Wrap(err, "delete order")
	}
	return nil
}

// Lock implements checkout.OrderCache. The lock expires after the lock TTL
// when its holder never releases it.
func (s *RedisStore) Lock(ctx context.Context, sessionID string) (func(), error) {
	token := uuid.NewString()
	key := s.lockKey(sessionID)

	ok, err := s.rdb.SetNX(ctx, key, token, s.lockTTL).Result()
	if err != nil {
		return nil, errors.Wrap(err, "acquire lock")
	}
	if !ok {
		return nil, checkout.ErrVerifyInProgress
	}

	return func() {
		// Released even when the request context is cancelled.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		lg := zctx.From(ctx).With(zap.String("session_id", sessionID))
		n, err := unlockScript.Run(ctx, s.rdb, []string{key}, token).Int64()
		switch {
		case err != nil:
			lg.Warn("Failed to release verify lock", zap.Error(err))
		case n == 0:
			lg.Warn("Verify lock expired before release", zap.Duration("lock_ttl", s.lockTTL))
		}
	}, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
