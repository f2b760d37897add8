package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/bookstore/internal/domain/checkout"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "test", time.Hour, time.Minute), mr
}

func TestRedisStore_InsertGet(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	o := &checkout.PendingOrder{
		SessionID: "abc123def456",
		UserID:    "u1",
		Physical: []checkout.PhysicalItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("500")},
		},
	}
	require.NoError(t, s.Insert(ctx, o))
	assert.False(t, o.CreatedAt.IsZero())
	assert.Equal(t, time.Hour, mr.TTL("test:order:abc123def456"))

	got, err := s.Get(ctx, "abc123def456")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	require.Len(t, got.Physical, 1)
	assert.True(t, decimal.RequireFromString("500").Equal(got.Physical[0].UnitPrice))

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, checkout.ErrOrderDataNotFound)
}

func TestRedisStore_InsertIfAbsent(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, &checkout.PendingOrder{SessionID: "a"}))
	require.ErrorIs(t, s.Insert(ctx, &checkout.PendingOrder{SessionID: "a"}), checkout.ErrSessionExists)
}

func TestRedisStore_Expiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, &checkout.PendingOrder{SessionID: "a"}))

	mr.FastForward(time.Hour)

	_, err := s.Get(ctx, "a")
	require.ErrorIs(t, err, checkout.ErrOrderDataNotFound)
}

func TestRedisStore_SaveKeepsTTL(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	o := &checkout.PendingOrder{SessionID: "a"}
	require.NoError(t, s.Insert(ctx, o))
	mr.FastForward(20 * time.Minute)

	o.Progress.PaymentConfirmed = true
	o.Progress.CarrierOrderID = 123
	require.NoError(t, s.Save(ctx, o))
	assert.Equal(t, 40*time.Minute, mr.TTL("test:order:a"))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Progress.PaymentConfirmed)
	assert.Equal(t, int64(123), got.Progress.CarrierOrderID)
}

func TestRedisStore_SaveMissing(t *testing.T) {
	s, mr := newTestRedisStore(t)

	err := s.Save(context.Background(), &checkout.PendingOrder{SessionID: "gone"})
	require.ErrorIs(t, err, checkout.ErrOrderDataNotFound)
	assert.False(t, mr.Exists("test:order:gone"))
}

func TestRedisStore_Delete(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, &checkout.PendingOrder{SessionID: "a"}))

	require.NoError(t, s.Delete(ctx, "a"))
	assert.False(t, mr.Exists("test:order:a"))
}

func TestRedisStore_Lock(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "a")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:a"))

	_, err = s.Lock(ctx, "a")
	require.ErrorIs(t, err, checkout.ErrVerifyInProgress)

	unlock()
	assert.False(t, mr.Exists("test:lock:a"))

	again, err := s.Lock(ctx, "a")
	require.NoError(t, err)
	again()
}

func TestRedisStore_UnlockKeepsForeignLock(t *testing.T) {
	s, mr := newTestRedisStore(t)
	core, logs := observer.New(zap.WarnLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	unlock, err := s.Lock(ctx, "a")
	require.NoError(t, err)

	// The lock expires and another verify takes it over.
	mr.FastForward(time.Minute)
	other, err := s.Lock(ctx, "a")
	require.NoError(t, err)

	unlock()
	assert.True(t, mr.Exists("test:lock:a"), "stale holder must not release a newer lock")
	expired := logs.FilterMessage("Verify lock expired before release").All()
	require.Len(t, expired, 1)
	assert.Equal(t, "a", expired[0].ContextMap()["session_id"])

	other()
	assert.False(t, mr.Exists("test:lock:a"))
	assert.Equal(t, 1, logs.Len())
}

func TestRedisStore_Ping(t *testing.T) {
	s, mr := newTestRedisStore(t)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	require.Error(t, s.Ping(context.Background()))
}
