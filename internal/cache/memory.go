// Package cache stores pending checkout orders between placement and
// verification.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/checkout"
)

const (
	// DefaultRetention is how long an unverified order is kept.
	DefaultRetention = time.Hour
	// DefaultSweepInterval is how often expired orders are removed.
	DefaultSweepInterval = 30 * time.Minute
)

var _ checkout.OrderCache = (*MemoryStore)(nil)

// MemoryStore is a process-local OrderCache. Entries do not survive a
// restart.
type MemoryStore struct {
	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	orders map[string]checkout.PendingOrder
	locks  map[string]struct{}
}

// NewMemoryStore creates a MemoryStore. Zero durations select the defaults.
func NewMemoryStore(retention, sweepInterval time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &MemoryStore{
		retention: retention,
		interval:  sweepInterval,
		now:       time.Now,
		orders:    make(map[string]checkout.PendingOrder),
		locks:     make(map[string]struct{}),
	}
}

func (s *MemoryStore) expired(o checkout.PendingOrder, now time.Time) bool {
	return now.Sub(o.CreatedAt) >= s.retention
}

// Insert implements checkout.OrderCache.
func (s *MemoryStore) Insert(_ context.Context, o *checkout.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.orders[o.SessionID]; ok && !s.expired(cur, now) {
		return checkout.ErrSessionExists
	}
	o.CreatedAt = now
	s.orders[o.SessionID] = *o
	return nil
}

// Get implements checkout.OrderCache.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*checkout.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[sessionID]
	if !ok || s.expired(o, s.now()) {
		return nil, checkout.ErrOrderDataNotFound
	}
	return &o, nil
}

// Save implements checkout.OrderCache.
func (s *MemoryStore) Save(_ context.Context, o *checkout.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[o.SessionID]
	if !ok || s.expired(cur, s.now()) {
		return checkout.ErrOrderDataNotFound
	}
	saved := *o
	saved.CreatedAt = cur.CreatedAt
	s.orders[o.SessionID] = saved
	return nil
}

// Delete implements checkout.OrderCache.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, sessionID)
	return nil
}

// Lock implements checkout.OrderCache.
func (s *MemoryStore) Lock(_ context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.locks[sessionID]; held {
		return nil, checkout.ErrVerifyInProgress
	}
	s.locks[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, sessionID)
			s.mu.Unlock()
		})
	}, nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// Sweep removes every entry older than the retention window and returns how
// many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for id, o := range s.orders {
		if s.expired(o, now) {
			delete(s.orders, id)
			n++
		}
	}
	return n
}

// Run sweeps expired entries until ctx is done.
func (s *MemoryStore) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("cache")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				lg.Info("Swept expired orders", zap.Int("count", n))
			}
		}
	}
}
