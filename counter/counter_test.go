/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/acronis/go-appkit/log"
	"github.com/stretchr/testify/require"
)

func newTestCounter(t *testing.T, store Store) *ShardedCounter {
	t.Helper()
	return New(store, NewDefaultConfig(), log.NewDisabledLogger())
}

func TestShardedCounterIncrementDecrement(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	c := newTestCounter(t, store)

	const increments = 25
	const decrements = 10

	for i := 0; i < increments; i++ {
		_, err := c.Increment(ctx, "vault-sa")
		require.NoError(t, err)
	}
	for i := 0; i < decrements; i++ {
		require.NoError(t, c.Decrement(ctx, "vault-sa"))
	}

	total, err := c.Total(ctx, "vault-sa")
	require.NoError(t, err)
	require.EqualValues(t, increments-decrements, total)
}

func TestShardedCounterTotalOfUntouchedResource(t *testing.T) {
	c := newTestCounter(t, newTestStore())

	total, err := c.Total(context.Background(), "never-seen")
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestShardedCounterPairedOpsLeaveNoNegativeShards(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	c := newTestCounter(t, store)

	require.NoError(t, c.AdjustShardCount(ctx, "bigquery-slots", 4))
	require.Equal(t, 4, c.ShardCount("bigquery-slots"))

	const n = 100
	for i := 0; i < n; i++ {
		_, err := c.Increment(ctx, "bigquery-slots")
		require.NoError(t, err)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, c.Decrement(ctx, "bigquery-slots"))
	}

	total, err := c.Total(ctx, "bigquery-slots")
	require.NoError(t, err)
	require.Zero(t, total)
	for key, value := range store.snapshot(resourceShardPrefix("bigquery-slots")) {
		require.GreaterOrEqual(t, value, int64(0), "shard %s went negative", key)
	}
}

func TestShardedCounterUnmatchedDecrementGoesTransientlyNegative(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	c := newTestCounter(t, store)

	require.NoError(t, c.Decrement(ctx, "misused"))

	total, err := c.Total(ctx, "misused")
	require.NoError(t, err)
	require.EqualValues(t, -1, total)

	// A subsequent increment corrects the sum.
	_, err = c.Increment(ctx, "misused")
	require.NoError(t, err)
	total, err = c.Total(ctx, "misused")
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestShardedCounterIncrementFailsFast(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	store.failAtomicAdd = errors.New("datastore is down")
	c := newTestCounter(t, store)

	_, err := c.Increment(ctx, "vault-sa")
	require.Error(t, err)
	var storeErr *StoreUnavailableError
	require.True(t, errors.As(err, &storeErr))
	require.ErrorContains(t, err, "datastore is down")

	store.failAtomicAdd = nil
	total, err := c.Total(ctx, "vault-sa")
	require.NoError(t, err)
	require.Zero(t, total, "failed increment must not reserve capacity")
}

func TestShardedCounterConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	c := newTestCounter(t, store)
	require.NoError(t, c.AdjustShardCount(ctx, "concurrent", 8))

	const goroutines = 16
	const perGoroutine = 50

	errCh := make(chan error, goroutines*perGoroutine)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if _, err := c.Increment(ctx, "concurrent"); err != nil {
					errCh <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	total, err := c.Total(ctx, "concurrent")
	require.NoError(t, err)
	require.EqualValues(t, goroutines*perGoroutine, total)
}

func TestAdjustShardCountPreservesTotal(t *testing.T) {
	tests := []struct {
		from int
		to   int
	}{
		{from: 1, to: 4},
		{from: 4, to: 1},
		{from: 4, to: 16},
		{from: 16, to: 3},
		{from: 3, to: 3},
		{from: 5, to: 2},
	}
	for i, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("%d_from_%d_to_%d", i, tt.from, tt.to), func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore()
			c := newTestCounter(t, store)
			resource := fmt.Sprintf("res-%d", i)

			require.NoError(t, c.AdjustShardCount(ctx, resource, tt.from))
			const units = 37
			for j := 0; j < units; j++ {
				_, err := c.Increment(ctx, resource)
				require.NoError(t, err)
			}

			require.NoError(t, c.AdjustShardCount(ctx, resource, tt.to))

			require.Equal(t, tt.to, c.ShardCount(resource))
			total, err := c.Total(ctx, resource)
			require.NoError(t, err)
			require.EqualValues(t, units, total, "migration must preserve the total exactly")

			// No shard outside the new shard set may hold a value.
			for key, value := range store.snapshot(resourceShardPrefix(resource)) {
				idx, ok := shardIndexFromKey(key, resource)
				require.True(t, ok)
				if idx >= tt.to {
					require.Zero(t, value, "shard %s outside the new shard set still holds value", key)
				}
			}
		})
	}
}

func TestAdjustShardCountRejectsNonPositiveTarget(t *testing.T) {
	c := newTestCounter(t, newTestStore())
	require.Error(t, c.AdjustShardCount(context.Background(), "res", 0))
	require.Error(t, c.AdjustShardCount(context.Background(), "res", -3))
}

func TestShardMapRefreshKeepsStaleSnapshotOnFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	c := newTestCounter(t, store)

	require.NoError(t, c.AdjustShardCount(ctx, "res", 8))
	require.NoError(t, c.RefreshShardMap(ctx))
	require.Equal(t, 8, c.ShardCount("res"))

	store.failScanPrefix = errors.New("scan timed out")
	require.Error(t, c.RefreshShardMap(ctx))
	require.Equal(t, 8, c.ShardCount("res"), "stale shard count must be retained")
}

func TestShardMapDefaultsToSingleShard(t *testing.T) {
	c := newTestCounter(t, newTestStore())
	require.Equal(t, DefaultShardCount, c.ShardCount("fresh"))
	require.NoError(t, c.RefreshShardMap(context.Background()))
	require.Equal(t, DefaultShardCount, c.ShardCount("fresh"))
}

// testStore is a minimal in-memory Store used only inside the package;
// the exported fake with failure hooks lives in countertest.
type testStore struct {
	mu             sync.Mutex
	values         map[string]int64
	failAtomicAdd  error
	failScanPrefix error
	failDelete     error

	// beforeAtomicAdd runs before the mutex is acquired, so it may re-enter
	// the store to model a racing writer.
	beforeAtomicAdd func(key string, delta int64)
}

func newTestStore() *testStore {
	return &testStore{values: make(map[string]int64)}
}

func (s *testStore) AtomicAdd(_ context.Context, key string, delta int64) (int64, error) {
	if hook := s.beforeAtomicAdd; hook != nil {
		hook(key, delta)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAtomicAdd != nil {
		return 0, s.failAtomicAdd
	}
	s.values[key] += delta
	return s.values[key], nil
}

func (s *testStore) ScanPrefix(_ context.Context, prefix string) ([]KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failScanPrefix != nil {
		return nil, s.failScanPrefix
	}
	var kvs []KeyValue
	for k, v := range s.values {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			kvs = append(kvs, KeyValue{Key: k, Value: v})
		}
	}
	return kvs, nil
}

func (s *testStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete != nil {
		return s.failDelete
	}
	delete(s.values, key)
	return nil
}

func (s *testStore) snapshot(prefix string) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(map[string]int64)
	for k, v := range s.values {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			res[k] = v
		}
	}
	return res
}
