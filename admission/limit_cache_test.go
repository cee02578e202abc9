/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/log/logtest"
	"github.com/stretchr/testify/require"

	"github.com/rohankumardubey/styx-spotify/counter"
	"github.com/rohankumardubey/styx-spotify/counter/countertest"
)

func TestLimitCacheDenyByDefaultBeforeFirstLoad(t *testing.T) {
	cache := NewLimitCache(staticLimits(map[string]int64{"vault-sa": 5}), NewDefaultConfig(), log.NewDisabledLogger())

	limit, usable := cache.Limit("vault-sa")
	require.True(t, usable)
	require.Zero(t, limit, "before the first successful load every resource is closed")

	require.NoError(t, cache.Refresh(context.Background()))
	limit, usable = cache.Limit("vault-sa")
	require.True(t, usable)
	require.EqualValues(t, 5, limit)
}

func TestLimitCacheKeepsLastGoodLimitOnRefreshFailure(t *testing.T) {
	ctx := context.Background()
	recorder := logtest.NewRecorder()

	failing := false
	source := LimitSourceFunc(func(ctx context.Context) (map[string]int64, error) {
		if failing {
			return nil, errors.New("config service timeout")
		}
		return map[string]int64{"vault-sa": 3}, nil
	})
	cache := NewLimitCache(source, NewDefaultConfig(), recorder)
	require.NoError(t, cache.Refresh(ctx))

	failing = true
	require.Error(t, cache.Refresh(ctx))

	limit, usable := cache.Limit("vault-sa")
	require.True(t, usable)
	require.EqualValues(t, 3, limit, "stale limit must be retained, not reset to deny-by-default")

	_, found := recorder.FindEntry("limit refresh failed, keeping stale snapshot")
	require.True(t, found)
}

func TestLimitCacheStalenessCeilingFailsClosed(t *testing.T) {
	ctx := context.Background()
	cfg := NewDefaultConfig()
	cache := NewLimitCache(staticLimits(map[string]int64{"vault-sa": 3}), cfg, log.NewDisabledLogger())
	require.NoError(t, cache.Refresh(ctx))

	cache.now = func() time.Time { return time.Now().Add(cfg.MaxStaleness + time.Minute) }
	_, usable := cache.Limit("vault-sa")
	require.False(t, usable)

	// The whole admission path must deny while the configuration is unusable.
	cnt := counter.New(countertest.NewInMemStore(), counter.NewDefaultConfig(), log.NewDisabledLogger())
	c := NewController(cnt, cache, log.NewDisabledLogger())
	require.Equal(t, Denied, c.TryAcquire(ctx, "vault-sa"))

	// A successful refresh restores admission.
	require.NoError(t, cache.Refresh(ctx))
	require.Equal(t, Granted, c.TryAcquire(ctx, "vault-sa"))
}

func TestLimitCacheNoStalenessCeilingWhenDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := NewDefaultConfig()
	cfg.MaxStaleness = 0
	cache := NewLimitCache(staticLimits(map[string]int64{"vault-sa": 3}), cfg, log.NewDisabledLogger())
	require.NoError(t, cache.Refresh(ctx))

	cache.now = func() time.Time { return time.Now().Add(365 * 24 * time.Hour) }
	limit, usable := cache.Limit("vault-sa")
	require.True(t, usable)
	require.EqualValues(t, 3, limit)
}

func TestLimitCacheSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	limits := map[string]int64{"vault-sa": 3}
	cache := NewLimitCache(staticLimits(limits), NewDefaultConfig(), log.NewDisabledLogger())
	require.NoError(t, cache.Refresh(ctx))

	// Mutating the source's map must not leak into the published snapshot.
	limits["vault-sa"] = 100
	limit, _ := cache.Limit("vault-sa")
	require.EqualValues(t, 3, limit)
}
