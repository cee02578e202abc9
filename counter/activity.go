/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counter

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

type resourceActivity struct {
	lastTouched atomic.Int64 // unix nanos
	incFailures atomic.Int64 // cumulative increment store failures
}

// activityTracker records per-resource activity observed by this process:
// when a resource was last incremented or decremented, and how many increment
// writes failed. The adaptation and GC workers consume it; caller-facing
// operations only ever do a cheap map lookup plus an atomic store.
type activityTracker struct {
	mu        sync.RWMutex
	resources map[string]*resourceActivity
}

func newActivityTracker() *activityTracker {
	return &activityTracker{resources: make(map[string]*resourceActivity)}
}

func (t *activityTracker) state(resource string) *resourceActivity {
	t.mu.RLock()
	ra := t.resources[resource]
	t.mu.RUnlock()
	if ra != nil {
		return ra
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ra = t.resources[resource]; ra == nil {
		ra = &resourceActivity{}
		t.resources[resource] = ra
	}
	return ra
}

func (t *activityTracker) touch(resource string) {
	t.state(resource).lastTouched.Store(time.Now().UnixNano())
}

func (t *activityTracker) recordIncrementFailure(resource string) {
	ra := t.state(resource)
	ra.incFailures.Inc()
	ra.lastTouched.Store(time.Now().UnixNano())
}

func (t *activityTracker) incrementFailures(resource string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if ra := t.resources[resource]; ra != nil {
		return ra.incFailures.Load()
	}
	return 0
}

func (t *activityTracker) lastTouched(resource string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ra := t.resources[resource]
	if ra == nil {
		return time.Time{}, false
	}
	nanos := ra.lastTouched.Load()
	if nanos == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

func (t *activityTracker) list() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res := make([]string, 0, len(t.resources))
	for r := range t.resources {
		res = append(res, r)
	}
	return res
}

func (t *activityTracker) forget(resource string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.resources, resource)
}
