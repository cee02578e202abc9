/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package countertest provides an in-memory implementation of counter.Store
// for use in tests, with hooks for injecting transient store failures.
package countertest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rohankumardubey/styx-spotify/counter"
)

// InMemStore is an in-memory counter.Store. It is safe for concurrent use,
// and its AtomicAdd is atomic under concurrent callers on the same key, which
// is the only guarantee the counter relies on.
type InMemStore struct {
	mu     sync.Mutex
	values map[string]int64

	// FailAtomicAdd, FailScanPrefix and FailDelete, when non-nil, are called
	// before the corresponding operation; a returned error is reported to the
	// caller and the operation is not applied. Hooks run outside the store
	// lock, so a hook may itself access the store (e.g. to model a racing
	// writer).
	FailAtomicAdd  func(key string) error
	FailScanPrefix func(prefix string) error
	FailDelete     func(key string) error
}

var _ counter.Store = (*InMemStore)(nil)

// NewInMemStore creates a new empty InMemStore.
func NewInMemStore() *InMemStore {
	return &InMemStore{values: make(map[string]int64)}
}

// AtomicAdd implements counter.Store.
func (s *InMemStore) AtomicAdd(_ context.Context, key string, delta int64) (int64, error) {
	if f := s.FailAtomicAdd; f != nil {
		if err := f(key); err != nil {
			return 0, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] += delta
	return s.values[key], nil
}

// ScanPrefix implements counter.Store.
func (s *InMemStore) ScanPrefix(_ context.Context, prefix string) ([]counter.KeyValue, error) {
	if f := s.FailScanPrefix; f != nil {
		if err := f(prefix); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var kvs []counter.KeyValue
	for k, v := range s.values {
		if strings.HasPrefix(k, prefix) {
			kvs = append(kvs, counter.KeyValue{Key: k, Value: v})
		}
	}
	// Deterministic order simplifies assertions; the contract promises none.
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return kvs, nil
}

// Delete implements counter.Store. Deleting a missing key is a no-op.
func (s *InMemStore) Delete(_ context.Context, key string) error {
	if f := s.FailDelete; f != nil {
		if err := f(key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Value returns the current value at key (0 if absent).
func (s *InMemStore) Value(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// Keys returns all keys with the given prefix, sorted.
func (s *InMemStore) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
