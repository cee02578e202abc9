/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// KeyValue is a single key and its value as returned by Store.ScanPrefix.
type KeyValue struct {
	Key   string
	Value int64
}

// Store is the persistent key-value collaborator the counter is built on.
// Implementations are expected to be shared by all scheduler instances;
// correctness of the counter relies entirely on AtomicAdd being atomic under
// concurrent callers on the same key.
type Store interface {
	// AtomicAdd atomically adds delta (which may be negative) to the value at key
	// and returns the new value. A missing key is treated as having value 0.
	AtomicAdd(ctx context.Context, key string, delta int64) (int64, error)

	// ScanPrefix returns all keys starting with the given prefix together with
	// their values. No ordering is guaranteed.
	ScanPrefix(ctx context.Context, prefix string) ([]KeyValue, error)

	// Delete removes the key. Deleting a missing key must be a no-op.
	Delete(ctx context.Context, key string) error
}

// StoreUnavailableError is returned when the underlying store fails
// transiently. Callers must treat the corresponding operation as not applied.
type StoreUnavailableError struct {
	Inner error
}

// NewStoreUnavailableError creates a new StoreUnavailableError wrapping the cause.
func NewStoreUnavailableError(inner error) *StoreUnavailableError {
	return &StoreUnavailableError{Inner: inner}
}

// Error implements the error interface.
func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("counter store unavailable: %v", e.Inner)
}

// Unwrap returns the wrapped store error.
func (e *StoreUnavailableError) Unwrap() error {
	return e.Inner
}

// Key layout in the store. Shard values and the persisted shard counts live
// under separate prefixes so that aggregation scans stay per-resource.
const (
	shardKeyPrefix = "cnt/"
	shardMapPrefix = "map/"
)

func shardKey(resource string, index int) string {
	return shardKeyPrefix + resource + "/" + strconv.Itoa(index)
}

func resourceShardPrefix(resource string) string {
	return shardKeyPrefix + resource + "/"
}

func shardMapKey(resource string) string {
	return shardMapPrefix + resource
}

func resourceFromShardMapKey(key string) (string, bool) {
	if !strings.HasPrefix(key, shardMapPrefix) {
		return "", false
	}
	return key[len(shardMapPrefix):], true
}

func shardIndexFromKey(key, resource string) (int, bool) {
	prefix := resourceShardPrefix(resource)
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	idx, err := strconv.Atoi(key[len(prefix):])
	if err != nil {
		return 0, false
	}
	return idx, true
}
