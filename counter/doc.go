/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package counter implements a sharded counter over an external key-value
// store with atomic per-key addition. A logical counter for a resource is
// split into several independently addressable shards so that many
// uncoordinated processes can increment and decrement it without a central
// lock; the aggregated value is obtained by scanning and summing the shards.
//
// The package also runs the counter's background maintenance: periodic
// refresh of the cached shard layout, adaptation of the shard count to the
// observed write contention, retrying of failed decrements (a lost decrement
// would leak capacity permanently), and garbage collection of idle empty
// shards.
package counter
