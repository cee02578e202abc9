/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package admission implements capacity-based admission control for named,
// concurrency-limited resources on top of the sharded counter. A scheduler
// calls TryAcquire before dispatching a job against a resource and Release
// when the job terminates; the controller compares the counter's aggregated
// usage with the configured limit and grants or denies the reservation.
//
// The read-then-increment admission check is optimistic: racing callers can
// briefly overshoot the limit by at most the number of callers racing within
// the read-write window. The controller re-checks after its own increment and
// revokes the reservation if the limit turned out to be exceeded, so callers
// only ever see the final Granted or Denied verdict.
package admission
