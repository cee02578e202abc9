/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"github.com/acronis/go-appkit/service"

	"github.com/rohankumardubey/styx-spotify/counter"
)

// NewUnit bundles all background loops of the admission stack (shard map
// refresh, shard count adaptation, decrement reconciliation, idle shard GC
// and limit refresh) into a single service.Unit, so a host process can mount
// it next to its other units:
//
//	unit := admission.NewUnit(cnt, limits)
//	svc := service.New(logger, service.NewCompositeUnit(unit, httpServerUnit))
func NewUnit(cnt *counter.ShardedCounter, limits *LimitCache) service.Unit {
	workers := append(cnt.Workers(), limits.Worker())
	units := make([]service.Unit, 0, len(workers))
	for _, w := range workers {
		units = append(units, service.NewWorkerUnit(w))
	}
	return service.NewCompositeUnit(units...)
}
