package router

import "sync/atomic"

// Stats are the observability counters of spec §4.8/§4.12, each incremented
// exactly once per packet that meets its condition.
type Stats struct {
	Routed         atomic.Uint64
	DeliveredLocal atomic.Uint64
	DroppedTTL     atomic.Uint64
	DroppedMAC     atomic.Uint64
	DroppedReplay  atomic.Uint64
	DroppedNoRoute atomic.Uint64
	DroppedParse   atomic.Uint64
}

// Snapshot is a point-in-time, non-atomic copy of Stats suitable for
// printing or asserting against in tests.
type Snapshot struct {
	Routed         uint64
	DeliveredLocal uint64
	DroppedTTL     uint64
	DroppedMAC     uint64
	DroppedReplay  uint64
	DroppedNoRoute uint64
	DroppedParse   uint64
}

// Snapshot reads every counter.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Routed:         s.Routed.Load(),
		DeliveredLocal: s.DeliveredLocal.Load(),
		DroppedTTL:     s.DroppedTTL.Load(),
		DroppedMAC:     s.DroppedMAC.Load(),
		DroppedReplay:  s.DroppedReplay.Load(),
		DroppedNoRoute: s.DroppedNoRoute.Load(),
		DroppedParse:   s.DroppedParse.Load(),
	}
}
