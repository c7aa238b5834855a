package linkmanager

import (
	"context"
	"time"

	"github.com/rafaelfelicianoS/treenet/internal/transport"
)

// RunWatchdog polls for heartbeat staleness every HeartbeatInterval until
// ctx is cancelled, tearing the uplink (and cascading to every downlink)
// down the moment the Sink path has been silent for MissThreshold
// consecutive intervals (spec §4.7).
func (lm *LinkManager) RunWatchdog(ctx context.Context) error {
	ticker := time.NewTicker(lm.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			lm.checkStaleness(time.Now())
		}
	}
}

func (lm *LinkManager) checkStaleness(now time.Time) {
	if lm.heartbeats == nil {
		return
	}
	lm.mu.Lock()
	sink, have := lm.watchedSink, lm.haveWatched
	active := lm.uplinkActive
	lm.mu.Unlock()
	if !have || !active {
		return
	}
	last, ok := lm.heartbeats.LastSeen(sink)
	if !ok {
		return
	}
	if now.Sub(last) > time.Duration(lm.cfg.MissThreshold)*lm.cfg.HeartbeatInterval {
		lm.Logger.Printf("linkmanager: heartbeat from %s stale, cascading disconnect", sink)
		lm.cascadeDisconnect()
	}
}

// cascadeDisconnect tears down the uplink and every downlink: losing the
// path to the Sink invalidates this device's place in the tree, so its own
// subtree must re-seek attachment too rather than keep serving traffic
// toward a Sink it can no longer reach (spec §4.7).
func (lm *LinkManager) cascadeDisconnect() {
	lm.router.ClearSessionKey(transport.UplinkPort)
	lm.link.Disconnect(transport.UplinkPort)

	lm.mu.Lock()
	downlinks := make([]transport.PortID, 0, len(lm.downlinks))
	for port := range lm.downlinks {
		downlinks = append(downlinks, port)
	}
	uplinkPeerNID := lm.uplinkPeerNID
	lm.uplinkActive = false
	lm.hopCount = HopUnreachable
	lm.haveWatched = false
	lm.mu.Unlock()

	lm.router.EvictReplay(uplinkPeerNID)
	for _, port := range downlinks {
		lm.DisconnectDownlink(port)
	}
	lm.link.UpdateAdvertisement(HopUnreachable)
}
