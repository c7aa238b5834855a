// Package linkmanager owns the uplink/downlink lifecycle of spec §4.9: the
// single-uplink invariant, lazy uplink (re)selection once the current one is
// lost, downlink acceptance, and the heartbeat-timeout watchdog of spec §4.7
// that tears a subtree down when its path to the Sink goes stale. Grounded
// on the teacher's client/session.go Session.Run retry loop (scan -> connect
// -> handshake -> mark resolved) generalized from a single fixed peer into a
// ranked-candidate search, and on client/config.go's flag-driven parameters.
package linkmanager

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/rafaelfelicianoS/treenet/internal/heartbeat"
	"github.com/rafaelfelicianoS/treenet/internal/identity"
	"github.com/rafaelfelicianoS/treenet/internal/router"
	"github.com/rafaelfelicianoS/treenet/internal/transport"
)

// Hop count sentinels (SPEC_FULL.md §3): HopUnset marks a Node that has
// never attached to the tree, HopPeripheralOnly is advertised by a device
// that accepts no uplink connections, HopUnreachable is advertised while
// searching for a new uplink after losing the old one.
const (
	HopUnset          int16 = -1
	HopPeripheralOnly int16 = 254
	HopUnreachable    int16 = 255
)

var (
	ErrSinkHasNoUplink   = errors.New("linkmanager: the Sink never seeks an uplink")
	ErrNoUplinkCandidate = errors.New("linkmanager: no suitable uplink candidate found")
)

// Config bundles the tunables of spec §6 this package needs.
type Config struct {
	ScanTimeout       time.Duration
	HeartbeatInterval time.Duration
	MissThreshold     int
	Cooldown          time.Duration
}

// LinkManager drives link lifecycle for one device. A Sink only ever runs
// the downlink-acceptance half; a Node runs both halves.
type LinkManager struct {
	device     *identity.Device
	link       transport.Link
	router     *router.Router
	heartbeats *heartbeat.Consumer // nil for the Sink, which never consumes

	cfg Config

	mu            sync.Mutex
	uplinkActive  bool
	uplinkPeerNID identity.NID
	hopCount      int16
	cooldown      map[string]time.Time
	downlinks     map[transport.PortID]identity.NID
	watchedSink   identity.NID
	haveWatched   bool

	Logger *log.Logger
}

// New creates a LinkManager for device. heartbeats may be nil for a Sink.
//
// The initial hop count is HopUnset (-1) for every device. For a Node this
// means "not yet attached"; EstablishUplink moves it to 0..254 on success.
// For the Sink it is simply correct as-is and never changes again (spec
// §3's glossary: "Sink = -1"), since the Sink never calls EstablishUplink
// and the watchdog never runs without a heartbeat consumer.
func New(device *identity.Device, link transport.Link, r *router.Router, heartbeats *heartbeat.Consumer, cfg Config) *LinkManager {
	return &LinkManager{
		device:     device,
		link:       link,
		router:     r,
		heartbeats: heartbeats,
		cfg:        cfg,
		cooldown:   make(map[string]time.Time),
		downlinks:  make(map[transport.PortID]identity.NID),
		hopCount:   HopUnset,
		Logger:     log.Default(),
	}
}

// HopCount reports this device's current advertised hop count.
func (lm *LinkManager) HopCount() int16 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.hopCount
}

// HasUplink reports whether a live uplink is currently installed.
func (lm *LinkManager) HasUplink() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.uplinkActive
}

// Downlinks lists the NIDs of currently connected downlink peers.
func (lm *LinkManager) Downlinks() map[transport.PortID]identity.NID {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	out := make(map[transport.PortID]identity.NID, len(lm.downlinks))
	for p, n := range lm.downlinks {
		out[p] = n
	}
	return out
}

// ObserveHeartbeat records a verified heartbeat from sinkNID, both in the
// heartbeat consumer (for staleness checks) and as the Sink this
// LinkManager's watchdog should watch.
func (lm *LinkManager) ObserveHeartbeat(sinkNID identity.NID, now time.Time) {
	if lm.heartbeats == nil {
		return
	}
	lm.heartbeats.Observe(sinkNID, now)
	lm.mu.Lock()
	lm.watchedSink = sinkNID
	lm.haveWatched = true
	lm.mu.Unlock()
}

func (lm *LinkManager) isCoolingDown(address string, now time.Time) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	until, ok := lm.cooldown[address]
	return ok && now.Before(until)
}

func (lm *LinkManager) markCooldown(address string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.cooldown[address] = time.Now().Add(lm.cfg.Cooldown)
}

// rankCandidates implements spec §4.9 step 3: exclude peripheral-only and
// cooling-down neighbours, then sort by (advertised hop ascending, RSSI
// descending) so the search prefers the shortest, strongest path to the
// Sink.
func (lm *LinkManager) rankCandidates(neighbours []transport.Neighbour) []transport.Neighbour {
	now := time.Now()
	out := make([]transport.Neighbour, 0, len(neighbours))
	for _, n := range neighbours {
		if n.DeviceType == transport.DeviceTypePeripheralOnly {
			continue
		}
		if n.AdvertisedHop == HopPeripheralOnly || n.AdvertisedHop == HopUnreachable {
			continue
		}
		if lm.isCoolingDown(n.Address, now) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AdvertisedHop != out[j].AdvertisedHop {
			return out[i].AdvertisedHop < out[j].AdvertisedHop
		}
		return out[i].RSSI > out[j].RSSI
	})
	return out
}

// nextHop computes this device's own hop count once it adopts a peer
// advertising peerHop as its uplink.
func nextHop(peerHop int16) int16 {
	if peerHop+1 >= HopPeripheralOnly {
		return HopUnreachable
	}
	return peerHop + 1
}
