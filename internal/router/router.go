// Package router implements the forwarding core of spec §4.8: a
// learning-switch that verifies each inbound frame, decides whether it is
// for this device or must be relayed toward another leaf of the tree, and
// keeps the few counters spec §4.12 names. Grounded on the teacher's
// server/main.go state struct (a keyMap/indexMap pair driving
// handleConnection's per-packet-type dispatch), generalized from a flat
// peer map into a learning forwarding table plus a distinguished uplink
// route.
package router

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/rafaelfelicianoS/treenet/internal/identity"
	"github.com/rafaelfelicianoS/treenet/internal/packet"
	"github.com/rafaelfelicianoS/treenet/internal/replay"
	"github.com/rafaelfelicianoS/treenet/internal/transport"
)

// ErrNoRoute is returned by Send when neither a learned downlink route nor
// an uplink exists for the destination.
var ErrNoRoute = errors.New("router: no route to destination")

// LocalHandler receives a fully verified packet addressed to this device
// (or, for HEARTBEAT, every one that passes verification regardless of
// destination).
type LocalHandler func(pkt packet.Packet)

// replayKey is the replay table's key: spec §3/§4.8 step 4 track replay
// state per (source NID, msg_type), not per source alone, since a source
// that ever originates two msg types through this router keeps an
// independent sequence space for each.
type replayKey struct {
	source  identity.NID
	msgType packet.MsgType
}

// Router owns the forwarding table, per-port session keys, and the replay
// state of one device.
type Router struct {
	device     *identity.Device
	link       transport.Link
	defaultTTL uint8

	mu       sync.Mutex
	table    map[identity.NID]transport.PortID
	keys     map[transport.PortID][32]byte
	handlers map[packet.MsgType]LocalHandler

	replay *replay.Table[replayKey]
	seq    atomic.Uint32

	Stats Stats

	Logger *log.Logger
}

// New creates a Router for device, talking over link. replayWindow is the
// sliding-window size (spec §6 REPLAY_WINDOW_SIZE) every learned source NID
// gets; defaultTTL seeds packets this device originates (spec §6
// TTL_DEFAULT).
func New(device *identity.Device, link transport.Link, replayWindow uint64, defaultTTL uint8) *Router {
	return &Router{
		device:     device,
		link:       link,
		defaultTTL: defaultTTL,
		table:      make(map[identity.NID]transport.PortID),
		keys:       make(map[transport.PortID][32]byte),
		handlers:   make(map[packet.MsgType]LocalHandler),
		replay:     replay.NewTable[replayKey](replayWindow),
		Logger:     log.Default(),
	}
}

// RegisterLocalHandler installs the callback invoked for packets of msgType
// that are locally delivered (addressed to this device, or HEARTBEAT, which
// is delivered to every device regardless of destination).
func (r *Router) RegisterLocalHandler(msgType packet.MsgType, handler LocalHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = handler
}

// SetSessionKey installs the per-link MAC key for port, called once a link
// reaches StateAuthenticated (spec §4.5 step 4). Attach must be called
// separately once the port is ready to receive routed traffic.
func (r *Router) SetSessionKey(port transport.PortID, key [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[port] = key
}

// ClearSessionKey drops port's session key and purges any forwarding-table
// entries that route through it, called on link loss (spec §4.7).
func (r *Router) ClearSessionKey(port transport.PortID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, port)
	for nid, p := range r.table {
		if p == port {
			delete(r.table, nid)
		}
	}
}

// ResetReplay clears every (peerNID, msg_type) replay window belonging to
// peerNID, called once a handshake with that peer reaches AUTHENTICATED
// (spec §4.5's last sentence) so a session key re-negotiated after a
// reconnect doesn't inherit a stale high-water sequence mark.
func (r *Router) ResetReplay(peerNID identity.NID) {
	for _, mt := range packet.AllMsgTypes {
		r.replay.Reset(replayKey{peerNID, mt})
	}
}

// EvictReplay discards every (peerNID, msg_type) replay window belonging to
// peerNID, called on link teardown alongside ClearSessionKey (spec §4.7
// step 2: "evict its forwarding-table entries and replay-window state").
func (r *Router) EvictReplay(peerNID identity.NID) {
	for _, mt := range packet.AllMsgTypes {
		r.replay.Evict(replayKey{peerNID, mt})
	}
}

// Attach wires this Router's receive pipeline to port's inbound stream.
func (r *Router) Attach(port transport.PortID) {
	r.link.SubscribeInbound(port, r.receive)
}

// receive is the spec §4.8 pipeline: parse, verify MAC, check replay, learn
// the source's port, then dispatch.
func (r *Router) receive(port transport.PortID, raw []byte) {
	pkt, err := packet.Decode(raw)
	if err != nil {
		r.Stats.DroppedParse.Add(1)
		return
	}

	key, ok := r.macKeyFor(port, pkt.MsgType)
	if !ok || !packet.Verify(pkt, key[:]) {
		r.Stats.DroppedMAC.Add(1)
		return
	}

	switch r.replay.Check(replayKey{pkt.Source, pkt.MsgType}, pkt.Sequence) {
	case replay.Duplicate, replay.TooOld:
		r.Stats.DroppedReplay.Add(1)
		return
	}

	r.learn(pkt.Source, port)

	if pkt.MsgType == packet.Heartbeat {
		r.deliverLocal(pkt)
		r.floodHeartbeat(pkt, port)
		return
	}

	if pkt.Destination.Equal(r.device.NID) {
		r.deliverLocal(pkt)
		return
	}

	// HEARTBEAT is the only broadcast msg_type (spec §4.8 step 6); any other
	// packet addressed to the broadcast NID is discarded rather than routed.
	if pkt.Destination.IsBroadcast() {
		r.Stats.DroppedNoRoute.Add(1)
		return
	}

	r.forward(pkt, port)
}

// macKeyFor returns the key inbound traffic of msgType on port must be
// verified under: the process-wide broadcast key for HEARTBEAT, the port's
// negotiated session key otherwise.
func (r *Router) macKeyFor(port transport.PortID, msgType packet.MsgType) ([32]byte, bool) {
	if msgType == packet.Heartbeat {
		return identity.BroadcastMACKey, true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[port]
	return key, ok
}

func (r *Router) learn(source identity.NID, port transport.PortID) {
	if source.Equal(r.device.NID) || source.IsBroadcast() {
		return
	}
	r.mu.Lock()
	r.table[source] = port
	r.mu.Unlock()
}

func (r *Router) deliverLocal(pkt packet.Packet) {
	r.mu.Lock()
	handler, ok := r.handlers[pkt.MsgType]
	r.mu.Unlock()
	r.Stats.DeliveredLocal.Add(1)
	if ok {
		handler(pkt)
	}
}

// floodHeartbeat re-broadcasts a HEARTBEAT to every port except the one it
// arrived on, after decrementing TTL, per spec §4.6's tree-wide flood.
func (r *Router) floodHeartbeat(pkt packet.Packet, inboundPort transport.PortID) {
	if pkt.TTL <= 1 {
		r.Stats.DroppedTTL.Add(1)
		return
	}
	pkt.TTL--
	pkt = packet.Sign(pkt, identity.BroadcastMACKey[:])
	raw, err := packet.Encode(pkt)
	if err != nil {
		r.Stats.DroppedParse.Add(1)
		return
	}
	if err := r.link.Broadcast(context.Background(), raw, map[transport.PortID]struct{}{inboundPort: {}}); err != nil {
		r.Logger.Printf("router: heartbeat flood failed: %v", err)
		return
	}
	r.Stats.Routed.Add(1)
}

// forward relays a non-HEARTBEAT packet toward its destination: a learned
// downlink if one exists, otherwise the uplink.
func (r *Router) forward(pkt packet.Packet, inboundPort transport.PortID) {
	if pkt.TTL <= 1 {
		r.Stats.DroppedTTL.Add(1)
		return
	}
	port, key, ok := r.routeFor(pkt.Destination, inboundPort)
	if !ok {
		r.Stats.DroppedNoRoute.Add(1)
		return
	}
	pkt.TTL--
	pkt = packet.Sign(pkt, key[:])
	raw, err := packet.Encode(pkt)
	if err != nil {
		r.Stats.DroppedParse.Add(1)
		return
	}
	if err := r.link.Send(context.Background(), port, raw); err != nil {
		r.Logger.Printf("router: forward to %s failed: %v", pkt.Destination, err)
		return
	}
	r.Stats.Routed.Add(1)
}

// routeFor resolves destination to an outbound port and its session key,
// preferring a learned downlink over the default uplink route, and refusing
// to route a packet back out the port it arrived on.
func (r *Router) routeFor(destination identity.NID, inboundPort transport.PortID) (transport.PortID, [32]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if port, ok := r.table[destination]; ok && port != inboundPort {
		if key, ok := r.keys[port]; ok {
			return port, key, true
		}
	}
	if key, ok := r.keys[transport.UplinkPort]; ok && transport.UplinkPort != inboundPort {
		return transport.UplinkPort, key, true
	}
	return "", [32]byte{}, false
}

// Send originates a new packet from this device, assigning the next
// sequence number, and routes it exactly as forward would (learned downlink
// preferred, uplink otherwise).
func (r *Router) Send(ctx context.Context, destination identity.NID, msgType packet.MsgType, payload []byte) error {
	seq := r.seq.Add(1)
	pkt := packet.Packet{
		Source:      r.device.NID,
		Destination: destination,
		MsgType:     msgType,
		TTL:         r.defaultTTL,
		Sequence:    seq,
		Payload:     payload,
	}
	port, key, ok := r.routeFor(destination, "")
	if !ok {
		return ErrNoRoute
	}
	pkt = packet.Sign(pkt, key[:])
	raw, err := packet.Encode(pkt)
	if err != nil {
		return err
	}
	if err := r.link.Send(ctx, port, raw); err != nil {
		return err
	}
	r.Stats.Routed.Add(1)
	return nil
}
