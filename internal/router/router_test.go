package router

import (
	"bytes"
	"context"
	"testing"

	"github.com/rafaelfelicianoS/treenet/internal/identity"
	"github.com/rafaelfelicianoS/treenet/internal/packet"
	"github.com/rafaelfelicianoS/treenet/internal/transport"
)

func testDevice(b byte) *identity.Device {
	var nid identity.NID
	for i := range nid {
		nid[i] = b
	}
	return &identity.Device{NID: nid}
}

func testKey(b byte) [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = b
	}
	return k
}

// wireUp builds a three-device chain A - B - Sink over a Fabric, with B
// sitting between the other two exactly as an interior router would, and
// installs matching session keys on each side of both links (standing in
// for a completed auth handshake).
func wireUp(t *testing.T) (fabric *transport.Fabric, a, b, sink *Router, devA, devB, devSink *identity.Device) {
	t.Helper()
	fabric = transport.NewFabric()
	devA = testDevice(0xaa)
	devB = testDevice(0xbb)
	devSink = testDevice(0xcc)

	linkA := fabric.NewLink("a", 2, transport.DeviceTypeNode)
	linkB := fabric.NewLink("b", 1, transport.DeviceTypeNode)
	linkSink := fabric.NewLink("sink", 0, transport.DeviceTypeSink)

	a = New(devA, linkA, 100, 32)
	b = New(devB, linkB, 100, 32)
	sink = New(devSink, linkSink, 100, 32)

	keyAB := testKey(0x01)
	keyBSink := testKey(0x02)

	if _, err := linkA.Connect(context.Background(), "b"); err != nil {
		t.Fatalf("connect a-b: %v", err)
	}
	if _, err := linkB.Connect(context.Background(), "sink"); err != nil {
		t.Fatalf("connect b-sink: %v", err)
	}

	a.SetSessionKey(transport.UplinkPort, keyAB)
	a.Attach(transport.UplinkPort)

	b.SetSessionKey(transport.PortID("a"), keyAB)
	b.Attach(transport.PortID("a"))
	b.SetSessionKey(transport.UplinkPort, keyBSink)
	b.Attach(transport.UplinkPort)

	sink.SetSessionKey(transport.PortID("b"), keyBSink)
	sink.Attach(transport.PortID("b"))

	return fabric, a, b, sink, devA, devB, devSink
}

// wireUpPair is the two-device (B-Sink) half of wireUp, for tests that do
// not need the third hop.
func wireUpPair(t *testing.T) (fabric *transport.Fabric, b, sink *Router, devB, devSink *identity.Device) {
	t.Helper()
	fabric = transport.NewFabric()
	devB = testDevice(0xbb)
	devSink = testDevice(0xcc)

	linkB := fabric.NewLink("b", 1, transport.DeviceTypeNode)
	linkSink := fabric.NewLink("sink", 0, transport.DeviceTypeSink)

	b = New(devB, linkB, 100, 32)
	sink = New(devSink, linkSink, 100, 32)

	keyBSink := testKey(0x02)
	if _, err := linkB.Connect(context.Background(), "sink"); err != nil {
		t.Fatalf("connect b-sink: %v", err)
	}
	b.SetSessionKey(transport.UplinkPort, keyBSink)
	b.Attach(transport.UplinkPort)
	sink.SetSessionKey(transport.PortID("b"), keyBSink)
	sink.Attach(transport.PortID("b"))

	return fabric, b, sink, devB, devSink
}

func TestSingleHopDelivery(t *testing.T) {
	_, b, sink, _, devSink := wireUpPair(t)

	var got packet.Packet
	sink.RegisterLocalHandler(packet.Data, func(pkt packet.Packet) { got = pkt })

	if err := b.Send(context.Background(), devSink.NID, packet.Data, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !bytes.Equal(got.Payload, []byte("hello")) {
		t.Fatalf("sink received %q, want %q", got.Payload, "hello")
	}
	if sink.Stats.DeliveredLocal.Load() != 1 {
		t.Fatalf("DeliveredLocal = %d, want 1", sink.Stats.DeliveredLocal.Load())
	}
}

func TestTwoHopDelivery(t *testing.T) {
	_, a, _, sink, _, _, devSink := wireUp(t)

	var got packet.Packet
	sink.RegisterLocalHandler(packet.Data, func(pkt packet.Packet) { got = pkt })

	if err := a.Send(context.Background(), devSink.NID, packet.Data, []byte("two-hop")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !bytes.Equal(got.Payload, []byte("two-hop")) {
		t.Fatalf("sink received %q, want %q", got.Payload, "two-hop")
	}
	if sink.Stats.DeliveredLocal.Load() != 1 {
		t.Fatalf("DeliveredLocal = %d, want 1", sink.Stats.DeliveredLocal.Load())
	}
}

func TestTTLExhaustionDropsPacket(t *testing.T) {
	_, a, b, sink, _, _, devSink := wireUp(t)

	delivered := false
	sink.RegisterLocalHandler(packet.Data, func(pkt packet.Packet) { delivered = true })

	a.defaultTTL = 0 // no relay hops allowed; B must drop instead of forwarding
	if err := a.Send(context.Background(), devSink.NID, packet.Data, []byte("x")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if delivered {
		t.Fatal("packet should have been dropped at B for TTL exhaustion")
	}
	if b.Stats.DroppedTTL.Load() != 1 {
		t.Fatalf("B DroppedTTL = %d, want 1", b.Stats.DroppedTTL.Load())
	}
}

// TestTTLOneArrivingNotForwarded covers spec §8 scenario 3's literal
// TTL_DEFAULT=2 walkthrough: a packet that arrives at an interior router
// with TTL already down to 1 must be dropped, not decremented to 0 and
// sent on.
func TestTTLOneArrivingNotForwarded(t *testing.T) {
	_, _, b, sink, devA, _, devSink := wireUp(t)

	delivered := false
	sink.RegisterLocalHandler(packet.Data, func(pkt packet.Packet) { delivered = true })

	pkt := packet.Packet{Source: devA.NID, Destination: devSink.NID, MsgType: packet.Data, TTL: 1, Sequence: 1, Payload: []byte("x")}
	pkt = packet.Sign(pkt, mustKey(b, transport.PortID("a")))
	raw, err := packet.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b.receive(transport.PortID("a"), raw)

	if delivered {
		t.Fatal("packet arriving with TTL=1 should have been dropped at B, not forwarded to Sink")
	}
	if b.Stats.DroppedTTL.Load() != 1 {
		t.Fatalf("B DroppedTTL = %d, want 1", b.Stats.DroppedTTL.Load())
	}
}

// TestHeartbeatTTLOneNotFlooded is the HEARTBEAT-flood analogue of
// TestTTLOneArrivingNotForwarded: a HEARTBEAT arriving with TTL=1 is still
// delivered locally (spec §4.6 flood semantics deliver before checking
// onward eligibility) but must not be re-broadcast further down the tree.
func TestHeartbeatTTLOneNotFlooded(t *testing.T) {
	_, _, b, sink, devA, _, _ := wireUp(t)

	delivered := 0
	sink.RegisterLocalHandler(packet.Heartbeat, func(pkt packet.Packet) { delivered++ })

	hbPkt := packet.Packet{Source: devA.NID, Destination: identity.BroadcastNID, MsgType: packet.Heartbeat, TTL: 1, Sequence: 1, Payload: []byte("hb")}
	hbPkt = packet.Sign(hbPkt, identity.BroadcastMACKey[:])
	raw, err := packet.Encode(hbPkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b.receive(transport.PortID("a"), raw)

	if delivered != 0 {
		t.Fatal("heartbeat with TTL=1 should not have reached the Sink through B")
	}
	if b.Stats.DroppedTTL.Load() != 1 {
		t.Fatalf("B DroppedTTL = %d, want 1", b.Stats.DroppedTTL.Load())
	}
}

func TestReplayRejectsDuplicate(t *testing.T) {
	_, b, sink, _, devSink := wireUpPair(t)

	count := 0
	sink.RegisterLocalHandler(packet.Data, func(pkt packet.Packet) { count++ })

	if err := b.Send(context.Background(), devSink.NID, packet.Data, []byte("once")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Re-inject a packet with the same (source, sequence) pair the link
	// already delivered, as an attacker replaying a captured frame would.
	pkt := packet.Packet{Source: b.device.NID, Destination: devSink.NID, MsgType: packet.Data, TTL: 32, Sequence: 1, Payload: []byte("once")}
	pkt = packet.Sign(pkt, mustKey(b, transport.UplinkPort))
	raw, err := packet.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sink.receive(transport.PortID("b"), raw)

	if count != 1 {
		t.Fatalf("delivered %d times, want exactly 1", count)
	}
	if sink.Stats.DroppedReplay.Load() != 1 {
		t.Fatalf("DroppedReplay = %d, want 1", sink.Stats.DroppedReplay.Load())
	}
}

// TestResetReplayClearsWindow exercises the hook a handshake success path
// calls (spec §4.5's last sentence): once a peer's replay window is reset,
// a sequence number already seen before the reset is accepted again rather
// than rejected as a duplicate.
func TestResetReplayClearsWindow(t *testing.T) {
	_, b, sink, devB, devSink := wireUpPair(t)

	count := 0
	sink.RegisterLocalHandler(packet.Data, func(pkt packet.Packet) { count++ })

	if err := b.Send(context.Background(), devSink.NID, packet.Data, []byte("once")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sink.ResetReplay(devB.NID)

	pkt := packet.Packet{Source: devB.NID, Destination: devSink.NID, MsgType: packet.Data, TTL: 32, Sequence: 1, Payload: []byte("once")}
	pkt = packet.Sign(pkt, mustKey(b, transport.UplinkPort))
	raw, err := packet.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sink.receive(transport.PortID("b"), raw)

	if count != 2 {
		t.Fatalf("delivered %d times, want 2 (ResetReplay should have cleared the window)", count)
	}
	if sink.Stats.DroppedReplay.Load() != 0 {
		t.Fatalf("DroppedReplay = %d, want 0", sink.Stats.DroppedReplay.Load())
	}
}

// TestEvictReplayDropsState exercises the hook link teardown calls (spec
// §4.7 step 2): evicting a peer's replay state and then seeing a frame from
// that peer again starts a fresh window rather than replaying against
// whatever sequence numbers were seen before the link went down.
func TestEvictReplayDropsState(t *testing.T) {
	_, b, sink, devB, devSink := wireUpPair(t)

	count := 0
	sink.RegisterLocalHandler(packet.Data, func(pkt packet.Packet) { count++ })

	if err := b.Send(context.Background(), devSink.NID, packet.Data, []byte("once")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sink.EvictReplay(devB.NID)

	pkt := packet.Packet{Source: devB.NID, Destination: devSink.NID, MsgType: packet.Data, TTL: 32, Sequence: 1, Payload: []byte("once")}
	pkt = packet.Sign(pkt, mustKey(b, transport.UplinkPort))
	raw, err := packet.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sink.receive(transport.PortID("b"), raw)

	if count != 2 {
		t.Fatalf("delivered %d times, want 2 (EvictReplay should have dropped the window)", count)
	}
	if sink.Stats.DroppedReplay.Load() != 0 {
		t.Fatalf("DroppedReplay = %d, want 0", sink.Stats.DroppedReplay.Load())
	}
}

func TestTamperedMACDropped(t *testing.T) {
	_, b, sink, _, devSink := wireUpPair(t)

	pkt := packet.Packet{Source: b.device.NID, Destination: devSink.NID, MsgType: packet.Data, TTL: 32, Sequence: 1, Payload: []byte("x")}
	pkt = packet.Sign(pkt, mustKey(b, transport.UplinkPort))
	pkt.MAC[0] ^= 0xFF
	raw, err := packet.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sink.receive(transport.PortID("b"), raw)

	if sink.Stats.DroppedMAC.Load() != 1 {
		t.Fatalf("DroppedMAC = %d, want 1", sink.Stats.DroppedMAC.Load())
	}
}

// TestBroadcastDestinationNonHeartbeatDropped covers spec §4.8 step 6's
// third dispatch bullet: HEARTBEAT is the only msg_type ever addressed to
// the broadcast NID, so any other msg_type arriving with that destination
// must be dropped rather than routed via the learned table or uplink.
func TestBroadcastDestinationNonHeartbeatDropped(t *testing.T) {
	_, b, _, devB, _ := wireUpPair(t)

	pkt := packet.Packet{Source: devB.NID, Destination: identity.BroadcastNID, MsgType: packet.Data, TTL: 32, Sequence: 1, Payload: []byte("x")}
	pkt = packet.Sign(pkt, mustKey(b, transport.UplinkPort))
	raw, err := packet.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b.receive(transport.UplinkPort, raw)

	if b.Stats.Routed.Load() != 0 {
		t.Fatalf("Routed = %d, want 0 (non-HEARTBEAT broadcast must be dropped, not forwarded)", b.Stats.Routed.Load())
	}
	if b.Stats.DroppedNoRoute.Load() != 1 {
		t.Fatalf("DroppedNoRoute = %d, want 1", b.Stats.DroppedNoRoute.Load())
	}
}

func TestNoRouteDropsPacket(t *testing.T) {
	var unknown identity.NID
	for i := range unknown {
		unknown[i] = 0xEE
	}
	lonely := New(testDevice(0x01), transport.NewFabric().NewLink("lonely", 0, transport.DeviceTypeNode), 100, 32)
	if err := lonely.Send(context.Background(), unknown, packet.Data, []byte("x")); err != ErrNoRoute {
		t.Fatalf("got %v, want ErrNoRoute", err)
	}
}

func mustKey(r *Router, port transport.PortID) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.keys[port]
	return k[:]
}
