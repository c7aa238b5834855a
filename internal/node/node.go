// Package node composes a Node's dual role (spec §4.10): the router
// daemon, the full uplink+downlink link manager, a heartbeat consumer that
// both observes and (via the router's own flood) forwards Sink beacons, and
// end-to-end AEAD encryption on DATA emitted toward the Sink. Grounded on
// the teacher's client/session.go Session struct, which similarly bundles a
// connection, a server record and a peer list behind one composition root.
package node

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/rafaelfelicianoS/treenet/internal/heartbeat"
	"github.com/rafaelfelicianoS/treenet/internal/identity"
	"github.com/rafaelfelicianoS/treenet/internal/linkmanager"
	"github.com/rafaelfelicianoS/treenet/internal/packet"
	"github.com/rafaelfelicianoS/treenet/internal/router"
	"github.com/rafaelfelicianoS/treenet/internal/transport"
)

// ErrNoSinkKnown is returned by SendMessage before any heartbeat from the
// Sink has been observed and verified, so there is no certificate yet to
// derive K_e2e against.
var ErrNoSinkKnown = errors.New("node: no Sink certificate observed yet")

// Node is the composition root for a peer device acting as leaf, interior
// router, or both at once, depending on where the tree places it.
type Node struct {
	device     *identity.Device
	Router     *router.Router
	Link       *linkmanager.LinkManager
	heartbeats *heartbeat.Consumer

	mu          sync.Mutex
	sinkNID     identity.NID
	haveSinkNID bool

	Logger *log.Logger
}

// New builds a Node and registers its HEARTBEAT handler on r. The caller is
// responsible for invoking Link.AcceptDownlinks once and calling
// Link.EstablishUplink (directly, or via Link.RunUplinkLoop, which retries
// it whenever no uplink is active) for as long as the process runs.
func New(device *identity.Device, r *router.Router, lm *linkmanager.LinkManager, heartbeats *heartbeat.Consumer) *Node {
	n := &Node{
		device:     device,
		Router:     r,
		Link:       lm,
		heartbeats: heartbeats,
		Logger:     log.Default(),
	}
	r.RegisterLocalHandler(packet.Heartbeat, n.handleHeartbeat)
	return n
}

func (n *Node) handleHeartbeat(pkt packet.Packet) {
	hb, err := packet.DecodeHeartbeat(pkt.Payload)
	if err != nil {
		n.Logger.Printf("node: malformed heartbeat: %v", err)
		return
	}
	if err := n.heartbeats.Verify(hb, pkt.Sequence, n.device.CAPool); err != nil {
		n.Logger.Printf("node: heartbeat verification failed: %v", err)
		return
	}
	n.Link.ObserveHeartbeat(hb.SinkNID, time.Now())
	n.mu.Lock()
	n.sinkNID = hb.SinkNID
	n.haveSinkNID = true
	n.mu.Unlock()
}

// SendMessage wraps plaintext under the end-to-end AEAD key shared with the
// Sink and hands it to the router for delivery (spec §6 send_message,
// §4.10). The originating Node's own DER certificate rides along in the
// payload so the Sink, which may be many hops away and never ran a direct
// handshake with this Node, can verify it against the shared CA pool and
// derive the same K_e2e (DESIGN.md Open Question #2).
func (n *Node) SendMessage(ctx context.Context, plaintext []byte) error {
	n.mu.Lock()
	sinkNID, ok := n.sinkNID, n.haveSinkNID
	n.mu.Unlock()
	if !ok {
		return ErrNoSinkKnown
	}

	sinkCert, ok := n.heartbeats.SinkCert(sinkNID)
	if !ok {
		return ErrNoSinkKnown
	}
	sinkPub, ok := sinkCert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return ErrNoSinkKnown
	}

	secret, err := identity.StaticSharedSecret(n.device.PrivKey, sinkPub)
	if err != nil {
		return err
	}
	key, err := identity.DeriveE2EKey(secret)
	if err != nil {
		return err
	}
	sealed, err := identity.Seal(key, plaintext)
	if err != nil {
		return err
	}
	payload, err := packet.EncodeData(packet.DataPayload{CertDER: n.device.Cert.Raw, Sealed: sealed})
	if err != nil {
		return err
	}
	return n.Router.Send(ctx, sinkNID, packet.Data, payload)
}

// Stats reports the router's forwarding/delivery counters (spec §4.8, §6).
func (n *Node) Stats() router.Snapshot {
	return n.Router.Stats.Snapshot()
}

// Uplink reports whether this Node currently has an active uplink and at
// what hop count, for the debug/control surface of spec §6.
func (n *Node) Uplink() (active bool, hopCount int16) {
	return n.Link.HasUplink(), n.Link.HopCount()
}

// Downlinks lists the NIDs of this Node's currently accepted downlinks.
func (n *Node) Downlinks() map[transport.PortID]identity.NID {
	return n.Link.Downlinks()
}
