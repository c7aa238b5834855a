// Package sink composes the tree root (spec §4.10 "Sink"): the heartbeat
// producer, the router daemon, a downlink-only link manager, end-to-end
// AEAD decryption on locally delivered DATA, and the in-memory inbox. Only
// one Sink exists per tree (spec §1, §10 "no multi-Sink coordination").
// Grounded on the teacher's server/main.go state struct, which similarly
// bundles a connection and its peer maps behind one composition root, and
// on client/session.go's debug-hook shape carried through to spec §4.13.
package sink

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

// ErrNotSinkDevice is returned by New when given a device whose certificate
// is not marked OU=Sink.
var ErrNotSinkDevice = errors.New("sink: device certificate is not marked as the Sink")

// InboxEntry is one decrypted DATA delivery, per spec §4.10's
// list<{timestamp, source_nid, plaintext}>.
type InboxEntry struct {
	Timestamp time.Time
	SourceNID identity.NID
	Plaintext []byte
}

// Sink is the composition root for the tree root device.
type Sink struct {
	device   *identity.Device
	link     transport.Link
	Router   *router.Router
	Link     *linkmanager.LinkManager
	Producer *heartbeat.Producer

	mu          sync.Mutex
	inbox       []InboxEntry
	blockedNIDs map[identity.NID]bool

	Logger *log.Logger
}

// New builds a Sink, registers its DATA handler on r, and wires a heartbeat
// producer for the device. The caller must still call Link.AcceptDownlinks
// and drive RunHeartbeat on its own goroutine.
func New(device *identity.Device, link transport.Link, r *router.Router, lm *linkmanager.LinkManager, ttl uint8) (*Sink, error) {
	if !device.IsSink {
		return nil, ErrNotSinkDevice
	}
	producer, err := heartbeat.NewProducer(device, ttl)
	if err != nil {
		return nil, err
	}
	s := &Sink{
		device:      device,
		link:        link,
		Router:      r,
		Link:        lm,
		Producer:    producer,
		blockedNIDs: make(map[identity.NID]bool),
		Logger:      log.Default(),
	}
	r.RegisterLocalHandler(packet.Data, s.handleData)
	return s, nil
}

// handleData verifies and decrypts a locally delivered DATA packet,
// appending the result to the inbox. The originating Node's DER certificate
// embedded in the payload supplies the public key for the static ECDH
// agreement that recovers K_e2e (DESIGN.md Open Question #2); intermediate
// Nodes never touch this region of the payload, only the Sink does.
func (s *Sink) handleData(pkt packet.Packet) {
	d, err := packet.DecodeData(pkt.Payload)
	if err != nil {
		s.Logger.Printf("sink: malformed data payload from %s: %v", pkt.Source, err)
		return
	}
	cert, err := identity.ParseNodeCert(d.CertDER, s.device.CAPool)
	if err != nil {
		s.Logger.Printf("sink: rejected data payload from %s: %v", pkt.Source, err)
		return
	}
	nid, err := identity.NIDFromCert(cert)
	if err != nil || !nid.Equal(pkt.Source) {
		s.Logger.Printf("sink: data payload certificate NID does not match packet source %s", pkt.Source)
		return
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		s.Logger.Printf("sink: data payload certificate has non-ECDSA public key")
		return
	}

	secret, err := identity.StaticSharedSecret(s.device.PrivKey, pub)
	if err != nil {
		s.Logger.Printf("sink: key agreement failed for %s: %v", pkt.Source, err)
		return
	}
	key, err := identity.DeriveE2EKey(secret)
	if err != nil {
		s.Logger.Printf("sink: key derivation failed for %s: %v", pkt.Source, err)
		return
	}
	plaintext, err := identity.Open(key, d.Sealed)
	if err != nil {
		s.Logger.Printf("sink: AEAD open failed for %s: %v", pkt.Source, err)
		return
	}

	s.mu.Lock()
	s.inbox = append(s.inbox, InboxEntry{Timestamp: time.Now(), SourceNID: pkt.Source, Plaintext: plaintext})
	s.mu.Unlock()
}

// Inbox returns a copy of every entry received so far, in arrival order.
func (s *Sink) Inbox() []InboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InboxEntry, len(s.inbox))
	copy(out, s.inbox)
	return out
}

// BlockHeartbeat simulates a link failure toward nid for network-controls
// testing (spec §4.6, §4.13); it never affects DATA forwarding.
func (s *Sink) BlockHeartbeat(nid identity.NID) {
	s.mu.Lock()
	s.blockedNIDs[nid] = true
	s.mu.Unlock()
}

// UnblockHeartbeat reverses BlockHeartbeat.
func (s *Sink) UnblockHeartbeat(nid identity.NID) {
	s.mu.Lock()
	delete(s.blockedNIDs, nid)
	s.mu.Unlock()
}

// BlockedHeartbeats lists every NID currently excluded from heartbeat
// broadcasts.
func (s *Sink) BlockedHeartbeats() []identity.NID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]identity.NID, 0, len(s.blockedNIDs))
	for nid := range s.blockedNIDs {
		out = append(out, nid)
	}
	return out
}

// RunHeartbeat drives the periodic signed beacon (spec §4.6) until ctx is
// cancelled, broadcasting every interval to every downlink except those
// currently named in BlockHeartbeat's debug set.
func (s *Sink) RunHeartbeat(ctx context.Context, interval time.Duration) error {
	return s.Producer.Run(ctx, interval, func(pkt packet.Packet) error {
		raw, err := packet.Encode(pkt)
		if err != nil {
			return err
		}
		return s.link.Broadcast(ctx, raw, s.excludedPorts())
	})
}

// excludedPorts resolves the blocked NID set into the downlink ports the
// next heartbeat broadcast must skip (spec §4.6's heartbeat_blocked_set).
func (s *Sink) excludedPorts() map[transport.PortID]struct{} {
	s.mu.Lock()
	blocked := make(map[identity.NID]bool, len(s.blockedNIDs))
	for nid := range s.blockedNIDs {
		blocked[nid] = true
	}
	s.mu.Unlock()

	exclude := make(map[transport.PortID]struct{})
	for port, nid := range s.Link.Downlinks() {
		if blocked[nid] {
			exclude[port] = struct{}{}
		}
	}
	return exclude
}

// Stats reports the router's forwarding/delivery counters (spec §4.8, §6).
func (s *Sink) Stats() router.Snapshot {
	return s.Router.Stats.Snapshot()
}

// Downlinks lists the NIDs of this Sink's currently accepted downlinks.
func (s *Sink) Downlinks() map[transport.PortID]identity.NID {
	return s.Link.Downlinks()
}
