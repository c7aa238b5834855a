package heartbeat

import (
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"sync"
	"time"

	"github.com/rafaelfelicianoS/treenet/internal/identity"
	"github.com/rafaelfelicianoS/treenet/internal/packet"
)

var (
	ErrNotSinkCertificate = errors.New("heartbeat: embedded certificate is not marked as the Sink")
	ErrSinkNIDMismatch    = errors.New("heartbeat: embedded certificate NID does not match sink_nid")
)

// Consumer verifies inbound HEARTBEAT payloads and tracks the last time a
// valid one was seen from each Sink, for the link-failure detector in
// internal/linkmanager to watch (spec §4.7). The block_heartbeat/
// unblock_heartbeat/blocked_heartbeats debug hooks of spec §4.13 belong to
// the Sink alone (internal/sink.Sink); a Node-side Consumer has no such
// surface.
type Consumer struct {
	mu       sync.Mutex
	lastSeen map[identity.NID]time.Time
	certs    map[identity.NID]*x509.Certificate
}

// NewConsumer creates an empty Consumer.
func NewConsumer() *Consumer {
	return &Consumer{
		lastSeen: make(map[identity.NID]time.Time),
		certs:    make(map[identity.NID]*x509.Certificate),
	}
}

// Verify checks that hb's embedded certificate chains to caPool, is marked
// as the Sink, matches hb.SinkNID, and that its ECDSA signature over
// sink_nid‖timestamp‖sequence is valid. sequence is the outer packet's
// sequence field, not part of HeartbeatPayload itself (spec §4.6).
func (c *Consumer) Verify(hb packet.HeartbeatPayload, sequence uint32, caPool *x509.CertPool) error {
	cert, err := x509.ParseCertificate(hb.CertDER)
	if err != nil {
		return err
	}
	if err := identity.VerifyPeerCert(cert, caPool); err != nil {
		return err
	}
	if !identity.IsSinkCert(cert) {
		return ErrNotSinkCertificate
	}
	nid, err := identity.NIDFromCert(cert)
	if err != nil {
		return err
	}
	if !nid.Equal(hb.SinkNID) {
		return ErrSinkNIDMismatch
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return ErrNotSinkCertificate
	}
	if err := identity.Verify(pub, packet.SignedMessage(hb.SinkNID, hb.Timestamp, sequence), hb.Signature); err != nil {
		return err
	}
	c.mu.Lock()
	c.certs[nid] = cert
	c.mu.Unlock()
	return nil
}

// SinkCert returns the most recently verified certificate seen from sinkNID,
// letting a Node derive K_e2e (DESIGN.md Open Question #2) against the
// Sink's long-term public key without any separate provisioning step: the
// same certificate that authenticates heartbeats also carries the key the
// static ECDH agreement needs.
func (c *Consumer) SinkCert(sinkNID identity.NID) (*x509.Certificate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cert, ok := c.certs[sinkNID]
	return cert, ok
}

// Observe records that a valid heartbeat from sinkNID was seen at now.
func (c *Consumer) Observe(sinkNID identity.NID, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen[sinkNID] = now
}

// LastSeen reports the last time a valid heartbeat from sinkNID was
// recorded.
func (c *Consumer) LastSeen(sinkNID identity.NID) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastSeen[sinkNID]
	return t, ok
}
