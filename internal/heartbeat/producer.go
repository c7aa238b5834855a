// Package heartbeat implements the Sink's periodic signed beacon and the
// Node side's verification/forwarding of it (spec §4.6). Grounded on the
// teacher's client/session.go periodic action loop (a time.Since-gated
// action run from a ticker) for the producer's run loop, and on
// dhruvds12-eie4-mesh-simulation's broadcast-info packet shape for the idea
// of a small fixed envelope flooded network-wide.
package heartbeat

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rafaelfelicianoS/treenet/internal/identity"
	"github.com/rafaelfelicianoS/treenet/internal/packet"
)

// ErrNotSink is returned when a Producer is built around a non-Sink device.
var ErrNotSink = errors.New("heartbeat: producer requires a Sink identity")

// Producer builds successive HEARTBEAT packets for the Sink to broadcast.
type Producer struct {
	device *identity.Device
	ttl    uint8
	seq    atomic.Uint32
}

// NewProducer creates a Producer for device, which must be the Sink.
// Outgoing packets carry ttl as their starting hop budget.
func NewProducer(device *identity.Device, ttl uint8) (*Producer, error) {
	if !device.IsSink {
		return nil, ErrNotSink
	}
	return &Producer{device: device, ttl: ttl}, nil
}

// Next builds the next HEARTBEAT packet: a fresh sequence number, the
// current Unix timestamp, the Sink's own certificate (so any Node, any
// number of hops away, can verify it against the CA pool without further
// provisioning — DESIGN.md Open Question #1 addendum), and an ECDSA
// signature over sink_nid‖timestamp‖sequence. The outer packet is MAC'd with
// the process-wide broadcast key.
func (p *Producer) Next() (packet.Packet, error) {
	seq := p.seq.Add(1)
	ts := uint64(time.Now().Unix())

	sig, err := identity.Sign(p.device.PrivKey, packet.SignedMessage(p.device.NID, ts, seq))
	if err != nil {
		return packet.Packet{}, err
	}
	payload, err := packet.EncodeHeartbeat(packet.HeartbeatPayload{
		SinkNID:   p.device.NID,
		Timestamp: ts,
		CertDER:   p.device.Cert.Raw,
		Signature: sig,
	})
	if err != nil {
		return packet.Packet{}, err
	}

	pkt := packet.Packet{
		Source:      p.device.NID,
		Destination: identity.BroadcastNID,
		MsgType:     packet.Heartbeat,
		TTL:         p.ttl,
		Sequence:    seq,
	}
	pkt.Payload = payload
	pkt = packet.Sign(pkt, identity.BroadcastMACKey[:])
	return pkt, nil
}

// Run broadcasts a fresh heartbeat every interval until ctx is cancelled.
// broadcast is expected to deliver pkt to every downlink (spec §4.9): this
// package owns only the envelope, never the transport.
func (p *Producer) Run(ctx context.Context, interval time.Duration, broadcast func(packet.Packet) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pkt, err := p.Next()
			if err != nil {
				return err
			}
			if err := broadcast(pkt); err != nil {
				return err
			}
		}
	}
}
