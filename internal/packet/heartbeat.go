package packet

import (
	"encoding/binary"
	"errors"

	"github.com/rafaelfelicianoS/treenet/internal/identity"
)

// SignatureSize is the width of a raw ECDSA-P521 r‖s signature as produced
// by identity.Sign. See DESIGN.md Open Question #1 for why this differs from
// spec §4.6's illustrative "88 bytes" (which assumed a smaller curve).
const SignatureSize = 2 * 66

// MinHeartbeatPayloadSize is the size floor (sink_nid + timestamp + an empty
// certificate + signature); real payloads are larger once the Sink's DER
// certificate is embedded (see DESIGN.md Open Question #1 addendum).
const MinHeartbeatPayloadSize = 16 + 8 + 2 + SignatureSize

var ErrMalformedHeartbeat = errors.New("packet: malformed heartbeat payload")

// HeartbeatPayload is the body of a HEARTBEAT packet (spec §4.6), extended
// to carry the Sink's DER certificate so that a Node any number of hops away
// can verify the embedded signature against the shared CA pool without any
// out-of-band provisioning of the Sink's public key (DESIGN.md Open Question
// #1 addendum).
type HeartbeatPayload struct {
	SinkNID   identity.NID
	Timestamp uint64
	CertDER   []byte
	Signature []byte // raw r‖s, SignatureSize bytes
}

// EncodeHeartbeat serialises a HeartbeatPayload to its wire form:
// sink_nid(16) ‖ timestamp(8) ‖ cert_len(2) ‖ cert ‖ signature(132).
func EncodeHeartbeat(hb HeartbeatPayload) ([]byte, error) {
	if len(hb.Signature) != SignatureSize {
		return nil, ErrMalformedHeartbeat
	}
	if len(hb.CertDER) > 0xFFFF {
		return nil, ErrMalformedHeartbeat
	}
	buf := make([]byte, 0, MinHeartbeatPayloadSize+len(hb.CertDER))
	buf = append(buf, hb.SinkNID[:]...)
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, hb.Timestamp)
	buf = append(buf, ts...)
	certLen := make([]byte, 2)
	binary.BigEndian.PutUint16(certLen, uint16(len(hb.CertDER)))
	buf = append(buf, certLen...)
	buf = append(buf, hb.CertDER...)
	buf = append(buf, hb.Signature...)
	return buf, nil
}

// DecodeHeartbeat parses a HeartbeatPayload from raw packet payload bytes.
func DecodeHeartbeat(raw []byte) (HeartbeatPayload, error) {
	if len(raw) < MinHeartbeatPayloadSize {
		return HeartbeatPayload{}, ErrMalformedHeartbeat
	}
	var hb HeartbeatPayload
	copy(hb.SinkNID[:], raw[:16])
	hb.Timestamp = binary.BigEndian.Uint64(raw[16:24])
	certLen := int(binary.BigEndian.Uint16(raw[24:26]))
	off := 26
	if len(raw) < off+certLen+SignatureSize {
		return HeartbeatPayload{}, ErrMalformedHeartbeat
	}
	hb.CertDER = append([]byte(nil), raw[off:off+certLen]...)
	off += certLen
	hb.Signature = append([]byte(nil), raw[off:off+SignatureSize]...)
	return hb, nil
}

// SignedMessage returns the bytes the Sink's ECDSA signature actually covers:
// sink_nid ‖ timestamp ‖ sequence (spec §4.6).
func SignedMessage(sinkNID identity.NID, timestamp uint64, sequence uint32) []byte {
	buf := make([]byte, 0, 16+8+4)
	buf = append(buf, sinkNID[:]...)
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, timestamp)
	buf = append(buf, ts...)
	seq := make([]byte, 4)
	binary.BigEndian.PutUint32(seq, sequence)
	buf = append(buf, seq...)
	return buf
}
