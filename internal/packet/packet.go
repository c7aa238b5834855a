// Package packet implements the fixed 70-byte header + variable payload wire
// format of spec §3, grounded on the fixed-width header struct and manual
// Serialise/Deserialise pair of dhruvds12-eie4-mesh-simulation's packet.go,
// and on the teacher's manual binary.BigEndian field packing in
// crypto/handshake_request.go.
package packet

import (
	"encoding/binary"

	"github.com/rafaelfelicianoS/treenet/internal/identity"
)

// MsgType is the closed sum type from spec §3's header table.
type MsgType byte

const (
	Data         MsgType = 0x01
	Heartbeat    MsgType = 0x02
	Control      MsgType = 0x03
	AuthRequest  MsgType = 0x04
	AuthResponse MsgType = 0x05
)

func (t MsgType) String() string {
	switch t {
	case Data:
		return "DATA"
	case Heartbeat:
		return "HEARTBEAT"
	case Control:
		return "CONTROL"
	case AuthRequest:
		return "AUTH_REQUEST"
	case AuthResponse:
		return "AUTH_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

func (t MsgType) valid() bool {
	switch t {
	case Data, Heartbeat, Control, AuthRequest, AuthResponse:
		return true
	default:
		return false
	}
}

// AllMsgTypes lists every value of the closed sum type, for callers that
// need to enumerate per-(source, msg_type) state without having observed
// every type a given source has used (spec §3/§4.8 replay state).
var AllMsgTypes = []MsgType{Data, Heartbeat, Control, AuthRequest, AuthResponse}

// HeaderSize is the fixed header width: source(16) + destination(16) +
// msg_type(1) + ttl(1) + sequence(4) + mac(32).
const HeaderSize = 16 + 16 + 1 + 1 + 4 + 32

// MaxPayloadSize bounds the payload to the transport MTU budget (spec §4.2,
// §4.4): 180-byte BLE fragments reassembled by the adapter, budgeted
// generously for a multi-fragment reassembled frame rather than a single
// fragment.
const MaxPayloadSize = 4096

// Packet is the parsed form of one frame.
type Packet struct {
	Source      identity.NID
	Destination identity.NID
	MsgType     MsgType
	TTL         uint8
	Sequence    uint32
	MAC         [32]byte
	Payload     []byte
}

// ParseError enumerates the variants spec §4.2 names.
type ParseError struct {
	Kind string
}

func (e *ParseError) Error() string { return "packet: " + e.Kind }

var (
	ErrTruncatedHeader = &ParseError{Kind: "TruncatedHeader"}
	ErrUnknownMsgType  = &ParseError{Kind: "UnknownMsgType"}
	ErrPayloadTooLarge = &ParseError{Kind: "PayloadTooLarge"}
)

// Encode serialises p into its wire form.
func Encode(p Packet) ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderSize+len(p.Payload))
	off := 0
	copy(buf[off:], p.Source[:])
	off += 16
	copy(buf[off:], p.Destination[:])
	off += 16
	buf[off] = byte(p.MsgType)
	off++
	buf[off] = p.TTL
	off++
	binary.BigEndian.PutUint32(buf[off:], p.Sequence)
	off += 4
	copy(buf[off:], p.MAC[:])
	off += 32
	copy(buf[off:], p.Payload)
	return buf, nil
}

// Decode parses the wire form produced by Encode.
func Decode(raw []byte) (Packet, error) {
	if len(raw) < HeaderSize {
		return Packet{}, ErrTruncatedHeader
	}
	var p Packet
	off := 0
	copy(p.Source[:], raw[off:off+16])
	off += 16
	copy(p.Destination[:], raw[off:off+16])
	off += 16
	p.MsgType = MsgType(raw[off])
	off++
	if !p.MsgType.valid() {
		return Packet{}, ErrUnknownMsgType
	}
	p.TTL = raw[off]
	off++
	p.Sequence = binary.BigEndian.Uint32(raw[off:])
	off += 4
	copy(p.MAC[:], raw[off:off+32])
	off += 32
	payload := raw[off:]
	if len(payload) > MaxPayloadSize {
		return Packet{}, ErrPayloadTooLarge
	}
	p.Payload = append([]byte(nil), payload...)
	return p, nil
}

// MACInput returns the canonical byte range over which the MAC is computed:
// everything in the header except the mac field itself, followed by the
// payload (spec §3 invariant (a)).
func MACInput(p Packet) []byte {
	buf := make([]byte, 0, HeaderSize-32+len(p.Payload))
	buf = append(buf, p.Source[:]...)
	buf = append(buf, p.Destination[:]...)
	buf = append(buf, byte(p.MsgType), p.TTL)
	seq := make([]byte, 4)
	binary.BigEndian.PutUint32(seq, p.Sequence)
	buf = append(buf, seq...)
	buf = append(buf, p.Payload...)
	return buf
}

// Sign computes and sets p.MAC using key, returning the updated packet.
func Sign(p Packet, key []byte) Packet {
	mac := identity.ComputeMAC(key, MACInput(p))
	copy(p.MAC[:], mac)
	return p
}

// Verify checks p.MAC against key without mutating replay state.
func Verify(p Packet, key []byte) bool {
	return identity.VerifyMAC(key, MACInput(p), p.MAC[:])
}
