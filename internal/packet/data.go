package packet

import (
	"encoding/binary"
	"errors"
)

// MinDataPayloadSize is the size floor of a DataPayload (an empty embedded
// certificate and an empty sealed body); real payloads are larger once the
// originating Node's DER certificate and the AEAD-sealed application
// plaintext are both present.
const MinDataPayloadSize = 2 + 2

var ErrMalformedData = errors.New("packet: malformed data payload")

// DataPayload is the body of a DATA packet (spec §4.5 item, §4.6's sibling
// for the data plane): the originating Node's own DER certificate, followed
// by the end-to-end AEAD-sealed application plaintext. The Sink verifies the
// certificate against its CA pool and derives K_e2e by static ECDH against
// the certificate's public key (DESIGN.md Open Question #2), rather
// than needing a per-link session key it may not share with a Node several
// hops away. Intermediate Nodes forward this payload unchanged and never
// parse it.
type DataPayload struct {
	CertDER []byte
	Sealed  []byte // identity.Seal output: nonce‖ciphertext‖tag
}

// EncodeData serialises a DataPayload to its wire form:
// cert_len(2) ‖ cert ‖ sealed_len(2) ‖ sealed.
func EncodeData(d DataPayload) ([]byte, error) {
	if len(d.CertDER) > 0xFFFF || len(d.Sealed) > 0xFFFF {
		return nil, ErrMalformedData
	}
	buf := make([]byte, 0, MinDataPayloadSize+len(d.CertDER)+len(d.Sealed))
	certLen := make([]byte, 2)
	binary.BigEndian.PutUint16(certLen, uint16(len(d.CertDER)))
	buf = append(buf, certLen...)
	buf = append(buf, d.CertDER...)
	sealedLen := make([]byte, 2)
	binary.BigEndian.PutUint16(sealedLen, uint16(len(d.Sealed)))
	buf = append(buf, sealedLen...)
	buf = append(buf, d.Sealed...)
	return buf, nil
}

// DecodeData parses a DataPayload from raw packet payload bytes.
func DecodeData(raw []byte) (DataPayload, error) {
	if len(raw) < MinDataPayloadSize {
		return DataPayload{}, ErrMalformedData
	}
	certLen := int(binary.BigEndian.Uint16(raw[0:2]))
	off := 2
	if len(raw) < off+certLen+2 {
		return DataPayload{}, ErrMalformedData
	}
	var d DataPayload
	d.CertDER = append([]byte(nil), raw[off:off+certLen]...)
	off += certLen
	sealedLen := int(binary.BigEndian.Uint16(raw[off : off+2]))
	off += 2
	if len(raw) < off+sealedLen {
		return DataPayload{}, ErrMalformedData
	}
	d.Sealed = append([]byte(nil), raw[off:off+sealedLen]...)
	return d, nil
}
