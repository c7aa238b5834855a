package auth

import (
	"encoding/binary"
)

// decodedMessage is the parsed form of one handshake wire message. Grounded
// on the teacher's ConstructHandshakeReq/ParseHandshakeReq pairing: a single
// flat byte layout with length-prefixed variable fields, packed and unpacked
// by hand rather than through a generic codec.
type decodedMessage struct {
	step    step
	certDER []byte
	ephPub  []byte
	nonce   []byte
	sig     []byte
}

// encodeMessage packs one handshake wire message: step(1) ||
// certLen(2)||cert || ephPubLen(2)||ephPub || nonceLen(2)||nonce ||
// sigLen(2)||sig. Any of certDER, ephPub, nonce, sig may be nil (step 3
// carries only a signature).
func encodeMessage(st step, certDER, ephPub, nonce, sig []byte) []byte {
	buf := make([]byte, 0, 1+2+len(certDER)+2+len(ephPub)+2+len(nonce)+2+len(sig))
	buf = append(buf, byte(st))
	buf = appendField(buf, certDER)
	buf = appendField(buf, ephPub)
	buf = appendField(buf, nonce)
	buf = appendField(buf, sig)
	return buf
}

func decodeMessage(raw []byte) (decodedMessage, error) {
	if len(raw) < 1 {
		return decodedMessage{}, ErrMalformedWire
	}
	var msg decodedMessage
	msg.step = step(raw[0])
	rest := raw[1:]

	var err error
	msg.certDER, rest, err = readField(rest)
	if err != nil {
		return decodedMessage{}, err
	}
	msg.ephPub, rest, err = readField(rest)
	if err != nil {
		return decodedMessage{}, err
	}
	msg.nonce, rest, err = readField(rest)
	if err != nil {
		return decodedMessage{}, err
	}
	msg.sig, _, err = readField(rest)
	if err != nil {
		return decodedMessage{}, err
	}
	return msg, nil
}

func appendField(buf, field []byte) []byte {
	length := make([]byte, 2)
	binary.BigEndian.PutUint16(length, uint16(len(field)))
	buf = append(buf, length...)
	return append(buf, field...)
}

func readField(buf []byte) (field, rest []byte, err error) {
	if len(buf) < 2 {
		return nil, nil, ErrMalformedWire
	}
	n := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < n {
		return nil, nil, ErrMalformedWire
	}
	return buf[:n], buf[n:], nil
}

// transcriptR returns the bytes sig_R signs in step 2: the initiator's
// nonce (C1) followed by both ephemeral public keys in initiator-then-
// responder order. sig_I is a separate, differently-ordered transcript over
// the responder's nonce instead (transcriptI), so the two signatures never
// cover the same bytes.
func transcriptR(nonceI, ephPubI, ephPubR []byte) []byte {
	buf := make([]byte, 0, len(nonceI)+len(ephPubI)+len(ephPubR))
	buf = append(buf, nonceI...)
	buf = append(buf, ephPubI...)
	buf = append(buf, ephPubR...)
	return buf
}

// transcriptI returns the bytes sig_I signs in step 3: the responder's
// nonce (C2) followed by both ephemeral public keys in responder-then-
// initiator order.
func transcriptI(nonceR, ephPubR, ephPubI []byte) []byte {
	buf := make([]byte, 0, len(nonceR)+len(ephPubR)+len(ephPubI))
	buf = append(buf, nonceR...)
	buf = append(buf, ephPubR...)
	buf = append(buf, ephPubI...)
	return buf
}
