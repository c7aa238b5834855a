package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
)

// ErrSignatureInvalid is returned when a signature fails verification.
var ErrSignatureInvalid = errors.New("identity: signature invalid")

// fieldWidth is the zero-padded byte width of an r or s value for the curve
// in use. P-521's field is 521 bits wide, so each of r and s takes 66 bytes
// (ceil(521/8)); see DESIGN.md Open Question #1.
const fieldWidth = (521 + 7) / 8

// Curve is the curve used for every device identity key, per spec §6.
var Curve = elliptic.P521()

// Sign computes an ECDSA-P521/SHA-256 signature over msg and returns it as
// fixed-width raw r‖s, zero-padded to fieldWidth each. Raw encoding (rather
// than DER) is used so that the heartbeat payload and auth messages that
// embed a signature have a fixed, self-describing length.
func Sign(priv *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2*fieldWidth)
	r.FillBytes(out[:fieldWidth])
	s.FillBytes(out[fieldWidth:])
	return out, nil
}

// Verify checks a raw r‖s signature produced by Sign.
func Verify(pub *ecdsa.PublicKey, msg, sig []byte) error {
	if len(sig) != 2*fieldWidth {
		return ErrSignatureInvalid
	}
	r := new(big.Int).SetBytes(sig[:fieldWidth])
	s := new(big.Int).SetBytes(sig[fieldWidth:])
	digest := sha256.Sum256(msg)
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return ErrSignatureInvalid
	}
	return nil
}
