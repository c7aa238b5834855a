package identity

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrKeyAgreementFailed wraps any failure generating or completing an ECDH
// exchange.
var ErrKeyAgreementFailed = errors.New("identity: key agreement failed")

// infoLink and infoE2E are the HKDF info labels that domain-separate the
// per-link MAC key from the end-to-end AEAD key, per spec §3 ("End-to-end
// key") and §4.5 step 4.
var (
	infoLink = []byte("mac-link")
	infoE2E  = []byte("e2e")
)

// GenerateEphemeral creates a fresh ECDH key pair on P-521 for one
// authentication run, per spec §4.5.
func GenerateEphemeral() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.P521().GenerateKey(rand.Reader)
	if err != nil {
		return nil, errWrap(err)
	}
	return priv, nil
}

// ParseECDHPublicKey decodes a peer's ephemeral public key from its
// uncompressed point encoding.
func ParseECDHPublicKey(raw []byte) (*ecdh.PublicKey, error) {
	pub, err := ecdh.P521().NewPublicKey(raw)
	if err != nil {
		return nil, errWrap(err)
	}
	return pub, nil
}

// SharedSecret runs ECDH between our ephemeral private key and the peer's
// ephemeral public key.
func SharedSecret(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, errWrap(err)
	}
	return secret, nil
}

// DeriveLinkKey expands the ECDH shared secret into the 32-byte per-link MAC
// key (K_link in spec §4.5).
func DeriveLinkKey(secret []byte) ([32]byte, error) {
	return hkdfExpand32(secret, infoLink)
}

// DeriveE2EKey expands the ECDH shared secret into the 32-byte end-to-end
// AEAD key (K_e2e in spec §4.5). Per DESIGN.md Open Question #2, this must
// only ever be called by the Sink and the originating Node, never by an
// intermediate router.
func DeriveE2EKey(secret []byte) ([32]byte, error) {
	return hkdfExpand32(secret, infoE2E)
}

// StaticSharedSecret runs ECDH between our long-term certificate key and a
// peer's long-term certificate public key. Used only to derive K_e2e between
// a Node and the Sink (DESIGN.md Open Question #2): unlike SharedSecret, the
// inputs are the devices' permanent identity keys, not per-session ephemeral
// ones, so two devices that never directly authenticate with one another
// (because they are not link-adjacent in the tree) can still agree on the
// same secret.
func StaticSharedSecret(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) ([]byte, error) {
	ecdhPriv, err := priv.ECDH()
	if err != nil {
		return nil, errWrap(err)
	}
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, errWrap(err)
	}
	secret, err := ecdhPriv.ECDH(ecdhPub)
	if err != nil {
		return nil, errWrap(err)
	}
	return secret, nil
}

func hkdfExpand32(secret, info []byte) ([32]byte, error) {
	var out [32]byte
	reader := hkdf.New(sha256.New, secret, nil, info)
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		return out, errWrap(err)
	}
	return out, nil
}

func errWrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrKeyAgreementFailed, err)
}
