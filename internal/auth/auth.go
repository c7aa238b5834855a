// Package auth implements the mutual X.509 challenge/response handshake of
// spec §4.5, re-targeted at ECDSA-P521 certificates and a fresh ECDH
// agreement per link. Structurally grounded on the teacher's
// crypto/noise-handshakestate.go and noise-symmetricstate.go: a small struct
// carrying staged state through Initialize/Mix/Split, advanced one message at
// a time by the caller. This protocol has no Noise message patterns to
// borrow, so the three wire messages and the state transitions between them
// are this package's own, but the "session object owns its state, callers
// feed it bytes and get bytes back" shape is the teacher's.
package auth

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rafaelfelicianoS/treenet/internal/identity"
)

// State is the authentication session state of spec §4.5.
type State int

const (
	StateIdle State = iota
	StateCertSent
	StateChallengeSent
	StateChallengeResponded
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCertSent:
		return "CERT_SENT"
	case StateChallengeSent:
		return "CHALLENGE_SENT"
	case StateChallengeResponded:
		return "CHALLENGE_RESPONDED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Role distinguishes which side of the handshake a Session plays. The link
// manager runs the Initiator role when establishing its own uplink and the
// Responder role when accepting a downlink (DESIGN.md Open Question #3: both
// directions run full mutual authentication).
type Role int

const (
	Initiator Role = iota
	Responder
)

// Timeout is the AUTH_TIMEOUT of spec §6: a session not AUTHENTICATED within
// this long of its first message is abandoned. A var, not a const, so
// internal/config can apply the --auth-timeout flag at startup.
var Timeout = 10 * time.Second

const nonceSize = 32

var (
	ErrWrongState       = errors.New("auth: message received in wrong state")
	ErrBadCertificate   = errors.New("auth: peer certificate did not verify")
	ErrBadSignature     = errors.New("auth: peer signature did not verify")
	ErrTimedOut         = errors.New("auth: session exceeded its timeout")
	ErrMalformedWire    = errors.New("auth: malformed handshake message")
	ErrNotAuthenticated = errors.New("auth: session is not authenticated")
)

// step tags which of the three wire messages a payload is. Both the
// responder's reply and the initiator's closing message carry
// packet.AuthResponse as their outer MsgType, so MsgType alone does not
// distinguish them; the leading step byte does.
type step byte

const (
	stepRequest   step = 1 // initiator -> responder
	stepChallenge step = 2 // responder -> initiator
	stepFinal     step = 3 // initiator -> responder
)

// Session drives one handshake to completion. Not safe for concurrent use;
// the link manager owns one Session per in-flight authentication and drives
// it from a single goroutine.
type Session struct {
	role   Role
	device *identity.Device

	state    State
	deadline time.Time

	ephPriv    *ecdh.PrivateKey
	ourEphPub  []byte
	peerEphPub []byte
	ourNonce   [nonceSize]byte
	peerNonce  [nonceSize]byte

	// PeerNID and LinkKey are populated once the session reaches
	// StateAuthenticated.
	PeerNID identity.NID
	LinkKey [32]byte

	// PeerCert is exposed once populated so callers (the link manager) can
	// derive K_e2e or inspect the peer's identity further.
	PeerCert *x509.Certificate
}

// New creates a Session for device, playing role, with its timeout clock
// starting now.
func New(device *identity.Device, role Role) *Session {
	return &Session{
		role:     role,
		device:   device,
		state:    StateIdle,
		deadline: time.Now().Add(Timeout),
	}
}

// State reports the session's current state.
func (s *Session) State() State { return s.state }

// Expired reports whether the session's timeout has elapsed without
// reaching StateAuthenticated.
func (s *Session) Expired(now time.Time) bool {
	return s.state != StateAuthenticated && now.After(s.deadline)
}

// BuildRequest produces the initiator's first message (step 1): its own
// certificate, a fresh ephemeral ECDH public key, and a random challenge
// nonce. Only valid from StateIdle in the Initiator role.
func (s *Session) BuildRequest() ([]byte, error) {
	if s.role != Initiator || s.state != StateIdle {
		return nil, ErrWrongState
	}
	priv, err := identity.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rand.Reader, s.ourNonce[:]); err != nil {
		return nil, err
	}
	s.ephPriv = priv
	s.ourEphPub = priv.PublicKey().Bytes()

	msg := encodeMessage(stepRequest, s.device.Cert.Raw, s.ourEphPub, s.ourNonce[:], nil)
	s.state = StateCertSent
	return msg, nil
}

// HandleRequest processes the initiator's step-1 message on the responder
// side and produces the step-2 reply: the responder's own certificate,
// ephemeral public key, a fresh nonce, and sig_R, an ECDSA signature over
// the initiator's nonce and both ephemeral public keys (transcriptR). Only
// valid from StateIdle in the Responder role.
func (s *Session) HandleRequest(raw []byte) ([]byte, error) {
	if s.role != Responder || s.state != StateIdle {
		return nil, ErrWrongState
	}
	got, err := decodeMessage(raw)
	if err != nil || got.step != stepRequest {
		return nil, ErrMalformedWire
	}
	peerCert, peerNID, peerEphPub, err := s.verifyPeerIdentity(got.certDER, got.ephPub)
	if err != nil {
		s.state = StateFailed
		return nil, err
	}
	copy(s.peerNonce[:], got.nonce)
	s.peerEphPub = got.ephPub
	s.PeerCert = peerCert
	s.PeerNID = peerNID

	priv, err := identity.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rand.Reader, s.ourNonce[:]); err != nil {
		return nil, err
	}
	s.ephPriv = priv
	s.ourEphPub = priv.PublicKey().Bytes()

	sig, err := identity.Sign(s.device.PrivKey, transcriptR(s.peerNonce[:], s.peerEphPub, s.ourEphPub))
	if err != nil {
		return nil, err
	}

	secret, err := identity.SharedSecret(priv, peerEphPub)
	if err != nil {
		return nil, err
	}
	linkKey, err := identity.DeriveLinkKey(secret)
	if err != nil {
		return nil, err
	}
	s.LinkKey = linkKey

	msg := encodeMessage(stepChallenge, s.device.Cert.Raw, s.ourEphPub, s.ourNonce[:], sig)
	s.state = StateChallengeSent
	return msg, nil
}

// HandleResponse processes the responder's step-2 message on the initiator
// side, verifies the responder's certificate and sig_R, derives the link
// key, and produces the closing step-3 message carrying sig_I, the
// initiator's own signature over the responder's nonce and both ephemeral
// public keys (transcriptI). Only valid from StateCertSent in the Initiator
// role.
func (s *Session) HandleResponse(raw []byte) ([]byte, error) {
	if s.role != Initiator || s.state != StateCertSent {
		return nil, ErrWrongState
	}
	got, err := decodeMessage(raw)
	if err != nil || got.step != stepChallenge {
		return nil, ErrMalformedWire
	}
	peerCert, peerNID, peerEphPub, err := s.verifyPeerIdentity(got.certDER, got.ephPub)
	if err != nil {
		s.state = StateFailed
		return nil, err
	}

	transcriptFromPeer := transcriptR(s.ourNonce[:], s.ourEphPub, got.ephPub)
	if err := identity.Verify(peerCert.PublicKey.(*ecdsa.PublicKey), transcriptFromPeer, got.sig); err != nil {
		s.state = StateFailed
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	secret, err := identity.SharedSecret(s.ephPriv, peerEphPub)
	if err != nil {
		return nil, err
	}
	linkKey, err := identity.DeriveLinkKey(secret)
	if err != nil {
		return nil, err
	}
	s.LinkKey = linkKey
	s.peerEphPub = got.ephPub
	copy(s.peerNonce[:], got.nonce)
	s.PeerCert = peerCert
	s.PeerNID = peerNID

	ourSig, err := identity.Sign(s.device.PrivKey, transcriptI(s.peerNonce[:], s.peerEphPub, s.ourEphPub))
	if err != nil {
		return nil, err
	}

	msg := encodeMessage(stepFinal, nil, nil, nil, ourSig)
	s.state = StateAuthenticated
	return msg, nil
}

// HandleFinal processes the initiator's closing step-3 message on the
// responder side, completing the handshake. Only valid from
// StateChallengeSent in the Responder role.
func (s *Session) HandleFinal(raw []byte) error {
	if s.role != Responder || s.state != StateChallengeSent {
		return ErrWrongState
	}
	got, err := decodeMessage(raw)
	if err != nil || got.step != stepFinal {
		return ErrMalformedWire
	}
	want := transcriptI(s.ourNonce[:], s.ourEphPub, s.peerEphPub)
	if err := identity.Verify(s.PeerCert.PublicKey.(*ecdsa.PublicKey), want, got.sig); err != nil {
		s.state = StateFailed
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	s.state = StateAuthenticated
	return nil
}

// verifyPeerIdentity parses and validates a peer certificate and ephemeral
// public key pair common to both HandleRequest and HandleResponse.
func (s *Session) verifyPeerIdentity(certDER, ephPub []byte) (*x509.Certificate, identity.NID, *ecdh.PublicKey, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, identity.NID{}, nil, fmt.Errorf("%w: %v", ErrBadCertificate, err)
	}
	if err := identity.VerifyPeerCert(cert, s.device.CAPool); err != nil {
		return nil, identity.NID{}, nil, err
	}
	nid, err := identity.NIDFromCert(cert)
	if err != nil {
		return nil, identity.NID{}, nil, fmt.Errorf("%w: %v", ErrBadCertificate, err)
	}
	if _, ok := cert.PublicKey.(*ecdsa.PublicKey); !ok {
		return nil, identity.NID{}, nil, fmt.Errorf("%w: peer certificate key is not ECDSA", ErrBadCertificate)
	}
	eph, err := identity.ParseECDHPublicKey(ephPub)
	if err != nil {
		return nil, identity.NID{}, nil, err
	}
	return cert, nid, eph, nil
}
