// Package identity wraps certificate loading, signing, key agreement, and
// the symmetric primitives (HMAC, AEAD) the rest of the tree relies on.
package identity

import (
	"bytes"
	"errors"

	"github.com/google/uuid"
)

// NID is a 128-bit network identifier, canonically a UUID. Equality is by
// byte value.
type NID [16]byte

// BroadcastNID is the distinguished destination used only for HEARTBEAT.
var BroadcastNID = NID{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// ErrMalformedNID is returned when a string does not parse as a UUID.
var ErrMalformedNID = errors.New("identity: malformed NID")

// ParseNID parses the canonical textual (UUID) form of a NID.
func ParseNID(s string) (NID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NID{}, ErrMalformedNID
	}
	return NID(u), nil
}

// String renders the NID in canonical UUID form.
func (n NID) String() string {
	return uuid.UUID(n).String()
}

// IsBroadcast reports whether n is the well-known broadcast NID.
func (n NID) IsBroadcast() bool {
	return n == BroadcastNID
}

// Equal reports byte-value equality.
func (n NID) Equal(other NID) bool {
	return bytes.Equal(n[:], other[:])
}
