// Package transport defines the abstract Link Transport contract of spec
// §4.4 — the boundary this module is built against instead of a concrete
// BLE GATT stack, which stays an external collaborator per spec §1.
//
// This package defines no GATT service or characteristic UUIDs; those, and
// the concrete adapter that would serve them over real BLE hardware, are out
// of scope.
package transport

import (
	"context"
	"errors"
	"time"
)

// PortID is an opaque discriminator distinguishing the uplink from each
// downlink (spec §3). It is either the well-known string "uplink" or the BLE
// address of the connected peer.
type PortID string

// UplinkPort is the well-known port identifier for the single uplink slot.
const UplinkPort PortID = "uplink"

// DeviceType distinguishes what a scanned neighbour is willing to be.
type DeviceType int

const (
	DeviceTypeNode DeviceType = iota
	DeviceTypeSink
	// DeviceTypePeripheralOnly marks a neighbour that accepts no uplink
	// connections (advertises the hop-254 sentinel), spec §4.9 step 2.
	DeviceTypePeripheralOnly
)

// Neighbour is one entry returned by Scan.
type Neighbour struct {
	Address       string
	AdvertisedHop int16
	DeviceType    DeviceType
	RSSI          int
}

// InboundHandler receives raw bytes delivered on a given port, already
// reassembled from BLE fragments by the adapter (spec §4.4 "Fragmentation").
type InboundHandler func(port PortID, raw []byte)

// MaxFragmentSize is the BLE MTU budget fragments are split to (spec §4.4,
// §6). The core never has to fragment or reassemble itself; this constant
// documents the adapter's contract.
const MaxFragmentSize = 180

// Errors surfaced to the link manager (spec §7 "Transport errors").
var (
	ErrWriteFailed  = errors.New("transport: write failed")
	ErrDisconnected = errors.New("transport: peer disconnected")
	ErrNoSuchPort   = errors.New("transport: no such port")
)

// Link is the contract the BLE collaborator implements and the core is
// built against. Every operation that blocks takes a context so the core
// can impose the timeouts spec §5 requires without owning any transport
// internals itself.
type Link interface {
	// SubscribeInbound registers the callback invoked for bytes received
	// on port. Only one callback is active per port at a time.
	SubscribeInbound(port PortID, handler InboundHandler)

	// Send unicasts raw to the peer on port. Implementations must
	// serialise writes on a single port (spec §5 ordering guarantee).
	Send(ctx context.Context, port PortID, raw []byte) error

	// Broadcast delivers raw to every currently-subscribed peer except
	// those in exclude.
	Broadcast(ctx context.Context, raw []byte, exclude map[PortID]struct{}) error

	// Scan passively discovers neighbours for up to timeout.
	Scan(ctx context.Context, timeout time.Duration) ([]Neighbour, error)

	// Connect establishes a link to address and returns its port.
	Connect(ctx context.Context, address string) (PortID, error)

	// SubscribeConnect registers the callback invoked when a remote peer
	// connects to us, mirroring a BLE peripheral's connection-accepted
	// event. Only one callback is active at a time.
	SubscribeConnect(handler func(port PortID))

	// Disconnect tears down port.
	Disconnect(port PortID) error

	// UpdateAdvertisement atomically refreshes the advertised hop count
	// after a recomputation (spec §4.4).
	UpdateAdvertisement(hop int16)
}
