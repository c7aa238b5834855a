package transport

import (
	"context"
	"sync"
	"time"
)

// Fabric wires a set of in-memory MockLinks together, standing in for the
// BLE collaborator in tests (spec §9: "exercised in tests against an
// in-memory mock transport"). Grounded on the teacher's network.Conn, which
// is similarly a thin addressable wrapper the core code talks to without
// knowing the underlying medium.
type Fabric struct {
	mu      sync.Mutex
	devices map[string]*MockLink
}

// NewFabric creates an empty Fabric.
func NewFabric() *Fabric {
	return &Fabric{devices: make(map[string]*MockLink)}
}

// NewLink registers and returns a new MockLink at address, advertising
// initial hop count hop and deviceType in Scan results.
func (f *Fabric) NewLink(address string, hop int16, deviceType DeviceType) *MockLink {
	l := &MockLink{
		fabric:     f,
		address:    address,
		deviceType: deviceType,
		hop:        hop,
		ports:      make(map[PortID]*peerEnd),
		handlers:   make(map[PortID]InboundHandler),
	}
	f.mu.Lock()
	f.devices[address] = l
	f.mu.Unlock()
	return l
}

// peerEnd is one end of a connected pair of MockLinks.
type peerEnd struct {
	mu     sync.Mutex // serialises writes on this port, spec §5
	peer   *MockLink
	remote PortID
}

// MockLink is an in-memory Link implementation for tests.
type MockLink struct {
	fabric     *Fabric
	address    string
	deviceType DeviceType
	hop        int16

	mu        sync.Mutex
	ports     map[PortID]*peerEnd
	handlers  map[PortID]InboundHandler
	rssi      map[string]int
	onConnect func(port PortID)
}

// SetRSSI configures the simulated RSSI reported for a given peer address in
// Scan results.
func (l *MockLink) SetRSSI(address string, rssi int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rssi == nil {
		l.rssi = make(map[string]int)
	}
	l.rssi[address] = rssi
}

func (l *MockLink) SubscribeInbound(port PortID, handler InboundHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[port] = handler
}

func (l *MockLink) SubscribeConnect(handler func(port PortID)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConnect = handler
}

func (l *MockLink) Send(ctx context.Context, port PortID, raw []byte) error {
	l.mu.Lock()
	end, ok := l.ports[port]
	l.mu.Unlock()
	if !ok {
		return ErrNoSuchPort
	}
	end.mu.Lock()
	defer end.mu.Unlock()

	end.peer.mu.Lock()
	handler, ok := end.peer.handlers[end.remote]
	end.peer.mu.Unlock()
	if !ok {
		return ErrDisconnected
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	handler(end.remote, cp)
	return nil
}

func (l *MockLink) Broadcast(ctx context.Context, raw []byte, exclude map[PortID]struct{}) error {
	l.mu.Lock()
	ports := make([]PortID, 0, len(l.ports))
	for p := range l.ports {
		if _, skip := exclude[p]; skip {
			continue
		}
		ports = append(ports, p)
	}
	l.mu.Unlock()

	for _, p := range ports {
		if err := l.Send(ctx, p, raw); err != nil {
			return err
		}
	}
	return nil
}

func (l *MockLink) Scan(ctx context.Context, timeout time.Duration) ([]Neighbour, error) {
	l.fabric.mu.Lock()
	defer l.fabric.mu.Unlock()

	var out []Neighbour
	for addr, dev := range l.fabric.devices {
		if addr == l.address {
			continue
		}
		rssi := -60
		l.mu.Lock()
		if v, ok := l.rssi[addr]; ok {
			rssi = v
		}
		l.mu.Unlock()
		out = append(out, Neighbour{
			Address:       addr,
			AdvertisedHop: dev.hop,
			DeviceType:    dev.deviceType,
			RSSI:          rssi,
		})
	}
	return out, nil
}

// Connect establishes the caller's single uplink slot: by convention (spec
// §4.4) the connecting side always names this port UplinkPort, while the
// peer it connects to names its end of the same link after the caller's
// address, treating it as one of potentially several downlinks.
func (l *MockLink) Connect(ctx context.Context, address string) (PortID, error) {
	l.fabric.mu.Lock()
	peer, ok := l.fabric.devices[address]
	l.fabric.mu.Unlock()
	if !ok {
		return "", ErrNoSuchPort
	}

	peerPort := PortID(l.address)

	l.mu.Lock()
	l.ports[UplinkPort] = &peerEnd{peer: peer, remote: peerPort}
	l.mu.Unlock()

	peer.mu.Lock()
	peer.ports[peerPort] = &peerEnd{peer: l, remote: UplinkPort}
	onConnect := peer.onConnect
	peer.mu.Unlock()
	if onConnect != nil {
		onConnect(peerPort)
	}

	return UplinkPort, nil
}

func (l *MockLink) Disconnect(port PortID) error {
	l.mu.Lock()
	end, ok := l.ports[port]
	if ok {
		delete(l.ports, port)
		delete(l.handlers, port)
	}
	l.mu.Unlock()
	if !ok {
		return ErrNoSuchPort
	}

	end.peer.mu.Lock()
	delete(end.peer.ports, end.remote)
	delete(end.peer.handlers, end.remote)
	end.peer.mu.Unlock()
	return nil
}

func (l *MockLink) UpdateAdvertisement(hop int16) {
	l.mu.Lock()
	l.hop = hop
	l.mu.Unlock()
}
