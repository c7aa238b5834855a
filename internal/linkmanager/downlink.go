package linkmanager

import (
	"context"

	"github.com/rafaelfelicianoS/treenet/internal/auth"
	"github.com/rafaelfelicianoS/treenet/internal/transport"
)

// AcceptDownlinks subscribes this device to incoming connections and runs
// the responder side of the §4.5 handshake on each one as it arrives. Every
// device, Sink included, accepts downlinks this way (DESIGN.md Open
// Question #3: the responder role always runs full mutual authentication,
// there is no lighter-weight downlink path).
func (lm *LinkManager) AcceptDownlinks() {
	lm.link.SubscribeConnect(func(port transport.PortID) {
		// Subscribed synchronously, before Connect returns on the caller's
		// side, so the initiator's first handshake message can never race
		// ahead of this registration.
		inbox := make(chan []byte, 2)
		lm.link.SubscribeInbound(port, func(_ transport.PortID, raw []byte) {
			select {
			case inbox <- raw:
			default:
			}
		})
		go lm.runResponderHandshake(port, inbox)
	})
}

func (lm *LinkManager) runResponderHandshake(port transport.PortID, inbox <-chan []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), auth.Timeout)
	defer cancel()

	sess := auth.New(lm.device, auth.Responder)

	msg1, err := awaitMessage(ctx, inbox)
	if err != nil {
		lm.link.Disconnect(port)
		return
	}
	msg2, err := sess.HandleRequest(msg1)
	if err != nil {
		lm.Logger.Printf("linkmanager: rejected downlink on %s: %v", port, err)
		lm.link.Disconnect(port)
		return
	}
	if err := lm.link.Send(ctx, port, msg2); err != nil {
		lm.link.Disconnect(port)
		return
	}

	msg3, err := awaitMessage(ctx, inbox)
	if err != nil {
		lm.link.Disconnect(port)
		return
	}
	if err := sess.HandleFinal(msg3); err != nil {
		lm.Logger.Printf("linkmanager: downlink on %s failed final verification: %v", port, err)
		lm.link.Disconnect(port)
		return
	}

	lm.router.SetSessionKey(port, sess.LinkKey)
	lm.router.Attach(port)
	lm.router.ResetReplay(sess.PeerNID)

	lm.mu.Lock()
	lm.downlinks[port] = sess.PeerNID
	lm.mu.Unlock()
}

// DisconnectDownlink tears down one accepted downlink, e.g. because its
// heartbeat relay stalled or an operator requested it.
func (lm *LinkManager) DisconnectDownlink(port transport.PortID) {
	lm.router.ClearSessionKey(port)
	lm.link.Disconnect(port)
	lm.mu.Lock()
	peerNID, ok := lm.downlinks[port]
	delete(lm.downlinks, port)
	lm.mu.Unlock()
	if ok {
		lm.router.EvictReplay(peerNID)
	}
}
