package linkmanager

import (
	"context"
	"errors"
	"time"

	"github.com/rafaelfelicianoS/treenet/internal/auth"
	"github.com/rafaelfelicianoS/treenet/internal/identity"
	"github.com/rafaelfelicianoS/treenet/internal/transport"
)

// RunUplinkLoop drives the reselection loop spec §5 names alongside the
// heartbeat watchdog: whenever this device has no uplink (freshly started,
// or torn down by a cascade), retry EstablishUplink every retryInterval
// until one succeeds, then go quiet until the watchdog clears the uplink
// again. Returns when ctx is cancelled.
func (lm *LinkManager) RunUplinkLoop(ctx context.Context, retryInterval time.Duration) error {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		if !lm.HasUplink() {
			if err := lm.EstablishUplink(ctx); err != nil {
				lm.Logger.Printf("linkmanager: uplink search failed: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EstablishUplink runs the lazy uplink selection algorithm of spec §4.9: if
// an uplink is already active this is a no-op; otherwise it scans, ranks
// candidates, and attempts to connect and authenticate to each in turn
// until one succeeds or the candidate list is exhausted.
func (lm *LinkManager) EstablishUplink(ctx context.Context) error {
	if lm.device.IsSink {
		return ErrSinkHasNoUplink
	}
	if lm.HasUplink() {
		return nil
	}

	neighbours, err := lm.link.Scan(ctx, lm.cfg.ScanTimeout)
	if err != nil {
		return err
	}
	candidates := lm.rankCandidates(neighbours)

	lastErr := error(ErrNoUplinkCandidate)
	for _, c := range candidates {
		port, err := lm.link.Connect(ctx, c.Address)
		if err != nil {
			lm.markCooldown(c.Address)
			lastErr = err
			continue
		}
		linkKey, peerNID, err := lm.runInitiatorHandshake(ctx, port)
		if err != nil {
			lm.link.Disconnect(port)
			lm.markCooldown(c.Address)
			lastErr = err
			continue
		}

		lm.router.SetSessionKey(port, linkKey)
		lm.router.Attach(port)
		lm.router.ResetReplay(peerNID)

		hop := nextHop(c.AdvertisedHop)
		lm.mu.Lock()
		lm.uplinkActive = true
		lm.uplinkPeerNID = peerNID
		lm.hopCount = hop
		lm.mu.Unlock()
		lm.link.UpdateAdvertisement(hop)
		return nil
	}
	return lastErr
}

// runInitiatorHandshake drives the three-message §4.5 protocol over a
// freshly connected port, before the router owns it. It installs a
// temporary inbound subscription to receive the responder's one reply,
// which Attach later replaces with the router's receive pipeline.
func (lm *LinkManager) runInitiatorHandshake(ctx context.Context, port transport.PortID) ([32]byte, identity.NID, error) {
	inbox := make(chan []byte, 2)
	lm.link.SubscribeInbound(port, func(_ transport.PortID, raw []byte) {
		select {
		case inbox <- raw:
		default:
		}
	})

	hctx, cancel := context.WithTimeout(ctx, auth.Timeout)
	defer cancel()

	sess := auth.New(lm.device, auth.Initiator)
	msg1, err := sess.BuildRequest()
	if err != nil {
		return [32]byte{}, identity.NID{}, err
	}
	if err := lm.link.Send(hctx, port, msg1); err != nil {
		return [32]byte{}, identity.NID{}, err
	}

	msg2, err := awaitMessage(hctx, inbox)
	if err != nil {
		return [32]byte{}, identity.NID{}, err
	}
	msg3, err := sess.HandleResponse(msg2)
	if err != nil {
		return [32]byte{}, identity.NID{}, err
	}
	if err := lm.link.Send(hctx, port, msg3); err != nil {
		return [32]byte{}, identity.NID{}, err
	}

	return sess.LinkKey, sess.PeerNID, nil
}

func awaitMessage(ctx context.Context, inbox <-chan []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, errors.New("linkmanager: handshake timed out")
	case msg := <-inbox:
		return msg, nil
	}
}
