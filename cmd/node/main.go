// Command node runs a peer device acting as leaf and interior router at
// once (spec §4.10 "Node"): it loads its identity, starts the router
// daemon, accepts downlinks while continually (re)seeking an uplink, and
// runs the heartbeat watchdog that tears a stale subtree down. Grounded on
// the teacher's client/main.go + client/session.go: a thin main that builds
// one session object and runs it until the process is killed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rafaelfelicianoS/treenet/internal/config"
	"github.com/rafaelfelicianoS/treenet/internal/heartbeat"
	"github.com/rafaelfelicianoS/treenet/internal/identity"
	"github.com/rafaelfelicianoS/treenet/internal/linkmanager"
	"github.com/rafaelfelicianoS/treenet/internal/node"
	"github.com/rafaelfelicianoS/treenet/internal/router"
	"github.com/rafaelfelicianoS/treenet/internal/transport"
	"github.com/rafaelfelicianoS/treenet/internal/util"
)

func main() {
	cfg := config.Load(true)

	device, err := identity.LoadDevice(cfg.CAPath, cfg.CertPath, cfg.KeyPath)
	if err != nil {
		util.Fatalln("Error loading identity:", err)
	}
	if device.IsSink {
		util.Fatalln("Certificate is marked as the Sink; run cmd/sink instead")
	}
	if cfg.Sensor != "" {
		util.Eprintln("--sensor is a placeholder: no simulated sensor source is wired in this build")
	}

	// See cmd/sink for why this is a loopback fabric link rather than a real
	// BLE adapter.
	link := transport.NewFabric().NewLink(device.NID.String(), linkmanager.HopUnset, transport.DeviceTypeNode)

	r := router.New(device, link, cfg.ReplayWindowSize, cfg.TTLDefault)
	consumer := heartbeat.NewConsumer()
	lm := linkmanager.New(device, link, r, consumer, cfg.LinkManagerConfig())
	lm.AcceptDownlinks()

	// node.New's only remaining effect here is registering the HEARTBEAT
	// handler on r; the debug/control surface it returns (SendMessage,
	// Stats, ...) belongs to callers embedding this package, not to this
	// entry point, whose job ends at keeping the tree attachment alive.
	node.New(device, r, lm, consumer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	util.Eprintln("Node", device.NID, "up, searching for an uplink")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return lm.RunUplinkLoop(gctx, cfg.ScanTimeout)
	})
	g.Go(func() error {
		return lm.RunWatchdog(gctx)
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		util.Fatalln("Node stopped:", err)
	}
	util.Eprintln("Node shutting down")
}
