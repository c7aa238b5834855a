// Command sink runs the tree root device (spec §4.10 "Sink"): it loads its
// identity, starts the router daemon and downlink-only link manager, and
// broadcasts signed heartbeats until terminated. Grounded on the teacher's
// server/main.go: a state struct assembled once in main, then driven by
// blocking loops until the process is killed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rafaelfelicianoS/treenet/internal/config"
	"github.com/rafaelfelicianoS/treenet/internal/identity"
	"github.com/rafaelfelicianoS/treenet/internal/linkmanager"
	"github.com/rafaelfelicianoS/treenet/internal/router"
	"github.com/rafaelfelicianoS/treenet/internal/sink"
	"github.com/rafaelfelicianoS/treenet/internal/transport"
	"github.com/rafaelfelicianoS/treenet/internal/util"
)

func main() {
	cfg := config.Load(false)

	device, err := identity.LoadDevice(cfg.CAPath, cfg.CertPath, cfg.KeyPath)
	if err != nil {
		util.Fatalln("Error loading identity:", err)
	}
	if !device.IsSink {
		util.Fatalln("Certificate is not marked as the Sink (missing OU=Sink in its Subject)")
	}

	// A real deployment plugs a BLE adapter satisfying transport.Link in
	// here; no such adapter is implemented in this repo (spec §1's explicit
	// non-goal treats the BLE stack as an external collaborator). The
	// loopback fabric stands in so the rest of the stack is exercisable
	// without one.
	link := transport.NewFabric().NewLink(device.NID.String(), linkmanager.HopUnset, transport.DeviceTypeSink)

	r := router.New(device, link, cfg.ReplayWindowSize, cfg.TTLDefault)
	lm := linkmanager.New(device, link, r, nil, cfg.LinkManagerConfig())
	lm.AcceptDownlinks()

	s, err := sink.New(device, link, r, lm, cfg.TTLDefault)
	if err != nil {
		util.Fatalln("Error starting sink:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	util.Eprintln("Sink", device.NID, "up, broadcasting every", cfg.HeartbeatInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.RunHeartbeat(gctx, cfg.HeartbeatInterval)
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		util.Fatalln("Sink stopped:", err)
	}
	util.Eprintln("Sink shutting down")
}
