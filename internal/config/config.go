// Package config builds the single process-wide Config used by cmd/sink and
// cmd/node, from command-line flags parsed with github.com/ogier/pflag —
// the same flag library and newConfig()-returns-a-value shape as the
// teacher's client/config.go, generalized from natpunch-go's three
// positional arguments to the identity-file-plus-tunables surface spec §6
// calls for. Durations and other types pflag has no typed flag for (as with
// the teacher's own uint16 port, parsed from a string flag) are taken as
// plain numbers and converted by hand.
package config

import (
	"os"
	"time"

	"github.com/ogier/pflag"

	"github.com/rafaelfelicianoS/treenet/internal/auth"
	"github.com/rafaelfelicianoS/treenet/internal/linkmanager"
	"github.com/rafaelfelicianoS/treenet/internal/util"
)

// Config bundles the flag-driven and identity-file parameters spec §6 and
// §9 name. It is built once at startup; cmd/sink and cmd/node read its
// fields and pass them to the router, link manager and Sink constructors.
type Config struct {
	CAPath   string
	CertPath string
	KeyPath  string

	HeartbeatInterval time.Duration
	MissThreshold     int
	TTLDefault        uint8
	ReplayWindowSize  uint64
	AuthTimeout       time.Duration
	ScanTimeout       time.Duration

	// Sensor is an unused placeholder hook for cmd/node, carried per spec §1's
	// explicit non-goal ("simulated sensors ... remain external
	// collaborators"): wiring a real sensor source here is out of scope.
	Sensor string
}

// Load parses os.Args via pflag.CommandLine and builds a Config, exiting the
// process with a usage message on any flag or identity-file error — the
// same fatal-at-startup behaviour as the teacher's newConfig(). withSensor
// enables the node-only --sensor flag.
func Load(withSensor bool) Config {
	pflag.Usage = func() { printUsage(withSensor) }

	caPath := pflag.String("ca", "", "path to the CA certificate (PEM)")
	certPath := pflag.String("cert", "", "path to this device's certificate (PEM)")
	keyPath := pflag.String("key", "", "path to this device's private key (PEM)")

	heartbeatSeconds := pflag.Float64P("heartbeat-interval", "i", 5.0,
		"interval between Sink heartbeat broadcasts, in seconds")
	missThreshold := pflag.IntP("miss-threshold", "m", 3,
		"consecutive missed heartbeat intervals before a path is declared stale")
	ttlDefault := pflag.IntP("ttl-default", "t", 8,
		"initial TTL stamped on packets this device originates")
	replayWindow := pflag.IntP("replay-window", "w", 100,
		"number of trailing sequence-number slots tracked in the per-peer replay window")
	authTimeoutSeconds := pflag.Float64("auth-timeout", 10.0,
		"time allowed for a handshake to reach AUTHENTICATED, in seconds")
	scanTimeoutSeconds := pflag.Float64("scan-timeout", 10.0,
		"time allowed for an uplink scan before giving up, in seconds")

	var sensor *string
	if withSensor {
		sensor = pflag.String("sensor", "", "placeholder hook for a simulated sensor source (unimplemented)")
	}

	pflag.Parse()

	if *caPath == "" || *certPath == "" || *keyPath == "" {
		util.Eprintln("Missing required identity flags: --ca, --cert, --key")
		pflag.Usage()
		os.Exit(1)
	}
	if *missThreshold < 1 {
		util.Eprintln("--miss-threshold must be at least 1")
		os.Exit(1)
	}
	if *ttlDefault < 1 || *ttlDefault > 255 {
		util.Eprintln("--ttl-default must be between 1 and 255")
		os.Exit(1)
	}
	if *replayWindow < 1 {
		util.Eprintln("--replay-window must be at least 1")
		os.Exit(1)
	}

	cfg := Config{
		CAPath:            *caPath,
		CertPath:          *certPath,
		KeyPath:           *keyPath,
		HeartbeatInterval: secondsToDuration(*heartbeatSeconds),
		MissThreshold:     *missThreshold,
		TTLDefault:        uint8(*ttlDefault),
		ReplayWindowSize:  uint64(*replayWindow),
		AuthTimeout:       secondsToDuration(*authTimeoutSeconds),
		ScanTimeout:       secondsToDuration(*scanTimeoutSeconds),
	}
	if sensor != nil {
		cfg.Sensor = *sensor
	}

	// auth.Timeout is a package var precisely so a flag can override it here,
	// once, before any handshake runs.
	auth.Timeout = cfg.AuthTimeout

	return cfg
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// LinkManagerConfig projects the fields internal/linkmanager needs out of
// Config. The reconnect cooldown isn't flag-exposed (spec §6 doesn't name
// one); thirty seconds keeps a flapping link from burning through scans.
func (c Config) LinkManagerConfig() linkmanager.Config {
	return linkmanager.Config{
		ScanTimeout:       c.ScanTimeout,
		HeartbeatInterval: c.HeartbeatInterval,
		MissThreshold:     c.MissThreshold,
		Cooldown:          30 * time.Second,
	}
}

func printUsage(withSensor bool) {
	usage := os.Args[0] + " [OPTION]... --ca FILE --cert FILE --key FILE"
	if withSensor {
		usage += " [--sensor ADDR]"
	}
	util.Eprintln("Usage:", usage)
	util.Eprintln("Flags:")
	pflag.PrintDefaults()
}
